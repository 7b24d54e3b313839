package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/caseloom/caseloom/internal/config"
	"github.com/caseloom/caseloom/internal/logfields"
)

// ConfigWatcher monitors the configuration file and feeds debounced reloads
// to the daemon.
type ConfigWatcher struct {
	configPath   string
	daemon       *Daemon
	logger       *slog.Logger
	watcher      *fsnotify.Watcher
	stopChan     chan struct{}
	reloadChan   chan struct{}
	debounceTime time.Duration
	stopOnce     sync.Once
}

// NewConfigWatcher builds a watcher for the given configuration file.
func NewConfigWatcher(configPath string, d *Daemon, logger *slog.Logger) (*ConfigWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}

	absPath, err := filepath.Abs(configPath)
	if err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &ConfigWatcher{
		configPath:   absPath,
		daemon:       d,
		logger:       logger,
		watcher:      watcher,
		stopChan:     make(chan struct{}),
		reloadChan:   make(chan struct{}, 1),
		debounceTime: 2 * time.Second,
	}, nil
}

// Start begins monitoring the configuration file.
func (cw *ConfigWatcher) Start(ctx context.Context) error {
	// Watch the containing directory. Editors replace files on save, which
	// drops a watch held on the file itself.
	configDir := filepath.Dir(cw.configPath)
	if err := cw.watcher.Add(configDir); err != nil {
		return fmt.Errorf("watch config directory %s: %w", configDir, err)
	}

	cw.logger.Info("watching configuration file", slog.String("config_path", cw.configPath))

	go cw.watchLoop(ctx)
	go cw.reloadLoop(ctx)
	return nil
}

// Stop ends monitoring. Safe to call more than once.
func (cw *ConfigWatcher) Stop() {
	cw.stopOnce.Do(func() {
		close(cw.stopChan)
		if err := cw.watcher.Close(); err != nil {
			cw.logger.Warn("closing config watcher", logfields.Error(err))
		}
	})
}

// watchLoop filters filesystem events down to changes of the config file.
func (cw *ConfigWatcher) watchLoop(ctx context.Context) {
	configFile := filepath.Base(cw.configPath)

	for {
		select {
		case <-ctx.Done():
			return
		case <-cw.stopChan:
			return
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != configFile {
				continue
			}
			switch {
			case event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0:
				cw.logger.Debug("config file changed",
					slog.String("file", event.Name), slog.String("op", event.Op.String()))
				cw.triggerReload()
			case event.Op&fsnotify.Remove != 0:
				cw.logger.Warn("config file removed", slog.String("file", event.Name))
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.logger.Error("config watcher error", logfields.Error(err))
		}
	}
}

// reloadLoop debounces reload triggers so editors writing in several steps
// cause one reload.
func (cw *ConfigWatcher) reloadLoop(ctx context.Context) {
	var reloadTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			return
		case <-cw.stopChan:
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			return
		case <-cw.reloadChan:
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(cw.debounceTime, func() {
				if err := cw.performReload(ctx); err != nil {
					cw.logger.Error("configuration reload failed", logfields.Error(err))
				}
			})
		}
	}
}

// triggerReload requests a debounced reload; a pending request absorbs it.
func (cw *ConfigWatcher) triggerReload() {
	select {
	case cw.reloadChan <- struct{}{}:
	default:
	}
}

// performReload loads the file and hands it to the daemon. A file that no
// longer parses or validates leaves the running configuration untouched.
func (cw *ConfigWatcher) performReload(ctx context.Context) error {
	cw.logger.Info("reloading configuration", slog.String("config_path", cw.configPath))

	newCfg, err := config.Load(cw.configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	cw.warnRestartOnly(newCfg)

	if newCfg.Snapshot() == cw.daemon.GetConfig().Snapshot() {
		cw.logger.Debug("no reloadable settings changed")
		return nil
	}

	if err := cw.daemon.ReloadConfig(ctx, newCfg); err != nil {
		return fmt.Errorf("apply configuration: %w", err)
	}

	cw.logger.Info("configuration reloaded")
	return nil
}

// warnRestartOnly flags differences the running daemon cannot apply. The
// reloadable settings are the log level, the janitor schedule, and the LLM
// model; everything else keeps its boot-time value until restart.
func (cw *ConfigWatcher) warnRestartOnly(newCfg *config.Config) {
	current := cw.daemon.GetConfig()

	if newCfg.Server != current.Server {
		cw.logger.Warn("server settings changed, restart required to apply")
	}
	if !maps.Equal(newCfg.Auth.Tokens, current.Auth.Tokens) {
		cw.logger.Warn("auth tokens changed, restart required to apply")
	}
	if newCfg.Workspace != current.Workspace {
		cw.logger.Warn("workspace root changed, restart required to apply")
	}
	if newCfg.Blob != current.Blob {
		cw.logger.Warn("blob settings changed, restart required to apply")
	}
	if newCfg.Catalog != current.Catalog {
		cw.logger.Warn("catalog path changed, restart required to apply")
	}
	if newCfg.Retrieval != current.Retrieval {
		cw.logger.Warn("retrieval settings changed, restart required to apply")
	}
	if newCfg.Pipeline != current.Pipeline {
		cw.logger.Warn("pipeline settings changed, restart required to apply")
	}
	if newCfg.Summary != current.Summary {
		cw.logger.Warn("summary settings changed, restart required to apply")
	}
	if newCfg.Events != current.Events {
		cw.logger.Warn("event mirror settings changed, restart required to apply")
	}
	if !sameLLMBackend(current.LLM, newCfg.LLM) {
		cw.logger.Warn("llm backend changed, restart required to apply, only the model reloads")
	}
}
