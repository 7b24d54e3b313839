// Package janitor periodically sweeps case workspaces for stale intake
// staging files and debris left behind by interrupted uploads.
package janitor

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"github.com/caseloom/caseloom/internal/caseworkspace"
	"github.com/caseloom/caseloom/internal/config"
	"github.com/caseloom/caseloom/internal/logfields"
	"github.com/caseloom/caseloom/internal/metrics"
)

// Janitor owns the scheduled sweep. A zero interval leaves the scheduler
// idle; Reconfigure can enable or retune it while the daemon runs.
type Janitor struct {
	scheduler gocron.Scheduler
	manager   *caseworkspace.Manager
	recorder  metrics.Recorder
	logger    *slog.Logger

	mu       sync.Mutex
	interval time.Duration
	ttl      time.Duration
	job      uuid.UUID
}

// New builds the janitor without starting it.
func New(cfg config.JanitorConfig, manager *caseworkspace.Manager, recorder metrics.Recorder, logger *slog.Logger) (*Janitor, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create janitor scheduler: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	return &Janitor{
		scheduler: s,
		manager:   manager,
		recorder:  recorder,
		logger:    logger,
		interval:  config.Duration(cfg.Interval, 0),
		ttl:       config.Duration(cfg.IntakeTTL, 24*time.Hour),
	}, nil
}

// Start registers the sweep job and starts the scheduler. With a zero
// interval the scheduler runs empty until Reconfigure enables the sweep.
func (j *Janitor) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.interval > 0 {
		if err := j.scheduleLocked(j.interval); err != nil {
			return err
		}
	} else {
		j.logger.Info("janitor disabled", slog.String("reason", "zero interval"))
	}
	j.scheduler.Start()
	return nil
}

// Stop shuts the scheduler down, waiting for a running sweep to finish.
func (j *Janitor) Stop() error {
	return j.scheduler.Shutdown()
}

// Reconfigure applies a new interval and TTL. An interval change reschedules
// the job; a zero interval removes it.
func (j *Janitor) Reconfigure(cfg config.JanitorConfig) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.ttl = config.Duration(cfg.IntakeTTL, j.ttl)
	interval := config.Duration(cfg.Interval, 0)
	if interval == j.interval {
		return nil
	}
	if j.job != uuid.Nil {
		if err := j.scheduler.RemoveJob(j.job); err != nil {
			return fmt.Errorf("remove janitor job: %w", err)
		}
		j.job = uuid.Nil
	}
	j.interval = interval
	if interval == 0 {
		j.logger.Info("janitor disabled", slog.String("reason", "zero interval"))
		return nil
	}
	return j.scheduleLocked(interval)
}

func (j *Janitor) scheduleLocked(interval time.Duration) error {
	job, err := j.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() { _, _ = j.Sweep() }),
		gocron.WithName("intake-sweep"),
	)
	if err != nil {
		return fmt.Errorf("schedule janitor sweep: %w", err)
	}
	j.job = job.ID()
	j.logger.Info("janitor scheduled",
		slog.Duration("interval", interval),
		slog.Duration("intake_ttl", j.ttl))
	return nil
}

// Sweep runs one pass over every case workspace and reports how many stale
// files were removed. Exported so operators can trigger it out of cycle.
func (j *Janitor) Sweep() (int, error) {
	j.mu.Lock()
	ttl := j.ttl
	j.mu.Unlock()
	cutoff := time.Now().Add(-ttl)

	paths, err := j.manager.WorkspacePaths()
	if err != nil {
		return 0, err
	}
	total := 0
	for _, path := range paths {
		ws := caseworkspace.New(path)
		n, err := ws.CleanIntake(cutoff)
		if err != nil {
			j.logger.Warn("janitor intake sweep failed",
				slog.String("workspace", path), logfields.Error(err))
		}
		total += n
		n, err = ws.CleanDocumentLeftovers(cutoff)
		if err != nil {
			j.logger.Warn("janitor leftover sweep failed",
				slog.String("workspace", path), logfields.Error(err))
		}
		total += n
	}
	if total > 0 {
		j.recorder.AddJanitorRemovals(total)
		j.logger.Info("janitor removed stale files", slog.Int("removed", total))
	}
	return total, nil
}
