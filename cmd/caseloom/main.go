package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/caseloom/caseloom/internal/catalog"
	"github.com/caseloom/caseloom/internal/config"
	"github.com/caseloom/caseloom/internal/daemon"
	clerrors "github.com/caseloom/caseloom/internal/foundation/errors"
	"github.com/caseloom/caseloom/internal/observability"
)

var CLI struct {
	Config  string `short:"c" help:"Configuration file path" default:"caseloom.yaml"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`

	Serve struct{} `cmd:"" help:"Run the intake service until interrupted"`

	Init struct {
		Force bool `help:"Overwrite an existing configuration file"`
	} `cmd:"" help:"Write an example configuration file"`

	Migrate struct{} `cmd:"" help:"Apply catalog schema migrations and exit"`
}

func main() {
	kctx := kong.Parse(&CLI)

	// Bootstrap logger; serve replaces it with the configured one.
	level := slog.LevelInfo
	if CLI.Verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	var err error
	switch kctx.Command() {
	case "serve":
		err = runServe(CLI.Config, CLI.Verbose)
	case "init":
		err = runInit(CLI.Config, CLI.Init.Force)
	case "migrate":
		err = runMigrate(CLI.Config)
	}
	if err != nil {
		clerrors.NewCLIErrorAdapter(CLI.Verbose, slog.Default()).HandleError(err)
	}
}

func runServe(configPath string, verbose bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logging := config.MonitoringLogging{}
	if cfg.Monitoring != nil {
		logging = cfg.Monitoring.Logging
	}
	logger, levelVar := observability.NewRootLogger(logging, os.Stdout)
	if verbose {
		levelVar.Set(slog.LevelDebug)
	}
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	d, err := daemon.New(ctx, cfg, daemon.Options{
		ConfigPath: configPath,
		Logger:     logger,
		LogLevel:   levelVar,
	})
	if err != nil {
		return fmt.Errorf("build daemon: %w", err)
	}

	if err := d.Start(ctx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := d.Stop(stopCtx); err != nil {
		return fmt.Errorf("stop daemon: %w", err)
	}
	return nil
}

func runInit(configPath string, force bool) error {
	if err := config.Init(configPath, force); err != nil {
		return err
	}
	slog.Info("configuration written", slog.String("path", configPath))
	return nil
}

// runMigrate opens the catalog, which applies pending schema migrations,
// and closes it again.
func runMigrate(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	cat, err := catalog.New(cfg.Catalog.Path)
	if err != nil {
		return fmt.Errorf("migrate catalog: %w", err)
	}
	if err := cat.Close(); err != nil {
		return fmt.Errorf("close catalog: %w", err)
	}
	slog.Info("catalog migrated", slog.String("path", cfg.Catalog.Path))
	return nil
}
