package config

import (
	"fmt"
)

// DefaultApplier applies defaults for a specific configuration domain.
type DefaultApplier interface {
	ApplyDefaults(cfg *Config) error
	Domain() string
}

// ServerDefaultApplier handles listener defaults.
type ServerDefaultApplier struct{}

func (s *ServerDefaultApplier) Domain() string { return "server" }

func (s *ServerDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = ":8484"
	}
	if cfg.Server.AdminListen == "" {
		cfg.Server.AdminListen = ":8485"
	}
	if cfg.Server.UploadTimeout == "" {
		cfg.Server.UploadTimeout = "120s"
	}
	if cfg.Server.MaxUploadMB <= 0 {
		cfg.Server.MaxUploadMB = 100
	}
	return nil
}

// StorageDefaultApplier handles workspace, blob, and catalog defaults.
type StorageDefaultApplier struct{}

func (s *StorageDefaultApplier) Domain() string { return "storage" }

func (s *StorageDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.Workspace.Root == "" {
		cfg.Workspace.Root = "./workspaces"
	}
	if cfg.Catalog.Path == "" {
		cfg.Catalog.Path = "./caseloom.db"
	}
	if cfg.Blob.Enabled {
		if cfg.Blob.Region == "" {
			cfg.Blob.Region = "us-east-1"
		}
		if cfg.Blob.PresignExpiry == "" {
			cfg.Blob.PresignExpiry = "1h"
		}
	}
	return nil
}

// LLMDefaultApplier handles language model defaults.
type LLMDefaultApplier struct{}

func (l *LLMDefaultApplier) Domain() string { return "llm" }

func (l *LLMDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = ProviderCLI
	}
	if cfg.LLM.Provider == ProviderCLI && cfg.LLM.Command == "" {
		cfg.LLM.Command = "gemini"
	}
	if cfg.LLM.Provider == ProviderOllama && cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = "http://localhost:11434"
	}
	return nil
}

// PipelineDefaultApplier handles pipeline and summary defaults.
type PipelineDefaultApplier struct{}

func (p *PipelineDefaultApplier) Domain() string { return "pipeline" }

func (p *PipelineDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.Pipeline.Workers <= 0 {
		cfg.Pipeline.Workers = 4
	}
	if cfg.Pipeline.AnalyzerTimeout == "" {
		cfg.Pipeline.AnalyzerTimeout = "120s"
	}
	if cfg.Pipeline.AnalyzerAttempts <= 0 {
		cfg.Pipeline.AnalyzerAttempts = 3
	}
	if cfg.Pipeline.RetryBackoff == "" {
		cfg.Pipeline.RetryBackoff = RetryBackoffExponential
	}
	if cfg.Pipeline.RetryInitialDelay == "" {
		cfg.Pipeline.RetryInitialDelay = "2s"
	}
	if cfg.Pipeline.RetryMaxDelay == "" {
		cfg.Pipeline.RetryMaxDelay = "8s"
	}
	if cfg.Summary.BatchSize <= 0 {
		cfg.Summary.BatchSize = 5
	}
	if cfg.Summary.InterBatchDelay == "" {
		cfg.Summary.InterBatchDelay = "2s"
	}
	if cfg.Summary.CallTimeout == "" {
		cfg.Summary.CallTimeout = "180s"
	}
	return nil
}

// OpsDefaultApplier handles events, janitor, and monitoring defaults.
type OpsDefaultApplier struct{}

func (o *OpsDefaultApplier) Domain() string { return "ops" }

func (o *OpsDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.Events.Enabled && cfg.Events.SubjectPrefix == "" {
		cfg.Events.SubjectPrefix = "caseloom.progress"
	}
	if cfg.Janitor.Interval == "" {
		cfg.Janitor.Interval = "1h"
	}
	if cfg.Janitor.IntakeTTL == "" {
		cfg.Janitor.IntakeTTL = "24h"
	}
	if cfg.Monitoring == nil {
		cfg.Monitoring = &MonitoringConfig{}
	}
	if cfg.Monitoring.Metrics.Path == "" {
		cfg.Monitoring.Metrics.Path = "/metrics"
	}
	if cfg.Monitoring.Health.Path == "" {
		cfg.Monitoring.Health.Path = "/healthz"
	}
	if cfg.Monitoring.Logging.Level == "" {
		cfg.Monitoring.Logging.Level = LogLevelInfo
	}
	if cfg.Monitoring.Logging.Format == "" {
		cfg.Monitoring.Logging.Format = LogFormatText
	}
	return nil
}

// defaultAppliers returns the ordered set of domain defaulters.
func defaultAppliers() []DefaultApplier {
	return []DefaultApplier{
		&ServerDefaultApplier{},
		&StorageDefaultApplier{},
		&LLMDefaultApplier{},
		&PipelineDefaultApplier{},
		&OpsDefaultApplier{},
	}
}

// applyDefaults applies all domain defaults in order.
func applyDefaults(cfg *Config) error {
	for _, applier := range defaultAppliers() {
		if err := applier.ApplyDefaults(cfg); err != nil {
			return fmt.Errorf("%s defaults: %w", applier.Domain(), err)
		}
	}
	return nil
}
