package config

import (
	"errors"
	"fmt"
	"time"
)

// ValidateConfig validates the complete configuration structure.
func ValidateConfig(cfg *Config) error {
	validator := newConfigurationValidator(cfg)
	return validator.validate()
}

// configurationValidator coordinates validation across all configuration domains.
type configurationValidator struct {
	config *Config
}

// newConfigurationValidator creates a comprehensive configuration validator.
func newConfigurationValidator(config *Config) *configurationValidator {
	return &configurationValidator{config: config}
}

// validate performs configuration validation using domain-specific methods.
func (cv *configurationValidator) validate() error {
	if err := cv.validateServer(); err != nil {
		return err
	}
	if err := cv.validateStorage(); err != nil {
		return err
	}
	if err := cv.validateLLM(); err != nil {
		return err
	}
	if err := cv.validateRetrieval(); err != nil {
		return err
	}
	if err := cv.validateDurations(); err != nil {
		return err
	}
	return nil
}

// validateServer checks listener configuration.
func (cv *configurationValidator) validateServer() error {
	if cv.config.Server.Listen == cv.config.Server.AdminListen {
		return fmt.Errorf("server.listen and server.admin_listen must differ (both %s)", cv.config.Server.Listen)
	}
	if cv.config.Server.MaxUploadMB > 1024 {
		return fmt.Errorf("server.max_upload_mb %d exceeds hard ceiling 1024", cv.config.Server.MaxUploadMB)
	}
	return nil
}

// validateStorage checks workspace, blob, and catalog configuration.
func (cv *configurationValidator) validateStorage() error {
	if cv.config.Workspace.Root == "" {
		return errors.New("workspace.root cannot be empty")
	}
	if cv.config.Catalog.Path == "" {
		return errors.New("catalog.path cannot be empty")
	}
	if cv.config.Blob.Enabled {
		if cv.config.Blob.Endpoint == "" {
			return errors.New("blob.endpoint required when blob store is enabled")
		}
		if cv.config.Blob.Bucket == "" {
			return errors.New("blob.bucket required when blob store is enabled")
		}
	}
	return nil
}

// validateLLM checks provider configuration.
func (cv *configurationValidator) validateLLM() error {
	llm := cv.config.LLM
	switch llm.Provider {
	case ProviderCLI:
		if llm.Command == "" {
			return errors.New("llm.command required for cli provider")
		}
	case ProviderOpenAI, ProviderAnthropic:
		if llm.APIKey == "" {
			return fmt.Errorf("llm.api_key required for %s provider", llm.Provider)
		}
	case ProviderOllama, ProviderMock:
		// no credentials required
	default:
		return fmt.Errorf("unknown llm provider: %s", llm.Provider)
	}
	return nil
}

// validateRetrieval checks retrieval store configuration.
func (cv *configurationValidator) validateRetrieval() error {
	if cv.config.Retrieval.Mode == RetrievalRemote && cv.config.Retrieval.BaseURL == "" {
		return errors.New("retrieval.base_url required for remote mode")
	}
	return nil
}

// validateDurations parses every string duration field once so malformed
// values fail at startup instead of silently falling back later.
func (cv *configurationValidator) validateDurations() error {
	fields := []struct {
		name  string
		value string
	}{
		{"server.upload_timeout", cv.config.Server.UploadTimeout},
		{"blob.presign_expiry", cv.config.Blob.PresignExpiry},
		{"pipeline.analyzer_timeout", cv.config.Pipeline.AnalyzerTimeout},
		{"pipeline.retry_initial_delay", cv.config.Pipeline.RetryInitialDelay},
		{"pipeline.retry_max_delay", cv.config.Pipeline.RetryMaxDelay},
		{"summary.inter_batch_delay", cv.config.Summary.InterBatchDelay},
		{"summary.call_timeout", cv.config.Summary.CallTimeout},
		{"janitor.interval", cv.config.Janitor.Interval},
		{"janitor.intake_ttl", cv.config.Janitor.IntakeTTL},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		if _, err := time.ParseDuration(f.value); err != nil {
			return fmt.Errorf("%s: invalid duration %q", f.name, f.value)
		}
	}
	return nil
}
