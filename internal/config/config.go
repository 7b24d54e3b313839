package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the intake service.
type Config struct {
	Version    string            `yaml:"version"`
	Server     ServerConfig      `yaml:"server"`
	Auth       AuthConfig        `yaml:"auth"`
	Workspace  WorkspaceConfig   `yaml:"workspace"`
	Blob       BlobConfig        `yaml:"blob,omitempty"`
	Catalog    CatalogConfig     `yaml:"catalog"`
	LLM        LLMConfig         `yaml:"llm"`
	Retrieval  RetrievalConfig   `yaml:"retrieval,omitempty"`
	Pipeline   PipelineConfig    `yaml:"pipeline,omitempty"`
	Summary    SummaryConfig     `yaml:"summary,omitempty"`
	Events     EventsConfig      `yaml:"events,omitempty"`
	Janitor    JanitorConfig     `yaml:"janitor,omitempty"`
	Monitoring *MonitoringConfig `yaml:"monitoring,omitempty"`
}

// Load reads, expands, defaults, and validates a configuration file.
func Load(configPath string) (*Config, error) {
	// Load .env file if it exists
	if err := loadEnvFile(); err != nil {
		// Don't fail if .env doesn't exist, just note it
		fmt.Fprintf(os.Stderr, "Note: .env file not found or couldn't be loaded: %v\n", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expandedData), &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate version
	if config.Version != "1.0" {
		return nil, fmt.Errorf("unsupported configuration version: %s (expected 1.0)", config.Version)
	}

	// Normalization pass (case-fold enumerations) before defaults so canonical
	// values drive them
	normalizeConfig(&config)

	if err := applyDefaults(&config); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}

	if err := ValidateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// Init writes an example configuration file.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", configPath)
	}

	exampleConfig := Config{
		Version: "1.0",
		Server: ServerConfig{
			Listen:        ":8484",
			AdminListen:   ":8485",
			UploadTimeout: "120s",
			MaxUploadMB:   100,
		},
		Auth: AuthConfig{
			Tokens: map[string]string{
				"${CASELOOM_API_TOKEN}": "user-1",
			},
		},
		Workspace: WorkspaceConfig{
			Root: "./workspaces",
		},
		Blob: BlobConfig{
			Enabled:       true,
			Endpoint:      "localhost:9000",
			AccessKey:     "${MINIO_ACCESS_KEY}",
			SecretKey:     "${MINIO_SECRET_KEY}",
			Bucket:        "caseloom-documents",
			Region:        "us-east-1",
			UseSSL:        false,
			PresignExpiry: "1h",
		},
		Catalog: CatalogConfig{
			Path: "./caseloom.db",
		},
		LLM: LLMConfig{
			Provider: ProviderCLI,
			Model:    "gemini-2.5-flash",
			Command:  "gemini",
		},
		Retrieval: RetrievalConfig{
			Mode: RetrievalSynthetic,
		},
		Pipeline: PipelineConfig{
			Workers:           4,
			AnalyzerTimeout:   "120s",
			AnalyzerAttempts:  3,
			RetryBackoff:      RetryBackoffExponential,
			RetryInitialDelay: "2s",
			RetryMaxDelay:     "8s",
		},
		Summary: SummaryConfig{
			BatchSize:       5,
			InterBatchDelay: "2s",
			CallTimeout:     "180s",
		},
		Events: EventsConfig{
			Enabled:       false,
			NATSURL:       "nats://localhost:4222",
			SubjectPrefix: "caseloom.progress",
		},
		Janitor: JanitorConfig{
			Interval:  "1h",
			IntakeTTL: "24h",
		},
		Monitoring: &MonitoringConfig{
			Metrics: MonitoringMetrics{
				Enabled: true,
				Path:    "/metrics",
			},
			Health: MonitoringHealth{
				Path: "/healthz",
			},
			Logging: MonitoringLogging{
				Level:  "info",
				Format: "text",
			},
		},
	}

	data, err := yaml.Marshal(&exampleConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// normalizeConfig case-folds enumerations in place.
func normalizeConfig(config *Config) {
	config.LLM.Provider = NormalizeProviderKind(string(config.LLM.Provider))
	config.Retrieval.Mode = NormalizeRetrievalMode(string(config.Retrieval.Mode))
	if rb := NormalizeRetryBackoff(string(config.Pipeline.RetryBackoff)); rb != "" {
		config.Pipeline.RetryBackoff = rb
	}
	if config.Monitoring != nil {
		config.Monitoring.Logging.Level = NormalizeLogLevel(string(config.Monitoring.Logging.Level))
		config.Monitoring.Logging.Format = NormalizeLogFormat(string(config.Monitoring.Logging.Format))
	}
}
