package config

import "time"

// ServerConfig configures the public API and admin listeners.
type ServerConfig struct {
	Listen        string `yaml:"listen"`         // API listen address
	AdminListen   string `yaml:"admin_listen"`   // health/metrics listen address
	UploadTimeout string `yaml:"upload_timeout"` // per-request ceiling for uploads
	MaxUploadMB   int    `yaml:"max_upload_mb"`  // request body cap in megabytes
}

// AuthConfig maps bearer tokens to user ids. The identity provider itself is
// an external collaborator; this is the verification seam.
type AuthConfig struct {
	Tokens map[string]string `yaml:"tokens"`
}

// WorkspaceConfig configures the on-disk cache filesystem.
type WorkspaceConfig struct {
	Root string `yaml:"root"` // per-case workspaces live under <root>/<case_id>
}

// BlobConfig configures the S3-compatible blob store.
type BlobConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Endpoint      string `yaml:"endpoint"`
	AccessKey     string `yaml:"access_key"`
	SecretKey     string `yaml:"secret_key"`
	Bucket        string `yaml:"bucket"`
	Region        string `yaml:"region,omitempty"`
	UseSSL        bool   `yaml:"use_ssl"`
	PresignExpiry string `yaml:"presign_expiry"` // lifetime of preview/download URLs
}

// CatalogConfig configures the relational catalog.
type CatalogConfig struct {
	Path string `yaml:"path"` // sqlite database path, ":memory:" for ephemeral
}

// LLMConfig configures the language model provider.
type LLMConfig struct {
	Provider ProviderKind `yaml:"provider"`           // cli|openai|anthropic|ollama|mock
	Model    string       `yaml:"model"`              // model identifier passed to the provider
	Command  string       `yaml:"command,omitempty"`  // binary for the cli provider
	Args     []string     `yaml:"args,omitempty"`     // extra args for the cli provider
	BaseURL  string       `yaml:"base_url,omitempty"` // endpoint for http providers
	APIKey   string       `yaml:"api_key,omitempty"`  // credential, typically ${VAR} expanded
}

// RetrievalConfig configures the retrieval store client.
type RetrievalConfig struct {
	Mode    RetrievalMode `yaml:"mode"`               // synthetic|remote
	BaseURL string        `yaml:"base_url,omitempty"` // endpoint for remote mode
}

// PipelineConfig bounds the document processing pipeline.
type PipelineConfig struct {
	Workers           int              `yaml:"workers"`             // max documents in flight
	AnalyzerTimeout   string           `yaml:"analyzer_timeout"`    // per-attempt LLM ceiling
	AnalyzerAttempts  int              `yaml:"analyzer_attempts"`   // total LLM attempts
	RetryBackoff      RetryBackoffMode `yaml:"retry_backoff"`       // fixed|linear|exponential
	RetryInitialDelay string           `yaml:"retry_initial_delay"` // base delay between attempts
	RetryMaxDelay     string           `yaml:"retry_max_delay"`     // delay growth cap
}

// SummaryConfig bounds hierarchical case summary generation.
type SummaryConfig struct {
	BatchSize       int    `yaml:"batch_size"`        // documents consumed per LLM call
	InterBatchDelay string `yaml:"inter_batch_delay"` // sleep between calls
	CallTimeout     string `yaml:"call_timeout"`      // per-call ceiling
}

// EventsConfig configures the optional NATS mirror of progress events.
type EventsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	NATSURL       string `yaml:"nats_url,omitempty"`
	SubjectPrefix string `yaml:"subject_prefix,omitempty"`
}

// JanitorConfig configures the intake staging sweep.
type JanitorConfig struct {
	Interval  string `yaml:"interval"`   // sweep cadence, "0" disables
	IntakeTTL string `yaml:"intake_ttl"` // staging file age cutoff
}

// MonitoringConfig represents monitoring and observability configuration.
type MonitoringConfig struct {
	Metrics MonitoringMetrics `yaml:"metrics"`
	Health  MonitoringHealth  `yaml:"health"`
	Logging MonitoringLogging `yaml:"logging"`
}

// MonitoringMetrics represents metrics configuration.
type MonitoringMetrics struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// MonitoringHealth represents health check configuration.
type MonitoringHealth struct {
	Path string `yaml:"path"`
}

// MonitoringLogging represents logging configuration.
type MonitoringLogging struct {
	Level  LogLevel  `yaml:"level"`
	Format LogFormat `yaml:"format"`
}

// Duration parses a string duration field, returning fallback on empty or
// malformed input. Config duration fields are strings so the YAML stays
// human-editable; validation catches malformed values before this is hit.
func Duration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}
