package config

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// Snapshot computes a stable hash of runtime-affecting normalized configuration
// fields. It is intentionally narrower than full serialization so that edits to
// restart-only fields (listeners, storage paths) do not trigger hot-reload
// churn. Callers SHOULD run Load (normalize + defaults) before snapshotting.
func (c *Config) Snapshot() string {
	if c == nil {
		return ""
	}
	h := sha256.New()
	w := func(parts ...string) { h.Write([]byte(strings.Join(parts, "="))); h.Write([]byte{0}) }
	// LLM selection
	w("llm.provider", string(c.LLM.Provider))
	w("llm.model", c.LLM.Model)
	// Pipeline bounds
	w("pipeline.workers", intToString(c.Pipeline.Workers))
	w("pipeline.analyzer_attempts", intToString(c.Pipeline.AnalyzerAttempts))
	w("pipeline.retry_backoff", string(c.Pipeline.RetryBackoff))
	// Janitor cadence
	w("janitor.interval", c.Janitor.Interval)
	w("janitor.intake_ttl", c.Janitor.IntakeTTL)
	// Monitoring logging
	if c.Monitoring != nil {
		w("monitoring.logging.level", string(c.Monitoring.Logging.Level))
		w("monitoring.logging.format", string(c.Monitoring.Logging.Format))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func intToString(i int) string { return strconv.Itoa(i) }
