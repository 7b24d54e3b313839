package observability

import (
	"io"
	"log/slog"

	"github.com/caseloom/caseloom/internal/config"
)

// NewRootLogger builds the process logger from monitoring settings. The
// returned LevelVar is shared by every logger derived from this one, so a
// config reload can adjust verbosity without rebuilding handlers.
func NewRootLogger(cfg config.MonitoringLogging, w io.Writer) (*slog.Logger, *slog.LevelVar) {
	level := new(slog.LevelVar)
	level.Set(SlogLevel(cfg.Level))

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if config.NormalizeLogFormat(string(cfg.Format)) == config.LogFormatJSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler), level
}

// SlogLevel maps a configured log level onto slog.
func SlogLevel(level config.LogLevel) slog.Level {
	switch config.NormalizeLogLevel(string(level)) {
	case config.LogLevelDebug:
		return slog.LevelDebug
	case config.LogLevelWarn:
		return slog.LevelWarn
	case config.LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
