// Package logging builds the zerolog logger specsync components share.
// Grounded on pkg/logging/structured_logger.go's config shape, backed by
// zerolog instead of slog because that's the library the teacher's own
// fault-tolerance package (pkg/scheduler/fault_tolerance/self_healing_engine.go)
// actually imports for this kind of recovery/retry-adjacent logging.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config mirrors the level/format/service-name knobs the teacher's
// LoggerConfig exposes, trimmed to what specsync's single-process daemon
// needs (no file rotation — the daemon is expected to run under a
// supervisor that handles log rotation externally).
type Config struct {
	Level       string `yaml:"level"`        // debug, info, warn, error
	Format      string `yaml:"format"`       // json, console
	ServiceName string `yaml:"service_name"`
	Output      io.Writer
}

func DefaultConfig() Config {
	return Config{
		Level:       "info",
		Format:      "console",
		ServiceName: "specsyncd",
	}
}

// New constructs a zerolog.Logger configured per cfg. Every component takes
// this value explicitly rather than reaching for zerolog/log's global
// logger, so multiple SyncService instances in one process (as in tests)
// don't clobber each other's base fields.
func New(cfg Config) zerolog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	if strings.EqualFold(cfg.Format, "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}

	logger := zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("service", cfg.ServiceName).
		Logger()

	return logger
}
