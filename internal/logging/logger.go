package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhle/notifybell/internal/model"
)

// Options configures the structured logger.
type Options struct {
	ServiceName string
	Level       zerolog.Level
	Format      string // "json" or "console"
	Output      io.Writer
}

// New builds a zerolog logger. The terminal is owned by the UI, so callers
// normally pass a file as Output.
func New(opts Options) zerolog.Logger {
	if opts.Level == zerolog.NoLevel {
		opts.Level = zerolog.InfoLevel
	}

	output := opts.Output
	if output == nil {
		output = os.Stderr
	}
	if opts.Format == "console" {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: "15:04:05",
			NoColor:    true,
		}
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano

	return zerolog.
		New(output).
		With().
		Timestamp().
		Str("service", opts.ServiceName).
		Logger().
		Level(opts.Level)
}

// ParseLevel maps a config string to a zerolog level, defaulting to info.
func ParseLevel(value string) zerolog.Level {
	levelString := strings.ToLower(strings.TrimSpace(value))
	if levelString == "" {
		return zerolog.InfoLevel
	}
	if lvl, err := zerolog.ParseLevel(levelString); err == nil && lvl != zerolog.NoLevel {
		return lvl
	}
	return zerolog.InfoLevel
}

// Open builds the application logger from config, appending to the
// configured log file. The returned closer releases the file.
func Open(service string, cfg model.LogConfig) (zerolog.Logger, io.Closer, error) {
	if cfg.File == "" {
		return New(Options{ServiceName: service, Level: ParseLevel(cfg.Level), Format: cfg.Format}), noopCloser{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("opening log file %s: %w", cfg.File, err)
	}

	logger := New(Options{
		ServiceName: service,
		Level:       ParseLevel(cfg.Level),
		Format:      cfg.Format,
		Output:      f,
	})
	return logger, f, nil
}

type noopCloser struct{}

func (noopCloser) Close() error { return nil }
