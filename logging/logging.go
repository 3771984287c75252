// Package logging builds the process logger.
//
// Output goes to stderr as either human-readable console lines or JSON.
// When a file is configured, the same events are also written to a
// size-rotated log file.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Config selects level, format and an optional rotating file.
type Config struct {
	Level  string // trace, debug, info, warn, error
	Format string // console or json
	File   string // empty disables file output

	// Rotation, applied only when File is set.
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// New returns a logger and a closer for the log file. The closer is a
// no-op when no file is configured.
func New(cfg Config) (zerolog.Logger, io.Closer, error) {
	return newWithStderr(cfg, os.Stderr)
}

func newWithStderr(cfg Config, stderr io.Writer) (zerolog.Logger, io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), nopCloser{}, err
	}

	var console io.Writer
	switch strings.ToLower(cfg.Format) {
	case "", FormatConsole:
		console = zerolog.ConsoleWriter{Out: stderr, TimeFormat: time.Kitchen}
	case FormatJSON:
		console = stderr
	default:
		return zerolog.Nop(), nopCloser{}, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	writer := console
	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return zerolog.Nop(), nopCloser{}, fmt.Errorf("create log directory: %w", err)
		}
		file := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    orDefault(cfg.MaxSizeMB, 10),
			MaxBackups: orDefault(cfg.MaxBackups, 3),
			MaxAge:     orDefault(cfg.MaxAgeDays, 28),
			Compress:   true,
		}
		// The file always gets JSON regardless of the console format.
		writer = zerolog.MultiLevelWriter(console, file)
		closer = file
	}

	zerolog.TimeFieldFormat = time.RFC3339
	logger := zerolog.New(writer).Level(level).With().Timestamp().Str("service", "sleep-debt").Logger()
	return logger, closer, nil
}

// ParseLevel maps a level name to a zerolog level. Empty means info.
func ParseLevel(s string) (zerolog.Level, error) {
	if s == "" {
		return zerolog.InfoLevel, nil
	}
	level, err := zerolog.ParseLevel(strings.ToLower(s))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
