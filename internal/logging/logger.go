// Package logging provides the structured logger shared across the
// crawl engine, index service, and API surface.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger with a few domain-shaped helpers.
type Logger struct {
	zerolog.Logger
}

// Config controls how a Logger is constructed.
type Config struct {
	Level   string
	Pretty  bool
	Service string
	Version string
	LogFile string
}

// New creates a structured logger from Config.
func New(cfg Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var output zerolog.LevelWriter
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	} else {
		output = os.Stdout
	}

	if cfg.LogFile != "" {
		file, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, err
		}
		output = zerolog.MultiLevelWriter(output, file)
	}

	logger := zerolog.New(output).
		With().
		Timestamp().
		Str("service", cfg.Service).
		Str("version", cfg.Version).
		Logger()

	return &Logger{logger}, nil
}

// NewDefault builds a logger from environment variables, falling back to
// sane defaults when they are unset.
func NewDefault(service string) *Logger {
	cfg := Config{
		Level:   getEnv("LOG_LEVEL", "info"),
		Pretty:  getEnv("LOG_PRETTY", "false") == "true",
		Service: service,
		Version: getEnv("APP_VERSION", "dev"),
	}

	logger, err := New(cfg)
	if err != nil {
		fallback := zerolog.New(os.Stdout).With().Str("service", service).Logger()
		return &Logger{fallback}
	}
	return logger
}

func (l *Logger) WithRepository(repoID string) *Logger {
	return &Logger{l.With().Str("repository_id", repoID).Logger()}
}

func (l *Logger) WithCrawl(repoID, phase string) *Logger {
	return &Logger{l.With().Str("repository_id", repoID).Str("phase", phase).Logger()}
}

func (l *Logger) WithTrace(traceID string) *Logger {
	if traceID == "" {
		return l
	}
	return &Logger{l.With().Str("trace_id", traceID).Logger()}
}

func (l *Logger) WithError(err error) *Logger {
	return &Logger{l.With().Err(err).Logger()}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

var global *Logger

// Init sets the process-wide default logger.
func Init(cfg Config) error {
	l, err := New(cfg)
	if err != nil {
		return err
	}
	global = l
	return nil
}

// Get returns the process-wide default logger, initializing one with
// defaults on first use.
func Get() *Logger {
	if global == nil {
		global = NewDefault("codesearch")
	}
	return global
}
