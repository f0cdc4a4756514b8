// Package logging builds the zap logger shared by every browserd component.
//
// By default each run writes to its own file, ~/.browserd/logs/<run-id>.log.
// If the directory or file cannot be created the logger falls back to
// stderr and the error is returned alongside it so callers can warn.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Outputs.
const (
	OutputFile   = "file"
	OutputStderr = "stderr"
	OutputStdout = "stdout"
)

// Config selects level, encoding and destination.
type Config struct {
	Level  string
	Format string
	Output string
	Dir    string
}

var (
	// runID identifies this process in log file names and entries.
	runID     string
	runIDOnce sync.Once
)

// RunID returns the identifier for the current process.
func RunID() string {
	runIDOnce.Do(func() {
		runID = uuid.New().String()
	})
	return runID
}

// DefaultDir returns ~/.browserd/logs.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".browserd", "logs"), nil
}

// Logger is a zap logger that owns its output file.
type Logger struct {
	*zap.Logger

	path      string
	file      *os.File
	closeOnce sync.Once
}

// New builds a logger. When file output fails the returned logger writes to
// stderr and err describes the failure.
func New(cfg Config) (*Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	enc := encoder(cfg.Format)

	switch cfg.Output {
	case OutputStderr:
		return build(enc, level, zapcore.Lock(os.Stderr), nil, ""), nil
	case OutputStdout:
		return build(enc, level, zapcore.Lock(os.Stdout), nil, ""), nil
	case "", OutputFile:
	default:
		return nil, fmt.Errorf("unknown log output %q", cfg.Output)
	}

	file, path, err := openRunFile(cfg.Dir)
	if err != nil {
		l := build(enc, level, zapcore.Lock(os.Stderr), nil, "")
		l.Warn("file logging unavailable, falling back to stderr", zap.Error(err))
		return l, err
	}
	return build(enc, level, zapcore.AddSync(file), file, path), nil
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

func build(enc zapcore.Encoder, level zapcore.Level, ws zapcore.WriteSyncer, file *os.File, path string) *Logger {
	core := zapcore.NewCore(enc, ws, level)
	zl := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)).
		With(zap.String("run_id", RunID()))
	return &Logger{Logger: zl, file: file, path: path}
}

func openRunFile(dir string) (*os.File, string, error) {
	if dir == "" {
		d, err := DefaultDir()
		if err != nil {
			return nil, "", err
		}
		dir = d
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, "", fmt.Errorf("failed to create log directory: %w", err)
	}
	path := filepath.Join(dir, RunID()+".log")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open log file: %w", err)
	}
	return file, path, nil
}

func parseLevel(level string) (zapcore.Level, error) {
	if level == "" {
		return zapcore.InfoLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return zapcore.InfoLevel, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return l, nil
}

func encoder(format string) zapcore.Encoder {
	if format == "console" {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		return zapcore.NewConsoleEncoder(cfg)
	}
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "timestamp"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapcore.NewJSONEncoder(cfg)
}

// LogPath returns the log file path, or "" when not writing to a file.
func (l *Logger) LogPath() string {
	return l.path
}

// Close flushes buffered entries and closes the log file. Safe to call
// multiple times.
func (l *Logger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		_ = l.Sync()
		if l.file != nil {
			err = l.file.Close()
		}
	})
	return err
}

// Component returns l tagged with a component name. A nil l yields a no-op
// logger.
func Component(l *zap.Logger, name string) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l.With(zap.String("component", name))
}
