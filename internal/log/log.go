// Package log provides structured logging for go-thymio.
// It wraps slog with sensible defaults for production use.
package log

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// LevelCritical is above error; used for failures that end the program.
const LevelCritical = slog.LevelError + 4

var (
	logger  *slog.Logger
	closer  io.Closer
	once    sync.Once
	initErr error
)

// Options configures the logger.
type Options struct {
	// Level is one of critical, error, warn, info, debug.
	Level string `yaml:"level" json:"level" mapstructure:"level"`

	// Dir, when set, also writes to a timestamped file in that directory.
	Dir string `yaml:"dir" json:"dir" mapstructure:"dir"`

	// JSON forces the JSON handler. It is also used when GO_ENV=production.
	JSON bool `yaml:"json" json:"json" mapstructure:"json"`

	// Output defaults to stderr.
	Output io.Writer `yaml:"-" json:"-" mapstructure:"-"`
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "critical":
		return LevelCritical, nil
	case "error":
		return slog.LevelError, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	}
	return slog.LevelInfo, fmt.Errorf("log: unknown level %q", level)
}

// Levels lists the accepted level names.
func Levels() []string {
	return []string{"critical", "error", "warn", "info", "debug"}
}

// New builds a logger from opts. The returned closer releases the log file,
// if any.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	lvl, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}

	handlerOpts := &slog.HandlerOptions{
		Level:       lvl,
		ReplaceAttr: replaceLevel,
	}
	jsonOut := opts.JSON || os.Getenv("GO_ENV") == "production"

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	handlers := []slog.Handler{newHandler(out, jsonOut, handlerOpts)}

	var file *os.File
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("log: create dir: %w", err)
		}
		name := filepath.Join(opts.Dir, "thymio-"+time.Now().Format("20060102T150405")+".log")
		file, err = os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("log: open file: %w", err)
		}
		// Files always get every record at the configured level as text.
		handlers = append(handlers, slog.NewTextHandler(file, handlerOpts))
	}

	var c io.Closer = nopCloser{}
	if file != nil {
		c = file
	}
	if len(handlers) == 1 {
		return slog.New(handlers[0]), c, nil
	}
	return slog.New(fanout(handlers)), c, nil
}

func newHandler(w io.Writer, jsonOut bool, opts *slog.HandlerOptions) slog.Handler {
	if jsonOut {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func replaceLevel(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		if lvl, ok := a.Value.Any().(slog.Level); ok && lvl >= LevelCritical {
			a.Value = slog.StringValue("CRITICAL")
		}
	}
	return a
}

// Init initializes the global logger once and makes it the slog default.
func Init(opts Options) error {
	once.Do(func() {
		var l *slog.Logger
		l, closer, initErr = New(opts)
		if initErr != nil {
			return
		}
		logger = l
		slog.SetDefault(logger)
	})
	return initErr
}

// Close releases the log file opened by Init.
func Close() error {
	if closer == nil {
		return nil
	}
	return closer.Close()
}

// L returns the global logger instance.
func L() *slog.Logger {
	if logger == nil {
		_ = Init(Options{Level: "info"})
	}
	if logger == nil {
		return slog.Default()
	}
	return logger
}

// Debug logs at debug level.
func Debug(msg string, args ...any) {
	L().Debug(msg, args...)
}

// Info logs at info level.
func Info(msg string, args ...any) {
	L().Info(msg, args...)
}

// Warn logs at warn level.
func Warn(msg string, args ...any) {
	L().Warn(msg, args...)
}

// Error logs at error level.
func Error(msg string, args ...any) {
	L().Error(msg, args...)
}

// Critical logs at critical level.
func Critical(msg string, args ...any) {
	L().Log(context.Background(), LevelCritical, msg, args...)
}

// With returns a logger with the given attributes.
func With(args ...any) *slog.Logger {
	return L().With(args...)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// fanout sends every record to all handlers.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, lvl slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, lvl) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
