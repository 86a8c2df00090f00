package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/esp32-osc-core/internal/infrastructure/config"
)

// ServiceName is attached to every log entry.
const ServiceName = "esp32osc"

// Logger is a slog.Logger carrying the service and version fields.
// Loggers derived with With or Component share one level, so SetLevel
// on any of them applies service-wide.
//
// It satisfies the Logger interfaces of the esp32, transport, mqtt and
// bridge packages.
type Logger struct {
	*slog.Logger
	level *slog.LevelVar
}

// New builds a Logger writing to cfg.Output: stdout (default), stderr, or
// discard/none.
func New(cfg config.LoggingConfig, version string) *Logger {
	return NewWithWriter(cfg, version, destination(cfg.Output))
}

func destination(output string) io.Writer {
	switch strings.ToLower(output) {
	case "stderr":
		return os.Stderr
	case "discard", "none":
		return io.Discard
	default:
		return os.Stdout
	}
}

// NewWithWriter is New with an explicit destination; cfg.Output is ignored.
// Format "text" selects slog's text handler, anything else JSON.
func NewWithWriter(cfg config.LoggingConfig, version string, w io.Writer) *Logger {
	level := new(slog.LevelVar)
	level.Set(parseLevel(cfg.Level))
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler = slog.NewJSONHandler(w, opts)
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	}
	h = h.WithAttrs([]slog.Attr{
		slog.String("service", ServiceName),
		slog.String("version", version),
	})

	return &Logger{Logger: slog.New(h), level: level}
}

// lookupLevel maps debug, info, warn/warning and error (any case).
func lookupLevel(name string) (slog.Level, bool) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}

// parseLevel is lookupLevel with info as the fallback.
func parseLevel(name string) slog.Level {
	l, _ := lookupLevel(name)
	return l
}

// SetLevel changes the minimum level at runtime.
func (l *Logger) SetLevel(name string) error {
	lvl, ok := lookupLevel(name)
	if !ok {
		return fmt.Errorf("unknown log level %q", name)
	}
	l.level.Set(lvl)
	return nil
}

// Level returns the current minimum level in lower case.
func (l *Logger) Level() string {
	return strings.ToLower(l.level.Level().String())
}

// With returns a child Logger with extra attributes.
//
//	devLog := logger.With("device", "box-01")
//	devLog.Info("connected") // includes device=box-01
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), level: l.level}
}

// Component is With("component", name).
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}

// Default is the bootstrap logger used before config is loaded: JSON on
// stdout at info.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, "dev")
}
