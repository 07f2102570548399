package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/nerrad567/gray-logic-devserver/internal/infrastructure/config"
)

// ServiceName is attached to every log entry.
const ServiceName = "devserver"

const logFilePermissions = 0600

// Logger is a slog.Logger carrying the service and version attributes.
// *Logger satisfies the small Logger interfaces of the server, discovery,
// control, transport and broadcast packages.
type Logger struct {
	*slog.Logger
}

// New builds the logger described by the logging section of config.yaml.
//
// Output is "stdout" (the default), "stderr", or a file path opened for
// append. A file that cannot be opened falls back to stderr with a
// warning as the first entry.
//
// Parameters:
//   - cfg: Level (debug, info, warn, error), format (json, text) and output
//   - version: Build version recorded on every entry
func New(cfg config.LoggingConfig, version string) *Logger {
	output, openErr := openOutput(cfg.Output)
	l := newLogger(cfg, version, output)
	if openErr != nil {
		l.Warn("log output unavailable, writing to stderr", "output", cfg.Output, "error", openErr)
	}
	return l
}

func openOutput(output string) (io.Writer, error) {
	switch strings.ToLower(output) {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}

	if err := os.MkdirAll(filepath.Dir(output), 0750); err != nil {
		return os.Stderr, err
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermissions) // #nosec G304 -- operator-supplied path
	if err != nil {
		return os.Stderr, err
	}
	return f, nil
}

func newLogger(cfg config.LoggingConfig, version string, output io.Writer) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(output, opts)
	} else {
		handler = slog.NewJSONHandler(output, opts)
	}

	return &Logger{slog.New(handler).With("service", ServiceName, "version", version)}
}

// parseLevel maps a level name to slog; unknown names mean info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a child logger with extra attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{l.Logger.With(args...)}
}

// Component tags entries with the subsystem that wrote them.
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}

// Device tags entries with the device's topic root. One process may log
// for several devices sharing a broker.
func (l *Logger) Device(topicRoot string) *Logger {
	return l.With("topic_root", topicRoot)
}

// Default is the startup logger used until config.yaml is read: JSON at
// info level on stdout.
func Default() *Logger {
	return newLogger(config.LoggingConfig{Level: "info", Format: "json"}, "dev", os.Stdout)
}
