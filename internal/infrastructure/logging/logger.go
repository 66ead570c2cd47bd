package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/kwikset-bridge/internal/infrastructure/config"
)

// Logger wraps slog.Logger and stamps every record with the service
// name and version. Safe for concurrent use.
type Logger struct {
	*slog.Logger
}

// New builds a Logger from the logging section of the config file.
// Unrecognised values fall back to JSON on stdout at info level, so a
// typo in config.yaml degrades output rather than silencing it.
func New(cfg config.LoggingConfig, version string) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(destination(cfg.Output), opts)
	} else {
		handler = slog.NewJSONHandler(destination(cfg.Output), opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", "kwikset-bridge"),
		slog.String("version", version),
	})

	return &Logger{Logger: slog.New(handler)}
}

func destination(output string) io.Writer {
	if strings.EqualFold(output, "stderr") {
		return os.Stderr
	}
	return os.Stdout
}

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

// With returns a Logger carrying additional default attributes.
//
//	devLog := logger.With("device_id", deviceID)
//	devLog.Info("refresh complete")
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Default returns a JSON/info/stdout logger for use before the config
// file has been read.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, "dev")
}
