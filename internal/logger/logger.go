package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	defaultLogger *slog.Logger
	level         = new(slog.LevelVar)
	once          sync.Once
	mu            sync.Mutex
)

// Init initializes the default logger with a JSON handler writing to os.Stdout.
// It ensures that the logger is initialized only once.
func Init() {
	once.Do(func() {
		level.Set(slog.LevelInfo)
		setDefault(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	})
}

// Configure applies the logging section of the configuration.
// Unknown levels fall back to info; format is "json" or "text".
func Configure(levelName, format string) {
	Init()
	level.Set(ParseLevel(levelName))

	var out io.Writer = os.Stdout
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "text") {
		setDefault(slog.NewTextHandler(out, opts))
		return
	}
	setDefault(slog.NewJSONHandler(out, opts))
}

// ParseLevel maps a level name to a slog.Level
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
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

func setDefault(h slog.Handler) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = slog.New(h)
	slog.SetDefault(defaultLogger)
}

// Get returns the initialized default logger.
// It calls Init() to ensure the logger is ready before returning it.
func Get() *slog.Logger {
	Init()
	mu.Lock()
	defer mu.Unlock()
	return defaultLogger
}

// Info logs an informational message using the default logger.
func Info(msg string, args ...any) {
	Get().Info(msg, args...)
}

// Warn logs a warning message using the default logger.
func Warn(msg string, args ...any) {
	Get().Warn(msg, args...)
}

// Error logs an error message using the default logger.
func Error(msg string, err error, args ...any) {
	if err != nil {
		args = append(args, "error", err.Error())
	}
	Get().Error(msg, args...)
}

// Debug logs a debug message using the default logger.
func Debug(msg string, args ...any) {
	Get().Debug(msg, args...)
}
