package logging

import (
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New creates an info-level logger with console and file output
func New() zerolog.Logger {
	return NewWithLevel(zerolog.InfoLevel)
}

// NewWithLevel writes to stderr and to a rotating file under LogPath().
// When the log directory cannot be created only the console is used.
func NewWithLevel(level zerolog.Level) zerolog.Logger {
	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}

	var out io.Writer = console
	logPath := LogPath()
	dirErr := os.MkdirAll(filepath.Dir(logPath), 0755)
	if dirErr == nil {
		out = zerolog.MultiLevelWriter(console, &lumberjack.Logger{
			Filename:   logPath,
			MaxSize:    10, // MB
			MaxBackups: 3,
			MaxAge:     28, // days
		})
	}

	logger := zerolog.New(out).Level(level).With().Timestamp().Caller().Logger()
	if dirErr != nil {
		logger.Warn().Err(dirErr).Str("path", logPath).Msg("Log directory unavailable, logging to console only")
	}
	return logger
}

// LogPath returns platform-specific log file path
func LogPath() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Logs"
	case "windows":
		base = os.Getenv("LOCALAPPDATA")
	default:
		if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.local/state"
		}
	}

	return filepath.Join(base, "meetscribe", "meetscribe.log")
}
