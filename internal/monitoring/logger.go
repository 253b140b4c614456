// Package monitoring carries the operational surface: structured logging,
// Prometheus metrics and host resource sampling for health checks.
package monitoring

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// LoggerOptions configures the process-wide logger.
type LoggerOptions struct {
	// Level is one of trace, debug, info, warn, error. Unrecognized values
	// fall back to info.
	Level string
	// Pretty switches to human-readable console output for development.
	Pretty bool
	// FilePath, when set, tees JSON logs into a size-rotated file.
	FilePath string
}

// NewLogger builds the root zerolog logger. Production output is one JSON
// object per line on stdout; development gets the console writer.
func NewLogger(opts LoggerOptions) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var out io.Writer = os.Stdout
	if opts.Pretty {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	if opts.FilePath != "" {
		rotated := &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     14, // days
			Compress:   true,
		}
		out = zerolog.MultiLevelWriter(out, rotated)
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}
