// Package logging configures the process-wide zerolog logger and hands out
// component-tagged children so every line carries the subsystem it came from.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options controls logger setup
type Options struct {
	Level  string // trace, debug, info, warn, error
	JSON   bool   // JSON lines instead of the console writer
	Output io.Writer
}

// Setup installs the global logger. Unknown levels fall back to info.
func Setup(opts Options) zerolog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(opts.Level)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if !opts.JSON {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05.000"}
	}

	logger := zerolog.New(out).With().Timestamp().Logger()
	log.Logger = logger
	return logger
}

// Component returns a child of the global logger tagged with the component name,
// e.g. Component("CAPTURE").
func Component(name string) zerolog.Logger {
	return log.Logger.With().Str("component", name).Logger()
}

// Sampled wraps a logger so bursts of identical failures (a camera that stops
// delivering frames at 30fps) do not flood the output.
func Sampled(l zerolog.Logger, burst uint32, period time.Duration) zerolog.Logger {
	return l.Sample(&zerolog.BurstSampler{
		Burst:  burst,
		Period: period,
	})
}
