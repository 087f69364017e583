// Package logging builds the zerolog loggers shared by chalk's components.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options controls how the root logger is built.
type Options struct {
	// Level is a zerolog level name (debug, info, warn, error). Empty means info.
	Level string

	// Pretty switches from JSON lines to human-readable console output.
	Pretty bool

	// Out defaults to os.Stderr.
	Out io.Writer
}

// New builds a root logger from opts.
func New(opts Options) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if opts.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = parsed
	}

	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	if opts.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger(), nil
}

// Setup builds a root logger and installs it as the zerolog global logger.
func Setup(opts Options) (zerolog.Logger, error) {
	logger, err := New(opts)
	if err != nil {
		return logger, err
	}
	log.Logger = logger
	return logger, nil
}

// Component returns a child logger tagged with the component and instance names.
func Component(parent zerolog.Logger, component, instance string) zerolog.Logger {
	ctx := parent.With().Str("component", component)
	if instance != "" {
		ctx = ctx.Str("instance", instance)
	}
	return ctx.Logger()
}
