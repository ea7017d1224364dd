// Package logging builds the zerolog logger from configuration.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-uplink/internal/config"
)

// New creates a logger from cfg. When w is nil the output named in cfg is
// used (stdout or stderr).
func New(cfg config.LoggingConfig, w io.Writer) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}

	if w == nil {
		switch strings.ToLower(cfg.Output) {
		case "stdout":
			w = os.Stdout
		default:
			w = os.Stderr
		}
	}

	timeFormat := cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = time.RFC3339
	}

	if strings.EqualFold(cfg.Format, "console") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: timeFormat}
	}

	zerolog.TimeFieldFormat = timeFormat

	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}
