// Package logging builds the structured logger shared by every shipmaster
// package.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/term"
)

// Format selects how log records are rendered.
type Format string

const (
	// FormatAuto renders text on a terminal and logfmt otherwise.
	FormatAuto   Format = ""
	FormatText   Format = "text"
	FormatJSON   Format = "json"
	FormatLogfmt Format = "logfmt"
)

// Config holds the configuration for the logger
type Config struct {
	Level  string
	Format Format
	Prefix string
	Output io.Writer // stderr when nil
}

// New creates a logger from cfg. Records carry timestamps unless they go
// to a terminal in text form.
func New(cfg Config) (*log.Logger, error) {
	level := log.InfoLevel
	if cfg.Level != "" {
		l, err := log.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
		}
		level = l
	}

	w := cfg.Output
	if w == nil {
		w = os.Stderr
	}
	tty := isTerminal(w)

	format := cfg.Format
	if format == FormatAuto {
		format = FormatLogfmt
		if tty {
			format = FormatText
		}
	}

	opts := log.Options{
		Level:           level,
		Prefix:          cfg.Prefix,
		ReportTimestamp: !(tty && format == FormatText),
		TimeFormat:      time.RFC3339,
	}
	switch format {
	case FormatText:
		opts.Formatter = log.TextFormatter
	case FormatJSON:
		opts.Formatter = log.JSONFormatter
	case FormatLogfmt:
		opts.Formatter = log.LogfmtFormatter
	default:
		return nil, fmt.Errorf("log format %q (supported: text, json, logfmt)", cfg.Format)
	}
	return log.NewWithOptions(w, opts), nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
