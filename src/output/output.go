// Package output renders human-facing terminal output: framed sections,
// phase summaries, the stage graph and CI reports.
package output

import (
	"os"

	"golang.org/x/term"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

func isTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// UseColor reports whether stdout output should be coloured.
// Respects NO_COLOR and TERM=dumb; CI logs are coloured.
func UseColor() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("TERM") == "dumb" {
		return false
	}
	return isTerminal() || IsCI()
}

func colorize(text, color string, on bool) string {
	if !on {
		return text
	}
	return color + text + colorReset
}
