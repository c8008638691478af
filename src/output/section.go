package output

import (
	"fmt"
	"io"
	"strings"
	"time"
)

const sectionWidth = 61 // inner width between │ and line end

// Section renders a box-drawing framed block of output.
type Section struct {
	w     io.Writer
	name  string
	color bool
}

// NewSection writes the section header and returns the section.
// A non-zero elapsed is shown right-aligned in the header.
func NewSection(w io.Writer, name string, elapsed time.Duration, color bool) *Section {
	s := &Section{w: w, name: name, color: color}
	s.writeHeader(elapsed)
	return s
}

// Row writes a content line inside the frame.
func (s *Section) Row(format string, args ...any) {
	fmt.Fprintf(s.w, "    │ %s\n", fmt.Sprintf(format, args...))
}

// Separator writes a mid-section divider.
func (s *Section) Separator() {
	fmt.Fprintf(s.w, "    ├%s\n", strings.Repeat("─", sectionWidth))
}

// Close writes the footer.
func (s *Section) Close() {
	fmt.Fprintf(s.w, "    └%s\n", strings.Repeat("─", sectionWidth))
}

// writeHeader renders: ── Name ──────────────────── elapsed ──
func (s *Section) writeHeader(elapsed time.Duration) {
	label := fmt.Sprintf("── %s ", s.name)
	suffix := "──"
	if elapsed > 0 {
		suffix = fmt.Sprintf(" %s ──", formatElapsed(elapsed))
	}
	fill := max(sectionWidth+4-len([]rune(label))-len([]rune(suffix)), 1)
	line := label + strings.Repeat("─", fill) + suffix
	fmt.Fprintf(s.w, "\n    %s\n", colorize(line, "\033[2;36m", s.color))
}

// Result is one row of a phase summary.
type Result struct {
	Name    string
	Status  string // success, failed or skipped
	Detail  string
	Elapsed time.Duration
}

// Summary renders results as a framed section with a total line. The
// total is failed when any result failed.
func Summary(w io.Writer, title string, results []Result, elapsed time.Duration, color bool) {
	sec := NewSection(w, title, 0, color)
	status := "success"
	for _, r := range results {
		detail := r.Detail
		if r.Elapsed > 0 {
			detail = strings.TrimSpace(detail + " " + Dimmed("("+formatElapsed(r.Elapsed)+")", color))
		}
		SummaryRow(w, r.Name, r.Status, detail, color)
		if r.Status == "failed" {
			status = "failed"
		}
	}
	sec.Separator()
	SummaryTotal(w, elapsed, status, color)
	sec.Close()
}

// StatusIcon returns the icon of a status.
func StatusIcon(status string, color bool) string {
	switch status {
	case "success":
		return colorize("✓", colorGreen, color)
	case "failed":
		return colorize("✗", colorRed, color)
	}
	return colorize("⊘", colorYellow, color)
}

// Dimmed returns text greyed out when color is on.
func Dimmed(text string, color bool) string {
	return colorize(text, colorGray, color)
}

// SummaryRow writes a summary line with its status icon.
func SummaryRow(w io.Writer, name, status, detail string, color bool) {
	fmt.Fprintf(w, "    │ %-20s%s  %s\n", name, StatusIcon(status, color), detail)
}

// SummaryTotal writes the final total line.
func SummaryTotal(w io.Writer, elapsed time.Duration, status string, color bool) {
	fmt.Fprintf(w, "    │ %-20s%32s   %s\n", "total", formatElapsed(elapsed), StatusIcon(status, color))
}

// KV is a key-value pair of a context block.
type KV struct {
	Key   string
	Value string
}

// ContextBlock prints run context as aligned key-value pairs, two per line.
func ContextBlock(w io.Writer, kv []KV) {
	if len(kv) == 0 {
		return
	}
	fmt.Fprintln(w)
	for i := 0; i < len(kv); i += 2 {
		if i+1 < len(kv) {
			fmt.Fprintf(w, "    %-12s%-20s%-11s%s\n", kv[i].Key, kv[i].Value, kv[i+1].Key, kv[i+1].Value)
		} else {
			fmt.Fprintf(w, "    %-12s%s\n", kv[i].Key, kv[i].Value)
		}
	}
}

func formatElapsed(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return "<1ms"
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	mins := int(d.Minutes())
	secs := d.Seconds() - float64(mins*60)
	return fmt.Sprintf("%dm%.1fs", mins, secs)
}
