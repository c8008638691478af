package output

import (
	"fmt"
	"io"
	"strings"
)

// GraphStage is one column of the stage graph.
type GraphStage struct {
	Name   string
	Images []string
}

// Graph draws stages left to right, each as a box holding its images:
//
//	.-----------.   .--------------.
//	|   build   |-->|     test     |
//	|-----------|   |--------------|
//	| app       |   | app-test     |
//	'-----------'   | lint         |
//	                '--------------'
func Graph(w io.Writer, stages []GraphStage) {
	if len(stages) == 0 {
		return
	}
	widths := make([]int, len(stages))
	rows := 0
	for i, s := range stages {
		width := len(s.Name)
		for _, img := range s.Images {
			width = max(width, len(img))
		}
		widths[i] = width + 6
		rows = max(rows, len(s.Images))
	}

	line := func(cell func(i int) (edge, content string), arrow bool) string {
		var b strings.Builder
		for i := range stages {
			if i > 0 {
				if arrow {
					b.WriteString("-->")
				} else {
					b.WriteString("   ")
				}
			}
			edge, content := cell(i)
			b.WriteString(edge + content + edge)
		}
		return strings.TrimRight(b.String(), " ")
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, line(func(i int) (string, string) { return ".", strings.Repeat("-", widths[i]) }, false))
	fmt.Fprintln(w, line(func(i int) (string, string) { return "|", center(stages[i].Name, widths[i]) }, true))
	fmt.Fprintln(w, line(func(i int) (string, string) { return "|", strings.Repeat("-", widths[i]) }, false))
	for r := 0; r <= rows; r++ {
		fmt.Fprintln(w, line(func(i int) (string, string) {
			imgs := stages[i].Images
			switch {
			case r < len(imgs):
				return "|", fmt.Sprintf(" %-*s", widths[i]-1, imgs[r])
			case r == len(imgs):
				return "'", strings.Repeat("-", widths[i])
			}
			return " ", strings.Repeat(" ", widths[i])
		}, false))
	}
	fmt.Fprintln(w)
}

func center(s string, width int) string {
	pad := width - len(s)
	if pad <= 0 {
		return s
	}
	left := pad / 2
	return strings.Repeat(" ", left) + s + strings.Repeat(" ", pad-left)
}
