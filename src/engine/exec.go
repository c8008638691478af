package engine

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
)

// Stdio wires the streams of one engine invocation. Nil writers discard;
// a nil Stderr is captured and folded into the returned error instead.
type Stdio struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Runner executes the engine binary. Tests substitute a fake.
type Runner func(ctx context.Context, binary string, args []string, stdio Stdio) error

// ExecRunner runs the binary as a child process.
func ExecRunner(ctx context.Context, binary string, args []string, stdio Stdio) error {
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stdin = stdio.Stdin
	cmd.Stdout = stdio.Stdout

	var stderr bytes.Buffer
	if stdio.Stderr != nil {
		cmd.Stderr = stdio.Stderr
	} else {
		cmd.Stderr = &stderr
	}

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%w: %s", err, msg)
		}
		return err
	}
	return nil
}

// lineWriter splits written bytes into lines and hands each one to fn.
// It is safe for concurrent writers, e.g. stdout and stderr of one process.
type lineWriter struct {
	mu  sync.Mutex
	buf bytes.Buffer
	fn  func(line string)
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// incomplete line: keep it for the next write
			w.buf.Reset()
			w.buf.WriteString(line)
			return len(p), nil
		}
		w.fn(strings.TrimRight(line, "\r\n"))
	}
}

// Flush emits a trailing line that had no newline.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.fn(strings.TrimRight(w.buf.String(), "\r\n"))
		w.buf.Reset()
	}
}

// scanLines splits command output into non-empty trimmed lines.
func scanLines(out string) []string {
	var lines []string
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		if l := strings.TrimSpace(sc.Text()); l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}
