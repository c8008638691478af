package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/damoti/shipmaster/src/build"
	"github.com/damoti/shipmaster/src/config"
	"github.com/damoti/shipmaster/src/plugin"
)

const projectYAML = `
name: proj
stages: [build, test]
images:
  app:
    stage: build
    from: busybox
    build: make
  app-test:
    stage: test
    from: app
    run: make test
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, config.DefaultFile), []byte(projectYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs(append([]string{"-C", dir, "--log-level", "error"}, args...))
	t.Cleanup(func() { rootCmd.SetOut(nil); rootCmd.SetArgs(nil) })
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestGraphCommand(t *testing.T) {
	out, err := execute(t, "graph")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"|   build   |-->|     test     |", "| app       |   | app-test     |"} {
		if !strings.Contains(out, want) {
			t.Errorf("graph missing %q:\n%s", want, out)
		}
	}
}

func TestConfigCommand(t *testing.T) {
	out, err := execute(t, "config", "--format", "yaml")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "name: proj") || !strings.Contains(out, "app-test:") {
		t.Errorf("config output:\n%s", out)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "shipmaster ") {
		t.Errorf("version = %q", out)
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, 0},
		{fmt.Errorf("loading: %w", config.ErrInvalid), 2},
		{&build.ExitError{Mode: plugin.Run, Code: 4}, 3},
		{errors.New("docker: not found"), 1},
	}
	for _, tt := range tests {
		if got := ExitCode(tt.err); got != tt.want {
			t.Errorf("ExitCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestParseModes(t *testing.T) {
	modes, err := parseModes([]string{"build", "start"})
	if err != nil || len(modes) != 2 || modes[1] != plugin.Start {
		t.Errorf("parseModes() = %v, %v", modes, err)
	}
	if _, err := parseModes([]string{"deploy"}); err == nil {
		t.Error("unknown mode accepted")
	}
}
