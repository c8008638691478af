package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewFormats(t *testing.T) {
	tests := []struct {
		format Format
		check  func(t *testing.T, out string)
	}{
		{FormatJSON, func(t *testing.T, out string) {
			var rec map[string]any
			if err := json.Unmarshal([]byte(out), &rec); err != nil {
				t.Fatalf("not json: %q", out)
			}
			if rec["msg"] != "built" || rec["image"] != "app" || rec["time"] == nil {
				t.Errorf("record = %v", rec)
			}
		}},
		{FormatLogfmt, func(t *testing.T, out string) {
			if !strings.Contains(out, "msg=built") || !strings.Contains(out, "image=app") {
				t.Errorf("logfmt = %q", out)
			}
		}},
		{FormatAuto, func(t *testing.T, out string) {
			if !strings.Contains(out, "msg=built") || !strings.Contains(out, "time=") {
				t.Errorf("non-terminal output should be logfmt with timestamps: %q", out)
			}
		}},
	}
	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			var buf bytes.Buffer
			logger, err := New(Config{Format: tt.format, Output: &buf})
			if err != nil {
				t.Fatal(err)
			}
			logger.Info("built", "image", "app")
			tt.check(t, strings.TrimSpace(buf.String()))
		})
	}
}

func TestNewLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "WARN", Format: FormatText, Output: &buf})
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("hidden")
	logger.Warn("shown")
	if out := buf.String(); strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Errorf("output = %q", out)
	}
}

func TestNewRejectsUnknown(t *testing.T) {
	if _, err := New(Config{Level: "loud"}); err == nil {
		t.Error("unknown level accepted")
	}
	if _, err := New(Config{Format: "xml"}); err == nil {
		t.Error("unknown format accepted")
	}
}
