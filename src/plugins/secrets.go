package plugins

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/zricethezav/gitleaks/v8/detect"

	"github.com/damoti/shipmaster/src/plugin"
)

// leak is one secret found in an archived file.
type leak struct {
	File    string
	Line    int
	RuleID  string
	Message string
}

// secretsPlugin scans project files about to be baked into an image.
// The secrets key selects what a finding does:
//
//	secrets: warn   # log findings (default)
//	secrets: fail   # fail the build
type secretsPlugin struct {
	plugin.Base
	logger  *log.Logger
	project string

	mu   sync.Mutex
	scan func(data []byte) ([]leak, error)
}

// NewSecrets creates the secrets plugin.
func NewSecrets(h plugin.Host) (plugin.Plugin, error) {
	p := &secretsPlugin{
		logger:  h.Logger,
		project: h.Project.Plugins.String("secrets"),
	}
	p.scan = p.gitleaks
	return p, nil
}

func (p *secretsPlugin) Name() string { return "secrets" }

// mode returns "warn", "fail", or "" when scanning is off for t.
func (p *secretsPlugin) mode(t plugin.Target) string {
	m := p.project
	if t.Config().Plugins.Has(p.Name()) {
		m = t.Config().Plugins.String(p.Name())
		if m == "" {
			m = "warn"
		}
	}
	switch m {
	case "", "off", "false":
		return ""
	case "fail":
		return "fail"
	}
	return "warn"
}

func (p *secretsPlugin) OnAfter(_ context.Context, ev plugin.Event, t plugin.Target, _ string) error {
	if ev.Mode != plugin.Build || ev.Action != plugin.Archive || t.Archive() == nil {
		return nil
	}
	mode := p.mode(t)
	if mode == "" {
		return nil
	}

	var found []leak
	for _, file := range t.Archive().ProjectFiles() {
		data, err := os.ReadFile(file)
		if err != nil {
			return err
		}
		leaks, err := p.detect(data)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(t.Archive().Workspace(), file)
		for _, l := range leaks {
			l.File = rel
			found = append(found, l)
		}
	}
	if len(found) == 0 {
		return nil
	}

	msgs := make([]string, 0, len(found))
	for _, l := range found {
		p.logger.Warn("possible secret in image context", "image", t.Name(), "file", l.File, "line", l.Line, "rule", l.RuleID)
		msgs = append(msgs, fmt.Sprintf("%s:%d %s", l.File, l.Line, l.Message))
	}
	if mode == "fail" {
		return fmt.Errorf("%d possible secret(s) in build context: %s", len(found), strings.Join(msgs, "; "))
	}
	return nil
}

func (p *secretsPlugin) detect(data []byte) ([]leak, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scan(data)
}

var (
	detectorOnce sync.Once
	detector     *detect.Detector
	detectorErr  error
)

func (p *secretsPlugin) gitleaks(data []byte) ([]leak, error) {
	detectorOnce.Do(func() {
		detector, detectorErr = detect.NewDetectorDefaultConfig()
	})
	if detectorErr != nil {
		return nil, detectorErr
	}

	hits := detector.DetectBytes(data)
	leaks := make([]leak, 0, len(hits))
	for _, h := range hits {
		leaks = append(leaks, leak{
			Line:    h.StartLine + 1, // gitleaks is 0-indexed
			RuleID:  h.RuleID,
			Message: h.Description + " (" + h.RuleID + ")",
		})
	}
	return leaks, nil
}
