package build

import (
	"time"

	"github.com/damoti/shipmaster/src/plugin"
)

// Result captures the outcome of a Builder run.
type Result struct {
	Phases   []PhaseResult
	Duration time.Duration
}

// Failed returns the phases that did not succeed.
func (r *Result) Failed() []PhaseResult {
	var out []PhaseResult
	for _, p := range r.Phases {
		if p.Status == StatusFailed {
			out = append(out, p)
		}
	}
	return out
}

// Phase statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// PhaseResult captures the outcome of one mode of one image.
type PhaseResult struct {
	Image    string
	Mode     plugin.Mode
	Status   string
	ExitCode int    // -1 when no container reported one
	ImageID  string // committed image, build mode only
	Duration time.Duration
	Error    error
}
