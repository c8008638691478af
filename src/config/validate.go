package config

import (
	"fmt"
	"regexp"
	"strings"
)

// Check verifies that every image belongs to a declared stage.
func (c *Config) Check() error {
	var errs []string
	for _, img := range c.Images {
		if img.Stage != "" && !contains(c.Stages, img.Stage) {
			errs = append(errs, fmt.Sprintf(
				"stage %q for image %q is not one of the available stages: %s",
				img.Stage, img.Name, strings.Join(c.Stages, ", ")))
		}
	}
	return joinErrs(errs)
}

// CheckOrder verifies that every declared base image is built before the
// images that use it: in an earlier stage, or earlier in the same stage.
// Cycles always violate this ordering and are reported the same way.
func (c *Config) CheckOrder() error {
	pos := c.positions()
	var errs []string
	for _, img := range c.Images {
		if img.From.Kind != Declared {
			continue
		}
		if img.From.Name == img.Name {
			errs = append(errs, fmt.Sprintf("image %q: from refers to itself", img.Name))
			continue
		}
		parent, child := pos[img.From.Name], pos[img.Name]
		if !parent.before(child) {
			errs = append(errs, fmt.Sprintf(
				"image %q (stage %q) is built from %q (stage %q), which is not built before it",
				img.Name, img.Stage, img.From.Name, c.index[img.From.Name].Stage))
		}
	}
	return joinErrs(errs)
}

// CheckCycles verifies that following declared from references never
// returns to the starting image.
func (c *Config) CheckCycles() error {
	var errs []string
	for _, img := range c.Images {
		seen := map[string]bool{img.Name: true}
		cur := img
		for cur.From.Kind == Declared {
			if seen[cur.From.Name] {
				errs = append(errs, fmt.Sprintf("image %q: from references form a cycle", img.Name))
				break
			}
			seen[cur.From.Name] = true
			cur = c.index[cur.From.Name]
		}
	}
	return joinErrs(errs)
}

// Validate checks structural invariants of a loaded Config.
// Returns warnings (soft issues) and a hard error if the config is invalid.
func Validate(cfg *Config) (warnings []string, err error) {
	var errs []string

	// ── Stages ────────────────────────────────────────────────────────────

	seen := map[string]bool{}
	for _, s := range cfg.Stages {
		if s == "" {
			errs = append(errs, "stages: empty stage name")
		} else if seen[s] {
			errs = append(errs, fmt.Sprintf("stages: duplicate stage %q", s))
		}
		seen[s] = true
	}
	if err := cfg.Check(); err != nil {
		errs = append(errs, strings.TrimPrefix(err.Error(), ErrInvalid.Error()+": "))
	}
	for _, s := range cfg.Stages {
		if len(cfg.StageImages(s)) == 0 {
			warnings = append(warnings, fmt.Sprintf("stages: stage %q has no images", s))
		}
	}

	// ── Images ────────────────────────────────────────────────────────────

	for _, img := range cfg.Images {
		ipath := "images." + img.Name
		if len(img.Build) == 0 && len(img.Run) == 0 && len(img.Start) == 0 {
			warnings = append(warnings, fmt.Sprintf("%s: no build, run or start commands", ipath))
		}
		if len(img.Prepare) > 0 && len(img.Start) == 0 {
			warnings = append(warnings, fmt.Sprintf("%s: prepare commands are only used by start", ipath))
		}
		for _, v := range img.Volumes {
			if !strings.Contains(v, ":") {
				errs = append(errs, fmt.Sprintf("%s.volumes: %q must be host:container", ipath, v))
			}
		}
	}
	if err := cfg.CheckCycles(); err != nil {
		errs = append(errs, strings.TrimPrefix(err.Error(), ErrInvalid.Error()+": "))
	}

	// ── Branches ──────────────────────────────────────────────────────────

	for _, b := range cfg.Branches {
		p := strings.TrimPrefix(b, "!")
		if _, err := regexp.Compile(p); err != nil {
			warnings = append(warnings, fmt.Sprintf("branches: %q is not a valid regex; matching literally", b))
		}
	}

	return warnings, joinErrs(errs)
}

type position struct{ stage, decl int }

func (p position) before(q position) bool {
	if p.stage != q.stage {
		return p.stage < q.stage
	}
	return p.decl < q.decl
}

// positions maps image names to their (stage, declaration) build position.
func (c *Config) positions() map[string]position {
	stageIdx := map[string]int{}
	for i, s := range c.Stages {
		stageIdx[s] = i
	}
	out := make(map[string]position, len(c.Images))
	for i, img := range c.Images {
		s, ok := stageIdx[img.Stage]
		if !ok {
			s = len(c.Stages)
		}
		out[img.Name] = position{stage: s, decl: i}
	}
	return out
}

func joinErrs(errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(errs, "; "))
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
