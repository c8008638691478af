package script

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/moby/patternmatcher"
	"github.com/moby/patternmatcher/ignorefile"
)

// IgnoreFile is the per-workspace exclusion list, one glob per line.
const IgnoreFile = ".dockerignore"

// ignoreRules decides which project files stay out of an archive.
//
// Paths are matched relative to AppRoot with .dockerignore semantics
// (a pattern also excludes everything under a matching directory). Patterns
// without a slash additionally match the base name at any depth, so
// "*.pyc" drops compiled files everywhere and not only at the top level.
// Rules apply in file order and the last matching rule wins.
type ignoreRules struct {
	patterns []string
	rules    []ignoreRule
}

type ignoreRule struct {
	pattern  string
	negate   bool
	basename bool
	pm       *patternmatcher.PatternMatcher
}

// loadIgnoreRules reads the ignore file. A missing file means no rules.
func loadIgnoreRules(file string) (*ignoreRules, error) {
	f, err := os.Open(file)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &ignoreRules{}, nil
		}
		return nil, err
	}
	defer f.Close()

	patterns, err := ignorefile.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return newIgnoreRules(patterns)
}

func newIgnoreRules(patterns []string) (*ignoreRules, error) {
	r := &ignoreRules{patterns: patterns}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		negate := strings.HasPrefix(p, "!")
		p = strings.TrimPrefix(p, "!")
		if p == "" {
			return nil, errors.New("illegal exclusion pattern: \"!\"")
		}
		pm, err := patternmatcher.New([]string{p})
		if err != nil {
			return nil, err
		}
		r.rules = append(r.rules, ignoreRule{
			pattern:  p,
			negate:   negate,
			basename: !strings.Contains(p, "/"),
			pm:       pm,
		})
	}
	return r, nil
}

// Patterns returns the loaded patterns in file order.
func (r *ignoreRules) Patterns() []string { return r.patterns }

// Excluded reports whether rel, a slash-separated path relative to AppRoot,
// must be left out.
func (r *ignoreRules) Excluded(rel string) bool {
	if len(r.rules) == 0 || rel == "." || rel == "" {
		return false
	}
	excluded := false
	for _, rule := range r.rules {
		if rule.matches(rel) {
			excluded = !rule.negate
		}
	}
	return excluded
}

// matches reports whether rel or one of its parent directories matches.
func (rule ignoreRule) matches(rel string) bool {
	if ok, err := rule.pm.MatchesOrParentMatches(rel); err == nil && ok {
		return true
	}
	if !rule.basename {
		return false
	}
	for dir := rel; dir != "." && dir != "/" && dir != ""; dir = path.Dir(dir) {
		if matchGlob(rule.pattern, path.Base(dir)) {
			return true
		}
	}
	return false
}

// matchGlob extends path.Match with support for "**" (zero or more path
// segments). Patterns without "**" delegate directly to path.Match.
func matchGlob(pattern, name string) bool {
	if !strings.Contains(pattern, "**") {
		matched, _ := path.Match(pattern, name)
		return matched
	}

	idx := strings.Index(pattern, "**")
	prefix := pattern[:idx]
	suffix := strings.TrimLeft(pattern[idx+2:], "/")

	if prefix != "" {
		prefix = strings.TrimRight(prefix, "/")
		if !strings.HasPrefix(name, prefix) {
			return false
		}
		name = strings.TrimLeft(strings.TrimPrefix(name, prefix), "/")
	}

	// ** at the end matches everything remaining
	if suffix == "" {
		return true
	}

	// try the suffix against every tail: "a/b/c", "b/c", "c"
	parts := strings.Split(name, "/")
	for i := 0; i <= len(parts); i++ {
		if matchGlob(suffix, strings.Join(parts[i:], "/")) {
			return true
		}
	}
	return false
}
