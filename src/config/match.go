package config

import (
	"regexp"
	"strings"
)

// BranchAllowed reports whether builds are enabled for a branch.
// Each entry of Branches is a regex, literal, or !negated pattern, e.g.
//
//	branches: ["^master$", "^release/.*", "!-wip$"]
func (c *Config) BranchAllowed(branch string) bool {
	return MatchPatterns(c.Branches, branch)
}

// MatchPatterns evaluates a list of patterns against a value (OR logic).
// Empty list = always allowed (no filter).
//
// Evaluation: exclude patterns (!) are checked first. If any exclude matches,
// the value is rejected. Then include patterns are checked; if any matches,
// the value is allowed. If only exclude patterns exist and none matched,
// the value is allowed.
func MatchPatterns(patterns []string, value string) bool {
	if len(patterns) == 0 {
		return true
	}

	var includes, excludes []string
	for _, p := range patterns {
		if strings.HasPrefix(p, "!") {
			excludes = append(excludes, p[1:])
		} else {
			includes = append(includes, p)
		}
	}

	for _, p := range excludes {
		if matchPattern(p, value) {
			return false
		}
	}

	if len(includes) == 0 {
		return true
	}

	for _, p := range includes {
		if matchPattern(p, value) {
			return true
		}
	}
	return false
}

// matchPattern matches a single regex; invalid regexes compare literally.
func matchPattern(pattern, value string) bool {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return pattern == value
	}
	return re.MatchString(value)
}
