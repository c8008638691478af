package compose

import "strings"

// Labels compose puts on the containers it manages. One-off containers
// created by the builder carry them too so that Down removes them.
const (
	LabelProject = "com.docker.compose.project"
	LabelService = "com.docker.compose.service"
	LabelOneOff  = "com.docker.compose.oneoff"
)

// ProjectName normalizes s the way compose does: lowercase, with only
// letters, digits, dashes and underscores kept.
func ProjectName(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// DefaultNetwork is the network compose creates for a project.
func DefaultNetwork(project string) string {
	return project + "_default"
}

// OneOffLabels returns the labels of a one-off container of service.
func OneOffLabels(project, service string) map[string]string {
	return map[string]string{
		LabelProject: project,
		LabelService: service,
		LabelOneOff:  "True",
	}
}
