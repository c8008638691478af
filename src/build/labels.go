package build

import (
	"time"

	specs "github.com/opencontainers/image-spec/specs-go/v1"
)

// Label keys set on every committed image.
const (
	LabelBuild     = "shipmaster-build"
	LabelGitPrefix = "git-"
)

// commitLabels returns one git-<key> label per commit info key, the build
// number, and the matching OCI annotations.
func commitLabels(commitInfo map[string]string, buildNum string, created time.Time) map[string]string {
	labels := make(map[string]string, len(commitInfo)+3)
	for k, v := range commitInfo {
		labels[LabelGitPrefix+k] = v
	}
	labels[LabelBuild] = buildNum
	if rev := commitInfo["hash"]; rev != "" {
		labels[specs.AnnotationRevision] = rev
	}
	labels[specs.AnnotationCreated] = created.UTC().Format(time.RFC3339)
	return labels
}
