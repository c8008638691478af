package build

import (
	"fmt"
	"strings"

	"github.com/distribution/reference"

	"github.com/damoti/shipmaster/src/compose"
)

// imageName composes <project>/<image>:b<build>.
func imageName(project, image, buildNum string) string {
	return fmt.Sprintf("%s/%s:b%s", compose.ProjectName(project), sanitizeTag(image), sanitizeTag(buildNum))
}

// testTag is the tag of test runs: <build>b<job>t.
func testTag(buildNum, jobNum string) string {
	return fmt.Sprintf("%sb%st", buildNum, jobNum)
}

// splitRef splits an image reference into repository and tag. Registry
// ports are not mistaken for tags.
func splitRef(ref string) (repo, tag string, err error) {
	named, err := reference.ParseNormalizedNamed(ref)
	if err != nil {
		return "", "", fmt.Errorf("image reference %q: %w", ref, err)
	}
	repo = reference.FamiliarName(named)
	if tagged, ok := named.(reference.Tagged); ok {
		tag = tagged.Tag()
	}
	return repo, tag, nil
}

// sanitizeTag replaces characters not allowed in image names and tags.
func sanitizeTag(s string) string {
	r := strings.NewReplacer(
		"/", "-",
		" ", "-",
		":", "-",
	)
	return strings.ToLower(r.Replace(s))
}

// expandTemplate substitutes {key} placeholders from vars. Unknown keys
// are left as written; {{ and }} produce literal braces.
//
//	"migrate {service} --rev {git-hash}" → "migrate web --rev 1a2b3c"
func expandTemplate(s string, vars map[string]string) string {
	var b strings.Builder
	for i := 0; i < len(s); {
		switch {
		case strings.HasPrefix(s[i:], "{{"):
			b.WriteByte('{')
			i += 2
		case strings.HasPrefix(s[i:], "}}"):
			b.WriteByte('}')
			i += 2
		case s[i] == '{':
			if end := strings.IndexByte(s[i:], '}'); end > 1 {
				if v, ok := vars[s[i+1:i+end]]; ok {
					b.WriteString(v)
					i += end + 1
					continue
				}
			}
			b.WriteByte('{')
			i++
		default:
			b.WriteByte(s[i])
			i++
		}
	}
	return b.String()
}
