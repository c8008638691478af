package gitver

import "strings"

// remoteToHTTPS converts a git remote URL to HTTPS form.
// SSH remotes (git@host:org/repo.git) become https://host/org/repo;
// HTTPS remotes pass through with .git stripped.
func remoteToHTTPS(remote string) string {
	remote = strings.TrimSuffix(remote, ".git")

	if strings.HasPrefix(remote, "https://") || strings.HasPrefix(remote, "http://") {
		return remote
	}

	// ssh://git@host/org/repo or git@host:org/repo
	remote = strings.TrimPrefix(remote, "ssh://")
	if idx := strings.Index(remote, "@"); idx != -1 {
		rest := remote[idx+1:]
		if !strings.Contains(rest, "/") || strings.Index(rest, ":") < strings.Index(rest, "/") {
			rest = strings.Replace(rest, ":", "/", 1)
		}
		return "https://" + rest
	}

	return remote
}
