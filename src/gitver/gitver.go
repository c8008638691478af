// Package gitver reads commit metadata from the workspace repository.
// The result is stamped on built images as git-<key> labels.
package gitver

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// ErrNoRepository is returned when dir is not inside a git work tree.
var ErrNoRepository = errors.New("gitver: not a git repository")

// Keys of the map returned by CommitInfo. Branch, tag and remote are
// omitted when they do not apply.
const (
	KeyHash      = "hash"
	KeyShortHash = "short-hash"
	KeyAuthor    = "author"
	KeyEmail     = "email"
	KeySubject   = "subject"
	KeyBranch    = "branch"
	KeyTag       = "tag"
	KeyRemote    = "remote"
)

// CommitInfo describes the HEAD commit of the repository containing dir.
func CommitInfo(dir string) (map[string]string, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, ErrNoRepository
	}
	if err != nil {
		return nil, fmt.Errorf("opening repository: %w", err)
	}

	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolving HEAD: %w", err)
	}
	commit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return nil, fmt.Errorf("reading HEAD commit: %w", err)
	}

	hash := commit.Hash.String()
	info := map[string]string{
		KeyHash:      hash,
		KeyShortHash: hash[:7],
		KeyAuthor:    commit.Author.Name,
		KeyEmail:     commit.Author.Email,
		KeySubject:   subject(commit.Message),
	}
	if head.Name().IsBranch() {
		info[KeyBranch] = head.Name().Short()
	}
	if tag := tagAt(repo, commit); tag != "" {
		info[KeyTag] = tag
	}
	if remote, err := repo.Remote("origin"); err == nil && len(remote.Config().URLs) > 0 {
		info[KeyRemote] = remoteToHTTPS(remote.Config().URLs[0])
	}
	return info, nil
}

func subject(message string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(message), "\n")
	return strings.TrimSpace(line)
}

// tagAt returns the first tag, lightweight or annotated, pointing at c.
func tagAt(repo *git.Repository, c *object.Commit) string {
	tags, err := repo.Tags()
	if err != nil {
		return ""
	}
	var found string
	_ = tags.ForEach(func(ref *plumbing.Reference) error {
		target := ref.Hash()
		if tag, err := repo.TagObject(target); err == nil {
			tc, err := tag.Commit()
			if err != nil {
				return nil
			}
			target = tc.Hash
		}
		if target == c.Hash {
			found = ref.Name().Short()
			return errStop
		}
		return nil
	})
	return found
}

var errStop = errors.New("stop")
