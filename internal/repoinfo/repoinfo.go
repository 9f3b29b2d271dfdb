// Package repoinfo resolves a filesystem path to the git repository and
// worktree it sits in, used by internal/orchestration to address messages to
// "everyone working in this repo" (spec §4.11). It never caches: every call
// re-walks the filesystem with go-git so a worktree that gets manually
// relocated or removed is reflected immediately rather than going stale, the
// same "re-derive, don't persist" stance the teacher takes with its
// internal/git package's repoRoot lookups.
package repoinfo

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// Info describes the repository and worktree a path belongs to.
type Info struct {
	// RepoRoot is the top-level working directory containing the path
	// passed to Resolve. Resolve sets it to the same value as WorktreePath;
	// for a path inside a linked worktree that is the worktree's own
	// directory, not the main checkout.
	RepoRoot string
	// WorktreePath is the working directory actually containing the path
	// passed to Resolve.
	WorktreePath string
	// Branch is the checked-out branch's short name, or "" when HEAD is
	// detached.
	Branch string
	// Label is a short human-readable name for the worktree/repo target,
	// "<repo-dir-name>" or "<repo-dir-name>@<branch>" when a branch is
	// known, used to key the orchestration router's worktree targets.
	Label string
}

// ErrNotARepo is returned when path is not inside a git working tree.
var ErrNotARepo = errors.New("repoinfo: not a git repository")

// Resolve walks up from path looking for a .git directory (in a worktree, a
// .git file pointing at the main repo's worktree metadata), the same
// discovery go-git performs for PlainOpen with DetectDotGit.
func Resolve(path string) (Info, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Info{}, fmt.Errorf("repoinfo: resolve absolute path: %w", err)
	}

	repo, err := git.PlainOpenWithOptions(abs, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return Info{}, ErrNotARepo
		}
		return Info{}, fmt.Errorf("repoinfo: open repository at %q: %w", abs, err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return Info{}, fmt.Errorf("repoinfo: resolve worktree: %w", err)
	}
	worktreePath := wt.Filesystem.Root()

	branch := ""
	if head, err := repo.Head(); err == nil && head.Name().IsBranch() {
		branch = head.Name().Short()
	} else if err != nil && !errors.Is(err, plumbing.ErrReferenceNotFound) {
		return Info{}, fmt.Errorf("repoinfo: resolve HEAD: %w", err)
	}

	label := filepath.Base(worktreePath)
	if branch != "" {
		label = label + "@" + branch
	}

	return Info{
		RepoRoot:     worktreePath,
		WorktreePath: worktreePath,
		Branch:       branch,
		Label:        label,
	}, nil
}

// Label is a convenience wrapper for callers that only need the worktree
// target string and want ErrNotARepo to collapse to "" rather than an error
// (spec §4.11: sessions outside any repo simply never match a worktree
// target, which is not an error condition).
func Label(path string) string {
	info, err := Resolve(path)
	if err != nil {
		return ""
	}
	return info.Label
}
