package release

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Releaser distributes the already-published artifacts downstream
type Releaser interface {
	// CommitAndPush records the published artifacts in version control and
	// pushes them to the configured remote
	CommitAndPush(ctx context.Context, message string) error
}

// GitReleaser implements Releaser against a local git working tree
type GitReleaser struct {
	repoDir string
	remote  string
	branch  string
}

// NewGitReleaser creates a releaser for the repository at repoDir
func NewGitReleaser(repoDir, remote, branch string) *GitReleaser {
	return &GitReleaser{
		repoDir: repoDir,
		remote:  remote,
		branch:  branch,
	}
}

// CommitAndPush stages everything under the repository, commits with the
// given message, and pushes the configured branch. A working tree with no
// changes and an up-to-date remote are both treated as success.
func (r *GitReleaser) CommitAndPush(ctx context.Context, message string) error {
	repo, err := git.PlainOpen(r.repoDir)
	if err != nil {
		return fmt.Errorf("failed to open release repository %s: %w", r.repoDir, err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to open worktree: %w", err)
	}

	status, err := wt.Status()
	if err != nil {
		return fmt.Errorf("failed to read worktree status: %w", err)
	}

	if !status.IsClean() {
		if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
			return fmt.Errorf("failed to stage changes: %w", err)
		}

		if _, err := wt.Commit(message, &git.CommitOptions{
			Author: &object.Signature{
				Name:  "tunesyncd",
				Email: "tunesyncd@localhost",
				When:  time.Now(),
			},
		}); err != nil {
			return fmt.Errorf("failed to commit: %w", err)
		}
	}

	refSpec := config.RefSpec(fmt.Sprintf("%s:%s",
		plumbing.NewBranchReferenceName(r.branch),
		plumbing.NewBranchReferenceName(r.branch)))

	err = repo.PushContext(ctx, &git.PushOptions{
		RemoteName: r.remote,
		RefSpecs:   []config.RefSpec{refSpec},
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("failed to push to %s: %w", r.remote, err)
	}

	return nil
}
