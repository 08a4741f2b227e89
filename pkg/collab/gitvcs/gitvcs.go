// Package gitvcs implements pkg/collab.VCS against a real git checkout
// using go-git, so Rugby never shells out to the git binary.
package gitvcs

import (
	"context"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/pkg/errors"
)

// Repository adapts a go-git repository to pkg/collab.VCS.
type Repository struct {
	repo *git.Repository
}

// Open opens the git repository rooted at (or above) dir.
func Open(dir string) (*Repository, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, errors.Wrap(err, "opening git repository")
	}
	return &Repository{repo: repo}, nil
}

// ChangedPathsSince returns every path touched by a commit reachable from
// HEAD but not from baseRef.
func (r *Repository) ChangedPathsSince(ctx context.Context, baseRef string) ([]string, error) {
	head, err := r.repo.Head()
	if err != nil {
		return nil, errors.Wrap(err, "resolving HEAD")
	}
	baseHash, err := r.repo.ResolveRevision(plumbing.Revision(baseRef))
	if err != nil {
		return nil, errors.Wrapf(err, "resolving base ref %s", baseRef)
	}
	iter, err := r.repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, errors.Wrap(err, "walking commit log")
	}
	defer iter.Close()

	seen := map[string]bool{}
	var paths []string
	err = iter.ForEach(func(c *object.Commit) error {
		if c.Hash == *baseHash {
			return errStopIteration
		}
		stats, err := c.Stats()
		if err != nil {
			return err
		}
		for _, s := range stats {
			if !seen[s.Name] {
				seen[s.Name] = true
				paths = append(paths, s.Name)
			}
		}
		return nil
	})
	if err != nil && err != errStopIteration {
		return nil, errors.Wrap(err, "iterating commits")
	}
	return paths, nil
}

// UncommittedFiles returns paths with working-tree changes not yet
// committed (staged or unstaged).
func (r *Repository) UncommittedFiles(ctx context.Context) ([]string, error) {
	wt, err := r.repo.Worktree()
	if err != nil {
		return nil, errors.Wrap(err, "opening worktree")
	}
	status, err := wt.Status()
	if err != nil {
		return nil, errors.Wrap(err, "computing worktree status")
	}
	var paths []string
	for path, s := range status {
		if s.Worktree != git.Unmodified || s.Staging != git.Unmodified {
			paths = append(paths, path)
		}
	}
	return paths, nil
}

// IsDirty reports whether the working tree has any uncommitted change.
func (r *Repository) IsDirty(ctx context.Context) (bool, error) {
	wt, err := r.repo.Worktree()
	if err != nil {
		return false, errors.Wrap(err, "opening worktree")
	}
	status, err := wt.Status()
	if err != nil {
		return false, errors.Wrap(err, "computing worktree status")
	}
	return !status.IsClean(), nil
}

var errStopIteration = errors.New("rugby: stop commit iteration")
