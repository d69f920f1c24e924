package fetch

import (
	"context"
	"fmt"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/quillpm/quill/internal/turbopath"
)

// GitFetcher clones a repository at a pinned commit into a scratch
// directory. Grounded on upbound-up's cmd/up/project/init.go, which shells
// out to github.com/go-git/go-git/v5 the same way: a shallow (Depth: 1)
// PlainClone followed by a checkout, rather than exec'ing the git binary
// the way teacher internal/scm/git.go does for its own (non-install)
// purposes.
type GitFetcher struct{}

// NewGitFetcher constructs a GitFetcher. There is no state to hold today;
// the constructor exists so call sites read the same way as the other
// fetch collaborators and so auth options have an obvious place to land
// later.
func NewGitFetcher() *GitFetcher {
	return &GitFetcher{}
}

// Clone performs a shallow clone of repo into dest, then checks out
// treeish (a branch, tag, or commit SHA). dest must not already exist.
func (g *GitFetcher) Clone(ctx context.Context, repo, treeish string, dest turbopath.AbsoluteSystemPath) (commit string, err error) {
	opts := &git.CloneOptions{
		URL:   repo,
		Depth: 1,
	}
	// A treeish that parses as a branch/tag reference lets PlainClone shallow
	// clone exactly that ref; a bare commit SHA needs a full clone (go-git
	// has no shallow-clone-at-commit support) followed by a checkout.
	shallow := treeish == "" || looksLikeRef(treeish)
	if shallow && treeish != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(treeish)
	}

	var repository *git.Repository
	if shallow {
		repository, err = git.PlainCloneContext(ctx, dest.ToString(), false, opts)
	}
	if err != nil && shallow && treeish != "" {
		// Not a branch; retry as a tag reference before falling back to a
		// full, unshallowed clone for an explicit commit SHA.
		opts.ReferenceName = plumbing.NewTagReferenceName(treeish)
		repository, err = git.PlainCloneContext(ctx, dest.ToString(), false, opts)
	}
	if (err != nil || !shallow) && treeish != "" {
		opts.ReferenceName = ""
		opts.Depth = 0
		repository, err = git.PlainCloneContext(ctx, dest.ToString(), false, opts)
		if err != nil {
			return "", fmt.Errorf("fetch: clone %s: %w", repo, err)
		}
		wt, wtErr := repository.Worktree()
		if wtErr != nil {
			return "", fmt.Errorf("fetch: worktree for %s: %w", repo, wtErr)
		}
		if err := wt.Checkout(&git.CheckoutOptions{Hash: plumbing.NewHash(treeish)}); err != nil {
			return "", fmt.Errorf("fetch: checkout %s at %s: %w", repo, treeish, err)
		}
	}
	if err != nil {
		return "", fmt.Errorf("fetch: clone %s: %w", repo, err)
	}

	head, err := repository.Head()
	if err != nil {
		return "", fmt.Errorf("fetch: read HEAD of %s: %w", repo, err)
	}
	return head.Hash().String(), nil
}

// looksLikeRef reports whether treeish is shaped like a branch/tag name
// rather than a raw commit SHA, so Clone can try the cheaper shallow path
// first.
func looksLikeRef(treeish string) bool {
	if len(treeish) == 40 || len(treeish) == 64 {
		isHex := true
		for _, c := range treeish {
			if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
				isHex = false
				break
			}
		}
		if isHex {
			return false
		}
	}
	return true
}
