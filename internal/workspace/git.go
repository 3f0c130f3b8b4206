package workspace

import (
	"context"
	"errors"
	"fmt"
	"time"

	git "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/storage/memory"

	"github.com/weft-run/weft/internal/config"
	"github.com/weft-run/weft/internal/logger"
	"github.com/weft-run/weft/internal/logger/tag"
)

// defaultPollInterval is how often the git source asks the remote for the
// branch head when watching.
const defaultPollInterval = 60 * time.Second

// GitSource tracks a branch of a remote repository. The local checkout under
// path always mirrors origin/<branch>; local edits are discarded on sync.
type GitSource struct {
	path     string
	repo     string
	branch   string
	interval time.Duration
}

// NewGitSource creates a source tracking cfg.Repo's cfg.Branch, checked out
// under cfg.Path.
func NewGitSource(cfg config.Workspace) (*GitSource, error) {
	if cfg.Repo == "" {
		return nil, errors.New("git workspace requires a repository URL")
	}
	if cfg.Path == "" {
		return nil, errors.New("git workspace requires a checkout path")
	}
	branch := cfg.Branch
	if branch == "" {
		branch = "main"
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &GitSource{
		path:     cfg.Path,
		repo:     cfg.Repo,
		branch:   branch,
		interval: interval,
	}, nil
}

// Sync fetches the tracked branch and forces the checkout onto it, cloning
// first when the directory holds no repository. Returns the commit id the
// checkout now points at.
func (s *GitSource) Sync(ctx context.Context) (string, error) {
	repo, err := s.ensureRepo(ctx)
	if err != nil {
		return "", err
	}

	err = repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: git.DefaultRemoteName,
		RefSpecs: []gitconfig.RefSpec{
			gitconfig.RefSpec(fmt.Sprintf("+refs/heads/%s:refs/remotes/origin/%s", s.branch, s.branch)),
		},
		Force: true,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return "", fmt.Errorf("failed to fetch %s: %w", s.repo, err)
	}

	remoteName := plumbing.NewRemoteReferenceName(git.DefaultRemoteName, s.branch)
	ref, err := repo.Reference(remoteName, true)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", remoteName, err)
	}

	// Point the local branch at the remote ref so the checkout lands on the
	// fetched commit even when the local branch never existed.
	localName := plumbing.NewBranchReferenceName(s.branch)
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(localName, remoteName)); err != nil {
		return "", fmt.Errorf("failed to set branch reference: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("failed to get worktree: %w", err)
	}
	if err := worktree.Checkout(&git.CheckoutOptions{Branch: localName, Force: true}); err != nil {
		return "", fmt.Errorf("failed to checkout %s: %w", s.branch, err)
	}

	return ref.Hash().String(), nil
}

// Revision returns the commit id of the local checkout. It fails when the
// directory has never been synced.
func (s *GitSource) Revision(_ context.Context) (string, error) {
	repo, err := git.PlainOpen(s.path)
	if err != nil {
		return "", fmt.Errorf("failed to open repository at %s: %w", s.path, err)
	}
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	return head.Hash().String(), nil
}

// Watch polls the remote branch head until ctx is cancelled, invoking
// onChange whenever the observed commit id differs from the last one seen.
// Poll failures are logged and the previous observation kept.
func (s *GitSource) Watch(ctx context.Context, onChange func()) error {
	var last string
	if rev, err := s.Revision(ctx); err == nil {
		last = rev
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			rev, err := s.remoteHead(ctx)
			if err != nil {
				logger.Warn(ctx, "Workspace remote poll failed", tag.URL(s.repo), tag.Error(err))
				continue
			}
			if last == "" {
				last = rev
				continue
			}
			if rev != last {
				last = rev
				onChange()
			}
		}
	}
}

func (s *GitSource) ensureRepo(ctx context.Context) (*git.Repository, error) {
	repo, err := git.PlainOpen(s.path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("failed to open repository at %s: %w", s.path, err)
	}

	repo, err = git.PlainCloneContext(ctx, s.path, false, &git.CloneOptions{
		URL:           s.repo,
		ReferenceName: plumbing.NewBranchReferenceName(s.branch),
		SingleBranch:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to clone %s: %w", s.repo, err)
	}
	return repo, nil
}

// remoteHead lists the remote's references without touching the local
// checkout and returns the tracked branch's commit id.
func (s *GitSource) remoteHead(ctx context.Context) (string, error) {
	remote := git.NewRemote(memory.NewStorage(), &gitconfig.RemoteConfig{
		Name: git.DefaultRemoteName,
		URLs: []string{s.repo},
	})
	refs, err := remote.ListContext(ctx, &git.ListOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to list remote refs: %w", err)
	}
	want := plumbing.NewBranchReferenceName(s.branch)
	for _, ref := range refs {
		if ref.Name() == want {
			return ref.Hash().String(), nil
		}
	}
	return "", fmt.Errorf("branch %q not found on remote", s.branch)
}
