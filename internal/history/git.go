package history

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/format/index"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.uber.org/zap"
)

// GitLog records history in a git repository. Mutations run the git binary so
// hooks, config and the index lock behave as they do for a user; reads go
// through go-git. The repository is reopened on every call.
type GitLog struct {
	root   string
	runner Runner
	logger *zap.Logger
}

func NewGitLog(root string, runner Runner, logger *zap.Logger) (*GitLog, error) {
	if runner == nil {
		runner = NewExecRunner("")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, err := git.PlainOpen(root); err != nil {
		return nil, fmt.Errorf("open repository %s: %w", root, err)
	}
	return &GitLog{root: root, runner: runner, logger: logger}, nil
}

func (g *GitLog) open() (*git.Repository, error) {
	repo, err := git.PlainOpen(g.root)
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}
	return repo, nil
}

func (g *GitLog) IsTracked(ctx context.Context, path string) (bool, error) {
	repo, err := g.open()
	if err != nil {
		return false, err
	}
	idx, err := repo.Storer.Index()
	if err != nil {
		// go-git does not read every index extension; ask git itself.
		g.logger.Debug("reading index with go-git failed, falling back to git", zap.Error(err))
		out, err := g.runner.Run(ctx, g.root, "ls-files", "--", path)
		if err != nil {
			return false, err
		}
		return strings.TrimSpace(out) != "", nil
	}

	_, err = idx.Entry(path)
	if errors.Is(err, index.ErrEntryNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (g *GitLog) Stage(ctx context.Context, path string) error {
	_, err := g.runner.Run(ctx, g.root, "add", "--", path)
	return err
}

func (g *GitLog) Unstage(ctx context.Context, path string) error {
	if _, err := g.Head(ctx); errors.Is(err, ErrNoCommits) {
		_, err := g.runner.Run(ctx, g.root, "rm", "--cached", "-q", "--ignore-unmatch", "--", path)
		return err
	}
	_, err := g.runner.Run(ctx, g.root, "reset", "-q", "HEAD", "--", path)
	return err
}

// Commit records message. When paths are given only they are committed and
// anything else already staged is left alone.
func (g *GitLog) Commit(ctx context.Context, message string, paths ...string) (Commit, error) {
	args := []string{"commit", "--no-gpg-sign", "--allow-empty", "-q", "-m", message}
	if len(paths) > 0 {
		args = append(append(args, "--only", "--"), paths...)
	}
	if _, err := g.runner.Run(ctx, g.root, args...); err != nil {
		return Commit{}, err
	}
	return g.Head(ctx)
}

func (g *GitLog) Amend(ctx context.Context, commitID, message string, paths ...string) (Commit, error) {
	head, err := g.Head(ctx)
	if err != nil {
		return Commit{}, err
	}
	if head.ID != commitID {
		return Commit{}, fmt.Errorf("amend %s: %w (HEAD is %s)", short(commitID), ErrNotHead, short(head.ID))
	}

	args := []string{"commit", "--amend", "--no-gpg-sign", "--allow-empty", "-q", "-m", message}
	if len(paths) > 0 {
		args = append(append(args, "--only", "--"), paths...)
	}
	if _, err := g.runner.Run(ctx, g.root, args...); err != nil {
		return Commit{}, err
	}
	return g.Head(ctx)
}

func (g *GitLog) ReadBlob(ctx context.Context, path string) ([]byte, error) {
	repo, err := g.open()
	if err != nil {
		return nil, err
	}
	c, err := headCommit(repo)
	if err != nil {
		return nil, err
	}
	f, err := c.File(path)
	if errors.Is(err, object.ErrFileNotFound) {
		return nil, fmt.Errorf("%s: %w", path, ErrNoBlob)
	}
	if err != nil {
		return nil, err
	}
	content, err := f.Contents()
	if err != nil {
		return nil, err
	}
	return []byte(content), nil
}

func (g *GitLog) Head(ctx context.Context) (Commit, error) {
	repo, err := g.open()
	if err != nil {
		return Commit{}, err
	}
	c, err := headCommit(repo)
	if err != nil {
		return Commit{}, err
	}
	return toRecord(c)
}

func headCommit(repo *git.Repository) (*object.Commit, error) {
	ref, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, ErrNoCommits
	}
	if err != nil {
		return nil, fmt.Errorf("resolving HEAD: %w", err)
	}
	return repo.CommitObject(ref.Hash())
}

func toRecord(c *object.Commit) (Commit, error) {
	rec := Commit{
		ID:        c.Hash.String(),
		Message:   c.Message,
		Timestamp: c.Committer.When,
	}

	parentTree := &object.Tree{}
	if c.NumParents() > 0 {
		parent, err := c.Parent(0)
		if err != nil {
			return Commit{}, err
		}
		rec.Parent = parent.Hash.String()
		if parentTree, err = parent.Tree(); err != nil {
			return Commit{}, err
		}
	}

	tree, err := c.Tree()
	if err != nil {
		return Commit{}, err
	}
	changes, err := object.DiffTree(parentTree, tree)
	if err != nil {
		return Commit{}, fmt.Errorf("listing changed paths: %w", err)
	}
	for _, ch := range changes {
		name := ch.To.Name
		if name == "" {
			name = ch.From.Name
		}
		rec.Paths = append(rec.Paths, name)
	}
	sort.Strings(rec.Paths)
	return rec, nil
}

func short(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
