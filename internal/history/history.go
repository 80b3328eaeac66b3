// Package history is the append-only log every accepted edit is recorded in.
// GitLog drives a real repository; MemoryLog is a content-addressed fake with
// failure injection for tests.
package history

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotHead is returned by Amend when the commit to amend is no longer HEAD.
	ErrNotHead = errors.New("commit is not HEAD")
	// ErrNoCommits is returned by Head on a repository without commits.
	ErrNoCommits = errors.New("repository has no commits")
	ErrNoBlob    = errors.New("path not present in HEAD")
)

// Commit is a record owned by the history log.
type Commit struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Parent    string    `json:"parent,omitempty"`
	Paths     []string  `json:"paths"`
}

// Log is what the transaction manager needs from a version-control system.
// Paths are slash-separated and relative to the working-tree root.
type Log interface {
	IsTracked(ctx context.Context, path string) (bool, error)
	Stage(ctx context.Context, path string) error
	// Unstage resets the index entry for path to HEAD, or drops it when HEAD
	// does not have it.
	Unstage(ctx context.Context, path string) error
	// Commit records message. When paths are given only those paths are
	// committed; other staged changes stay staged.
	Commit(ctx context.Context, message string, paths ...string) (Commit, error)
	// Amend replaces commitID, which must be HEAD, with a commit that also
	// carries the staged content of paths, under message.
	Amend(ctx context.Context, commitID, message string, paths ...string) (Commit, error)
	// ReadBlob returns the content of path as of HEAD.
	ReadBlob(ctx context.Context, path string) ([]byte, error)
	Head(ctx context.Context) (Commit, error)
}

var (
	_ Log = (*GitLog)(nil)
	_ Log = (*MemoryLog)(nil)
)
