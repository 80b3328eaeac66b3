// Package session tracks which commit each caller-scoped task is amending.
// A handle is an explicit value passed on every call; there is no ambient
// "current session".
package session

import (
	"context"
	stderrors "errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"scribe/internal/errors"
	"scribe/internal/history"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var validID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9-]{0,127}$`)

// Handle scopes a sequence of edits that collapse into one commit.
type Handle struct {
	ID        string
	CreatedAt time.Time

	mu      sync.Mutex
	target  string
	commits []string
	closed  bool
}

// Target is the commit the next edit amends, or "" when the next edit starts
// a new commit.
func (h *Handle) Target() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.target
}

// Commits lists the commits this session produced, oldest first. An amended
// commit is listed under its latest id.
func (h *Handle) Commits() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.commits...)
}

func (h *Handle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Check fails once the handle has been closed.
func (h *Handle) Check() error {
	if h == nil {
		return errors.InvalidRequest("a session is required")
	}
	if h.Closed() {
		return errors.InvalidRequest(fmt.Sprintf("session %s is closed", h.ID))
	}
	return nil
}

func (h *Handle) record() *Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	return &Record{
		ID:        h.ID,
		Target:    h.target,
		Commits:   append([]string(nil), h.commits...),
		CreatedAt: h.CreatedAt,
		UpdatedAt: time.Now(),
		Closed:    h.closed,
	}
}

// Chain hands out session handles and keeps their amend targets.
type Chain struct {
	store  Store
	log    history.Log
	logger *zap.Logger

	mu   sync.Mutex
	open map[string]*Handle
}

func NewChain(store Store, log history.Log, logger *zap.Logger) *Chain {
	if store == nil {
		store = NewMemoryStore()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chain{
		store:  store,
		log:    log,
		logger: logger,
		open:   make(map[string]*Handle),
	}
}

// Open starts a session whose first edit creates a new commit.
func (c *Chain) Open(ctx context.Context) (*Handle, error) {
	h := &Handle{ID: uuid.New().String(), CreatedAt: time.Now()}
	if err := c.store.Save(ctx, h.record()); err != nil {
		return nil, fmt.Errorf("saving session: %w", err)
	}

	c.mu.Lock()
	c.open[h.ID] = h
	c.mu.Unlock()

	c.logger.Info("session opened", zap.String("session", h.ID))
	return h, nil
}

// Resume returns the handle for id, rebuilding it from the store and the
// history log when this process has not seen it. If HEAD carries the
// session's trailer, HEAD becomes the amend target.
func (c *Chain) Resume(ctx context.Context, id string) (*Handle, error) {
	if !validID.MatchString(id) {
		return nil, errors.InvalidRequest(fmt.Sprintf("invalid session id %q", id))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if h, ok := c.open[id]; ok {
		return h, nil
	}

	h := &Handle{ID: id}
	rec, err := c.store.Load(ctx, id)
	switch {
	case err == nil:
		if rec.Closed {
			return nil, errors.InvalidRequest(fmt.Sprintf("session %s is closed", id))
		}
		h.CreatedAt = rec.CreatedAt
		h.target = rec.Target
		h.commits = rec.Commits
	case stderrors.Is(err, ErrUnknownSession):
	default:
		return nil, fmt.Errorf("loading session: %w", err)
	}

	head, err := c.log.Head(ctx)
	if err != nil && !stderrors.Is(err, history.ErrNoCommits) {
		return nil, fmt.Errorf("reading HEAD: %w", err)
	}
	fromLog := err == nil && history.SessionOf(head.Message) == id
	if fromLog {
		h.target = head.ID
		if n := len(h.commits); n == 0 || h.commits[n-1] != head.ID {
			h.commits = append(h.commits, head.ID)
		}
	}

	if rec == nil && !fromLog {
		return nil, errors.InvalidRequest(fmt.Sprintf("unknown session %s", id))
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now()
	}

	c.open[id] = h
	c.logger.Info("session resumed",
		zap.String("session", id),
		zap.String("commit", h.target),
		zap.Bool("from_log", fromLog),
	)
	return h, nil
}

// Close ends the session. Later edits through h fail.
func (c *Chain) Close(ctx context.Context, h *Handle) error {
	if err := h.Check(); err != nil {
		return err
	}

	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()

	c.mu.Lock()
	delete(c.open, h.ID)
	c.mu.Unlock()

	if err := c.store.Save(ctx, h.record()); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	c.logger.Info("session closed", zap.String("session", h.ID), zap.Int("commits", len(h.Commits())))
	return nil
}

// List returns every known session, closed ones included.
func (c *Chain) List(ctx context.Context) ([]Record, error) {
	return c.store.List(ctx)
}

// Advance records that commit now holds the session's work. amended says
// whether it replaced the previous target.
func (c *Chain) Advance(ctx context.Context, h *Handle, commit history.Commit, amended bool) error {
	h.mu.Lock()
	if amended && len(h.commits) > 0 {
		h.commits[len(h.commits)-1] = commit.ID
	} else {
		h.commits = append(h.commits, commit.ID)
	}
	h.target = commit.ID
	h.mu.Unlock()

	return c.store.Save(ctx, h.record())
}
