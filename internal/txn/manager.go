// Package txn turns a raw file write into a unit of history. Either the new
// content is on disk and recorded in the log, or disk and log are exactly as
// they were before the call.
package txn

import (
	"context"
	stderrors "errors"
	"fmt"
	"io/fs"
	"sync"

	"scribe/internal/errors"
	"scribe/internal/history"
	"scribe/internal/session"
	"scribe/internal/workspace"
	"scribe/shared/utils"

	"go.uber.org/zap"
)

// Disk is the slice of the working tree the manager writes through.
type Disk interface {
	Read(abs string) (*workspace.Snapshot, error)
	WriteFile(abs string, data []byte, mode fs.FileMode) ([]string, error)
	Remove(abs string, dirs []string) error
}

// Change is one file mutation the gate has already allowed.
type Change struct {
	Path        string
	Abs         string
	Content     []byte
	Description string
	// ExpectedHash is the hash of the bytes the caller based the change on.
	// Empty skips the check.
	ExpectedHash string
	IsNew        bool
	// Mode applies to new files; existing files keep theirs unless SetMode
	// is set.
	Mode    fs.FileMode
	SetMode bool
	// Remove deletes the file instead of writing Content.
	Remove bool
}

type Manager struct {
	disk    Disk
	log     history.Log
	chain   *session.Chain
	journal *Journal
	logger  *zap.Logger

	// The history log's index is shared by every path.
	mu sync.Mutex
}

// NewManager builds a manager. journal may be nil, in which case nothing
// survives a crash.
func NewManager(disk Disk, log history.Log, chain *session.Chain, journal *Journal, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		disk:    disk,
		log:     log,
		chain:   chain,
		journal: journal,
		logger:  logger,
	}
}

// Commit writes ch, stages it and records it in the session's commit: the
// open target is amended when it is still HEAD, otherwise a new commit is
// started and becomes the target.
func (m *Manager) Commit(ctx context.Context, h *session.Handle, ch Change) (history.Commit, error) {
	if err := h.Check(); err != nil {
		return history.Commit{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	logger := m.logger.With(zap.String("path", ch.Path), zap.String("session", h.ID))

	pre, err := m.disk.Read(ch.Abs)
	if err != nil {
		return history.Commit{}, errors.Transaction("capture", ch.Path, err)
	}
	if ch.IsNew && pre.Exists {
		return history.Commit{}, errors.Conflict(ch.Path, "absent", pre.Hash)
	}
	if (ch.Remove || ch.SetMode) && !pre.Exists {
		return history.Commit{}, errors.NotFound(fmt.Sprintf("%s does not exist", ch.Path), nil)
	}
	if ch.ExpectedHash != "" && ch.ExpectedHash != pre.Hash {
		logger.Info("pre-image changed since read",
			zap.String("expected", ch.ExpectedHash),
			zap.String("actual", pre.Hash),
		)
		return history.Commit{}, errors.Conflict(ch.Path, ch.ExpectedHash, pre.Hash)
	}

	head, err := m.log.Head(ctx)
	hasHead := err == nil
	if err != nil && !stderrors.Is(err, history.ErrNoCommits) {
		return history.Commit{}, errors.Transaction("head", ch.Path, err)
	}

	mode := ch.Mode
	if pre.Exists && !ch.SetMode {
		mode = pre.Mode
	}
	if mode == 0 {
		mode = 0644
	}

	entry := &Entry{
		Path:    ch.Path,
		Abs:     ch.Abs,
		Session: h.ID,
		Existed: pre.Exists,
		Removed: ch.Remove,
		Mode:    mode,
		PreMode: pre.Mode,
	}
	if !ch.Remove {
		entry.NewHash = utils.HashContent(ch.Content)
	}
	if hasHead {
		entry.BaseHead = head.ID
	}
	if m.journal != nil {
		if err := m.journal.Begin(entry, pre.Raw); err != nil {
			return history.Commit{}, errors.Transaction("journal", ch.Path, err)
		}
	}

	var created []string
	if ch.Remove {
		err = m.disk.Remove(ch.Abs, nil)
	} else {
		created, err = m.disk.WriteFile(ch.Abs, ch.Content, mode)
	}
	if err != nil {
		return history.Commit{}, m.abort(ctx, logger, entry, pre, false, "write", err)
	}
	entry.CreatedDirs = created
	if m.journal != nil && len(created) > 0 {
		if err := m.journal.Update(entry); err != nil {
			return history.Commit{}, m.abort(ctx, logger, entry, pre, false, "journal", err)
		}
	}

	if err := m.log.Stage(ctx, ch.Path); err != nil {
		return history.Commit{}, m.abort(ctx, logger, entry, pre, true, "stage", err)
	}

	var commit history.Commit
	amend := hasHead && h.Target() != "" && h.Target() == head.ID
	if amend {
		commit, err = m.log.Amend(ctx, head.ID, history.Update(head.Message, ch.Description, head.ID), ch.Path)
		if err != nil {
			return history.Commit{}, m.abort(ctx, logger, entry, pre, true, "amend", err)
		}
	} else {
		if h.Target() != "" {
			logger.Info("session commit is no longer HEAD, starting a new commit",
				zap.String("target", h.Target()),
			)
		}
		commit, err = m.log.Commit(ctx, history.Compose(ch.Description, h.ID), ch.Path)
		if err != nil {
			return history.Commit{}, m.abort(ctx, logger, entry, pre, true, "commit", err)
		}
	}

	// The change is durable from here on; bookkeeping failures are only logged.
	if m.journal != nil {
		if err := m.journal.Finish(entry); err != nil {
			logger.Warn("clearing journal entry", zap.Error(err))
		}
	}
	if err := m.chain.Advance(ctx, h, commit, amend); err != nil {
		logger.Warn("saving session", zap.Error(err))
	}

	logger.Info("change committed",
		zap.String("commit", commit.ID),
		zap.Bool("amended", amend),
		zap.Bool("new_file", !pre.Exists),
		zap.Bool("removed", ch.Remove),
	)
	return commit, nil
}

// abort restores the pre-image and wraps cause. When the rollback itself
// fails the journal entry is kept so Recover can finish the job.
func (m *Manager) abort(ctx context.Context, logger *zap.Logger, e *Entry, pre *workspace.Snapshot, staged bool, op string, cause error) error {
	logger.Warn("transaction failed, rolling back", zap.String("op", op), zap.Error(cause))

	if err := m.rollback(ctx, e, pre.Raw, pre.Hash, staged); err != nil {
		logger.Error("rollback failed", zap.String("op", op), zap.Error(err))
		return errors.Transaction(op, e.Path, stderrors.Join(cause, fmt.Errorf("rollback: %w", err)))
	}

	if m.journal != nil {
		if err := m.journal.Finish(e); err != nil {
			logger.Warn("clearing journal entry", zap.Error(err))
		}
	}
	return errors.Transaction(op, e.Path, cause)
}

func (m *Manager) rollback(ctx context.Context, e *Entry, raw []byte, hash string, staged bool) error {
	var errs []error

	if e.Existed {
		mode := e.PreMode
		if mode == 0 {
			mode = e.Mode
		}
		cur, err := m.disk.Read(e.Abs)
		if err != nil || !cur.Exists || cur.Hash != hash || cur.Mode != mode {
			if _, err := m.disk.WriteFile(e.Abs, raw, mode); err != nil {
				errs = append(errs, fmt.Errorf("restoring %s: %w", e.Path, err))
			}
		}
	} else if err := m.disk.Remove(e.Abs, e.CreatedDirs); err != nil {
		errs = append(errs, fmt.Errorf("removing %s: %w", e.Path, err))
	}

	if staged {
		if err := m.log.Unstage(ctx, e.Path); err != nil {
			errs = append(errs, fmt.Errorf("unstaging %s: %w", e.Path, err))
		}
	}
	return stderrors.Join(errs...)
}

// RecoveryReport lists what Recover did with each interrupted transaction.
type RecoveryReport struct {
	// Restored paths had their pre-image put back.
	Restored []string `json:"restored"`
	// Committed paths had reached the log; only the journal entry was stale.
	Committed []string `json:"committed"`
}

// Recover settles transactions interrupted by a crash.
func (m *Manager) Recover(ctx context.Context) (RecoveryReport, error) {
	var report RecoveryReport
	if m.journal == nil {
		return report, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := m.journal.Pending()
	if err != nil {
		return report, fmt.Errorf("reading journal: %w", err)
	}

	var errs []error
	for _, e := range entries {
		logger := m.logger.With(zap.String("path", e.Path), zap.String("session", e.Session))

		landed, err := m.landed(ctx, e)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.Path, err))
			continue
		}

		if landed {
			report.Committed = append(report.Committed, e.Path)
		} else {
			raw, err := m.journal.PreImage(e)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: reading pre-image: %w", e.Path, err))
				continue
			}
			if err := m.rollback(ctx, e, raw, utils.HashContent(raw), true); err != nil {
				errs = append(errs, err)
				continue
			}
			report.Restored = append(report.Restored, e.Path)
			logger.Info("restored pre-image of interrupted transaction")
		}

		if err := m.journal.Finish(e); err != nil {
			errs = append(errs, err)
		}
	}
	return report, stderrors.Join(errs...)
}

// landed reports whether the commit of e reached the log before the crash.
func (m *Manager) landed(ctx context.Context, e *Entry) (bool, error) {
	head, err := m.log.Head(ctx)
	if stderrors.Is(err, history.ErrNoCommits) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if head.ID == e.BaseHead {
		return false, nil
	}
	blob, err := m.log.ReadBlob(ctx, e.Path)
	if stderrors.Is(err, history.ErrNoBlob) {
		return e.Removed, nil
	}
	if e.Removed {
		return false, err
	}
	if err != nil {
		return false, err
	}
	return utils.HashContent(blob) == e.NewHash, nil
}
