// internal/parcel/parcel.go
package parcel

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"scribe/internal/config"
	"scribe/internal/diff"
	"scribe/internal/edit"
	"scribe/internal/errors"
	"scribe/internal/gate"
	"scribe/internal/history"
	"scribe/internal/match"
	"scribe/internal/safe"
	"scribe/internal/session"
	"scribe/internal/txn"
	"scribe/internal/workspace"
	"scribe/shared/utils"

	"go.uber.org/zap"
)

// Initialize creates the state directories under stateDir.
func Initialize(stateDir string) error {
	dirs := []string{
		filepath.Join(stateDir, "db"),
		filepath.Join(stateDir, "preimages"),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	return nil
}

// New opens the working tree at root.
func New(root string, opts Options) (*Parcel, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	absPath, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("getting absolute path for root %s: %w", root, err)
	}
	if absPath, err = filepath.EvalSymlinks(absPath); err != nil {
		return nil, fmt.Errorf("resolving root %s: %w", root, err)
	}

	cfg := opts.Config
	if cfg == nil {
		if cfg, err = config.ForRoot(absPath); err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
	} else {
		// Callers may hand in a config built without a root.
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
		cfg = cfg.WithRoot(absPath)
	}

	stateDir, scratch := cfg.StatePath(), ""
	if opts.InMemory {
		if scratch, err = os.MkdirTemp("", "scribe-state-"); err != nil {
			return nil, fmt.Errorf("creating state directory: %w", err)
		}
		stateDir = scratch
	}
	if err := Initialize(stateDir); err != nil {
		return nil, fmt.Errorf("initializing directories: %w", err)
	}

	ws, err := workspace.NewLocalWorkspace(absPath, logger, cfg.StatePath())
	if err != nil {
		return nil, fmt.Errorf("creating local workspace: %w", err)
	}

	log := opts.Log
	if log == nil {
		runner := history.NewExecRunner(cfg.GitBin)
		if log, err = history.NewGitLog(ws.Root, runner, logger); err != nil {
			return nil, err
		}
	}

	db, err := InitDB(filepath.Join(stateDir, "db"), opts.InMemory)
	if err != nil {
		return nil, err
	}

	contentSafe, err := safe.New(db, safe.Options{
		Root:      filepath.Join(stateDir, "preimages"),
		CacheSize: 64,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing content safe: %w", err)
	}

	chain := session.NewChain(session.NewBadgerStore(db), log, logger)
	journal := txn.NewJournal(db, contentSafe)

	contextLines := opts.ContextLines
	if contextLines <= 0 {
		contextLines = 3
	}

	p := &Parcel{
		Root:         ws.Root,
		Config:       cfg,
		DB:           db,
		Safe:         contentSafe,
		Workspace:    ws,
		Gate:         gate.New(ws, log, cfg, logger),
		Log:          log,
		Sessions:     chain,
		Txn:          txn.NewManager(ws, log, chain, journal, logger),
		Logger:       logger,
		differ:       diff.NewEngine(contextLines),
		contextLines: contextLines,
		scratch:      scratch,
	}

	logger.Debug("parcel opened",
		zap.String("root", p.Root),
		zap.String("state_dir", stateDir),
	)
	return p, nil
}

// Close releases the state database. Later calls are no-ops.
func (p *Parcel) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.Safe.Close()
		err = p.DB.Close()
		if p.scratch != "" {
			os.RemoveAll(p.scratch)
		}
	})
	return err
}

// Recover settles transactions a previous process left unfinished.
func (p *Parcel) Recover(ctx context.Context) (txn.RecoveryReport, error) {
	report, err := p.Txn.Recover(ctx)
	if n := len(report.Restored) + len(report.Committed); n > 0 {
		p.Logger.Info("recovered interrupted transactions",
			zap.Strings("restored", report.Restored),
			zap.Strings("committed", report.Committed),
		)
	}
	return report, err
}

func (p *Parcel) OpenSession(ctx context.Context) (*session.Handle, error) {
	return p.Sessions.Open(ctx)
}

// Session returns the handle for id, resuming it after a restart.
func (p *Parcel) Session(ctx context.Context, id string) (*session.Handle, error) {
	return p.Sessions.Resume(ctx, id)
}

func (p *Parcel) CloseSession(ctx context.Context, id string) error {
	h, err := p.Sessions.Resume(ctx, id)
	if err != nil {
		return err
	}
	return p.Sessions.Close(ctx, h)
}

func (p *Parcel) ListSessions(ctx context.Context) ([]session.Record, error) {
	return p.Sessions.List(ctx)
}

// ReadFile returns a fresh snapshot of path. Its Hash is what EditFile
// expects back as the expected hash.
func (p *Parcel) ReadFile(ctx context.Context, path string) (*workspace.Snapshot, error) {
	abs, rel, inside, err := p.Workspace.Resolve(path)
	if err != nil {
		return nil, errors.InvalidRequest(fmt.Sprintf("invalid path %q: %v", path, err))
	}
	if !inside {
		return nil, errors.Denied(errors.ReasonOutsideTree, path)
	}

	snap, err := p.Workspace.Read(abs)
	if err != nil {
		return nil, errors.InvalidRequest(err.Error())
	}
	if !snap.Exists {
		return nil, errors.NotFound(fmt.Sprintf("%s does not exist", rel), nil)
	}

	if head, err := p.Log.Head(ctx); err == nil {
		snap.Revision = head.ID
	} else if !stderrors.Is(err, history.ErrNoCommits) {
		p.Logger.Warn("reading HEAD", zap.Error(err))
	}
	return snap, nil
}

// WriteFile replaces the whole content of path, creating it when the gate
// allows a new file.
func (p *Parcel) WriteFile(ctx context.Context, h *session.Handle, path, content, description string) (*Result, error) {
	if err := h.Check(); err != nil {
		return nil, err
	}

	d, err := p.Gate.Authorize(ctx, path)
	if err != nil {
		return nil, err
	}
	snap, err := p.Workspace.Read(d.Abs)
	if err != nil {
		return nil, errors.Transaction("capture", d.Rel, err)
	}

	text := edit.ToLF(content)
	enc, le := p.format(snap, d.Abs)
	raw := edit.Encode(text, enc, le)
	if description == "" {
		description = defaultDescription("Update", d, snap)
	}

	return p.commit(ctx, h, d, snap, raw, text, description)
}

// EditFile replaces the located occurrence of e.Old with e.New.
func (p *Parcel) EditFile(ctx context.Context, h *session.Handle, e Edit) (*Result, error) {
	if err := h.Check(); err != nil {
		return nil, err
	}
	if e.Old == e.New {
		return nil, errors.InvalidRequest("old_string and new_string are identical")
	}

	d, err := p.Gate.Authorize(ctx, e.Path)
	if err != nil {
		return nil, err
	}
	snap, err := p.Workspace.Read(d.Abs)
	if err != nil {
		return nil, errors.Transaction("capture", d.Rel, err)
	}
	if !snap.Exists && e.Old != "" {
		return nil, withPath(errors.NotFound(fmt.Sprintf("%s does not exist", d.Rel), nil), d.Rel)
	}
	if !snap.IsText() {
		return nil, withPath(errors.InvalidRequest(fmt.Sprintf("%s is not a UTF-8 text file", d.Rel)), d.Rel)
	}
	if e.ExpectedHash != "" && e.ExpectedHash != snap.Hash {
		return nil, errors.Conflict(d.Rel, e.ExpectedHash, snap.Hash)
	}

	q := match.Query{
		Old:      edit.ToLF(e.Old),
		New:      edit.ToLF(e.New),
		Expected: e.Occurrences,
	}
	found, err := match.Find(snap.Text, q)
	if err != nil {
		p.Logger.Debug("edit target not located", zap.String("path", d.Rel), zap.Error(err))
		return nil, withPath(err, d.Rel)
	}

	text := edit.ApplyAll(snap.Text, found, q.New)
	enc, le := p.format(snap, d.Abs)
	raw := edit.Encode(text, enc, le)
	if e.Description == "" {
		e.Description = defaultDescription("Edit", d, snap)
	}

	res, err := p.commit(ctx, h, d, snap, raw, text, e.Description)
	if err != nil {
		return nil, err
	}

	// Text before the first match is unchanged, so its offset holds in text.
	res.Tier = found[0].Tier
	res.Replacements = len(found)
	res.Snippet = edit.Snippet(text, found[0].Start, len(q.New), p.contextLines)
	return res, nil
}

// RemoveFile deletes a tracked file and records the removal in the
// session's commit.
func (p *Parcel) RemoveFile(ctx context.Context, h *session.Handle, path, description string) (*Result, error) {
	if err := h.Check(); err != nil {
		return nil, err
	}

	d, snap, err := p.existing(ctx, path)
	if err != nil {
		return nil, err
	}
	if description == "" {
		description = "Remove " + d.Rel
	}

	commit, err := p.Txn.Commit(ctx, h, txn.Change{
		Path:         d.Rel,
		Abs:          d.Abs,
		Description:  description,
		ExpectedHash: snap.Hash,
		Remove:       true,
	})
	if err != nil {
		return nil, err
	}

	return &Result{
		Session: h.ID,
		Commit:  commit,
		Path:    d.Rel,
		Removed: true,
		Diff:    p.differ.Diff([]byte(snap.Text), nil),
	}, nil
}

// Chmod adds ("a+x") or removes ("a-x") the executable bits of a tracked
// file. They are the only permission bits the history log records.
func (p *Parcel) Chmod(ctx context.Context, h *session.Handle, path, mode, description string) (*Result, error) {
	var executable bool
	switch mode {
	case "a+x":
		executable = true
	case "a-x":
	default:
		return nil, errors.InvalidRequest(fmt.Sprintf("unsupported mode %q: only a+x and a-x are supported", mode))
	}
	if err := h.Check(); err != nil {
		return nil, err
	}

	d, snap, err := p.existing(ctx, path)
	if err != nil {
		return nil, err
	}

	perm := snap.Mode &^ 0111
	if executable {
		perm |= 0111
	}
	if perm == snap.Mode {
		state := "not executable"
		if executable {
			state = "executable"
		}
		return nil, withPath(errors.InvalidRequest(fmt.Sprintf("%s is already %s", d.Rel, state)), d.Rel)
	}
	if description == "" {
		description = "Remove executable permission from " + d.Rel
		if executable {
			description = "Make " + d.Rel + " executable"
		}
	}

	commit, err := p.Txn.Commit(ctx, h, txn.Change{
		Path:         d.Rel,
		Abs:          d.Abs,
		Content:      snap.Raw,
		Description:  description,
		ExpectedHash: snap.Hash,
		Mode:         perm,
		SetMode:      true,
	})
	if err != nil {
		return nil, err
	}

	return &Result{
		Session: h.ID,
		Commit:  commit,
		Path:    d.Rel,
		Hash:    snap.Hash,
		Diff:    p.differ.Diff(snap.Raw, snap.Raw),
		Mode:    fmt.Sprintf("%04o", uint32(perm)),
	}, nil
}

// existing authorizes path and requires it to be a file on disk.
func (p *Parcel) existing(ctx context.Context, path string) (gate.Decision, *workspace.Snapshot, error) {
	d, err := p.Gate.Authorize(ctx, path)
	if err != nil {
		return gate.Decision{}, nil, err
	}
	missing := withPath(errors.NotFound(fmt.Sprintf("%s does not exist", d.Rel), nil), d.Rel)
	if d.IsNew {
		return gate.Decision{}, nil, missing
	}
	snap, err := p.Workspace.Read(d.Abs)
	if err != nil {
		return gate.Decision{}, nil, errors.Transaction("capture", d.Rel, err)
	}
	if !snap.Exists {
		return gate.Decision{}, nil, missing
	}
	return d, snap, nil
}

func (p *Parcel) commit(ctx context.Context, h *session.Handle, d gate.Decision, snap *workspace.Snapshot, raw []byte, text, description string) (*Result, error) {
	if snap.Exists && string(raw) == string(snap.Raw) {
		return nil, withPath(errors.InvalidRequest(fmt.Sprintf("%s already has this content", d.Rel)), d.Rel)
	}

	commit, err := p.Txn.Commit(ctx, h, txn.Change{
		Path:         d.Rel,
		Abs:          d.Abs,
		Content:      raw,
		Description:  description,
		ExpectedHash: snap.Hash,
		IsNew:        d.IsNew,
		Mode:         0644,
	})
	if err != nil {
		return nil, err
	}

	return &Result{
		Session: h.ID,
		Commit:  commit,
		Path:    d.Rel,
		IsNew:   d.IsNew,
		Hash:    utils.HashContent(raw),
		Diff:    p.differ.Diff([]byte(snap.Text), []byte(text)),
	}, nil
}

// format picks the encoding and newline convention to save with: the
// file's own when it has one, otherwise the tree's preference for new files.
func (p *Parcel) format(snap *workspace.Snapshot, abs string) (string, edit.LineEnding) {
	if snap.Exists && snap.Encoding != "" && strings.Contains(snap.Text, "\n") {
		return snap.Encoding, snap.LineEnding
	}

	enc := edit.UTF8
	if snap.Encoding != "" {
		enc = snap.Encoding
	}
	if le, ok := edit.PreferredLineEnding(p.Root, abs); ok {
		return enc, le
	}
	if le, ok := edit.ParseLineEnding(p.Config.LineEnding); ok {
		return enc, le
	}
	return enc, edit.LF
}

func defaultDescription(verb string, d gate.Decision, snap *workspace.Snapshot) string {
	if !snap.Exists {
		return "Create " + d.Rel
	}
	return verb + " " + d.Rel
}

func withPath(err error, rel string) error {
	if e, ok := errors.As(err); ok && e.Path == "" {
		e.Path = rel
	}
	return err
}
