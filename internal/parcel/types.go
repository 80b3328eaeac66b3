package parcel

import (
	"sync"

	"scribe/internal/config"
	"scribe/internal/diff"
	"scribe/internal/gate"
	"scribe/internal/history"
	"scribe/internal/normalize"
	"scribe/internal/safe"
	"scribe/internal/session"
	"scribe/internal/txn"
	"scribe/internal/workspace"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// Parcel is one working tree opened for transactional editing.
type Parcel struct {
	Root      string
	Config    *config.Config
	DB        *badger.DB
	Safe      *safe.Safe
	Workspace *workspace.LocalWorkspace
	Gate      *gate.Gate
	Log       history.Log
	Sessions  *session.Chain
	Txn       *txn.Manager
	Logger    *zap.Logger

	differ       *diff.Engine
	contextLines int

	// scratch is the throwaway state directory of an in-memory parcel.
	scratch   string
	closeOnce sync.Once
}

// Edit is a targeted replacement inside one file.
type Edit struct {
	Path string `json:"path"`
	Old  string `json:"old_string"`
	New  string `json:"new_string"`
	// Occurrences is how many matches the caller expects; 0 means 1.
	Occurrences int    `json:"expected_replacements,omitempty"`
	Description string `json:"description"`
	// ExpectedHash is the hash returned by the read the edit is based on.
	ExpectedHash string `json:"expected_hash,omitempty"`
}

// Result describes an accepted change.
type Result struct {
	Session string         `json:"session"`
	Commit  history.Commit `json:"commit"`
	Path    string         `json:"path"`
	IsNew   bool           `json:"is_new"`
	// Tier is the matching tier an edit was located at.
	Tier         normalize.Tier   `json:"tier,omitempty"`
	Replacements int              `json:"replacements,omitempty"`
	Hash         string           `json:"hash"`
	Diff         *diff.DiffResult `json:"diff"`
	Snippet      string           `json:"snippet,omitempty"`
	Removed      bool             `json:"removed,omitempty"`
	// Mode is the permission bits after a mode change, in octal.
	Mode string `json:"mode,omitempty"`
}
