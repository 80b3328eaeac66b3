package txn

import (
	"fmt"
	"io/fs"
	"time"

	"scribe/internal/safe"
	"scribe/internal/storage"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// Entry describes a transaction that has started touching disk. It exists
// only between the pre-image capture and the final commit or rollback, so a
// leftover entry means the process died mid-transaction.
type Entry struct {
	ID      string `json:"id"`
	Path    string `json:"path"`
	Abs     string `json:"abs"`
	Session string `json:"session"`
	// Existed is false when the transaction creates the file.
	Existed  bool        `json:"existed"`
	Removed  bool        `json:"removed,omitempty"`
	PreImage string      `json:"pre_image,omitempty"`
	// Mode is what the transaction writes with, PreMode what the file had.
	Mode    fs.FileMode `json:"mode"`
	PreMode fs.FileMode `json:"pre_mode,omitempty"`
	// NewHash is the hash of the content being written and BaseHead the
	// history-log HEAD before the transaction; together they tell whether
	// the commit landed.
	NewHash     string    `json:"new_hash"`
	BaseHead    string    `json:"base_head,omitempty"`
	CreatedDirs []string  `json:"created_dirs,omitempty"`
	StartedAt   time.Time `json:"started_at"`
}

func (e *Entry) GetID() string { return e.ID }

// Journal persists entries in badger and pre-images in the safe.
type Journal struct {
	entries *storage.BadgerStore
	blobs   *safe.Safe
}

func NewJournal(db *badger.DB, blobs *safe.Safe) *Journal {
	return &Journal{
		entries: storage.NewBadgerStore(db, "journal"),
		blobs:   blobs,
	}
}

// Begin records e, storing raw as its pre-image when the file existed.
func (j *Journal) Begin(e *Entry, raw []byte) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.StartedAt.IsZero() {
		e.StartedAt = time.Now()
	}
	if e.Existed {
		hash, err := j.blobs.Store(e.Path, raw)
		if err != nil {
			return fmt.Errorf("storing pre-image: %w", err)
		}
		e.PreImage = hash
	}
	if err := j.entries.Create(e); err != nil {
		if e.PreImage != "" {
			j.blobs.Release(e.PreImage)
		}
		return fmt.Errorf("writing journal entry: %w", err)
	}
	return nil
}

func (j *Journal) Update(e *Entry) error {
	return j.entries.Update(e)
}

// PreImage returns the bytes captured for e.
func (j *Journal) PreImage(e *Entry) ([]byte, error) {
	if !e.Existed {
		return nil, nil
	}
	return j.blobs.Get(e.PreImage)
}

// Finish forgets e and its pre-image.
func (j *Journal) Finish(e *Entry) error {
	if err := j.entries.Delete(e.ID); err != nil {
		return err
	}
	if e.PreImage != "" {
		return j.blobs.Release(e.PreImage)
	}
	return nil
}

// Pending returns the entries left behind by interrupted transactions.
func (j *Journal) Pending() ([]*Entry, error) {
	var entries []*Entry
	if err := j.entries.List(&entries); err != nil {
		return nil, err
	}
	return entries, nil
}
