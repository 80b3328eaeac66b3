package session

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"scribe/internal/storage"
	"scribe/shared/utils"

	"github.com/dgraph-io/badger/v4"
)

var ErrUnknownSession = stderrors.New("unknown session")

// Record is the persisted form of a handle.
type Record struct {
	ID        string    `json:"id"`
	Target    string    `json:"target,omitempty"`
	Commits   []string  `json:"commits,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Closed    bool      `json:"closed,omitempty"`
}

func (r *Record) GetID() string { return r.ID }

type Store interface {
	Save(ctx context.Context, rec *Record) error
	Load(ctx context.Context, id string) (*Record, error)
	List(ctx context.Context) ([]Record, error)
}

// MemoryStore keeps records for the life of the process.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Save(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	cp.Commits = append([]string(nil), rec.Commits...)
	s.records[rec.ID] = cp
	return nil
}

func (s *MemoryStore) Load(ctx context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, ErrUnknownSession
	}
	return &rec, nil
}

func (s *MemoryStore) List(ctx context.Context) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := make([]Record, 0, len(s.records))
	for _, id := range utils.SortedKeys(s.records) {
		recs = append(recs, s.records[id])
	}
	return recs, nil
}

// BadgerStore keeps records across restarts.
type BadgerStore struct {
	store *storage.BadgerStore
}

func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{store: storage.NewBadgerStore(db, "session")}
}

func (s *BadgerStore) Save(ctx context.Context, rec *Record) error {
	return s.store.Put(rec)
}

func (s *BadgerStore) Load(ctx context.Context, id string) (*Record, error) {
	var rec Record
	if err := s.store.Get(id, &rec); err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return nil, ErrUnknownSession
		}
		return nil, err
	}
	return &rec, nil
}

func (s *BadgerStore) List(ctx context.Context) ([]Record, error) {
	var recs []Record
	if err := s.store.List(&recs); err != nil {
		return nil, err
	}
	return recs, nil
}
