package parcel

import (
	"fmt"
	"os"

	"scribe/internal/config"
	"scribe/internal/history"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// Options configures New. The zero value loads configuration from the root,
// opens the state database on disk and drives the git binary.
type Options struct {
	// Config overrides config.ForRoot.
	Config *config.Config
	// Log overrides the git-backed history log.
	Log history.Log
	// InMemory keeps the state database in memory. Nothing survives a
	// restart, so Recover has nothing to do.
	InMemory bool
	// ContextLines is the diff and snippet context; 0 means 3.
	ContextLines int
	Logger       *zap.Logger
}

// getDBOptions returns BadgerDB options for the state database.
func getDBOptions(path string, inMemory bool) badger.Options {
	if inMemory {
		return badger.DefaultOptions("").
			WithInMemory(true).
			WithNumVersionsToKeep(1).
			WithLogger(nil)
	}

	return badger.DefaultOptions(path).
		WithNumVersionsToKeep(1).
		WithLoggingLevel(badger.WARNING)
}

// InitDB opens the state database under path.
func InitDB(path string, inMemory bool) (*badger.DB, error) {
	if !inMemory {
		if err := os.MkdirAll(path, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := badger.Open(getDBOptions(path, inMemory))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	return db, nil
}
