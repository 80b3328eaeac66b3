package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"scribe/internal/errors"
	"scribe/internal/history"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openDB(t *testing.T) *badger.DB {
	t.Helper()
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func commitFile(t *testing.T, log *history.MemoryLog, root, rel, content, message string) history.Commit {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, os.WriteFile(filepath.Join(root, rel), []byte(content), 0644))
	require.NoError(t, log.Stage(ctx, rel))
	c, err := log.Commit(ctx, message, rel)
	require.NoError(t, err)
	return c
}

func TestOpenAdvanceClose(t *testing.T) {
	ctx := context.Background()
	chain := NewChain(NewMemoryStore(), history.NewMemoryLog(t.TempDir()), nil)

	h, err := chain.Open(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, h.ID)
	assert.Empty(t, h.Target())
	require.NoError(t, h.Check())

	require.NoError(t, chain.Advance(ctx, h, history.Commit{ID: "c1"}, false))
	assert.Equal(t, "c1", h.Target())

	require.NoError(t, chain.Advance(ctx, h, history.Commit{ID: "c1b"}, true))
	assert.Equal(t, []string{"c1b"}, h.Commits())

	require.NoError(t, chain.Advance(ctx, h, history.Commit{ID: "c2"}, false))
	assert.Equal(t, []string{"c1b", "c2"}, h.Commits())

	require.NoError(t, chain.Close(ctx, h))
	assert.True(t, h.Closed())
	assert.True(t, errors.Is(h.Check(), errors.ErrorTypeInvalidRequest))
	assert.True(t, errors.Is(chain.Close(ctx, h), errors.ErrorTypeInvalidRequest))

	_, err = chain.Resume(ctx, h.ID)
	assert.True(t, errors.Is(err, errors.ErrorTypeInvalidRequest))
}

func TestNilHandle(t *testing.T) {
	var h *Handle
	assert.True(t, errors.Is(h.Check(), errors.ErrorTypeInvalidRequest))
}

func TestResume(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	log := history.NewMemoryLog(root)
	store := NewBadgerStore(openDB(t))

	chain := NewChain(store, log, nil)
	h, err := chain.Open(ctx)
	require.NoError(t, err)

	t.Run("same process", func(t *testing.T) {
		again, err := chain.Resume(ctx, h.ID)
		require.NoError(t, err)
		assert.Same(t, h, again)
	})

	t.Run("after restart from store", func(t *testing.T) {
		require.NoError(t, chain.Advance(ctx, h, history.Commit{ID: "abc"}, false))

		restarted := NewChain(store, log, nil)
		got, err := restarted.Resume(ctx, h.ID)
		require.NoError(t, err)
		assert.Equal(t, "abc", got.Target())
		assert.Equal(t, h.CreatedAt.Unix(), got.CreatedAt.Unix())
	})

	t.Run("after restart from history log", func(t *testing.T) {
		c := commitFile(t, log, root, "a.txt", "a", history.Compose("Edit a", "lost-session-1"))

		restarted := NewChain(NewMemoryStore(), log, nil)
		got, err := restarted.Resume(ctx, "lost-session-1")
		require.NoError(t, err)
		assert.Equal(t, c.ID, got.Target())
		assert.Equal(t, []string{c.ID}, got.Commits())
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := NewChain(NewMemoryStore(), log, nil).Resume(ctx, "nobody")
		assert.True(t, errors.Is(err, errors.ErrorTypeInvalidRequest))
	})

	t.Run("malformed id", func(t *testing.T) {
		_, err := chain.Resume(ctx, "../../etc")
		assert.True(t, errors.Is(err, errors.ErrorTypeInvalidRequest))
	})
}

func TestList(t *testing.T) {
	ctx := context.Background()
	for name, store := range map[string]Store{
		"memory": NewMemoryStore(),
		"badger": NewBadgerStore(openDB(t)),
	} {
		t.Run(name, func(t *testing.T) {
			chain := NewChain(store, history.NewMemoryLog(t.TempDir()), nil)
			a, err := chain.Open(ctx)
			require.NoError(t, err)
			_, err = chain.Open(ctx)
			require.NoError(t, err)
			require.NoError(t, chain.Close(ctx, a))

			recs, err := chain.List(ctx)
			require.NoError(t, err)
			require.Len(t, recs, 2)

			closed := 0
			for _, r := range recs {
				if r.Closed {
					closed++
					assert.Equal(t, a.ID, r.ID)
				}
			}
			assert.Equal(t, 1, closed)
		})
	}
}
