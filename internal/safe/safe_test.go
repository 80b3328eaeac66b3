package safe

import (
	"bytes"
	"strings"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupSafe(t *testing.T) *Safe {
	t.Helper()

	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s, err := New(db, Options{Root: t.TempDir(), CacheSize: 4})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestStoreAndGet(t *testing.T) {
	s := setupSafe(t)

	hash, err := s.Store("main.go", []byte("package main\n"))
	require.NoError(t, err)

	got, err := s.Get(hash)
	require.NoError(t, err)
	assert.Equal(t, "package main\n", string(got))

	exists, err := s.Exists(hash)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestStoreEmpty(t *testing.T) {
	s := setupSafe(t)

	hash, err := s.Store("empty.txt", nil)
	require.NoError(t, err)

	got, err := s.Get(hash)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCompressedRoundTrip(t *testing.T) {
	s := setupSafe(t)
	content := []byte(strings.Repeat("func handler() error { return nil }\n", 200))

	hash, err := s.Store("big.go", content)
	require.NoError(t, err)

	meta, err := s.getMeta(hash)
	require.NoError(t, err)
	assert.True(t, meta.Compressed)

	s.cache.Purge()
	got, err := s.Get(hash)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(content, got))
}

func TestSkipExtensionNotCompressed(t *testing.T) {
	s := setupSafe(t)
	content := []byte(strings.Repeat("x", 4096))

	hash, err := s.Store("archive.zip", content)
	require.NoError(t, err)

	meta, err := s.getMeta(hash)
	require.NoError(t, err)
	assert.False(t, meta.Compressed)
}

func TestReleaseRefCounts(t *testing.T) {
	s := setupSafe(t)

	h1, err := s.Store("a.txt", []byte("same"))
	require.NoError(t, err)
	h2, err := s.Store("b.txt", []byte("same"))
	require.NoError(t, err)
	require.Equal(t, h1, h2)

	require.NoError(t, s.Release(h1))
	exists, err := s.Exists(h1)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, s.Release(h1))
	exists, err = s.Exists(h1)
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = s.Get(h1)
	assert.ErrorIs(t, err, ErrContentNotFound)
}

func TestInvalidHash(t *testing.T) {
	s := setupSafe(t)

	_, err := s.Get("nope")
	assert.ErrorIs(t, err, ErrInvalidHash)
	assert.ErrorIs(t, s.Release("nope"), ErrInvalidHash)
}
