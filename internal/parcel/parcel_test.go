package parcel

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"

	"scribe/internal/config"
	"scribe/internal/errors"
	"scribe/internal/history"
	"scribe/internal/normalize"
	"scribe/internal/session"
	"scribe/shared/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	root string
	log  *history.MemoryLog
	p    *Parcel
	h    *session.Handle
}

func setup(t *testing.T) *fixture {
	t.Helper()
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	f := &fixture{root: root, log: history.NewMemoryLog(root)}
	f.p = f.open(t)
	f.h, err = f.p.OpenSession(context.Background())
	require.NoError(t, err)
	return f
}

func (f *fixture) open(t *testing.T) *Parcel {
	t.Helper()
	p, err := New(f.root, Options{Config: config.Default(), Log: f.log, InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func (f *fixture) abs(rel string) string {
	return filepath.Join(f.root, filepath.FromSlash(rel))
}

func (f *fixture) seed(t *testing.T, rel, content string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, os.MkdirAll(filepath.Dir(f.abs(rel)), 0755))
	require.NoError(t, os.WriteFile(f.abs(rel), []byte(content), 0644))
	require.NoError(t, f.log.Stage(ctx, rel))
	_, err := f.log.Commit(ctx, "seed "+rel, rel)
	require.NoError(t, err)
}

func (f *fixture) content(t *testing.T, rel string) string {
	t.Helper()
	data, err := os.ReadFile(f.abs(rel))
	require.NoError(t, err)
	return string(data)
}

func TestEditFileKeepsWhitespaceOutsideMatch(t *testing.T) {
	f := setup(t)
	f.seed(t, "a.txt", "foo \n")

	res, err := f.p.EditFile(context.Background(), f.h, Edit{Path: "a.txt", Old: "foo", New: "bar"})
	require.NoError(t, err)

	assert.Equal(t, "bar \n", f.content(t, "a.txt"))
	assert.Equal(t, normalize.Exact, res.Tier)
	assert.False(t, res.IsNew)
	assert.Equal(t, utils.HashContent([]byte("bar \n")), res.Hash)
}

func TestEditFileTrailingWhitespaceTier(t *testing.T) {
	f := setup(t)
	f.seed(t, "a.txt", "foo  \nbar\n")

	res, err := f.p.EditFile(context.Background(), f.h, Edit{Path: "a.txt", Old: "foo\nbar", New: "baz"})
	require.NoError(t, err)

	assert.Equal(t, normalize.TrailingSpace, res.Tier)
	assert.Equal(t, "baz\n", f.content(t, "a.txt"))
	assert.Equal(t, 1, res.Replacements)
	assert.Contains(t, res.Snippet, "baz")
}

func TestEditFileAmbiguous(t *testing.T) {
	f := setup(t)
	f.seed(t, "a.txt", "x = 1\nx = 1\n")
	before := len(f.log.History())

	_, err := f.p.EditFile(context.Background(), f.h, Edit{Path: "a.txt", Old: "x = 1", New: "x = 2"})
	require.Error(t, err)

	e, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, errors.ErrorTypeAmbiguous, e.Type)
	assert.Equal(t, normalize.Exact.String(), e.Tier)
	assert.Equal(t, 2, e.Count)
	assert.Equal(t, "a.txt", e.Path)

	assert.Equal(t, "x = 1\nx = 1\n", f.content(t, "a.txt"))
	assert.Len(t, f.log.History(), before)
}

func TestEditFileExpectedOccurrences(t *testing.T) {
	f := setup(t)
	f.seed(t, "a.txt", "x = 1\ny = 2\nx = 1\n")

	res, err := f.p.EditFile(context.Background(), f.h, Edit{Path: "a.txt", Old: "x = 1", New: "x = 3", Occurrences: 2})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Replacements)
	assert.Equal(t, "x = 3\ny = 2\nx = 3\n", f.content(t, "a.txt"))
	assert.Equal(t, 2, res.Diff.Stats.Additions)
}

func TestWriteFileNewPath(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	res, err := f.p.WriteFile(ctx, f.h, "new.txt", "hello\n", "add greeting")
	require.NoError(t, err)

	assert.True(t, res.IsNew)
	assert.Equal(t, "hello\n", f.content(t, "new.txt"))
	assert.Len(t, f.log.History(), 1)
	assert.Equal(t, []string{"new.txt"}, res.Commit.Paths)

	tracked, err := f.log.IsTracked(ctx, "new.txt")
	require.NoError(t, err)
	assert.True(t, tracked)
}

func TestWriteFileUntrackedDenied(t *testing.T) {
	f := setup(t)
	require.NoError(t, os.WriteFile(f.abs("build.out"), []byte("artifact"), 0644))

	_, err := f.p.WriteFile(context.Background(), f.h, "build.out", "overwritten", "")
	require.Error(t, err)

	e, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, errors.ErrorTypeDenied, e.Type)
	assert.Equal(t, errors.ReasonUntracked, e.Reason)
	assert.Equal(t, "artifact", f.content(t, "build.out"))
	assert.Empty(t, f.log.History())
}

func TestWriteFileOutsideTreeDenied(t *testing.T) {
	f := setup(t)
	outside := filepath.Join(filepath.Dir(f.root), "escape.txt")

	for _, path := range []string{"../escape.txt", outside} {
		_, err := f.p.WriteFile(context.Background(), f.h, path, "x", "")
		require.Error(t, err)
		e, ok := errors.As(err)
		require.True(t, ok)
		assert.Equal(t, errors.ReasonOutsideTree, e.Reason, path)
	}
	assert.NoFileExists(t, outside)
}

func TestSessionEditsCollapseIntoOneCommit(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seed(t, "a.txt", "one\ntwo\n")

	first, err := f.p.EditFile(ctx, f.h, Edit{Path: "a.txt", Old: "one", New: "uno", Description: "first"})
	require.NoError(t, err)
	second, err := f.p.EditFile(ctx, f.h, Edit{Path: "a.txt", Old: "two", New: "dos", Description: "second"})
	require.NoError(t, err)

	commits := f.log.History()
	require.Len(t, commits, 2)
	assert.Equal(t, second.Commit.ID, commits[0].ID)
	assert.NotEqual(t, first.Commit.ID, second.Commit.ID)
	assert.Contains(t, commits[0].Message, "second")
	assert.Equal(t, []string{second.Commit.ID}, f.h.Commits())

	blob, err := f.log.ReadBlob(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "uno\ndos\n", string(blob))
}

func TestEditFileStaleHashConflict(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seed(t, "a.txt", "value = 1\n")

	snap, err := f.p.ReadFile(ctx, "a.txt")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(f.abs("a.txt"), []byte("value = 1\n# external\n"), 0644))

	_, err = f.p.EditFile(ctx, f.h, Edit{
		Path:         "a.txt",
		Old:          "value = 1",
		New:          "value = 2",
		ExpectedHash: snap.Hash,
	})
	assert.True(t, errors.Is(err, errors.ErrorTypeConflict))
	assert.Equal(t, "value = 1\n# external\n", f.content(t, "a.txt"))
}

func TestEditFileRollsBackOnCommitFailure(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seed(t, "a.txt", "keep me\n")
	f.log.Fail(history.OpCommit, stderrors.New("index locked"))

	_, err := f.p.EditFile(ctx, f.h, Edit{Path: "a.txt", Old: "keep", New: "lose"})
	assert.True(t, errors.Is(err, errors.ErrorTypeTransaction))
	assert.Equal(t, "keep me\n", f.content(t, "a.txt"))
	assert.Len(t, f.log.History(), 1)
	assert.Empty(t, f.h.Commits())
}

func TestEditFilePreservesLineEndingsAndBOM(t *testing.T) {
	f := setup(t)
	f.seed(t, "win.txt", "\xEF\xBB\xBFa\r\nb\r\n")

	_, err := f.p.EditFile(context.Background(), f.h, Edit{Path: "win.txt", Old: "a\r\nb", New: "x\ny"})
	require.NoError(t, err)
	assert.Equal(t, "\xEF\xBB\xBFx\r\ny\r\n", f.content(t, "win.txt"))
}

func TestWriteFileNewFileUsesEditorconfig(t *testing.T) {
	f := setup(t)
	require.NoError(t, os.WriteFile(f.abs(".editorconfig"), []byte("root = true\n\n[*.txt]\nend_of_line = crlf\n"), 0644))

	_, err := f.p.WriteFile(context.Background(), f.h, "dos.txt", "a\nb\n", "")
	require.NoError(t, err)
	assert.Equal(t, "a\r\nb\r\n", f.content(t, "dos.txt"))
}

func TestEditFileRejectsInvalidRequests(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seed(t, "a.txt", "text\n")
	f.seed(t, "blob.bin", "\xff\xfe\x00\x01")
	f.seed(t, "src/main.go", "package main\n")

	tests := []struct {
		name string
		edit Edit
	}{
		{name: "identical strings", edit: Edit{Path: "a.txt", Old: "text", New: "text"}},
		{name: "empty search string", edit: Edit{Path: "a.txt", Old: "", New: "more"}},
		{name: "binary file", edit: Edit{Path: "blob.bin", Old: "x", New: "y"}},
		{name: "directory", edit: Edit{Path: "src", Old: "x", New: "y"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.p.EditFile(ctx, f.h, tt.edit)
			assert.True(t, errors.Is(err, errors.ErrorTypeInvalidRequest), "got %v", err)
		})
	}
	assert.Equal(t, "text\n", f.content(t, "a.txt"))

	t.Run("tree root", func(t *testing.T) {
		_, err := f.p.EditFile(ctx, f.h, Edit{Path: ".", Old: "x", New: "y"})
		e, ok := errors.As(err)
		require.True(t, ok)
		assert.Equal(t, errors.ErrorTypeDenied, e.Type)
		assert.Equal(t, errors.ReasonProtected, e.Reason)
	})
}

func TestEditFileMissingFile(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.p.EditFile(ctx, f.h, Edit{Path: "missing.txt", Old: "x", New: "y"})
	assert.True(t, errors.Is(err, errors.ErrorTypeNotFound))

	res, err := f.p.EditFile(ctx, f.h, Edit{Path: "missing.txt", Old: "", New: "created\n"})
	require.NoError(t, err)
	assert.True(t, res.IsNew)
	assert.Equal(t, "created\n", f.content(t, "missing.txt"))
}

func TestWriteFileUnchangedContent(t *testing.T) {
	f := setup(t)
	f.seed(t, "a.txt", "same\n")

	_, err := f.p.WriteFile(context.Background(), f.h, "a.txt", "same\n", "")
	assert.True(t, errors.Is(err, errors.ErrorTypeInvalidRequest))
	assert.Len(t, f.log.History(), 1)
}

func TestClosedSessionRejected(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seed(t, "a.txt", "a\n")

	require.NoError(t, f.p.CloseSession(ctx, f.h.ID))

	_, err := f.p.EditFile(ctx, f.h, Edit{Path: "a.txt", Old: "a", New: "b"})
	assert.True(t, errors.Is(err, errors.ErrorTypeInvalidRequest))

	_, err = f.p.Session(ctx, f.h.ID)
	assert.True(t, errors.Is(err, errors.ErrorTypeInvalidRequest))
}

func TestSessionResumesFromHistoryAfterRestart(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seed(t, "a.txt", "one\ntwo\n")

	_, err := f.p.EditFile(ctx, f.h, Edit{Path: "a.txt", Old: "one", New: "uno"})
	require.NoError(t, err)
	require.NoError(t, f.p.Close())

	// A fresh in-memory state database knows nothing of the session.
	p := f.open(t)
	h, err := p.Session(ctx, f.h.ID)
	require.NoError(t, err)

	res, err := p.EditFile(ctx, h, Edit{Path: "a.txt", Old: "two", New: "dos"})
	require.NoError(t, err)

	commits := f.log.History()
	assert.Len(t, commits, 2)
	assert.Equal(t, res.Commit.ID, commits[0].ID)
}

func TestReadFile(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seed(t, "a.txt", "line\r\n")

	snap, err := f.p.ReadFile(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "line\n", snap.Text)
	assert.Equal(t, utils.HashContent([]byte("line\r\n")), snap.Hash)
	assert.Equal(t, f.log.History()[0].ID, snap.Revision)

	_, err = f.p.ReadFile(ctx, "nope.txt")
	assert.True(t, errors.Is(err, errors.ErrorTypeNotFound))

	_, err = f.p.ReadFile(ctx, "../outside.txt")
	assert.True(t, errors.Is(err, errors.ErrorTypeDenied))
}

func TestRemoveFile(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seed(t, "a.txt", "one\n")
	f.seed(t, "old.txt", "obsolete\n")

	first, err := f.p.EditFile(ctx, f.h, Edit{Path: "a.txt", Old: "one", New: "two"})
	require.NoError(t, err)
	res, err := f.p.RemoveFile(ctx, f.h, "old.txt", "")
	require.NoError(t, err)

	assert.True(t, res.Removed)
	assert.Equal(t, first.Commit.Parent, res.Commit.Parent, "removal amends the session commit")
	assert.Contains(t, res.Commit.Message, "Remove old.txt")
	assert.Equal(t, 1, res.Diff.Stats.Deletions)
	_, statErr := os.Stat(f.abs("old.txt"))
	assert.True(t, os.IsNotExist(statErr))

	tracked, err := f.log.IsTracked(ctx, "old.txt")
	require.NoError(t, err)
	assert.False(t, tracked)

	t.Run("missing", func(t *testing.T) {
		_, err := f.p.RemoveFile(ctx, f.h, "old.txt", "")
		assert.True(t, errors.Is(err, errors.ErrorTypeNotFound), "got %v", err)
	})

	t.Run("untracked", func(t *testing.T) {
		require.NoError(t, os.WriteFile(f.abs("scratch.txt"), []byte("x"), 0644))
		_, err := f.p.RemoveFile(ctx, f.h, "scratch.txt", "")
		e, ok := errors.As(err)
		require.True(t, ok)
		assert.Equal(t, errors.ReasonUntracked, e.Reason)
		assert.Equal(t, "x", f.content(t, "scratch.txt"))
	})
}

func TestRemoveFileRollsBackOnFailure(t *testing.T) {
	for _, op := range []history.Op{history.OpStage, history.OpCommit} {
		t.Run(string(op), func(t *testing.T) {
			f := setup(t)
			ctx := context.Background()
			f.seed(t, "a.txt", "keep me\n")
			f.log.Fail(op, stderrors.New("index locked"))

			_, err := f.p.RemoveFile(ctx, f.h, "a.txt", "cleanup")
			assert.True(t, errors.Is(err, errors.ErrorTypeTransaction))
			assert.Equal(t, "keep me\n", f.content(t, "a.txt"))
			assert.Len(t, f.log.History(), 1)
			assert.Empty(t, f.h.Commits())

			f.log.Clear(op)
			tracked, err := f.log.IsTracked(ctx, "a.txt")
			require.NoError(t, err)
			assert.True(t, tracked)
		})
	}
}

func TestChmod(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seed(t, "run.sh", "#!/bin/sh\n")

	res, err := f.p.Chmod(ctx, f.h, "run.sh", "a+x", "")
	require.NoError(t, err)
	assert.Equal(t, "0755", res.Mode)
	assert.Contains(t, res.Commit.Message, "Make run.sh executable")
	assert.True(t, f.log.Executable("run.sh"))

	info, err := os.Stat(f.abs("run.sh"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0755), info.Mode().Perm())
	assert.Equal(t, "#!/bin/sh\n", f.content(t, "run.sh"))

	t.Run("already executable", func(t *testing.T) {
		_, err := f.p.Chmod(ctx, f.h, "run.sh", "a+x", "")
		assert.True(t, errors.Is(err, errors.ErrorTypeInvalidRequest))
	})

	t.Run("unsupported mode", func(t *testing.T) {
		_, err := f.p.Chmod(ctx, f.h, "run.sh", "755", "")
		assert.True(t, errors.Is(err, errors.ErrorTypeInvalidRequest))
	})

	t.Run("failed amend keeps the mode", func(t *testing.T) {
		f.log.Fail(history.OpAmend, stderrors.New("amend failed"))
		defer f.log.Clear(history.OpAmend)

		_, err := f.p.Chmod(ctx, f.h, "run.sh", "a-x", "")
		assert.True(t, errors.Is(err, errors.ErrorTypeTransaction))

		info, err := os.Stat(f.abs("run.sh"))
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0755), info.Mode().Perm())
		assert.True(t, f.log.Executable("run.sh"))
	})

	res, err = f.p.Chmod(ctx, f.h, "run.sh", "a-x", "")
	require.NoError(t, err)
	assert.Equal(t, "0644", res.Mode)
	assert.False(t, f.log.Executable("run.sh"))
	assert.Len(t, f.h.Commits(), 1)
}
