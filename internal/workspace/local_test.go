package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"scribe/internal/edit"
	"scribe/shared/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupWorkspace(t *testing.T) *LocalWorkspace {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0755))

	ws, err := NewLocalWorkspace(root, nil, filepath.Join(".git", "scribe"))
	require.NoError(t, err)
	return ws
}

func TestFindRoot(t *testing.T) {
	ws := setupWorkspace(t)
	nested := filepath.Join(ws.Root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0755))

	root, err := FindRoot(nested)
	require.NoError(t, err)
	assert.Equal(t, ws.Root, root)
}

func TestResolve(t *testing.T) {
	ws := setupWorkspace(t)
	outside := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(ws.Root, "escape")))

	tests := []struct {
		name       string
		path       string
		wantInside bool
		wantRel    string
	}{
		{"relative", "src/main.go", true, "src/main.go"},
		{"absolute", filepath.Join(ws.Root, "README.md"), true, "README.md"},
		{"dot dot", "../elsewhere.txt", false, ""},
		{"sneaky dot dot", "src/../../elsewhere.txt", false, ""},
		{"absolute outside", filepath.Join(outside, "x.txt"), false, ""},
		{"symlink out", "escape/new.txt", false, ""},
		{"root itself", ".", true, "."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, rel, inside, err := ws.Resolve(tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.wantInside, inside)
			if tt.wantInside {
				assert.Equal(t, tt.wantRel, rel)
			}
		})
	}
}

func TestIsProtected(t *testing.T) {
	ws := setupWorkspace(t)

	assert.True(t, ws.IsProtected(".git/config"))
	assert.True(t, ws.IsProtected(".git"))
	assert.True(t, ws.IsProtected("sub/.git/HEAD"))
	assert.True(t, ws.IsProtected("."))
	assert.False(t, ws.IsProtected(".gitignore"))
	assert.False(t, ws.IsProtected("src/main.go"))
}

func TestRead(t *testing.T) {
	ws := setupWorkspace(t)
	abs := filepath.Join(ws.Root, "win.txt")
	raw := []byte("\xEF\xBB\xBFone\r\ntwo\r\n")
	require.NoError(t, os.WriteFile(abs, raw, 0640))

	snap, err := ws.Read(abs)
	require.NoError(t, err)
	assert.True(t, snap.Exists)
	assert.Equal(t, "win.txt", snap.Rel)
	assert.Equal(t, "one\ntwo\n", snap.Text)
	assert.Equal(t, edit.CRLF, snap.LineEnding)
	assert.Equal(t, edit.UTF8BOM, snap.Encoding)
	assert.Equal(t, utils.HashContent(raw), snap.Hash)
	assert.Equal(t, os.FileMode(0640), snap.Mode)
	assert.True(t, snap.IsText())

	t.Run("missing", func(t *testing.T) {
		snap, err := ws.Read(filepath.Join(ws.Root, "nope.txt"))
		require.NoError(t, err)
		assert.False(t, snap.Exists)
		assert.Equal(t, utils.HashContent(nil), snap.Hash)
	})

	t.Run("binary", func(t *testing.T) {
		bin := filepath.Join(ws.Root, "blob.bin")
		require.NoError(t, os.WriteFile(bin, []byte{0xff, 0x00, 0xfe}, 0644))
		snap, err := ws.Read(bin)
		require.NoError(t, err)
		assert.True(t, snap.Exists)
		assert.False(t, snap.IsText())
	})
}

func TestWriteFileAndRemove(t *testing.T) {
	ws := setupWorkspace(t)
	abs := filepath.Join(ws.Root, "a", "b", "new.txt")

	created, err := ws.WriteFile(abs, []byte("hello\n"), 0600)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(ws.Root, "a"), filepath.Join(ws.Root, "a", "b")}, created)

	data, err := os.ReadFile(abs)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))

	info, err := os.Stat(abs)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	entries, err := os.ReadDir(filepath.Dir(abs))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file left behind")

	require.NoError(t, ws.Remove(abs, created))
	_, err = os.Stat(filepath.Join(ws.Root, "a"))
	assert.True(t, os.IsNotExist(err))
}

func TestWriteFileOverwrites(t *testing.T) {
	ws := setupWorkspace(t)
	abs := filepath.Join(ws.Root, "f.txt")
	require.NoError(t, os.WriteFile(abs, []byte("old"), 0644))

	created, err := ws.WriteFile(abs, []byte("new"), 0644)
	require.NoError(t, err)
	assert.Empty(t, created)

	data, err := os.ReadFile(abs)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestRemoveKeepsNonEmptyDirs(t *testing.T) {
	ws := setupWorkspace(t)
	dir := filepath.Join(ws.Root, "shared")
	abs := filepath.Join(dir, "new.txt")

	created, err := ws.WriteFile(abs, []byte("x"), 0644)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("y"), 0644))

	require.NoError(t, ws.Remove(abs, created))
	_, err = os.Stat(filepath.Join(dir, "other.txt"))
	assert.NoError(t, err)
}
