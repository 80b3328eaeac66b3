// internal/workspace/local.go
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"scribe/internal/edit"
	"scribe/shared/utils"

	"go.uber.org/zap"
)

// Snapshot is the state of one file, read fresh from disk. It is never cached
// across operations.
type Snapshot struct {
	Path       string          `json:"path"`
	Rel        string          `json:"rel"`
	Exists     bool            `json:"exists"`
	Raw        []byte          `json:"-"`
	Text       string          `json:"text"`
	Encoding   string          `json:"encoding,omitempty"`
	LineEnding edit.LineEnding `json:"line_ending,omitempty"`
	Hash       string          `json:"hash"`
	Mode       fs.FileMode     `json:"mode"`
	// Revision is the history-log revision the snapshot was read against.
	Revision string `json:"revision,omitempty"`
}

// LocalWorkspace is the working tree on the local filesystem.
type LocalWorkspace struct {
	Root      string
	Logger    *zap.Logger
	protected []string
}

// NewLocalWorkspace resolves root through any symlinks. Paths in protected are
// relative to root and may never be written.
func NewLocalWorkspace(root string, logger *zap.Logger, protected ...string) (*LocalWorkspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace root: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ws := &LocalWorkspace{Root: resolved, Logger: logger}
	for _, p := range append([]string{".git"}, protected...) {
		if filepath.IsAbs(p) {
			rel, err := filepath.Rel(resolved, p)
			if err != nil || strings.HasPrefix(rel, "..") {
				continue
			}
			p = rel
		}
		ws.protected = append(ws.protected, filepath.ToSlash(filepath.Clean(p)))
	}
	return ws, nil
}

// FindRoot searches upward from startDir for the directory holding ".git".
func FindRoot(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", errors.New("workspace root not found: no .git directory above " + startDir)
}

// Resolve turns path, absolute or relative to the root, into a cleaned
// absolute path with symlinks of its deepest existing ancestor resolved.
// rel is slash-separated and only meaningful when inside is true.
func (w *LocalWorkspace) Resolve(path string) (abs, rel string, inside bool, err error) {
	if path == "" {
		return "", "", false, errors.New("empty path")
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(w.Root, path)
	}
	path = filepath.Clean(path)

	abs, err = resolveExisting(path)
	if err != nil {
		return "", "", false, err
	}

	r, err := filepath.Rel(w.Root, abs)
	if err != nil {
		return abs, "", false, nil
	}
	if r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return abs, "", false, nil
	}
	return abs, filepath.ToSlash(r), true, nil
}

// resolveExisting evaluates symlinks on the longest existing prefix of path
// and re-appends the missing tail.
func resolveExisting(path string) (string, error) {
	var tail []string
	cur := path
	for {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			parts := append([]string{resolved}, tail...)
			return filepath.Join(parts...), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return path, nil
		}
		tail = append([]string{filepath.Base(cur)}, tail...)
		cur = parent
	}
}

// IsProtected reports whether rel lies inside the history log's own
// directory or another protected location.
func (w *LocalWorkspace) IsProtected(rel string) bool {
	if rel == "." || rel == "" {
		return true
	}
	for _, p := range w.protected {
		if rel == p || strings.HasPrefix(rel, p+"/") {
			return true
		}
	}
	for _, part := range strings.Split(rel, "/") {
		if part == ".git" {
			return true
		}
	}
	return false
}

// Read returns a fresh snapshot of abs. A missing file is not an error.
func (w *LocalWorkspace) Read(abs string) (*Snapshot, error) {
	snap := &Snapshot{Path: abs}
	if rel, err := filepath.Rel(w.Root, abs); err == nil {
		snap.Rel = filepath.ToSlash(rel)
	}

	info, err := os.Stat(abs)
	if errors.Is(err, fs.ErrNotExist) {
		snap.Hash = utils.HashContent(nil)
		return snap, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", abs, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", abs)
	}

	raw, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", abs, err)
	}

	snap.Exists = true
	snap.Raw = raw
	snap.Hash = utils.HashContent(raw)
	snap.Mode = info.Mode().Perm()

	decoded, err := edit.Decode(raw)
	if err != nil {
		// Binary content still has a hash and can be restored, just not edited.
		return snap, nil
	}
	snap.Text = decoded.Text
	snap.Encoding = decoded.Encoding
	snap.LineEnding = decoded.LineEnding
	return snap, nil
}

// IsText reports whether the snapshot decoded as text.
func (s *Snapshot) IsText() bool {
	return !s.Exists || s.Encoding != ""
}

// WriteFile replaces abs atomically: the data goes to a temporary file in the
// same directory which is then renamed over the target. Missing parents are
// created and returned, deepest last, so a rollback can remove them.
func (w *LocalWorkspace) WriteFile(abs string, data []byte, mode fs.FileMode) (created []string, err error) {
	if mode == 0 {
		mode = 0644
	}

	created, err = mkdirAll(filepath.Dir(abs))
	if err != nil {
		return nil, fmt.Errorf("creating parent directories: %w", err)
	}
	defer func() {
		if err != nil {
			removeDirs(created)
			created = nil
		}
	}()

	tmp, err := os.CreateTemp(filepath.Dir(abs), "."+filepath.Base(abs)+".scribe-*")
	if err != nil {
		return nil, err
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return nil, err
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return nil, err
	}
	if err = tmp.Close(); err != nil {
		return nil, err
	}
	if err = os.Chmod(tmpName, mode); err != nil {
		return nil, err
	}
	if err = os.Rename(tmpName, abs); err != nil {
		return nil, err
	}

	w.Logger.Debug("wrote file", zap.String("path", abs), zap.Int("bytes", len(data)))
	return created, nil
}

// Remove deletes abs and then any of dirs that are left empty.
func (w *LocalWorkspace) Remove(abs string, dirs []string) error {
	if err := os.Remove(abs); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	removeDirs(dirs)
	return nil
}

// mkdirAll is os.MkdirAll that reports which directories it created.
func mkdirAll(dir string) ([]string, error) {
	var missing []string
	for cur := dir; ; cur = filepath.Dir(cur) {
		info, err := os.Stat(cur)
		if err == nil {
			if !info.IsDir() {
				return nil, fmt.Errorf("%s is not a directory", cur)
			}
			break
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		missing = append(missing, cur)
		if filepath.Dir(cur) == cur {
			break
		}
	}

	var created []string
	for i := len(missing) - 1; i >= 0; i-- {
		if err := os.Mkdir(missing[i], 0755); err != nil && !errors.Is(err, fs.ErrExist) {
			removeDirs(created)
			return nil, err
		}
		created = append(created, missing[i])
	}
	return created, nil
}

// removeDirs removes dirs deepest first, stopping at the first non-empty one.
func removeDirs(dirs []string) {
	for i := len(dirs) - 1; i >= 0; i-- {
		if err := os.Remove(dirs[i]); err != nil {
			return
		}
	}
}
