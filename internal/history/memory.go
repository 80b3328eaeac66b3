package history

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"scribe/shared/utils"
)

// Op names a MemoryLog operation for failure injection.
type Op string

const (
	OpIsTracked Op = "is_tracked"
	OpStage     Op = "stage"
	OpUnstage   Op = "unstage"
	OpCommit    Op = "commit"
	OpAmend     Op = "amend"
	OpReadBlob  Op = "read_blob"
	OpHead      Op = "head"
)

// execMark tags index and tree entries of executable files, the only mode
// bit the log records.
const execMark = "+x"

type memCommit struct {
	Commit
	tree map[string]string
}

// MemoryLog is an in-memory history log over a real directory. Stage reads
// the file from disk; everything else lives in maps.
type MemoryLog struct {
	root string

	mu      sync.Mutex
	blobs   map[string][]byte
	index   map[string]string
	commits map[string]*memCommit
	head    string
	seq     int
	fail    map[Op]error
	calls   map[Op]int

	// Now stamps commits; tests may replace it.
	Now func() time.Time
}

func NewMemoryLog(root string) *MemoryLog {
	return &MemoryLog{
		root:    root,
		blobs:   make(map[string][]byte),
		index:   make(map[string]string),
		commits: make(map[string]*memCommit),
		fail:    make(map[Op]error),
		calls:   make(map[Op]int),
		Now:     time.Now,
	}
}

// Fail makes every later call of op return err until Clear is called.
func (m *MemoryLog) Fail(op Op, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail[op] = err
}

func (m *MemoryLog) Clear(op Op) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.fail, op)
}

// Calls reports how many times op was invoked, failed calls included.
func (m *MemoryLog) Calls(op Op) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// enter must be called with mu held.
func (m *MemoryLog) enter(op Op) error {
	m.calls[op]++
	return m.fail[op]
}

func (m *MemoryLog) IsTracked(ctx context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpIsTracked); err != nil {
		return false, err
	}
	_, ok := m.index[path]
	return ok, nil
}

func (m *MemoryLog) Stage(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpStage); err != nil {
		return err
	}

	abs := filepath.Join(m.root, filepath.FromSlash(path))
	info, err := os.Stat(abs)
	if errors.Is(err, fs.ErrNotExist) {
		delete(m.index, path)
		return nil
	}
	if err != nil {
		return err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return err
	}
	hash := utils.HashContent(data)
	m.blobs[hash] = data
	if info.Mode().Perm()&0111 != 0 {
		m.index[path] = hash + execMark
	} else {
		m.index[path] = hash
	}
	return nil
}

func (m *MemoryLog) Unstage(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpUnstage); err != nil {
		return err
	}

	if head, ok := m.commits[m.head]; ok {
		if hash, ok := head.tree[path]; ok {
			m.index[path] = hash
			return nil
		}
	}
	delete(m.index, path)
	return nil
}

func (m *MemoryLog) Commit(ctx context.Context, message string, paths ...string) (Commit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpCommit); err != nil {
		return Commit{}, err
	}

	var base map[string]string
	if head, ok := m.commits[m.head]; ok {
		base = head.tree
	}
	tree := m.copyIndex()
	if len(paths) > 0 {
		tree = m.buildTree(base, paths)
	}
	c := m.record(m.head, base, tree, message)
	m.head = c.ID
	return c.Commit, nil
}

func (m *MemoryLog) Amend(ctx context.Context, commitID, message string, paths ...string) (Commit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpAmend); err != nil {
		return Commit{}, err
	}

	head, ok := m.commits[m.head]
	if !ok {
		return Commit{}, ErrNoCommits
	}
	if head.ID != commitID {
		return Commit{}, fmt.Errorf("amend %s: %w", short(commitID), ErrNotHead)
	}

	var parentTree map[string]string
	if parent, ok := m.commits[head.Parent]; ok {
		parentTree = parent.tree
	}
	tree := m.copyIndex()
	if len(paths) > 0 {
		// Everything head had plus the newly staged paths.
		tree = m.buildTree(head.tree, paths)
	}
	c := m.record(head.Parent, parentTree, tree, message)
	delete(m.commits, head.ID)
	m.head = c.ID
	return c.Commit, nil
}

func (m *MemoryLog) ReadBlob(ctx context.Context, path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpReadBlob); err != nil {
		return nil, err
	}

	head, ok := m.commits[m.head]
	if !ok {
		return nil, ErrNoCommits
	}
	hash, ok := head.tree[path]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrNoBlob)
	}
	return append([]byte(nil), m.blobs[strings.TrimSuffix(hash, execMark)]...), nil
}

func (m *MemoryLog) Head(ctx context.Context) (Commit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpHead); err != nil {
		return Commit{}, err
	}

	head, ok := m.commits[m.head]
	if !ok {
		return Commit{}, ErrNoCommits
	}
	return head.Commit, nil
}

// Executable reports whether HEAD records path as executable.
func (m *MemoryLog) Executable(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	head, ok := m.commits[m.head]
	return ok && strings.HasSuffix(head.tree[path], execMark)
}

// History returns the commits reachable from HEAD, newest first.
func (m *MemoryLog) History() []Commit {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Commit
	for id := m.head; id != ""; {
		c, ok := m.commits[id]
		if !ok {
			break
		}
		out = append(out, c.Commit)
		id = c.Parent
	}
	return out
}

// record stores a commit of tree on top of parent, whose tree is base.
func (m *MemoryLog) record(parent string, base, tree map[string]string, message string) *memCommit {
	m.seq++
	c := &memCommit{
		Commit: Commit{
			Message:   message,
			Timestamp: m.Now(),
			Parent:    parent,
			Paths:     changedPaths(base, tree),
		},
		tree: tree,
	}
	c.ID = m.commitID(c)
	m.commits[c.ID] = c
	return c
}

func (m *MemoryLog) copyIndex() map[string]string {
	tree := make(map[string]string, len(m.index))
	for p, h := range m.index {
		tree[p] = h
	}
	return tree
}

func (m *MemoryLog) buildTree(base map[string]string, paths []string) map[string]string {
	tree := make(map[string]string, len(base)+len(paths))
	for p, h := range base {
		tree[p] = h
	}
	for _, p := range paths {
		if h, ok := m.index[p]; ok {
			tree[p] = h
		} else {
			delete(tree, p)
		}
	}
	return tree
}

func (m *MemoryLog) commitID(c *memCommit) string {
	h := sha1.New()
	fmt.Fprintf(h, "parent %s\nseq %d\n", c.Parent, m.seq)
	for _, p := range utils.SortedKeys(c.tree) {
		fmt.Fprintf(h, "%s %s\n", c.tree[p], p)
	}
	h.Write([]byte(c.Message))
	return hex.EncodeToString(h.Sum(nil))
}

func changedPaths(from, to map[string]string) []string {
	var paths []string
	for p, h := range to {
		if from[p] != h {
			paths = append(paths, p)
		}
	}
	for p := range from {
		if _, ok := to[p]; !ok {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths
}
