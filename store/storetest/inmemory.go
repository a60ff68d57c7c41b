package storetest

import (
	"context"
	"crypto/sha1" //nolint:gosec // git object ids are sha1
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/byte4ever/hubfs/store"
)

// DefaultBranch is the branch seeded by NewInMemory.
const DefaultBranch = "main"

// InMemory is an in-process git object store. It
// implements store.Store, store.TreeWriter and
// store.BatchWriter, with real git blob identifiers and
// per-branch linear history, so the coordination
// pipeline can be exercised without a network.
type InMemory struct {
	mu sync.Mutex

	key        string
	maxContent int64
	latency    time.Duration

	blobs   map[string][]byte
	trees   map[string][]store.TreeEntry
	commits map[string]commitObj
	refs    map[string]string
	seq     int

	failNext map[string]error
}

// commitObj is a stored commit.
type commitObj struct {
	tree    string
	parent  string
	message string
}

// Option configures an InMemory store.
type Option func(*InMemory)

// WithKey overrides the repository key reported by
// Key().
func WithKey(key string) Option {
	return func(m *InMemory) { m.key = key }
}

// WithMaxContentSize sets the contents-API size
// ceiling in bytes. Zero means unlimited.
func WithMaxContentSize(n int64) Option {
	return func(m *InMemory) { m.maxContent = n }
}

// WithLatency adds a fixed delay to every operation,
// widening race windows in concurrency tests.
func WithLatency(d time.Duration) Option {
	return func(m *InMemory) { m.latency = d }
}

// NewInMemory returns a store seeded with DefaultBranch
// pointing at an initial empty commit.
func NewInMemory(opts ...Option) *InMemory {
	m := &InMemory{
		key:      "storetest/example/repo",
		blobs:    make(map[string][]byte),
		trees:    make(map[string][]store.TreeEntry),
		commits:  make(map[string]commitObj),
		refs:     make(map[string]string),
		failNext: make(map[string]error),
	}

	for _, opt := range opts {
		opt(m)
	}

	emptyTree := m.putTree(nil)
	root := m.putCommit(commitObj{
		tree:    emptyTree,
		message: "initial commit",
	})
	m.refs[DefaultBranch] = root

	return m
}

// FailNext makes the next call of the named operation
// (e.g. "update ref", "create file") fail with err.
func (m *InMemory) FailNext(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.failNext[op] = err
}

// CommitCount returns the number of commits reachable
// from the branch tip, the seed commit included.
func (m *InMemory) CommitCount(branch string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0

	for sha := m.refs[branch]; sha != ""; {
		c, ok := m.commits[sha]
		if !ok {
			break
		}

		n++
		sha = c.parent
	}

	return n
}

// Messages returns commit messages from the branch tip
// back to the root, tip first.
func (m *InMemory) Messages(branch string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var msgs []string

	for sha := m.refs[branch]; sha != ""; {
		c, ok := m.commits[sha]
		if !ok {
			break
		}

		msgs = append(msgs, c.message)
		sha = c.parent
	}

	return msgs
}

// enter applies latency and fault injection at the top
// of every operation.
func (m *InMemory) enter(op string) error {
	if m.latency > 0 {
		time.Sleep(m.latency)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err, ok := m.failNext[op]; ok {
		delete(m.failNext, op)

		return err
	}

	return nil
}

// Key implements store.Store.
func (m *InMemory) Key() string {
	return m.key
}

// GetRef implements store.Store.
func (m *InMemory) GetRef(
	_ context.Context,
	branch string,
) (store.Ref, error) {
	const op = "get ref"

	if err := m.enter(op); err != nil {
		return store.Ref{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sha, ok := m.refs[branch]
	if !ok {
		// Mirror hosted APIs: a commit identifier
		// is a valid ref too.
		if _, isCommit := m.commits[branch]; isCommit {
			sha = branch
		} else {
			return store.Ref{}, store.NewError(
				store.KindInvalidRepo, op,
				fmt.Errorf("no ref %q", branch),
			)
		}
	}

	return store.Ref{
		CommitSHA: sha,
		TreeSHA:   m.commits[sha].tree,
	}, nil
}

// ListTree implements store.Store. sha may be a tree or
// a commit identifier.
func (m *InMemory) ListTree(
	_ context.Context,
	sha string,
) ([]store.TreeEntry, error) {
	const op = "list tree"

	if err := m.enter(op); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entries, ok := m.trees[sha]
	if !ok {
		if c, isCommit := m.commits[sha]; isCommit {
			entries, ok = m.trees[c.tree]
		}
	}

	if !ok {
		return nil, store.NewError(
			store.KindNotFound, op,
			fmt.Errorf("no tree %s", sha),
		)
	}

	out := make([]store.TreeEntry, len(entries))
	copy(out, entries)

	return out, nil
}

// PathMeta implements store.Store.
func (m *InMemory) PathMeta(
	_ context.Context,
	path, ref string,
) (store.TreeEntry, error) {
	const op = "path meta"

	if err := m.enter(op); err != nil {
		return store.TreeEntry{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.lookup(op, path, ref)
	if err != nil {
		return store.TreeEntry{}, err
	}

	if m.exceedsLimit(e.Size) {
		return store.TreeEntry{}, store.NewError(
			store.KindTooLarge, op,
			fmt.Errorf("%s is %d bytes", path, e.Size),
		)
	}

	return e, nil
}

// ReadPath implements store.Store.
func (m *InMemory) ReadPath(
	_ context.Context,
	path, ref string,
) ([]byte, error) {
	const op = "read path"

	if err := m.enter(op); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.lookup(op, path, ref)
	if err != nil {
		return nil, err
	}

	if m.exceedsLimit(e.Size) {
		return nil, store.NewError(
			store.KindTooLarge, op,
			fmt.Errorf("%s is %d bytes", path, e.Size),
		)
	}

	content := make([]byte, len(m.blobs[e.SHA]))
	copy(content, m.blobs[e.SHA])

	return content, nil
}

// ReadBlob implements store.Store.
func (m *InMemory) ReadBlob(
	_ context.Context,
	sha string,
) ([]byte, error) {
	const op = "read blob"

	if err := m.enter(op); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	content, ok := m.blobs[sha]
	if !ok {
		return nil, store.NewError(
			store.KindNotFound, op,
			fmt.Errorf("no blob %s", sha),
		)
	}

	out := make([]byte, len(content))
	copy(out, content)

	return out, nil
}

// CreateFile implements store.Store.
func (m *InMemory) CreateFile(
	_ context.Context,
	path string,
	content []byte,
	message, branch string,
) error {
	const op = "create file"

	if err := m.enter(op); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.exceedsLimit(int64(len(content))) {
		return store.NewError(
			store.KindTooLarge, op,
			fmt.Errorf(
				"%s is %d bytes", path, len(content),
			),
		)
	}

	tip, ok := m.refs[branch]
	if !ok {
		return store.NewError(
			store.KindInvalidRepo, op,
			fmt.Errorf("no branch %q", branch),
		)
	}

	if _, err := m.lookup(op, path, branch); err == nil {
		return store.NewError(
			store.KindConflict, op,
			fmt.Errorf("%s already exists", path),
		)
	}

	m.commitChanges(branch, tip, message,
		[]store.FileChange{
			{Path: path, Content: content},
		},
	)

	return nil
}

// UpdateFile implements store.Store. sha must match the
// path's current content identifier when the path
// exists.
func (m *InMemory) UpdateFile(
	_ context.Context,
	path string,
	content []byte,
	message, branch, sha string,
) error {
	const op = "update file"

	if err := m.enter(op); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.exceedsLimit(int64(len(content))) {
		return store.NewError(
			store.KindTooLarge, op,
			fmt.Errorf(
				"%s is %d bytes", path, len(content),
			),
		)
	}

	tip, ok := m.refs[branch]
	if !ok {
		return store.NewError(
			store.KindInvalidRepo, op,
			fmt.Errorf("no branch %q", branch),
		)
	}

	if cur, err := m.lookup(
		op, path, branch,
	); err == nil && cur.SHA != sha {
		return store.NewError(
			store.KindConflict, op,
			fmt.Errorf(
				"%s changed since %s", path, sha,
			),
		)
	}

	m.commitChanges(branch, tip, message,
		[]store.FileChange{
			{Path: path, Content: content},
		},
	)

	return nil
}

// CreateBlob implements store.TreeWriter.
func (m *InMemory) CreateBlob(
	_ context.Context,
	content []byte,
) (string, error) {
	const op = "create blob"

	if err := m.enter(op); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.putBlob(content), nil
}

// CreateTree implements store.TreeWriter.
func (m *InMemory) CreateTree(
	_ context.Context,
	baseTree string,
	entries []store.BlobEntry,
) (string, error) {
	const op = "create tree"

	if err := m.enter(op); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	base, ok := m.trees[baseTree]
	if !ok {
		return "", store.NewError(
			store.KindNotFound, op,
			fmt.Errorf("no base tree %s", baseTree),
		)
	}

	layered := overlay(base, entriesToTree(
		entries, m.blobs,
	))

	return m.putTree(layered), nil
}

// CreateCommit implements store.TreeWriter.
func (m *InMemory) CreateCommit(
	_ context.Context,
	parent, tree, message string,
) (string, error) {
	const op = "create commit"

	if err := m.enter(op); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.trees[tree]; !ok {
		return "", store.NewError(
			store.KindNotFound, op,
			fmt.Errorf("no tree %s", tree),
		)
	}

	return m.putCommit(commitObj{
		tree:    tree,
		parent:  parent,
		message: message,
	}), nil
}

// UpdateRef implements store.TreeWriter. Without force
// the new commit's parent must be the current tip
// (fast-forward check).
func (m *InMemory) UpdateRef(
	_ context.Context,
	branch, sha string,
	force bool,
) error {
	const op = "update ref"

	if err := m.enter(op); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.commits[sha]
	if !ok {
		return store.NewError(
			store.KindNotFound, op,
			fmt.Errorf("no commit %s", sha),
		)
	}

	tip, ok := m.refs[branch]
	if !ok {
		return store.NewError(
			store.KindInvalidRepo, op,
			fmt.Errorf("no branch %q", branch),
		)
	}

	if !force && c.parent != tip {
		return store.NewError(
			store.KindConflict, op,
			fmt.Errorf(
				"%s is not a fast-forward of %s",
				sha, tip,
			),
		)
	}

	m.refs[branch] = sha

	return nil
}

// CommitFiles implements store.BatchWriter.
func (m *InMemory) CommitFiles(
	_ context.Context,
	branch, message string,
	changes []store.FileChange,
) error {
	const op = "commit files"

	if err := m.enter(op); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tip, ok := m.refs[branch]
	if !ok {
		return store.NewError(
			store.KindInvalidRepo, op,
			fmt.Errorf("no branch %q", branch),
		)
	}

	m.commitChanges(branch, tip, message, changes)

	return nil
}

// lookup finds path in the tree of ref, which may be a
// branch name or a commit identifier. Callers hold mu.
func (m *InMemory) lookup(
	op, path, ref string,
) (store.TreeEntry, error) {
	tip := ref
	if sha, ok := m.refs[ref]; ok {
		tip = sha
	}

	c, ok := m.commits[tip]
	if !ok {
		return store.TreeEntry{}, store.NewError(
			store.KindInvalidRepo, op,
			fmt.Errorf("no ref %q", ref),
		)
	}

	for _, e := range m.trees[c.tree] {
		if e.Path == path {
			return e, nil
		}
	}

	return store.TreeEntry{}, store.NewError(
		store.KindNotFound, op,
		fmt.Errorf("%s not found at %s", path, ref),
	)
}

// commitChanges layers changes onto the tip's tree and
// advances the branch by one commit. Callers hold mu.
func (m *InMemory) commitChanges(
	branch, tip, message string,
	changes []store.FileChange,
) {
	var added []store.TreeEntry

	for _, ch := range changes {
		sha := m.putBlob(ch.Content)
		added = append(added, store.TreeEntry{
			Path: ch.Path,
			SHA:  sha,
			Size: int64(len(ch.Content)),
		})
	}

	base := m.trees[m.commits[tip].tree]
	tree := m.putTree(overlay(base, added))

	m.refs[branch] = m.putCommit(commitObj{
		tree:    tree,
		parent:  tip,
		message: message,
	})
}

// exceedsLimit reports whether size is above the
// configured contents-API ceiling.
func (m *InMemory) exceedsLimit(size int64) bool {
	return m.maxContent > 0 && size > m.maxContent
}

// putBlob stores content under its git blob identifier.
// Callers hold mu.
func (m *InMemory) putBlob(content []byte) string {
	sha := BlobSHA(content)
	m.blobs[sha] = append(
		[]byte(nil), content...,
	)

	return sha
}

// putTree stores a recursive listing under a
// deterministic identifier. Callers hold mu.
func (m *InMemory) putTree(
	entries []store.TreeEntry,
) string {
	h := sha1.New() //nolint:gosec // git-style id

	fmt.Fprintf(h, "tree %d\x00", len(entries))

	for _, e := range entries {
		fmt.Fprintf(h, "%s %s\x00", e.SHA, e.Path)
	}

	sha := hex.EncodeToString(h.Sum(nil))
	m.trees[sha] = entries

	return sha
}

// putCommit stores a commit under a unique identifier.
// A sequence number stands in for the timestamp a real
// commit would carry, so identical changes still get
// distinct commits. Callers hold mu.
func (m *InMemory) putCommit(c commitObj) string {
	h := sha1.New() //nolint:gosec // git-style id

	m.seq++
	fmt.Fprintf(
		h, "commit %d %s %s %s",
		m.seq, c.tree, c.parent, c.message,
	)

	sha := hex.EncodeToString(h.Sum(nil))
	m.commits[sha] = c

	return sha
}

// BlobSHA returns the git blob identifier of content:
// the SHA1 of "blob <len>\x00<content>".
func BlobSHA(content []byte) string {
	h := sha1.New() //nolint:gosec // git object id

	fmt.Fprintf(h, "blob %d\x00", len(content))
	h.Write(content)

	return hex.EncodeToString(h.Sum(nil))
}

// overlay layers added entries on top of base,
// replacing entries with equal paths. The result is
// sorted by path for deterministic tree identifiers.
func overlay(
	base []store.TreeEntry,
	added []store.TreeEntry,
) []store.TreeEntry {
	byPath := make(
		map[string]store.TreeEntry,
		len(base)+len(added),
	)

	for _, e := range base {
		byPath[e.Path] = e
	}

	for _, e := range added {
		byPath[e.Path] = e
	}

	out := make([]store.TreeEntry, 0, len(byPath))
	for _, e := range byPath {
		out = append(out, e)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Path < out[j].Path
	})

	return out
}

// entriesToTree converts blob entries into tree entries
// with sizes taken from the stored blobs.
func entriesToTree(
	entries []store.BlobEntry,
	blobs map[string][]byte,
) []store.TreeEntry {
	out := make([]store.TreeEntry, 0, len(entries))

	for _, e := range entries {
		out = append(out, store.TreeEntry{
			Path: e.Path,
			SHA:  e.SHA,
			Size: int64(len(blobs[e.SHA])),
		})
	}

	return out
}
