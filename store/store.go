package store

import "context"

// Ref identifies the tip of a branch. TreeSHA may be
// empty when the backing store keys tree listings by
// commit rather than by tree (GitLab); callers should
// use TreeSHA when set and fall back to CommitSHA.
type Ref struct {
	// CommitSHA is the commit at the branch tip.
	CommitSHA string
	// TreeSHA is the root tree of that commit, when
	// the store exposes it.
	TreeSHA string
}

// TreeEntry is a single file in a recursive tree
// listing.
type TreeEntry struct {
	// Path is repository-root relative, without a
	// leading separator.
	Path string
	// SHA is the content identifier of the blob.
	SHA string
	// Size is the blob size in bytes when the store
	// reports it, zero otherwise.
	Size int64
}

// BlobEntry names a previously created blob for
// inclusion in a new tree.
type BlobEntry struct {
	Path string
	SHA  string
}

// FileChange is a raw content change for stores that
// commit many files natively in one call.
type FileChange struct {
	Path    string
	Content []byte
}

// Store is the read and single-file-write surface of a
// remote repository. All calls may fail with a *Error
// carrying one of the kinds defined in this package.
//
// Pattern: Strategy -- swap hosting platform without
// changing coordination logic.
type Store interface {
	// Key returns a stable identifier for the remote
	// repository (e.g. "github.com/org/repo"), used
	// to scope per-branch write state and for logs.
	Key() string

	// GetRef returns the tip of the named branch
	// (or tag).
	GetRef(ctx context.Context, branch string) (Ref, error)

	// ListTree returns the recursive file listing of
	// the tree identified by sha. Depending on the
	// store, sha is a tree id or a commit id (see
	// Ref.TreeSHA).
	ListTree(ctx context.Context, sha string) ([]TreeEntry, error)

	// PathMeta returns the metadata (content
	// identifier and size) of the file at path as of
	// ref, without its content.
	PathMeta(ctx context.Context, path, ref string) (TreeEntry, error)

	// ReadPath returns the content of the file at
	// path as of ref. Fails with KindTooLarge when
	// the file exceeds the store's contents-API
	// ceiling.
	ReadPath(ctx context.Context, path, ref string) ([]byte, error)

	// ReadBlob returns the raw content of the blob
	// identified by sha. Not subject to the
	// contents-API size ceiling.
	ReadBlob(ctx context.Context, sha string) ([]byte, error)

	// CreateFile creates the file at path on branch
	// in a single call. Fails with KindConflict when
	// the path already exists.
	CreateFile(ctx context.Context, path string, content []byte, message, branch string) error

	// UpdateFile replaces the file at path on branch.
	// sha is the current content identifier of the
	// path, as required by the store's optimistic
	// concurrency check (ignored by stores that do
	// not use one).
	UpdateFile(ctx context.Context, path string, content []byte, message, branch, sha string) error
}

// TreeWriter is the git-data write capability used by
// the batched pipeline on stores that expose blob,
// tree, commit and ref primitives (GitHub).
type TreeWriter interface {
	// CreateBlob stores content and returns its
	// identifier.
	CreateBlob(ctx context.Context, content []byte) (string, error)

	// CreateTree creates a tree layering entries on
	// top of baseTree and returns its identifier.
	CreateTree(ctx context.Context, baseTree string, entries []BlobEntry) (string, error)

	// CreateCommit creates a commit with a single
	// parent and returns its identifier.
	CreateCommit(ctx context.Context, parent, tree, message string) (string, error)

	// UpdateRef points branch at sha. force bypasses
	// the store's fast-forward check.
	UpdateRef(ctx context.Context, branch, sha string, force bool) error
}

// BatchWriter is the native multi-file commit
// capability used by the batched pipeline on stores
// without a git-data surface (GitLab).
type BatchWriter interface {
	// CommitFiles creates one commit on branch
	// containing every change, parented on the
	// current tip by the remote itself.
	CommitFiles(ctx context.Context, branch, message string, changes []FileChange) error
}
