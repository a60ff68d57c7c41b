package hubfs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/byte4ever/hubfs/batch"
	"github.com/byte4ever/hubfs/convert"
	"github.com/byte4ever/hubfs/coord"
	"github.com/byte4ever/hubfs/resolve"
	"github.com/byte4ever/hubfs/store"
)

// defaultRegistry serializes writes across every handle
// in the process pointed at the same repository and
// branch. Keys include the repository identity, so
// unrelated repositories never share a busy period.
var defaultRegistry = coord.NewRegistry()

// FileInfo is the metadata of one file at a ref.
type FileInfo struct {
	Path string `json:"path"`
	SHA  string `json:"sha"`
	Size int64  `json:"size"`
}

// Repo is a handle on one remote repository. It is safe
// for concurrent use.
type Repo struct {
	st       store.Store
	resolver *resolve.Resolver
	conv     *convert.Converter
	co       *coord.Coordinator
	branch   string
	cache    *lru.Cache[string, []byte]
}

// New opens a handle on st. The store must support
// either tree writes (GitHub) or native batch commits
// (GitLab) for the batched pipeline to function.
func New(st store.Store, opts ...Option) (*Repo, error) {
	const errCtx = "opening repository handle"

	if st == nil {
		return nil, fmt.Errorf(
			"%s: store must be set", errCtx,
		)
	}

	o := options{
		branch:        DefaultBranch,
		registry:      defaultRegistry,
		settle:        DefaultSettleDelay,
		blobCacheSize: DefaultBlobCacheSize,
	}

	for _, opt := range opts {
		opt(&o)
	}

	r := &Repo{
		st:       st,
		resolver: resolve.New(st),
		branch:   o.branch,
	}

	if tw, ok := st.(store.TreeWriter); ok {
		r.conv = convert.New(tw, o.workers)
	}

	batcher, err := batch.New(batch.Config{
		Store:     st,
		Converter: r.conv,
		Formatter: o.formatter,
		Size:      o.batchSize,
		Window:    o.batchWindow,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	r.co = coord.NewCoordinator(
		o.registry,
		st.Key(),
		fastWriter{r},
		batcher,
		o.settle,
	)

	cache, err := lru.New[string, []byte](
		o.blobCacheSize,
	)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: blob cache: %w", errCtx, err,
		)
	}

	r.cache = cache

	return r, nil
}

// Close drains the handle's blob-conversion pool.
// Pending writes complete first.
func (r *Repo) Close() {
	if r.conv != nil {
		r.conv.Stop()
	}
}

// Write stores content at path on the target branch.
// It blocks until the write's commit is on the branch
// (direct path) or its batch committed (batched path).
func (r *Repo) Write(
	ctx context.Context,
	path string,
	content []byte,
	opts ...WriteOption,
) error {
	const errCtx = "writing file"

	o := writeOptions{branch: r.branch}
	for _, opt := range opts {
		opt(&o)
	}

	path = normalizePath(path)
	if path == "" {
		return fmt.Errorf(
			"%s: path must be set", errCtx,
		)
	}

	message := o.message
	if message == "" {
		message = "Update " + path
	}

	req := coord.Request{
		ID:         uuid.New(),
		Path:       path,
		Content:    content,
		Message:    message,
		Branch:     o.branch,
		CreateOnly: o.createOnly,
		Queue:      o.queue,
	}

	if err := r.co.Submit(ctx, req); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}

// WriteString stores UTF-8 text at path.
func (r *Repo) WriteString(
	ctx context.Context,
	path string,
	content string,
	opts ...WriteOption,
) error {
	return r.Write(ctx, path, []byte(content), opts...)
}

// Read returns the content of path at the requested
// ref. Objects above the store's contents-API ceiling
// are fetched through the identity walk and the raw
// blob endpoint; blobs are content-addressed, so those
// fetches are served from an in-handle cache when
// possible.
func (r *Repo) Read(
	ctx context.Context,
	path string,
	opts ...ReadOption,
) ([]byte, error) {
	const errCtx = "reading file"

	o := readOptions{ref: r.branch}
	for _, opt := range opts {
		opt(&o)
	}

	path = normalizePath(path)

	content, err := r.st.ReadPath(ctx, path, o.ref)
	if err == nil {
		return content, nil
	}

	switch store.KindOf(err) {
	case store.KindTooLarge, store.KindNotFound:
		// Too large: the walk is the only way to
		// address the object. Not found: the walk
		// distinguishes a missing file from a
		// missing repository.
	default:
		return nil, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	sha, err := r.resolver.Resolve(ctx, path, o.ref)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	if cached, ok := r.cache.Get(sha); ok {
		return cached, nil
	}

	content, err = r.st.ReadBlob(ctx, sha)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	r.cache.Add(sha, content)

	return content, nil
}

// ReadString returns the content of path decoded as
// UTF-8 text.
func (r *Repo) ReadString(
	ctx context.Context,
	path string,
	opts ...ReadOption,
) (string, error) {
	content, err := r.Read(ctx, path, opts...)
	if err != nil {
		return "", err
	}

	return string(content), nil
}

// Stat returns the metadata of path at the requested
// ref without fetching its content.
func (r *Repo) Stat(
	ctx context.Context,
	path string,
	opts ...ReadOption,
) (FileInfo, error) {
	const errCtx = "statting file"

	o := readOptions{ref: r.branch}
	for _, opt := range opts {
		opt(&o)
	}

	path = normalizePath(path)

	meta, err := r.st.PathMeta(ctx, path, o.ref)
	if err != nil {
		if store.IsInvalidRepo(err) {
			return FileInfo{}, fmt.Errorf(
				"%s: %w", errCtx, err,
			)
		}

		meta, err = r.resolver.Lookup(
			ctx, path, o.ref,
		)
		if err != nil {
			return FileInfo{}, fmt.Errorf(
				"%s: %w", errCtx, err,
			)
		}
	}

	return FileInfo{
		Path: path,
		SHA:  meta.SHA,
		Size: meta.Size,
	}, nil
}

// IsNotFound reports whether err means the file is
// absent at the given ref.
func IsNotFound(err error) bool {
	return store.IsNotFound(err)
}

// IsInvalidRepo reports whether err means the
// repository or branch does not exist or is
// inaccessible.
func IsInvalidRepo(err error) bool {
	return store.IsInvalidRepo(err)
}

// IsConflict reports whether err is a stale-state
// conflict, e.g. a create-only write that lost to an
// existing file.
func IsConflict(err error) bool {
	return store.IsConflict(err)
}

// fastWriter is the direct single-call write path.
//
// Pattern: Adapter -- implements coord.FastWriter
// without exporting the method on Repo.
type fastWriter struct {
	r *Repo
}

// WriteFast attempts a direct create, retrying once as
// an update when the path already exists and the caller
// allowed overwriting.
func (f fastWriter) WriteFast(
	ctx context.Context,
	req coord.Request,
) error {
	r := f.r

	err := r.st.CreateFile(
		ctx,
		req.Path,
		req.Content,
		req.Message,
		req.Branch,
	)
	if err == nil {
		slog.Debug(
			"file created",
			"id", req.ID,
			"path", req.Path,
			"branch", req.Branch,
		)

		return nil
	}

	if !store.IsConflict(err) || req.CreateOnly {
		return err
	}

	// One resolve-and-retry cycle: the path exists,
	// so fetch its current identifier and update.
	sha, rerr := r.resolver.Resolve(
		ctx, req.Path, req.Branch,
	)
	if rerr != nil {
		return rerr
	}

	slog.Debug(
		"create conflicted, retrying as update",
		"id", req.ID,
		"path", req.Path,
		"sha", sha,
	)

	return r.st.UpdateFile(
		ctx,
		req.Path,
		req.Content,
		req.Message,
		req.Branch,
		sha,
	)
}

// normalizePath strips the leading separator so paths
// are repository-root relative.
func normalizePath(path string) string {
	return strings.TrimPrefix(path, "/")
}
