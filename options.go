package hubfs

import (
	"time"

	"github.com/byte4ever/hubfs/commitmsg"
	"github.com/byte4ever/hubfs/coord"
)

const (
	// DefaultBranch is the branch used when none is
	// configured.
	DefaultBranch = "main"

	// DefaultSettleDelay is the grace period after a
	// direct write before the branch tip is
	// considered safe to read again.
	DefaultSettleDelay = 500 * time.Millisecond

	// DefaultBlobCacheSize is the number of blobs
	// kept in the read cache.
	DefaultBlobCacheSize = 128
)

// options holds construction settings for a Repo.
type options struct {
	branch        string
	registry      *coord.Registry
	settle        time.Duration
	batchSize     int
	batchWindow   time.Duration
	workers       int
	blobCacheSize int
	formatter     *commitmsg.Formatter
}

// Option configures a Repo at construction time.
type Option func(*options)

// WithBranch sets the repository's primary branch used
// when an operation names none.
func WithBranch(branch string) Option {
	return func(o *options) { o.branch = branch }
}

// WithRegistry shares or isolates per-branch write
// state. Handles sharing a registry serialize their
// writes to the same branch; the default is a
// process-wide registry keyed by repository and branch.
func WithRegistry(reg *coord.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithSettleDelay overrides DefaultSettleDelay.
func WithSettleDelay(d time.Duration) Option {
	return func(o *options) { o.settle = d }
}

// WithBatchSize sets the batch size threshold.
func WithBatchSize(n int) Option {
	return func(o *options) { o.batchSize = n }
}

// WithBatchWindow sets the idle window after which an
// open batch closes.
func WithBatchWindow(d time.Duration) Option {
	return func(o *options) { o.batchWindow = d }
}

// WithWorkers sets the blob-conversion concurrency
// ceiling shared across all branches of the handle.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithBlobCacheSize sets the read cache capacity in
// blobs.
func WithBlobCacheSize(n int) Option {
	return func(o *options) { o.blobCacheSize = n }
}

// WithMessageFormatter overrides the batch commit
// message formatter.
func WithMessageFormatter(
	f *commitmsg.Formatter,
) Option {
	return func(o *options) { o.formatter = f }
}

// writeOptions holds per-write settings.
type writeOptions struct {
	branch     string
	message    string
	createOnly bool
	queue      bool
}

// WriteOption configures a single write.
type WriteOption func(*writeOptions)

// OnBranch targets the write at a branch other than the
// handle's primary branch.
func OnBranch(branch string) WriteOption {
	return func(o *writeOptions) { o.branch = branch }
}

// WithMessage sets the commit message (direct path) or
// message fragment (batched path). The default is
// synthesized from the path.
func WithMessage(message string) WriteOption {
	return func(o *writeOptions) {
		o.message = message
	}
}

// CreateOnly fails the write instead of overwriting an
// existing file. Honored on both the direct and the
// batched path.
func CreateOnly() WriteOption {
	return func(o *writeOptions) {
		o.createOnly = true
	}
}

// Queued forces batched semantics even when the branch
// is idle.
func Queued() WriteOption {
	return func(o *writeOptions) { o.queue = true }
}

// readOptions holds per-read settings.
type readOptions struct {
	ref string
}

// ReadOption configures a single read.
type ReadOption func(*readOptions)

// AtRef reads at a branch, tag, or commit other than
// the handle's primary branch.
func AtRef(ref string) ReadOption {
	return func(o *readOptions) { o.ref = ref }
}
