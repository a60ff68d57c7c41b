package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/byte4ever/hubfs/commitmsg"
	"github.com/byte4ever/hubfs/convert"
	"github.com/byte4ever/hubfs/coord"
	"github.com/byte4ever/hubfs/store"
)

const (
	// DefaultSize is the default batch size threshold.
	DefaultSize = 20

	// DefaultWindow is the default idle window after
	// which an open batch closes.
	DefaultWindow = 100 * time.Millisecond
)

// Config wires a Batcher.
type Config struct {
	// Store is the remote object store.
	Store store.Store

	// Converter creates blobs for tree-writer stores.
	// Must be nil when Store does not implement
	// store.TreeWriter, non-nil when it does.
	Converter *convert.Converter

	// Formatter renders batch commit messages. Nil
	// selects commitmsg.Default().
	Formatter *commitmsg.Formatter

	// Size is the batch size threshold. <= 0 selects
	// DefaultSize.
	Size int

	// Window is the idle window closing an open
	// batch. <= 0 selects DefaultWindow.
	Window time.Duration
}

// Batcher owns the open batches of one repository
// handle, one per busy branch.
type Batcher struct {
	st     store.Store
	tw     store.TreeWriter
	bw     store.BatchWriter
	conv   *convert.Converter
	fmtr   *commitmsg.Formatter
	size   int
	window time.Duration

	mu     sync.Mutex
	queues map[*coord.Branch]*branchQueue
}

// entry is one write waiting in the batched pipeline.
type entry struct {
	req  coord.Request
	blob store.BlobEntry
	done chan error
}

// branchQueue is the pending work of one branch.
// Guarded by Batcher.mu.
type branchQueue struct {
	name string
	// pending holds converted entries waiting for the
	// open batch to close.
	pending []*entry
	// converting counts entries still in blob
	// conversion; the drain loop must not exit while
	// any remain.
	converting int
	// draining is true while the drain goroutine is
	// alive.
	draining bool
	// arrived signals the drain loop that pending
	// changed.
	arrived chan struct{}
}

// New validates cfg and returns a Batcher.
func New(cfg Config) (*Batcher, error) {
	const errCtx = "creating batcher"

	if cfg.Store == nil {
		return nil, fmt.Errorf(
			"%s: store must be set", errCtx,
		)
	}

	tw, _ := cfg.Store.(store.TreeWriter)
	bw, _ := cfg.Store.(store.BatchWriter)

	if tw == nil && bw == nil {
		return nil, fmt.Errorf(
			"%s: store supports neither tree "+
				"writes nor batch commits", errCtx,
		)
	}

	if tw != nil && cfg.Converter == nil {
		return nil, fmt.Errorf(
			"%s: converter must be set for a "+
				"tree-writer store", errCtx,
		)
	}

	fmtr := cfg.Formatter
	if fmtr == nil {
		fmtr = commitmsg.Default()
	}

	size := cfg.Size
	if size <= 0 {
		size = DefaultSize
	}

	window := cfg.Window
	if window <= 0 {
		window = DefaultWindow
	}

	return &Batcher{
		st:     cfg.Store,
		tw:     tw,
		bw:     bw,
		conv:   cfg.Converter,
		fmtr:   fmtr,
		size:   size,
		window: window,
		queues: make(map[*coord.Branch]*branchQueue),
	}, nil
}

// Enqueue accepts one write into the branch's batched
// pipeline and returns its outcome channel. The branch
// is marked queueing before Enqueue returns, so no
// direct write can start while this entry is pending.
func (bt *Batcher) Enqueue(
	ctx context.Context,
	b *coord.Branch,
	req coord.Request,
) <-chan error {
	done := make(chan error, 1)
	e := &entry{req: req, done: done}

	bt.mu.Lock()

	q := bt.queues[b]
	if q == nil {
		q = &branchQueue{
			name:    req.Branch,
			arrived: make(chan struct{}, 1),
		}
		bt.queues[b] = q
	}

	if bt.tw != nil {
		q.converting++
	} else {
		q.pending = append(q.pending, e)
	}

	if !q.draining {
		q.draining = true
		b.IncQueuers()

		go bt.drain(b, q)
	}

	bt.mu.Unlock()

	if bt.tw != nil {
		go bt.convertEntry(ctx, b, q, e)
	} else {
		q.poke()
	}

	return done
}

// convertEntry runs one blob conversion and joins the
// batch with the resulting tree entry. A conversion
// failure fails only this write.
func (bt *Batcher) convertEntry(
	ctx context.Context,
	b *coord.Branch,
	q *branchQueue,
	e *entry,
) {
	blob, err := bt.conv.Convert(
		ctx, e.req.Path, e.req.Content,
	)

	bt.mu.Lock()
	q.converting--

	if err == nil {
		e.blob = blob
		q.pending = append(q.pending, e)
	}
	bt.mu.Unlock()

	if err != nil {
		slog.Warn(
			"blob conversion failed",
			"id", e.req.ID,
			"path", e.req.Path,
			"error", err,
		)
		e.done <- err
	}

	q.poke()
}

// poke wakes the drain loop without blocking.
func (q *branchQueue) poke() {
	select {
	case q.arrived <- struct{}{}:
	default:
	}
}

// drain is the per-branch loop: it closes batches and
// commits them strictly one at a time, then exits once
// the branch goes idle.
func (bt *Batcher) drain(
	b *coord.Branch,
	q *branchQueue,
) {
	// Batches outlive any single caller; cancellation
	// of a submitted write is not supported.
	ctx := context.Background()

	for {
		batch := bt.collect(q)

		if len(batch) == 0 {
			if bt.tryClose(b, q) {
				return
			}

			continue
		}

		bt.commit(ctx, b, q.name, batch)
	}
}

// collect blocks until the open batch closes: the size
// threshold is reached, or no new entry arrived within
// the window. It may return an empty batch when the
// branch idled out.
func (bt *Batcher) collect(q *branchQueue) []*entry {
	for {
		bt.mu.Lock()

		if len(q.pending) >= bt.size {
			batch := q.pending[:bt.size]
			q.pending = append(
				[]*entry(nil),
				q.pending[bt.size:]...,
			)
			bt.mu.Unlock()

			return batch
		}
		bt.mu.Unlock()

		timer := time.NewTimer(bt.window)

		select {
		case <-q.arrived:
			timer.Stop()

		case <-timer.C:
			bt.mu.Lock()
			batch := q.pending
			q.pending = nil
			bt.mu.Unlock()

			return batch
		}
	}
}

// tryClose retires the drain loop when no work remains.
// It returns false when entries arrived or conversions
// are still in flight.
func (bt *Batcher) tryClose(
	b *coord.Branch,
	q *branchQueue,
) bool {
	bt.mu.Lock()
	defer bt.mu.Unlock()

	if len(q.pending) > 0 || q.converting > 0 {
		return false
	}

	q.draining = false
	b.DecQueuers()

	return true
}

// commit performs the ref-advancing sequence for one
// closed batch and fans the outcome out to every
// waiter. The whole sequence holds the branch's commit
// lock and starts only after any in-flight direct write
// has settled.
func (bt *Batcher) commit(
	ctx context.Context,
	b *coord.Branch,
	branch string,
	batch []*entry,
) {
	const errCtx = "committing batch"

	b.LockCommit()
	defer b.UnlockCommit()

	if err := b.WaitWriter(ctx); err != nil {
		finish(batch, fmt.Errorf(
			"%s: waiting for writer: %w", errCtx, err,
		))

		return
	}

	ref, err := bt.st.GetRef(ctx, branch)
	if err != nil {
		finish(batch, fmt.Errorf(
			"%s: get ref: %w", errCtx, err,
		))

		return
	}

	live, err := bt.dropCreateConflicts(
		ctx, ref, batch,
	)
	if err != nil {
		finish(batch, fmt.Errorf(
			"%s: check existing paths: %w",
			errCtx, err,
		))

		return
	}

	if len(live) == 0 {
		return
	}

	message := bt.message(live)

	if bt.tw != nil {
		err = bt.commitTree(ctx, branch, ref, live, message)
	} else {
		err = bt.commitFiles(ctx, branch, live, message)
	}

	if err != nil {
		slog.Warn(
			"batch failed",
			"branch", branch,
			"files", len(live),
			"error", err,
		)

		finish(live, err)

		return
	}

	slog.Info(
		"batch committed",
		"branch", branch,
		"files", len(live),
	)

	finish(live, nil)
}

// commitTree runs the git-data sequence: new tree
// layered on the tip's tree, new commit parented on the
// tip, forced ref update. Force is safe because commits
// are serialized per branch.
func (bt *Batcher) commitTree(
	ctx context.Context,
	branch string,
	ref store.Ref,
	live []*entry,
	message string,
) error {
	const errCtx = "committing batch"

	blobs := make([]store.BlobEntry, 0, len(live))
	for _, e := range live {
		blobs = append(blobs, e.blob)
	}

	treeSHA, err := bt.tw.CreateTree(
		ctx, ref.TreeSHA, blobs,
	)
	if err != nil {
		return fmt.Errorf(
			"%s: create tree: %w", errCtx, err,
		)
	}

	commitSHA, err := bt.tw.CreateCommit(
		ctx, ref.CommitSHA, treeSHA, message,
	)
	if err != nil {
		return fmt.Errorf(
			"%s: create commit: %w", errCtx, err,
		)
	}

	if err := bt.tw.UpdateRef(
		ctx, branch, commitSHA, true,
	); err != nil {
		return fmt.Errorf(
			"%s: update ref: %w", errCtx, err,
		)
	}

	return nil
}

// commitFiles commits the batch through the store's
// native multi-file commit.
func (bt *Batcher) commitFiles(
	ctx context.Context,
	branch string,
	live []*entry,
	message string,
) error {
	const errCtx = "committing batch"

	changes := make([]store.FileChange, 0, len(live))
	for _, e := range live {
		changes = append(changes, store.FileChange{
			Path:    e.req.Path,
			Content: e.req.Content,
		})
	}

	if err := bt.bw.CommitFiles(
		ctx, branch, message, changes,
	); err != nil {
		return fmt.Errorf(
			"%s: commit files: %w", errCtx, err,
		)
	}

	return nil
}

// dropCreateConflicts fails create-only entries whose
// path already exists on the tip and returns the
// remaining live entries. The base tree is listed only
// when the batch contains create-only entries.
func (bt *Batcher) dropCreateConflicts(
	ctx context.Context,
	ref store.Ref,
	batch []*entry,
) ([]*entry, error) {
	anyCreateOnly := false

	for _, e := range batch {
		if e.req.CreateOnly {
			anyCreateOnly = true

			break
		}
	}

	if !anyCreateOnly {
		return batch, nil
	}

	listKey := ref.TreeSHA
	if listKey == "" {
		listKey = ref.CommitSHA
	}

	listing, err := bt.st.ListTree(ctx, listKey)
	if err != nil {
		return nil, err
	}

	exists := make(map[string]struct{}, len(listing))
	for _, te := range listing {
		exists[te.Path] = struct{}{}
	}

	live := batch[:0:0]

	for _, e := range batch {
		if e.req.CreateOnly {
			if _, ok := exists[e.req.Path]; ok {
				e.done <- store.NewError(
					store.KindConflict,
					"create file",
					fmt.Errorf(
						"%s already exists",
						e.req.Path,
					),
				)

				continue
			}
		}

		live = append(live, e)
	}

	return live, nil
}

// message renders the batch commit message.
func (bt *Batcher) message(live []*entry) string {
	entries := make(
		[]commitmsg.Entry, 0, len(live),
	)

	for _, e := range live {
		entries = append(entries, commitmsg.Entry{
			Path:    e.req.Path,
			Message: e.req.Message,
		})
	}

	return bt.fmtr.Format(entries)
}

// finish delivers the same terminal outcome to every
// waiter in the batch.
func finish(batch []*entry, err error) {
	for _, e := range batch {
		e.done <- err
	}
}
