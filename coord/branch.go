package coord

import (
	"context"
	"sync"
)

// Branch is the write status of one (repository,
// branch) pair. All fields are guarded by mu; the
// commit section is a separate mutex held for the
// whole read-tip/commit/update-ref sequence.
type Branch struct {
	mu sync.Mutex

	// writing is true while a direct single-call
	// write is in flight (including its settle
	// delay).
	writing bool

	// queuers counts batch queues currently open or
	// draining for this branch, across all handles
	// sharing the registry.
	queuers int

	// next is the single pending resume action:
	// closed when the in-flight direct write settles.
	// At most one exists at a time; later waiters
	// join it.
	next chan struct{}

	// commitMu serializes ref-advancing commit
	// sequences. Held by one batch drain at a time.
	commitMu sync.Mutex
}

// beginWrite atomically claims the direct path. It
// returns false when a direct write is already in
// flight, a batch queue is open, or forceQueue is set.
func (b *Branch) beginWrite(forceQueue bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.writing || b.queuers > 0 || forceQueue {
		return false
	}

	b.writing = true

	return true
}

// endWrite clears the in-flight flag and fires the
// pending resume action, if any. Called after the
// settle delay.
func (b *Branch) endWrite() {
	b.mu.Lock()
	b.writing = false
	next := b.next
	b.next = nil
	b.mu.Unlock()

	if next != nil {
		close(next)
	}
}

// IncQueuers records that a batch queue opened for this
// branch.
func (b *Branch) IncQueuers() {
	b.mu.Lock()
	b.queuers++
	b.mu.Unlock()
}

// DecQueuers records that a batch queue drained and
// closed.
func (b *Branch) DecQueuers() {
	b.mu.Lock()
	b.queuers--
	b.mu.Unlock()
}

// WaitWriter blocks until no direct write is in flight
// on this branch. When one is, it registers (or joins)
// the branch's single pending resume action.
func (b *Branch) WaitWriter(ctx context.Context) error {
	b.mu.Lock()

	if !b.writing {
		b.mu.Unlock()

		return nil
	}

	// Only one pending resume per branch: later
	// arrivals join the existing channel instead of
	// registering another.
	if b.next == nil {
		b.next = make(chan struct{})
	}

	ch := b.next
	b.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LockCommit acquires the exclusive right to advance
// the branch ref. Release with UnlockCommit.
func (b *Branch) LockCommit() {
	b.commitMu.Lock()
}

// UnlockCommit releases the right acquired by
// LockCommit.
func (b *Branch) UnlockCommit() {
	b.commitMu.Unlock()
}

// Registry maps branch keys to their Branch records,
// creating them lazily. Keys combine the repository
// identity and the branch name so that unrelated
// repositories never share a busy period.
type Registry struct {
	mu       sync.Mutex
	branches map[string]*Branch
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		branches: make(map[string]*Branch),
	}
}

// Branch returns the record for key, creating it on
// first use.
func (r *Registry) Branch(key string) *Branch {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.branches[key]
	if !ok {
		b = &Branch{}
		r.branches[key] = b
	}

	return b
}
