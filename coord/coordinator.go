package coord

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Request is one pending file write. It is consumed
// either by the direct writer or by the batched commit
// pipeline.
type Request struct {
	// ID correlates the request across log lines.
	ID uuid.UUID
	// Path is repository-root relative, no leading
	// separator.
	Path string
	// Content is the raw file content.
	Content []byte
	// Message is the commit message (direct path) or
	// message fragment (batched path).
	Message string
	// Branch is the target branch.
	Branch string
	// CreateOnly fails the write instead of
	// overwriting an existing file.
	CreateOnly bool
	// Queue forces batched semantics even when the
	// branch is idle.
	Queue bool
}

// FastWriter performs a direct single-call create or
// update.
type FastWriter interface {
	WriteFast(ctx context.Context, req Request) error
}

// Queuer accepts a request into the batched pipeline
// and returns a channel that yields the write's
// terminal outcome.
type Queuer interface {
	Enqueue(ctx context.Context, b *Branch, req Request) <-chan error
}

// Coordinator routes writes per branch: direct path
// when the branch is idle, batched path otherwise or on
// request.
type Coordinator struct {
	reg     *Registry
	repoKey string
	fast    FastWriter
	queue   Queuer
	settle  time.Duration
}

// NewCoordinator wires a Coordinator for one repository
// handle. repoKey scopes branch records inside reg;
// settle is the grace period after a direct write
// before the branch tip is considered safe to read
// again.
func NewCoordinator(
	reg *Registry,
	repoKey string,
	fast FastWriter,
	queue Queuer,
	settle time.Duration,
) *Coordinator {
	return &Coordinator{
		reg:     reg,
		repoKey: repoKey,
		fast:    fast,
		queue:   queue,
		settle:  settle,
	}
}

// Branch returns the shared status record for the named
// branch.
func (c *Coordinator) Branch(name string) *Branch {
	return c.reg.Branch(c.repoKey + "#" + name)
}

// Submit routes one write. The decision is atomic with
// respect to other submissions on the same branch:
// an idle branch (and no forced queueing) takes the
// direct path, everything else joins the batched
// pipeline. Submit blocks until the write's terminal
// outcome.
func (c *Coordinator) Submit(
	ctx context.Context,
	req Request,
) error {
	b := c.Branch(req.Branch)

	if b.beginWrite(req.Queue) {
		slog.Debug(
			"write routed direct",
			"id", req.ID,
			"path", req.Path,
			"branch", req.Branch,
		)

		err := c.fast.WriteFast(ctx, req)

		// The settle delay respects the remote's
		// propagation lag before the branch tip is
		// re-read; the caller does not wait for it.
		go c.settleWrite(b)

		return err
	}

	slog.Debug(
		"write routed batched",
		"id", req.ID,
		"path", req.Path,
		"branch", req.Branch,
	)

	// Writes arriving while the branch is busy are
	// never dropped: they always join the batch.
	return <-c.queue.Enqueue(ctx, b, req)
}

// settleWrite waits out the settle delay, then clears
// the in-flight flag and resumes queued work at most
// once.
func (c *Coordinator) settleWrite(b *Branch) {
	if c.settle > 0 {
		time.Sleep(c.settle)
	}

	b.endWrite()
}
