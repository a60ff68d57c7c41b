package convert

import (
	"context"
	"fmt"

	"github.com/gammazero/workerpool"

	"github.com/byte4ever/hubfs/store"
)

// DefaultWorkers is the default conversion concurrency
// ceiling.
const DefaultWorkers = 50

// Converter creates blobs on a bounded worker pool.
type Converter struct {
	tw   store.TreeWriter
	pool *workerpool.WorkerPool
}

// New returns a Converter creating blobs through tw
// with at most workers in-flight conversions. workers
// <= 0 selects DefaultWorkers.
func New(tw store.TreeWriter, workers int) *Converter {
	if workers <= 0 {
		workers = DefaultWorkers
	}

	return &Converter{
		tw:   tw,
		pool: workerpool.New(workers),
	}
}

// Convert stores content as a blob and returns the tree
// entry naming it. It blocks until a pool slot served
// the conversion.
func (c *Converter) Convert(
	ctx context.Context,
	path string,
	content []byte,
) (store.BlobEntry, error) {
	const errCtx = "converting content to blob"

	type result struct {
		sha string
		err error
	}

	resc := make(chan result, 1)

	c.pool.Submit(func() {
		sha, err := c.tw.CreateBlob(ctx, content)
		resc <- result{sha: sha, err: err}
	})

	res := <-resc
	if res.err != nil {
		return store.BlobEntry{}, fmt.Errorf(
			"%s: %w", errCtx, res.err,
		)
	}

	return store.BlobEntry{
		Path: path,
		SHA:  res.sha,
	}, nil
}

// Stop drains the pool and releases its workers.
// Pending conversions complete first.
func (c *Converter) Stop() {
	c.pool.StopWait()
}
