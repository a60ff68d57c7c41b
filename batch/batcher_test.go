package batch_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byte4ever/hubfs/batch"
	"github.com/byte4ever/hubfs/commitmsg"
	"github.com/byte4ever/hubfs/convert"
	"github.com/byte4ever/hubfs/coord"
	"github.com/byte4ever/hubfs/store"
	"github.com/byte4ever/hubfs/store/storetest"
)

// batchOnly narrows an InMemory store to the native
// multi-file commit surface, hiding its tree writer.
type batchOnly struct {
	inner *storetest.InMemory
}

func (b batchOnly) Key() string { return b.inner.Key() }

func (b batchOnly) GetRef(
	ctx context.Context, branch string,
) (store.Ref, error) {
	return b.inner.GetRef(ctx, branch)
}

func (b batchOnly) ListTree(
	ctx context.Context, sha string,
) ([]store.TreeEntry, error) {
	return b.inner.ListTree(ctx, sha)
}

func (b batchOnly) PathMeta(
	ctx context.Context, path, ref string,
) (store.TreeEntry, error) {
	return b.inner.PathMeta(ctx, path, ref)
}

func (b batchOnly) ReadPath(
	ctx context.Context, path, ref string,
) ([]byte, error) {
	return b.inner.ReadPath(ctx, path, ref)
}

func (b batchOnly) ReadBlob(
	ctx context.Context, sha string,
) ([]byte, error) {
	return b.inner.ReadBlob(ctx, sha)
}

func (b batchOnly) CreateFile(
	ctx context.Context,
	path string,
	content []byte,
	message, branch string,
) error {
	return b.inner.CreateFile(
		ctx, path, content, message, branch,
	)
}

func (b batchOnly) UpdateFile(
	ctx context.Context,
	path string,
	content []byte,
	message, branch, sha string,
) error {
	return b.inner.UpdateFile(
		ctx, path, content, message, branch, sha,
	)
}

func (b batchOnly) CommitFiles(
	ctx context.Context,
	branch, message string,
	changes []store.FileChange,
) error {
	return b.inner.CommitFiles(
		ctx, branch, message, changes,
	)
}

// treeBatcher wires a Batcher over an InMemory store's
// git-data surface with test-friendly timings.
func treeBatcher(
	t *testing.T,
	st *storetest.InMemory,
	size int,
	window time.Duration,
) *batch.Batcher {
	t.Helper()

	conv := convert.New(st, 4)
	t.Cleanup(conv.Stop)

	bt, err := batch.New(batch.Config{
		Store:     st,
		Converter: conv,
		Size:      size,
		Window:    window,
	})
	require.NoError(t, err)

	return bt
}

func enqueue(
	bt *batch.Batcher,
	b *coord.Branch,
	path, content string,
	createOnly bool,
) <-chan error {
	return bt.Enqueue(
		context.Background(), b, coord.Request{
			Path:       path,
			Content:    []byte(content),
			Message:    "add " + path,
			Branch:     storetest.DefaultBranch,
			CreateOnly: createOnly,
		},
	)
}

func TestNew_requires_store(t *testing.T) {
	t.Parallel()

	bt, err := batch.New(batch.Config{})

	assert.Nil(t, bt)
	assert.ErrorContains(t, err, "store must be set")
}

func TestNew_tree_writer_requires_converter(t *testing.T) {
	t.Parallel()

	bt, err := batch.New(batch.Config{
		Store: storetest.NewInMemory(),
	})

	assert.Nil(t, bt)
	assert.ErrorContains(t, err, "converter")
}

func TestNew_rejects_read_only_store(t *testing.T) {
	t.Parallel()

	// Embedding the interface hides the write
	// capabilities of the concrete store.
	var st store.Store = struct{ store.Store }{
		Store: storetest.NewInMemory(),
	}

	bt, err := batch.New(batch.Config{Store: st})

	assert.Nil(t, bt)
	assert.ErrorContains(t, err, "neither")
}

func TestEnqueue_single_entry_commits(t *testing.T) {
	t.Parallel()

	st := storetest.NewInMemory()
	bt := treeBatcher(t, st, 20, 20*time.Millisecond)
	b := coord.NewRegistry().Branch("k")

	done := enqueue(bt, b, "a.txt", "alpha", false)

	require.NoError(t, <-done)

	content, err := st.ReadPath(
		context.Background(),
		"a.txt",
		storetest.DefaultBranch,
	)
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(content))

	// Seed commit plus one batch commit.
	assert.Equal(
		t, 2, st.CommitCount(storetest.DefaultBranch),
	)

	msgs := st.Messages(storetest.DefaultBranch)
	require.NotEmpty(t, msgs)
	assert.True(t, strings.HasPrefix(
		msgs[0], commitmsg.DefaultHeader,
	))
	assert.Contains(t, msgs[0], "a.txt: add a.txt")
}

func TestEnqueue_size_threshold_closes_batch(t *testing.T) {
	t.Parallel()

	st := storetest.NewInMemory()

	// The window is far longer than the test: only
	// the size threshold can close a batch. Four
	// entries fill two batches; the second opens
	// cleanly after the first commits.
	bt := treeBatcher(t, st, 2, time.Minute)
	b := coord.NewRegistry().Branch("k")

	dones := []<-chan error{
		enqueue(bt, b, "a.txt", "1", false),
		enqueue(bt, b, "b.txt", "2", false),
		enqueue(bt, b, "c.txt", "3", false),
		enqueue(bt, b, "d.txt", "4", false),
	}

	for _, done := range dones {
		require.NoError(t, <-done)
	}

	assert.Equal(
		t, 3, st.CommitCount(storetest.DefaultBranch),
	)

	for _, path := range []string{
		"a.txt", "b.txt", "c.txt", "d.txt",
	} {
		_, err := st.ReadPath(
			context.Background(),
			path,
			storetest.DefaultBranch,
		)
		assert.NoError(t, err, path)
	}
}

func TestEnqueue_idle_window_closes_batch(t *testing.T) {
	t.Parallel()

	st := storetest.NewInMemory()
	bt := treeBatcher(t, st, 100, 20*time.Millisecond)
	b := coord.NewRegistry().Branch("k")

	first := enqueue(bt, b, "a.txt", "1", false)
	second := enqueue(bt, b, "b.txt", "2", false)

	require.NoError(t, <-first)
	require.NoError(t, <-second)

	// Both entries landed in one commit.
	assert.Equal(
		t, 2, st.CommitCount(storetest.DefaultBranch),
	)
}

func TestEnqueue_failed_batch_fails_all_entries(t *testing.T) {
	t.Parallel()

	st := storetest.NewInMemory()
	bt := treeBatcher(t, st, 100, 20*time.Millisecond)
	b := coord.NewRegistry().Branch("k")

	boom := errors.New("boom")
	st.FailNext("update ref", boom)

	first := enqueue(bt, b, "a.txt", "1", false)
	second := enqueue(bt, b, "b.txt", "2", false)

	assert.ErrorIs(t, <-first, boom)
	assert.ErrorIs(t, <-second, boom)

	// The ref never moved.
	assert.Equal(
		t, 1, st.CommitCount(storetest.DefaultBranch),
	)
}

func TestEnqueue_conversion_failure_is_isolated(t *testing.T) {
	t.Parallel()

	st := storetest.NewInMemory()
	bt := treeBatcher(t, st, 100, 20*time.Millisecond)
	b := coord.NewRegistry().Branch("k")

	boom := errors.New("boom")
	st.FailNext("create blob", boom)

	first := enqueue(bt, b, "a.txt", "1", false)

	assert.ErrorIs(t, <-first, boom)

	// The queue recovers for later writes.
	second := enqueue(bt, b, "b.txt", "2", false)

	require.NoError(t, <-second)
	assert.Equal(
		t, 2, st.CommitCount(storetest.DefaultBranch),
	)
}

func TestEnqueue_create_only_fails_single_entry(t *testing.T) {
	t.Parallel()

	st := storetest.NewInMemory()

	require.NoError(t, st.CreateFile(
		context.Background(),
		"taken.txt",
		[]byte("existing"),
		"seed",
		storetest.DefaultBranch,
	))

	bt := treeBatcher(t, st, 100, 20*time.Millisecond)
	b := coord.NewRegistry().Branch("k")

	conflicting := enqueue(
		bt, b, "taken.txt", "new", true,
	)
	fresh := enqueue(bt, b, "free.txt", "ok", true)

	err := <-conflicting

	assert.True(t, store.IsConflict(err))
	require.NoError(t, <-fresh)

	// The conflicting content never replaced the
	// existing file.
	content, rerr := st.ReadPath(
		context.Background(),
		"taken.txt",
		storetest.DefaultBranch,
	)
	require.NoError(t, rerr)
	assert.Equal(t, "existing", string(content))
}

func TestEnqueue_batch_writer_path(t *testing.T) {
	t.Parallel()

	inner := storetest.NewInMemory()

	bt, err := batch.New(batch.Config{
		Store:  batchOnly{inner: inner},
		Size:   100,
		Window: 20 * time.Millisecond,
	})
	require.NoError(t, err)

	b := coord.NewRegistry().Branch("k")

	first := enqueue(bt, b, "a.txt", "1", false)
	second := enqueue(bt, b, "b.txt", "2", false)

	require.NoError(t, <-first)
	require.NoError(t, <-second)

	// One native multi-file commit holds both files.
	assert.Equal(
		t, 2,
		inner.CommitCount(storetest.DefaultBranch),
	)

	msgs := inner.Messages(storetest.DefaultBranch)
	require.NotEmpty(t, msgs)
	assert.True(t, strings.HasPrefix(
		msgs[0], commitmsg.DefaultHeader,
	))
}
