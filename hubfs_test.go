package hubfs_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byte4ever/hubfs"
	"github.com/byte4ever/hubfs/store/storetest"
)

// open returns a handle with timings short enough for
// tests. The store key is unique per test so parallel
// tests never share branch state in the process-wide
// registry.
func open(
	t *testing.T,
	mem *storetest.InMemory,
	opts ...hubfs.Option,
) *hubfs.Repo {
	t.Helper()

	opts = append([]hubfs.Option{
		hubfs.WithSettleDelay(5 * time.Millisecond),
		hubfs.WithBatchWindow(15 * time.Millisecond),
	}, opts...)

	r, err := hubfs.New(mem, opts...)
	require.NoError(t, err)

	t.Cleanup(r.Close)

	return r
}

func newStore(t *testing.T) *storetest.InMemory {
	t.Helper()

	return storetest.NewInMemory(
		storetest.WithKey("storetest/" + t.Name()),
	)
}

func TestNew_requires_store(t *testing.T) {
	t.Parallel()

	r, err := hubfs.New(nil)

	assert.Nil(t, r)
	assert.ErrorContains(t, err, "store must be set")
}

func TestWrite_then_read_round_trip(t *testing.T) {
	t.Parallel()

	r := open(t, newStore(t))
	ctx := context.Background()

	require.NoError(t, r.WriteString(
		ctx, "docs/readme.md", "# hubfs",
	))

	got, err := r.ReadString(ctx, "docs/readme.md")

	require.NoError(t, err)
	assert.Equal(t, "# hubfs", got)
}

func TestWrite_normalizes_leading_separator(t *testing.T) {
	t.Parallel()

	r := open(t, newStore(t))
	ctx := context.Background()

	require.NoError(t, r.WriteString(
		ctx, "/dir/a.txt", "alpha",
	))

	got, err := r.ReadString(ctx, "dir/a.txt")

	require.NoError(t, err)
	assert.Equal(t, "alpha", got)
}

func TestWrite_empty_path_rejected(t *testing.T) {
	t.Parallel()

	r := open(t, newStore(t))

	err := r.WriteString(context.Background(), "/", "x")

	assert.ErrorContains(t, err, "path must be set")
}

func TestWrite_overwrites_existing_file(t *testing.T) {
	t.Parallel()

	mem := newStore(t)
	r := open(t, mem)
	ctx := context.Background()

	require.NoError(t, r.WriteString(
		ctx, "a.txt", "v1",
	))

	// Let the first write settle so the second takes
	// the direct path and hits the create conflict.
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, r.WriteString(
		ctx, "a.txt", "v2",
	))

	got, err := r.ReadString(ctx, "a.txt")

	require.NoError(t, err)
	assert.Equal(t, "v2", got)

	// Seed commit plus one commit per write.
	assert.Equal(
		t, 3,
		mem.CommitCount(storetest.DefaultBranch),
	)
}

func TestWrite_create_only_conflict(t *testing.T) {
	t.Parallel()

	r := open(t, newStore(t))
	ctx := context.Background()

	require.NoError(t, r.WriteString(
		ctx, "a.txt", "v1",
	))

	time.Sleep(20 * time.Millisecond)

	err := r.WriteString(
		ctx, "a.txt", "v2", hubfs.CreateOnly(),
	)

	assert.True(t, hubfs.IsConflict(err))

	got, rerr := r.ReadString(ctx, "a.txt")

	require.NoError(t, rerr)
	assert.Equal(t, "v1", got)
}

func TestWrite_concurrent_distinct_paths(t *testing.T) {
	t.Parallel()

	mem := newStore(t)
	r := open(t, mem)
	ctx := context.Background()

	const n = 20

	var wg sync.WaitGroup

	errs := make([]error, n)
	wg.Add(n)

	for i := range n {
		go func() {
			defer wg.Done()

			errs[i] = r.WriteString(
				ctx,
				fmt.Sprintf("f/%02d.txt", i),
				fmt.Sprintf("content %d", i),
			)
		}()
	}

	wg.Wait()

	for i := range n {
		require.NoError(t, errs[i], i)
	}

	for i := range n {
		got, err := r.ReadString(
			ctx, fmt.Sprintf("f/%02d.txt", i),
		)

		require.NoError(t, err)
		assert.Equal(
			t, fmt.Sprintf("content %d", i), got,
		)
	}

	// At most one direct write; everything else was
	// batched, so far fewer commits than writes.
	assert.Less(
		t,
		mem.CommitCount(storetest.DefaultBranch),
		n+1,
	)
}

func TestWrite_queued_batches_idle_branch(t *testing.T) {
	t.Parallel()

	mem := newStore(t)
	// A long window makes the size threshold the only
	// way the batch can close.
	r := open(t, mem,
		hubfs.WithBatchSize(2),
		hubfs.WithBatchWindow(10*time.Second),
	)
	ctx := context.Background()

	var wg sync.WaitGroup

	errs := make([]error, 2)
	wg.Add(2)

	for i := range 2 {
		go func() {
			defer wg.Done()

			errs[i] = r.WriteString(
				ctx,
				fmt.Sprintf("q/%d.txt", i),
				"queued",
				hubfs.Queued(),
			)
		}()
	}

	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	// Seed commit plus exactly one batch commit.
	assert.Equal(
		t, 2,
		mem.CommitCount(storetest.DefaultBranch),
	)
}

func TestWrite_cross_handle_serialization(t *testing.T) {
	t.Parallel()

	mem := newStore(t)

	// Two independent handles on the same repository
	// share the process-wide registry through the
	// store key.
	first := open(t, mem)
	second := open(t, mem)

	ctx := context.Background()

	var wg sync.WaitGroup

	const n = 8

	errs := make([]error, 2*n)
	wg.Add(2 * n)

	for i := range n {
		go func() {
			defer wg.Done()

			errs[i] = first.WriteString(
				ctx,
				fmt.Sprintf("x/%d.txt", i),
				"from first",
			)
		}()

		go func() {
			defer wg.Done()

			errs[n+i] = second.WriteString(
				ctx,
				fmt.Sprintf("y/%d.txt", i),
				"from second",
			)
		}()
	}

	wg.Wait()

	for i := range 2 * n {
		require.NoError(t, errs[i], i)
	}

	// No write was lost to a concurrent ref update.
	for i := range n {
		_, err := first.Read(
			ctx, fmt.Sprintf("x/%d.txt", i),
		)
		assert.NoError(t, err)

		_, err = second.Read(
			ctx, fmt.Sprintf("y/%d.txt", i),
		)
		assert.NoError(t, err)
	}
}

func TestRead_missing_file(t *testing.T) {
	t.Parallel()

	r := open(t, newStore(t))

	_, err := r.Read(
		context.Background(), "absent.txt",
	)

	assert.True(t, hubfs.IsNotFound(err))
}

func TestRead_missing_branch(t *testing.T) {
	t.Parallel()

	r := open(t, newStore(t))

	_, err := r.Read(
		context.Background(),
		"a.txt",
		hubfs.AtRef("no-such-branch"),
	)

	assert.True(t, hubfs.IsInvalidRepo(err))
}

func TestRead_large_file_via_blob(t *testing.T) {
	t.Parallel()

	mem := storetest.NewInMemory(
		storetest.WithKey("storetest/"+t.Name()),
		storetest.WithMaxContentSize(8),
	)
	r := open(t, mem)
	ctx := context.Background()

	// Oversized content cannot go through the
	// single-call write; the batched pipeline stores
	// it as a blob.
	big := "well past the contents ceiling"

	require.NoError(t, r.WriteString(
		ctx, "big.bin", big, hubfs.Queued(),
	))

	got, err := r.ReadString(ctx, "big.bin")

	require.NoError(t, err)
	assert.Equal(t, big, got)
}

func TestRead_blob_cache_hit(t *testing.T) {
	t.Parallel()

	mem := storetest.NewInMemory(
		storetest.WithKey("storetest/"+t.Name()),
		storetest.WithMaxContentSize(8),
	)
	r := open(t, mem)
	ctx := context.Background()

	big := "cached oversized content"

	require.NoError(t, r.WriteString(
		ctx, "big.bin", big, hubfs.Queued(),
	))

	first, err := r.ReadString(ctx, "big.bin")
	require.NoError(t, err)
	require.Equal(t, big, first)

	// The blob endpoint failing is invisible when
	// the content is already cached.
	mem.FailNext("read blob", errors.New("boom"))

	second, err := r.ReadString(ctx, "big.bin")

	require.NoError(t, err)
	assert.Equal(t, big, second)
}

func TestRead_at_commit_sha(t *testing.T) {
	t.Parallel()

	mem := newStore(t)
	r := open(t, mem)
	ctx := context.Background()

	require.NoError(t, r.WriteString(
		ctx, "a.txt", "v1",
	))

	tip, err := mem.GetRef(
		ctx, storetest.DefaultBranch,
	)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	require.NoError(t, r.WriteString(
		ctx, "a.txt", "v2",
	))

	got, err := r.ReadString(
		ctx, "a.txt", hubfs.AtRef(tip.CommitSHA),
	)

	require.NoError(t, err)
	assert.Equal(t, "v1", got)
}

func TestStat_returns_metadata(t *testing.T) {
	t.Parallel()

	r := open(t, newStore(t))
	ctx := context.Background()

	content := "stat me"

	require.NoError(t, r.WriteString(
		ctx, "s.txt", content,
	))

	info, err := r.Stat(ctx, "s.txt")

	require.NoError(t, err)
	assert.Equal(t, "s.txt", info.Path)
	assert.Equal(
		t,
		storetest.BlobSHA([]byte(content)),
		info.SHA,
	)
	assert.Equal(t, int64(len(content)), info.Size)
}

func TestStat_large_file_via_walk(t *testing.T) {
	t.Parallel()

	mem := storetest.NewInMemory(
		storetest.WithKey("storetest/"+t.Name()),
		storetest.WithMaxContentSize(8),
	)
	r := open(t, mem)
	ctx := context.Background()

	big := "metadata beyond the ceiling"

	require.NoError(t, r.WriteString(
		ctx, "big.bin", big, hubfs.Queued(),
	))

	info, err := r.Stat(ctx, "big.bin")

	require.NoError(t, err)
	assert.Equal(t, int64(len(big)), info.Size)
}

func TestStat_missing_file(t *testing.T) {
	t.Parallel()

	r := open(t, newStore(t))

	_, err := r.Stat(
		context.Background(), "absent.txt",
	)

	assert.True(t, hubfs.IsNotFound(err))
}

func TestWrite_message_appears_in_history(t *testing.T) {
	t.Parallel()

	mem := newStore(t)
	r := open(t, mem)
	ctx := context.Background()

	require.NoError(t, r.WriteString(
		ctx, "a.txt", "v1",
		hubfs.WithMessage("seed the file"),
	))

	msgs := mem.Messages(storetest.DefaultBranch)

	require.NotEmpty(t, msgs)
	assert.Equal(t, "seed the file", msgs[0])
}

func TestWrite_on_branch_option(t *testing.T) {
	t.Parallel()

	r := open(t, newStore(t))

	err := r.WriteString(
		context.Background(),
		"a.txt",
		"v1",
		hubfs.OnBranch("no-such-branch"),
	)

	assert.True(t, hubfs.IsInvalidRepo(err))
}
