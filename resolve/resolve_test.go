package resolve_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byte4ever/hubfs/resolve"
	"github.com/byte4ever/hubfs/store"
	"github.com/byte4ever/hubfs/store/storetest"
)

func seed(
	t *testing.T,
	st *storetest.InMemory,
	path, content string,
) string {
	t.Helper()

	require.NoError(t, st.CreateFile(
		context.Background(),
		path,
		[]byte(content),
		"seed "+path,
		storetest.DefaultBranch,
	))

	return storetest.BlobSHA([]byte(content))
}

func TestResolve_uses_path_metadata(t *testing.T) {
	t.Parallel()

	st := storetest.NewInMemory()
	want := seed(t, st, "a.txt", "alpha")

	r := resolve.New(st)

	sha, err := r.Resolve(
		context.Background(),
		"a.txt",
		storetest.DefaultBranch,
	)

	require.NoError(t, err)
	assert.Equal(t, want, sha)
}

func TestResolve_walks_when_metadata_too_large(t *testing.T) {
	t.Parallel()

	st := storetest.NewInMemory(
		storetest.WithMaxContentSize(4),
	)

	// Seed through the multi-file commit, which has
	// no contents-API size ceiling.
	content := []byte("way past the limit")
	require.NoError(t, st.CommitFiles(
		context.Background(),
		storetest.DefaultBranch,
		"seed big.bin",
		[]store.FileChange{
			{Path: "big.bin", Content: content},
		},
	))

	want := storetest.BlobSHA(content)

	r := resolve.New(st)

	sha, err := r.Resolve(
		context.Background(),
		"big.bin",
		storetest.DefaultBranch,
	)

	require.NoError(t, err)
	assert.Equal(t, want, sha)
}

func TestResolve_missing_path(t *testing.T) {
	t.Parallel()

	st := storetest.NewInMemory()
	r := resolve.New(st)

	_, err := r.Resolve(
		context.Background(),
		"absent.txt",
		storetest.DefaultBranch,
	)

	assert.True(t, store.IsNotFound(err))
}

func TestResolve_missing_branch(t *testing.T) {
	t.Parallel()

	st := storetest.NewInMemory()
	r := resolve.New(st)

	_, err := r.Resolve(
		context.Background(), "a.txt", "no-such",
	)

	assert.True(t, store.IsInvalidRepo(err))
}

func TestLookup_returns_full_entry(t *testing.T) {
	t.Parallel()

	st := storetest.NewInMemory()
	want := seed(t, st, "dir/nested.txt", "nested")

	r := resolve.New(st)

	e, err := r.Lookup(
		context.Background(),
		"dir/nested.txt",
		storetest.DefaultBranch,
	)

	require.NoError(t, err)
	assert.Equal(t, "dir/nested.txt", e.Path)
	assert.Equal(t, want, e.SHA)
	assert.Equal(t, int64(len("nested")), e.Size)
}

func TestLookup_at_commit_sha(t *testing.T) {
	t.Parallel()

	st := storetest.NewInMemory()
	first := seed(t, st, "a.txt", "v1")

	tip, err := st.GetRef(
		context.Background(), storetest.DefaultBranch,
	)
	require.NoError(t, err)

	// Overwrite the file; the old commit still
	// resolves to the old content identifier.
	require.NoError(t, st.UpdateFile(
		context.Background(),
		"a.txt",
		[]byte("v2"),
		"update",
		storetest.DefaultBranch,
		first,
	))

	r := resolve.New(st)

	e, lerr := r.Lookup(
		context.Background(), "a.txt", tip.CommitSHA,
	)

	require.NoError(t, lerr)
	assert.Equal(t, first, e.SHA)
}
