package gitlab_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byte4ever/hubfs/store"
	glstore "github.com/byte4ever/hubfs/store/gitlab"
)

func TestNew_valid(t *testing.T) {
	t.Parallel()

	st, err := glstore.New(glstore.Config{
		Project:     "org/project",
		AccessToken: "tok",
	})

	require.NoError(t, err)
	assert.NotNil(t, st)
	assert.Equal(
		t, "gitlab.com/org/project", st.Key(),
	)
}

func TestNew_missing_project(t *testing.T) {
	t.Parallel()

	st, err := glstore.New(glstore.Config{
		AccessToken: "tok",
	})

	assert.Nil(t, st)
	assert.ErrorContains(t, err, "project")
}

func TestNew_missing_token(t *testing.T) {
	t.Parallel()

	st, err := glstore.New(glstore.Config{
		Project: "org/project",
	})

	assert.Nil(t, st)
	assert.ErrorContains(t, err, "access token")
}

func TestNew_self_hosted_key(t *testing.T) {
	t.Parallel()

	st, err := glstore.New(glstore.Config{
		Host:        "https://git.corp.example.com",
		Project:     "org/project",
		AccessToken: "tok",
	})

	require.NoError(t, err)
	assert.Equal(
		t,
		"git.corp.example.com/org/project",
		st.Key(),
	)
}

func TestStore_is_batch_writer(t *testing.T) {
	t.Parallel()

	st, err := glstore.New(glstore.Config{
		Project:     "org/project",
		AccessToken: "tok",
	})
	require.NoError(t, err)

	var iface any = st

	_, isBatch := iface.(store.BatchWriter)
	_, isTree := iface.(store.TreeWriter)

	assert.True(t, isBatch)
	assert.False(t, isTree)
}
