package commitmsg_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byte4ever/hubfs/commitmsg"
)

func TestFormat_default_layout(t *testing.T) {
	t.Parallel()

	f := commitmsg.Default()

	msg := f.Format([]commitmsg.Entry{
		{Path: "docs/a.md", Message: "add intro"},
		{Path: "docs/b.md", Message: "add outro"},
	})

	assert.Equal(
		t,
		"Added new files\n\n"+
			"docs/a.md: add intro\n"+
			"docs/b.md: add outro\n",
		msg,
	)
}

func TestFormat_empty_batch_is_header_only(t *testing.T) {
	t.Parallel()

	f := commitmsg.Default()

	assert.Equal(
		t, commitmsg.DefaultHeader, f.Format(nil),
	)
}

func TestNew_custom_template(t *testing.T) {
	t.Parallel()

	f, err := commitmsg.New(
		"Batch update\n\n",
		"* {{path}}\n",
	)
	require.NoError(t, err)

	msg := f.Format([]commitmsg.Entry{
		{Path: "x.txt", Message: "ignored"},
	})

	assert.Equal(t, "Batch update\n\n* x.txt\n", msg)
}

func TestNew_unterminated_placeholder(t *testing.T) {
	t.Parallel()

	f, err := commitmsg.New("h\n", "{{path")

	assert.Nil(t, f)
	assert.ErrorContains(t, err, "entry template")
}
