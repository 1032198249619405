package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docsync/internal/engine"
)

func TestSetEngine_MergeAndDiff(t *testing.T) {
	a := SetEngine{}.New()
	require.NoError(t, a.Merge(Delta("x", "y")))

	b := SetEngine{}.New()
	require.NoError(t, b.Merge(Delta("y")))

	diff, err := a.Diff(b.Summary())
	require.NoError(t, err)
	assert.JSONEq(t, `["x"]`, string(diff))

	require.NoError(t, b.Merge(diff))
	diff, err = a.Diff(b.Summary())
	require.NoError(t, err)
	assert.Nil(t, diff)
}

func TestSetEngine_RejectsPoisoned(t *testing.T) {
	doc := SetEngine{}.New()
	require.NoError(t, doc.Merge(Delta("ok")))

	err := doc.Merge(Delta("fine", "!bad"))
	assert.ErrorIs(t, err, engine.ErrMalformed)
	assert.Equal(t, []string{"ok"}, doc.(*SetDoc).Elems())

	_, err = SetEngine{}.Load([]byte("{"))
	assert.ErrorIs(t, err, engine.ErrMalformed)
}
