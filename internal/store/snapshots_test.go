package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docsync/internal/failure"
)

func TestGetSnapshot_Absent(t *testing.T) {
	s := createTestStore(t)

	rec, found, err := s.GetSnapshot(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, int64(0), rec.Watermark)
	assert.Empty(t, rec.State)
}

func TestUpsertSnapshot_CreateThenReplace(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertSnapshot(ctx, "doc-1", []byte("v1"), 3))
	require.NoError(t, s.UpsertSnapshot(ctx, "doc-1", []byte("v2"), 7))

	rec, found, err := s.GetSnapshot(ctx, "doc-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("v2"), rec.State)
	assert.Equal(t, int64(7), rec.Watermark)
	assert.Equal(t, fixedNow.UnixMilli(), rec.UpdatedAt.UnixMilli())
}

func TestUpsertSnapshot_EmptyState(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertSnapshot(ctx, "doc-1", nil, 0))

	rec, found, err := s.GetSnapshot(ctx, "doc-1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Empty(t, rec.State)
}

func TestCommitCompaction_ReplacesAndTruncates(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	var seqs []int64
	for i := 0; i < 3; i++ {
		seq, err := s.AppendUpdate(ctx, "doc-1", []byte{byte(i + 1)}, OriginLocal)
		require.NoError(t, err)
		seqs = append(seqs, seq)
	}

	deleted, err := s.CommitCompaction(ctx, "doc-1", []byte("folded"), seqs[1])
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	snap, pending, err := s.LoadDurable(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("folded"), snap.State)
	assert.Equal(t, seqs[1], snap.Watermark)
	require.Len(t, pending, 1)
	assert.Equal(t, seqs[2], pending[0].Seq)
}

func TestCommitCompaction_RefusesWatermarkRegression(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertSnapshot(ctx, "doc-1", []byte("at-5"), 5))

	_, err := s.CommitCompaction(ctx, "doc-1", []byte("at-2"), 2)
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.CompactionFailed))

	rec, _, err := s.GetSnapshot(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("at-5"), rec.State)
	assert.Equal(t, int64(5), rec.Watermark)
}

func TestInitDocument_ResetsLogAndSnapshot(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := s.AppendUpdate(ctx, "doc-1", []byte{1}, OriginLocal)
		require.NoError(t, err)
	}
	require.NoError(t, s.UpsertSnapshot(ctx, "doc-1", []byte("old"), 1))

	seq, err := s.InitDocument(ctx, "doc-1", []byte("seed"), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(0), seq)

	snap, pending, err := s.LoadDurable(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("seed"), snap.State)
	assert.Equal(t, int64(0), snap.Watermark)
	assert.Empty(t, pending)

	next, err := s.AppendUpdate(ctx, "doc-1", []byte{2}, OriginLocal)
	require.NoError(t, err)
	assert.Greater(t, next, snap.Watermark)
}

func TestWriter_RecordedByInitDocument(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, found, err := s.Writer(ctx, "doc-1")
	require.NoError(t, err)
	assert.False(t, found)

	_, err = s.InitDocument(ctx, "doc-1", []byte("seed"), 7)
	require.NoError(t, err)
	client, found, err := s.Writer(ctx, "doc-1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, uint64(7), client)

	_, err = s.InitDocument(ctx, "doc-1", []byte("seed"), 1<<32|7)
	require.NoError(t, err)
	client, _, err = s.Writer(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1<<32|7), client)

	_, found, err = s.Writer(ctx, "doc-2")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestLoadDurable_ResidualAboveWatermark(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	seq1, err := s.AppendUpdate(ctx, "doc-1", []byte("a"), OriginLocal)
	require.NoError(t, err)
	require.NoError(t, s.UpsertSnapshot(ctx, "doc-1", []byte("snap"), seq1))
	seq2, err := s.AppendUpdate(ctx, "doc-1", []byte("b"), OriginRemote)
	require.NoError(t, err)

	snap, pending, err := s.LoadDurable(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, seq1, snap.Watermark)
	require.Len(t, pending, 1)
	assert.Equal(t, seq2, pending[0].Seq)
}

func TestStats(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	seq1, err := s.AppendUpdate(ctx, "doc-1", []byte("abc"), OriginLocal)
	require.NoError(t, err)
	_, err = s.CommitCompaction(ctx, "doc-1", []byte("snapshot"), seq1)
	require.NoError(t, err)
	seq2, err := s.AppendUpdate(ctx, "doc-1", []byte("de"), OriginLocal)
	require.NoError(t, err)

	st, err := s.Stats(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, seq1, st.Watermark)
	assert.Equal(t, len("snapshot"), st.SnapshotBytes)
	assert.Equal(t, 1, st.PendingUpdates)
	assert.Equal(t, int64(2), st.PendingBytes)
	assert.Equal(t, seq2, st.MaxSeq)
}
