package compactor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocks_ExclusivePerDocument(t *testing.T) {
	l := NewLocks()
	ctx := context.Background()

	unlockA, err := l.Lock(ctx, "a")
	require.NoError(t, err)

	_, ok := l.TryLock("a")
	assert.False(t, ok)

	// Other documents are independent.
	unlockB, ok := l.TryLock("b")
	require.True(t, ok)
	unlockB()

	unlockA()
	unlockA2, ok := l.TryLock("a")
	require.True(t, ok)
	unlockA2()
}

func TestLocks_WaiterProceedsAfterUnlock(t *testing.T) {
	l := NewLocks()
	unlock, err := l.Lock(context.Background(), "a")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		u, err := l.Lock(context.Background(), "a")
		if err == nil {
			u()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second Lock returned while the first was held")
	case <-time.After(20 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second Lock never acquired")
	}
}

func TestLocks_CancelledContext(t *testing.T) {
	l := NewLocks()
	unlock, err := l.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Lock(ctx, "a")
	assert.ErrorIs(t, err, context.Canceled)
}
