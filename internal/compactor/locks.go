package compactor

import (
	"context"

	"github.com/puzpuzpuz/xsync/v3"
)

// Locks is a table of per-document mutexes. Acquisition honors context
// cancellation. The zero value is not usable; use NewLocks.
type Locks struct {
	sems *xsync.MapOf[string, chan struct{}]
}

func NewLocks() *Locks {
	return &Locks{sems: xsync.NewMapOf[string, chan struct{}]()}
}

// Lock blocks until the document's lock is held or ctx is done. The returned
// function releases it and must be called exactly once.
func (l *Locks) Lock(ctx context.Context, docID string) (unlock func(), err error) {
	sem, _ := l.sems.LoadOrCompute(docID, func() chan struct{} {
		return make(chan struct{}, 1)
	})

	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryLock acquires the document's lock if it is free.
func (l *Locks) TryLock(docID string) (unlock func(), ok bool) {
	sem, _ := l.sems.LoadOrCompute(docID, func() chan struct{} {
		return make(chan struct{}, 1)
	})

	select {
	case sem <- struct{}{}:
		return func() { <-sem }, true
	default:
		return nil, false
	}
}
