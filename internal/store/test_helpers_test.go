package store

import (
	"path/filepath"
	"testing"
	"time"
)

// fixedNow is the wall clock used by test stores.
var fixedNow = time.UnixMilli(1_700_000_000_000)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithNow(func() time.Time { return fixedNow }))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}
