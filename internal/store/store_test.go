package store

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	// Verify file was created
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_OpensExistingDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	// Create database
	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open() failed: %v", err)
	}
	s1.Close()

	// Reopen database
	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open() failed: %v", err)
	}
	defer s2.Close()

	// Verify we can query it
	var count int
	err = s2.db.QueryRow("SELECT COUNT(*) FROM updates").Scan(&count)
	if err != nil {
		t.Errorf("query failed: %v", err)
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	// Open multiple times
	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	// Final open should work
	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	// Verify schema is intact
	tables := []string{"updates", "snapshots"}
	for _, table := range tables {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	// Try to open in non-existent directory
	path := "/nonexistent/dir/test.db"

	_, err := Open(path)
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{db: nil}
	err := s.Close()
	if err != nil {
		t.Errorf("Close() on nil db should not error: %v", err)
	}
}

func TestClose_MultipleCalls(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	// First close should succeed
	if err := s.Close(); err != nil {
		t.Errorf("first Close() failed: %v", err)
	}

	// Second close should not panic (though may error)
	// We just verify it doesn't panic
	_ = s.Close()
}

func TestDB_ReturnsUnderlyingConnection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	db := s.DB()
	if db == nil {
		t.Error("DB() returned nil")
	}

	// Verify it's usable
	if err := db.Ping(); err != nil {
		t.Errorf("DB() connection not usable: %v", err)
	}
}

// Pragma tests

func TestPragma_JournalMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if err := s.verifyPragma("journal_mode", "wal"); err != nil {
		t.Error(err)
	}
}

func TestPragma_Synchronous(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	// NORMAL = 1
	if err := s.verifyPragma("synchronous", "1"); err != nil {
		t.Error(err)
	}
}

func TestPragma_BusyTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if err := s.verifyPragma("busy_timeout", "5000"); err != nil {
		t.Error(err)
	}
}

func TestPragma_ForeignKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	// ON = 1
	if err := s.verifyPragma("foreign_keys", "1"); err != nil {
		t.Error(err)
	}
}

// Schema table tests

func TestSchema_UpdatesTable(t *testing.T) {
	s := createTestStore(t)

	columns := getTableColumns(t, s.db, "updates")

	expected := []string{"doc_id", "seq", "update_data", "origin", "received_at"}

	for _, col := range expected {
		if !contains(columns, col) {
			t.Errorf("updates table missing column %q", col)
		}
	}
}

func TestSchema_SnapshotsTable(t *testing.T) {
	s := createTestStore(t)

	columns := getTableColumns(t, s.db, "snapshots")

	expected := []string{"doc_id", "snapshot_data", "last_seq", "updated_at"}

	for _, col := range expected {
		if !contains(columns, col) {
			t.Errorf("snapshots table missing column %q", col)
		}
	}
}

func TestSchema_WritersTable(t *testing.T) {
	s := createTestStore(t)

	columns := getTableColumns(t, s.db, "writers")

	expected := []string{"doc_id", "client_id", "updated_at"}

	for _, col := range expected {
		if !contains(columns, col) {
			t.Errorf("writers table missing column %q", col)
		}
	}
}

func TestSchema_UpdatesIndexes(t *testing.T) {
	s := createTestStore(t)

	indexes := getTableIndexes(t, s.db, "updates")

	if !contains(indexes, "idx_updates_doc_seq") {
		t.Error("updates table missing index idx_updates_doc_seq")
	}
}

func TestSchema_UserVersion(t *testing.T) {
	s := createTestStore(t)

	if err := s.verifyPragma("user_version", "2"); err != nil {
		t.Error(err)
	}
}

// Constraint tests

func TestConstraint_SnapshotUniquePerDocument(t *testing.T) {
	s := createTestStore(t)

	_, err := s.db.Exec(`
		INSERT INTO snapshots (doc_id, snapshot_data, last_seq, updated_at)
		VALUES ('doc-1', x'01', 0, 0)
	`)
	if err != nil {
		t.Fatalf("failed to insert snapshot: %v", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO snapshots (doc_id, snapshot_data, last_seq, updated_at)
		VALUES ('doc-1', x'02', 1, 0)
	`)
	if err == nil {
		t.Error("expected PRIMARY KEY violation, got nil")
	}
}

func TestConstraint_SeqNeverReused(t *testing.T) {
	s := createTestStore(t)

	for i := 0; i < 3; i++ {
		if _, err := s.db.Exec(`
			INSERT INTO updates (doc_id, update_data, origin, received_at)
			VALUES ('doc-1', x'01', 'local', 0)
		`); err != nil {
			t.Fatalf("insert %d failed: %v", i, err)
		}
	}
	if _, err := s.db.Exec(`DELETE FROM updates`); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	res, err := s.db.Exec(`
		INSERT INTO updates (doc_id, update_data, origin, received_at)
		VALUES ('doc-1', x'01', 'local', 0)
	`)
	if err != nil {
		t.Fatalf("insert after delete failed: %v", err)
	}
	seq, _ := res.LastInsertId()
	if seq != 4 {
		t.Errorf("seq after delete = %d, want 4 (AUTOINCREMENT must not reuse)", seq)
	}
}

// Helpers

func getTableColumns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		t.Fatalf("failed to get table info for %q: %v", table, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			t.Fatalf("failed to scan column info: %v", err)
		}
		columns = append(columns, name)
	}
	return columns
}

func getTableIndexes(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type='index' AND tbl_name=?", table)
	if err != nil {
		t.Fatalf("failed to get indexes for %q: %v", table, err)
	}
	defer rows.Close()

	var indexes []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("failed to scan index name: %v", err)
		}
		indexes = append(indexes, name)
	}
	return indexes
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
