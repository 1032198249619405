package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/docsync/internal/failure"
)

// GetSnapshot returns the document's snapshot. When none exists it returns
// found=false and a zero record with Watermark 0 and no state.
func (s *Store) GetSnapshot(ctx context.Context, docID string) (rec SnapshotRecord, found bool, err error) {
	rec, found, err = getSnapshot(ctx, s.db, docID)
	if err != nil {
		return SnapshotRecord{DocID: docID}, false, failure.ForDoc(failure.StorageUnavailable, "get snapshot", docID, err)
	}
	return rec, found, nil
}

// UpsertSnapshot creates or fully replaces the document's snapshot in a
// single statement; a partially written record is never visible.
func (s *Store) UpsertSnapshot(ctx context.Context, docID string, state []byte, watermark int64) error {
	if err := upsertSnapshot(ctx, s.db, docID, state, watermark, s.nowMillis()); err != nil {
		return failure.ForDoc(failure.StorageUnavailable, "upsert snapshot", docID, err)
	}
	return nil
}

// CommitCompaction atomically replaces the snapshot with (state, watermark)
// and deletes every log entry with seq <= watermark. Returns the number of
// deleted entries.
//
// A watermark lower than the stored one is refused with
// failure.CompactionFailed and nothing is written.
func (s *Store) CommitCompaction(ctx context.Context, docID string, state []byte, watermark int64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, failure.ForDoc(failure.StorageUnavailable, "commit compaction: begin tx", docID, err)
	}
	defer tx.Rollback() // No-op if committed

	current, found, err := getSnapshot(ctx, tx, docID)
	if err != nil {
		return 0, failure.ForDoc(failure.StorageUnavailable, "commit compaction: read snapshot", docID, err)
	}
	if found && current.Watermark > watermark {
		return 0, failure.ForDoc(failure.CompactionFailed, "commit compaction", docID,
			fmt.Errorf("watermark regression: %d < %d", watermark, current.Watermark))
	}

	if err := upsertSnapshot(ctx, tx, docID, state, watermark, s.nowMillis()); err != nil {
		return 0, failure.ForDoc(failure.StorageUnavailable, "commit compaction: upsert snapshot", docID, err)
	}

	deleted, err := deleteUpdatesUpTo(ctx, tx, docID, watermark)
	if err != nil {
		return 0, failure.ForDoc(failure.StorageUnavailable, "commit compaction: delete updates", docID, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, failure.ForDoc(failure.StorageUnavailable, "commit compaction: commit", docID, err)
	}
	return deleted, nil
}

// InitDocument resets the document: it deletes the whole log, writes state
// as the new snapshot and records writer as the local client id, in one
// transaction. The watermark is the highest sequence left in the log
// afterwards (0 for a single writer). Returns that watermark.
func (s *Store) InitDocument(ctx context.Context, docID string, state []byte, writer uint64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, failure.ForDoc(failure.StorageUnavailable, "init document: begin tx", docID, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM updates WHERE doc_id = ?`, docID); err != nil {
		return 0, failure.ForDoc(failure.StorageUnavailable, "init document: reset updates", docID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE doc_id = ?`, docID); err != nil {
		return 0, failure.ForDoc(failure.StorageUnavailable, "init document: reset snapshot", docID, err)
	}

	var maxSeq int64
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM updates WHERE doc_id = ?
	`, docID).Scan(&maxSeq)
	if err != nil {
		return 0, failure.ForDoc(failure.StorageUnavailable, "init document: max seq", docID, err)
	}

	if err := upsertSnapshot(ctx, tx, docID, state, maxSeq, s.nowMillis()); err != nil {
		return 0, failure.ForDoc(failure.StorageUnavailable, "init document: upsert snapshot", docID, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO writers (doc_id, client_id, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(doc_id) DO UPDATE SET
			client_id = excluded.client_id,
			updated_at = excluded.updated_at
	`, docID, int64(writer), s.nowMillis())
	if err != nil {
		return 0, failure.ForDoc(failure.StorageUnavailable, "init document: record writer", docID, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, failure.ForDoc(failure.StorageUnavailable, "init document: commit", docID, err)
	}
	return maxSeq, nil
}

// Writer returns the client id recorded by the last InitDocument.
// found is false when the document was never initialized here.
func (s *Store) Writer(ctx context.Context, docID string) (client uint64, found bool, err error) {
	var id int64
	err = s.db.QueryRowContext(ctx, `
		SELECT client_id FROM writers WHERE doc_id = ?
	`, docID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, failure.ForDoc(failure.StorageUnavailable, "get writer", docID, err)
	}
	return uint64(id), true, nil
}

// LoadDurable returns the snapshot and the residual log (seq > watermark)
// read inside one transaction, so a compaction committing concurrently is
// observed either entirely or not at all.
func (s *Store) LoadDurable(ctx context.Context, docID string) (SnapshotRecord, []UpdateRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return SnapshotRecord{}, nil, failure.ForDoc(failure.StorageUnavailable, "load durable: begin tx", docID, err)
	}
	defer tx.Rollback()

	snap, _, err := getSnapshot(ctx, tx, docID)
	if err != nil {
		return SnapshotRecord{}, nil, failure.ForDoc(failure.StorageUnavailable, "load durable: snapshot", docID, err)
	}

	pending, err := listUpdatesSince(ctx, tx, docID, snap.Watermark)
	if err != nil {
		return SnapshotRecord{}, nil, failure.ForDoc(failure.StorageUnavailable, "load durable: updates", docID, err)
	}

	if err := tx.Commit(); err != nil {
		return SnapshotRecord{}, nil, failure.ForDoc(failure.StorageUnavailable, "load durable: commit", docID, err)
	}
	return snap, pending, nil
}

// Stats reports the snapshot size, watermark and pending log volume.
func (s *Store) Stats(ctx context.Context, docID string) (Stats, error) {
	var st Stats

	snap, _, err := getSnapshot(ctx, s.db, docID)
	if err != nil {
		return st, failure.ForDoc(failure.StorageUnavailable, "stats: snapshot", docID, err)
	}
	st.Watermark = snap.Watermark
	st.SnapshotBytes = len(snap.State)

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(LENGTH(update_data)), 0), COALESCE(MAX(seq), 0)
		FROM updates
		WHERE doc_id = ? AND seq > ?
	`, docID, snap.Watermark).Scan(&st.PendingUpdates, &st.PendingBytes, &st.MaxSeq)
	if err != nil {
		return st, failure.ForDoc(failure.StorageUnavailable, "stats: updates", docID, err)
	}
	if st.MaxSeq < st.Watermark {
		st.MaxSeq = st.Watermark
	}
	return st, nil
}

func getSnapshot(ctx context.Context, q queryer, docID string) (SnapshotRecord, bool, error) {
	rec := SnapshotRecord{DocID: docID}
	var updatedAt int64
	err := q.QueryRowContext(ctx, `
		SELECT snapshot_data, last_seq, updated_at
		FROM snapshots
		WHERE doc_id = ?
	`, docID).Scan(&rec.State, &rec.Watermark, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, false, nil
	}
	if err != nil {
		return rec, false, err
	}
	rec.UpdatedAt = time.UnixMilli(updatedAt)
	return rec, true, nil
}

func upsertSnapshot(ctx context.Context, q queryer, docID string, state []byte, watermark, now int64) error {
	// snapshot_data is NOT NULL; the driver binds a nil slice as NULL.
	if state == nil {
		state = []byte{}
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO snapshots (doc_id, snapshot_data, last_seq, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(doc_id) DO UPDATE SET
			snapshot_data = excluded.snapshot_data,
			last_seq = excluded.last_seq,
			updated_at = excluded.updated_at
	`, docID, state, watermark, now)
	return err
}
