package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/roach88/docsync/internal/failure"
)

// AppendUpdate appends a delta to the document's log and returns the
// sequence SQLite assigned to it. The row is committed before returning.
//
// An empty payload is rejected with failure.InvalidInput.
func (s *Store) AppendUpdate(ctx context.Context, docID string, payload []byte, origin Origin) (int64, error) {
	if len(payload) == 0 {
		return 0, failure.Invalid("append update", "payload is empty")
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO updates (doc_id, update_data, origin, received_at)
		VALUES (?, ?, ?, ?)
	`, docID, payload, string(origin), s.nowMillis())
	if err != nil {
		return 0, failure.ForDoc(failure.StorageUnavailable, "append update", docID, err)
	}

	seq, err := result.LastInsertId()
	if err != nil {
		return 0, failure.ForDoc(failure.StorageUnavailable, "append update: last insert id", docID, err)
	}
	return seq, nil
}

// ListUpdatesSince returns the log entries with seq > afterSeq in ascending
// seq order. The result is a point-in-time read.
//
// Returns an empty slice (not nil) if there is nothing pending.
func (s *Store) ListUpdatesSince(ctx context.Context, docID string, afterSeq int64) ([]UpdateRecord, error) {
	updates, err := listUpdatesSince(ctx, s.db, docID, afterSeq)
	if err != nil {
		return nil, failure.ForDoc(failure.StorageUnavailable, "list updates", docID, err)
	}
	return updates, nil
}

// DeleteUpdatesUpTo deletes the log entries with seq <= upToSeq and returns
// how many were removed.
func (s *Store) DeleteUpdatesUpTo(ctx context.Context, docID string, upToSeq int64) (int64, error) {
	n, err := deleteUpdatesUpTo(ctx, s.db, docID, upToSeq)
	if err != nil {
		return 0, failure.ForDoc(failure.StorageUnavailable, "delete updates", docID, err)
	}
	return n, nil
}

// ResetUpdates deletes every log entry of the document.
func (s *Store) ResetUpdates(ctx context.Context, docID string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM updates WHERE doc_id = ?`, docID)
	if err != nil {
		return 0, failure.ForDoc(failure.StorageUnavailable, "reset updates", docID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, failure.ForDoc(failure.StorageUnavailable, "reset updates: rows affected", docID, err)
	}
	return n, nil
}

// MaxSeq returns the highest retained sequence of the document, or 0.
func (s *Store) MaxSeq(ctx context.Context, docID string) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM updates WHERE doc_id = ?
	`, docID).Scan(&seq)
	if err != nil {
		return 0, failure.ForDoc(failure.StorageUnavailable, "max seq", docID, err)
	}
	return seq, nil
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func listUpdatesSince(ctx context.Context, q queryer, docID string, afterSeq int64) ([]UpdateRecord, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT seq, update_data, origin, received_at
		FROM updates
		WHERE doc_id = ? AND seq > ?
		ORDER BY seq ASC
	`, docID, afterSeq)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	updates := []UpdateRecord{}
	for rows.Next() {
		var (
			rec        UpdateRecord
			origin     string
			receivedAt int64
		)
		if err := rows.Scan(&rec.Seq, &rec.Payload, &origin, &receivedAt); err != nil {
			return nil, err
		}
		rec.DocID = docID
		rec.Origin = Origin(origin)
		rec.ReceivedAt = time.UnixMilli(receivedAt)
		updates = append(updates, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return updates, nil
}

func deleteUpdatesUpTo(ctx context.Context, q queryer, docID string, upToSeq int64) (int64, error) {
	result, err := q.ExecContext(ctx, `
		DELETE FROM updates WHERE doc_id = ? AND seq <= ?
	`, docID, upToSeq)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
