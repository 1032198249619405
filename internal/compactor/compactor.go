package compactor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/docsync/internal/engine"
	"github.com/roach88/docsync/internal/failure"
	"github.com/roach88/docsync/internal/metrics"
	"github.com/roach88/docsync/internal/store"
)

// Store is the durable state the compactor reads and rewrites.
type Store interface {
	LoadDurable(ctx context.Context, docID string) (store.SnapshotRecord, []store.UpdateRecord, error)
	CommitCompaction(ctx context.Context, docID string, state []byte, watermark int64) (int64, error)
}

// Result reports one compaction.
type Result struct {
	Applied       int   `json:"applied"`
	Deleted       int64 `json:"deleted"`
	BeforeLastSeq int64 `json:"before_last_seq"`
	AfterLastSeq  int64 `json:"after_last_seq"`
	SnapshotBytes int   `json:"snapshot_bytes"`
}

// Noop reports whether nothing was pending.
func (r Result) Noop() bool { return r.Applied == 0 }

// Compactor folds a document's update log into its snapshot.
type Compactor struct {
	store  Store
	engine engine.Engine
	locks  *Locks
	logger *slog.Logger
}

// Option configures a Compactor.
type Option func(*Compactor)

// WithLocks shares a lock table with other components.
func WithLocks(l *Locks) Option {
	return func(c *Compactor) {
		c.locks = l
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Compactor) {
		c.logger = l
	}
}

func New(st Store, eng engine.Engine, opts ...Option) *Compactor {
	c := &Compactor{
		store:  st,
		engine: eng,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.locks == nil {
		c.locks = NewLocks()
	}
	return c
}

// Locks returns the per-document lock table guarding compaction.
func (c *Compactor) Locks() *Locks { return c.locks }

// Compact takes the document lock and runs CompactHeld.
func (c *Compactor) Compact(ctx context.Context, docID string) (Result, error) {
	unlock, err := c.locks.Lock(ctx, docID)
	if err != nil {
		return Result{}, fmt.Errorf("compact %s: %w", docID, err)
	}
	defer unlock()
	return c.CompactHeld(ctx, docID)
}

// CompactHeld folds every entry above the watermark into a new snapshot and
// truncates the folded range. The caller must hold the document lock.
//
// If the engine rejects any entry nothing is written and the error is a
// failure.CompactionFailed.
func (c *Compactor) CompactHeld(ctx context.Context, docID string) (Result, error) {
	snap, pending, err := c.store.LoadDurable(ctx, docID)
	if err != nil {
		metrics.Compactions.WithLabelValues("failed").Inc()
		return Result{}, err
	}

	res := Result{
		BeforeLastSeq: snap.Watermark,
		AfterLastSeq:  snap.Watermark,
		SnapshotBytes: len(snap.State),
	}
	if len(pending) == 0 {
		metrics.Compactions.WithLabelValues("noop").Inc()
		return res, nil
	}

	doc, err := c.fold(docID, snap, pending)
	if err != nil {
		metrics.Compactions.WithLabelValues("failed").Inc()
		c.logger.Error("compaction aborted",
			"doc", docID,
			"watermark", snap.Watermark,
			"pending", len(pending),
			"error", err)
		return Result{}, err
	}

	state, err := engine.FullState(doc)
	if err != nil {
		metrics.Compactions.WithLabelValues("failed").Inc()
		return Result{}, failure.ForDoc(failure.CompactionFailed, "encode snapshot", docID, err)
	}

	watermark := pending[len(pending)-1].Seq
	deleted, err := c.store.CommitCompaction(ctx, docID, state, watermark)
	if err != nil {
		metrics.Compactions.WithLabelValues("failed").Inc()
		return Result{}, err
	}

	res.Applied = len(pending)
	res.Deleted = deleted
	res.AfterLastSeq = watermark
	res.SnapshotBytes = len(state)

	metrics.Compactions.WithLabelValues("committed").Inc()
	metrics.FoldedUpdates.Add(float64(res.Applied))
	c.logger.Info("compaction committed",
		"doc", docID,
		"applied", res.Applied,
		"deleted", res.Deleted,
		"before_last_seq", res.BeforeLastSeq,
		"after_last_seq", res.AfterLastSeq,
		"snapshot_bytes", res.SnapshotBytes)

	return res, nil
}

// Reconstruct returns the durable document: the snapshot with every residual
// log entry merged in ascending sequence order. Snapshot and log are read in
// one transaction, so it needs no lock.
func (c *Compactor) Reconstruct(ctx context.Context, docID string) (engine.Document, error) {
	snap, pending, err := c.store.LoadDurable(ctx, docID)
	if err != nil {
		return nil, err
	}
	return c.fold(docID, snap, pending)
}

func (c *Compactor) fold(docID string, snap store.SnapshotRecord, pending []store.UpdateRecord) (engine.Document, error) {
	doc, err := c.engine.Load(snap.State)
	if err != nil {
		return nil, failure.ForDoc(failure.CompactionFailed, "load snapshot", docID, err)
	}
	for _, rec := range pending {
		if err := doc.Merge(rec.Payload); err != nil {
			return nil, failure.ForDoc(failure.CompactionFailed,
				fmt.Sprintf("merge seq %d", rec.Seq), docID, err)
		}
	}
	return doc, nil
}

// Run compacts docID every interval until ctx is done. A tick is skipped when
// the document lock is busy.
func (c *Compactor) Run(ctx context.Context, docID string, interval time.Duration) error {
	c.logger.Info("compaction loop starting", "doc", docID, "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("compaction loop stopping", "doc", docID)
			return ctx.Err()

		case <-ticker.C:
			unlock, ok := c.locks.TryLock(docID)
			if !ok {
				c.logger.Debug("compaction skipped: document busy", "doc", docID)
				continue
			}
			if _, err := c.CompactHeld(ctx, docID); err != nil {
				c.logger.Warn("periodic compaction failed", "doc", docID, "error", err)
			}
			unlock()
		}
	}
}
