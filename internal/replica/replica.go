// Package replica is the application service behind the HTTP surface: one
// replicated document backed by the store, the compactor and, when a peer is
// configured, the syncer.
package replica

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/docsync/internal/compactor"
	"github.com/roach88/docsync/internal/crdt"
	"github.com/roach88/docsync/internal/engine"
	"github.com/roach88/docsync/internal/failure"
	"github.com/roach88/docsync/internal/store"
	"github.com/roach88/docsync/internal/syncer"
)

// Names of the seeded document structure.
const (
	RootMap   = "root"
	ItemsList = "items"
	CountKey  = "count"
	MsgKey    = "message"
)

// ErrNoPeer is returned by Sync when no peer is configured.
var ErrNoPeer = errors.New("no peer configured")

// Replica serves one document.
type Replica struct {
	docID     string
	store     *store.Store
	engine    *crdt.Engine
	compactor *compactor.Compactor
	syncer    *syncer.Syncer
	logger    *slog.Logger
	newClient func() uint64
}

// Option configures a Replica.
type Option func(*Replica)

// WithSyncer enables Sync.
func WithSyncer(s *syncer.Syncer) Option {
	return func(r *Replica) {
		r.syncer = s
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Replica) {
		r.logger = l
	}
}

// WithClientIDs sets the source of fresh client ids drawn when Init must
// retire the current one. Default: crdt.RandomClientID.
func WithClientIDs(next func() uint64) Option {
	return func(r *Replica) {
		r.newClient = next
	}
}

// New returns a replica serving docID. Local edits are written as eng's
// client id until an Init records another one in the store.
func New(docID string, st *store.Store, eng *crdt.Engine, c *compactor.Compactor, opts ...Option) *Replica {
	r := &Replica{
		docID:     docID,
		store:     st,
		engine:    eng,
		compactor: c,
		logger:    slog.Default(),
		newClient: crdt.RandomClientID,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DocID returns the document this replica serves.
func (r *Replica) DocID() string { return r.docID }

// Init resets the document to its seed state: root {count: 1, message:
// "hello"} and an empty items list. Log and snapshot are replaced in one
// transaction. Returns the new watermark.
//
// If the current client id already wrote to the document, the seed and every
// later edit are written under a fresh client id: a peer may still hold the
// old (client, clock) ids.
func (r *Replica) Init(ctx context.Context) (int64, error) {
	unlock, err := r.compactor.Locks().Lock(ctx, r.docID)
	if err != nil {
		return 0, err
	}
	defer unlock()

	old, err := r.durable(ctx)
	if err != nil {
		return 0, err
	}
	client, err := r.writer(ctx)
	if err != nil {
		return 0, err
	}
	if old.Clock(client) > 0 {
		retired := client
		for client == retired || old.Clock(client) > 0 {
			client = r.newClient()
		}
		r.logger.Info("client id rotated", "doc", r.docID, "from", retired, "to", client)
	}

	doc := crdt.NewDoc(client)
	if _, err := doc.Set(RootMap, CountKey, crdt.IntValue(1)); err != nil {
		return 0, err
	}
	if _, err := doc.Set(RootMap, MsgKey, crdt.StringValue("hello")); err != nil {
		return 0, err
	}
	state, err := engine.FullState(doc)
	if err != nil {
		return 0, err
	}

	seq, err := r.store.InitDocument(ctx, r.docID, state, client)
	if err != nil {
		return 0, err
	}
	r.logger.Info("document initialized", "doc", r.docID, "seq", seq, "client", client)
	return seq, nil
}

// View renders the durable document as {"root": {...}, "items": [...]}.
// found is false when the document has never been initialized or written.
func (r *Replica) View(ctx context.Context) (view map[string]any, found bool, err error) {
	doc, err := r.durable(ctx)
	if err != nil {
		return nil, false, err
	}
	if doc.Len() == 0 {
		return nil, false, nil
	}
	full := doc.View([]string{RootMap}, []string{ItemsList})
	return map[string]any{
		RootMap:   full[RootMap],
		ItemsList: full[ItemsList],
	}, true, nil
}

// AddCount increments root.count and appends the resulting delta to the log.
// Returns the new count.
func (r *Replica) AddCount(ctx context.Context) (int64, error) {
	unlock, err := r.compactor.Locks().Lock(ctx, r.docID)
	if err != nil {
		return 0, err
	}
	defer unlock()

	doc, err := r.durable(ctx)
	if err != nil {
		return 0, err
	}
	client, err := r.writer(ctx)
	if err != nil {
		return 0, err
	}
	doc.SetClient(client)

	var count int64
	if v, ok := doc.Get(RootMap, CountKey); ok && v.Type == crdt.TypeInt {
		count = v.Int
	}
	delta, err := doc.Set(RootMap, CountKey, crdt.IntValue(count+1))
	if err != nil {
		return 0, err
	}

	seq, err := r.store.AppendUpdate(ctx, r.docID, delta, store.OriginLocal)
	if err != nil {
		return 0, err
	}
	r.logger.Debug("count incremented", "doc", r.docID, "count", count+1, "seq", seq)
	return count + 1, nil
}

// Summary returns the state vector of the durable document.
func (r *Replica) Summary(ctx context.Context) ([]byte, error) {
	doc, err := r.compactor.Reconstruct(ctx, r.docID)
	if err != nil {
		return nil, err
	}
	return doc.Summary(), nil
}

// Diff returns what the durable document knows beyond summary. An empty
// summary yields the full state; an empty result means nothing to send.
func (r *Replica) Diff(ctx context.Context, summary []byte) ([]byte, error) {
	doc, err := r.compactor.Reconstruct(ctx, r.docID)
	if err != nil {
		return nil, err
	}
	if len(summary) == 0 {
		summary = nil
	}
	delta, err := doc.Diff(summary)
	if err != nil {
		return nil, failure.ForDoc(failure.InvalidInput, "diff", r.docID, err)
	}
	return delta, nil
}

// ApplyRemote appends a delta received from a peer. A delta the engine cannot
// decode is refused with failure.InvalidInput and nothing is written.
func (r *Replica) ApplyRemote(ctx context.Context, delta []byte) (int64, error) {
	if len(delta) == 0 {
		return 0, failure.Invalid("apply remote", "update is empty")
	}
	if err := r.engine.New().Merge(delta); err != nil {
		return 0, failure.ForDoc(failure.InvalidInput, "apply remote", r.docID, err)
	}
	return r.store.AppendUpdate(ctx, r.docID, delta, store.OriginRemote)
}

// Compact folds the log into the snapshot, waiting for the document lock.
func (r *Replica) Compact(ctx context.Context) (compactor.Result, error) {
	return r.compactor.Compact(ctx, r.docID)
}

// CompactWithin is Compact with a bounded wait for the document lock. If the
// lock stays busy for wait the compaction is deferred: deferred is true and
// no error is returned. The holder is a round or compaction that folds the
// log itself.
func (r *Replica) CompactWithin(ctx context.Context, wait time.Duration) (res compactor.Result, deferred bool, err error) {
	lockCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	unlock, err := r.compactor.Locks().Lock(lockCtx, r.docID)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			r.logger.Info("compaction deferred: document busy", "doc", r.docID, "wait", wait)
			return compactor.Result{}, true, nil
		}
		return compactor.Result{}, false, err
	}
	defer unlock()

	res, err = r.compactor.CompactHeld(ctx, r.docID)
	return res, false, err
}

// Sync runs one pull-then-push round against the peer.
func (r *Replica) Sync(ctx context.Context) (syncer.Report, error) {
	if r.syncer == nil {
		return syncer.Report{}, failure.ForDoc(failure.PeerUnavailable, "sync", r.docID, ErrNoPeer)
	}
	return r.syncer.DoSync(ctx, r.docID)
}

// Stats reports the durable footprint of the document.
func (r *Replica) Stats(ctx context.Context) (store.Stats, error) {
	return r.store.Stats(ctx, r.docID)
}

// ClientID returns the client id local edits are written as.
func (r *Replica) ClientID(ctx context.Context) (uint64, error) {
	return r.writer(ctx)
}

func (r *Replica) writer(ctx context.Context) (uint64, error) {
	client, found, err := r.store.Writer(ctx, r.docID)
	if err != nil {
		return 0, err
	}
	if !found {
		return r.engine.ClientID(), nil
	}
	return client, nil
}

func (r *Replica) durable(ctx context.Context) (*crdt.Doc, error) {
	doc, err := r.compactor.Reconstruct(ctx, r.docID)
	if err != nil {
		return nil, err
	}
	d, err := crdt.AsDoc(doc)
	if err != nil {
		return nil, fmt.Errorf("replica %s: %w", r.docID, err)
	}
	return d, nil
}
