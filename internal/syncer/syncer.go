// Package syncer runs the pull-then-push protocol against one peer.
//
// A round, under the document lock:
//
//  1. compact the local log
//  2. reconstruct the durable document
//  3. take its summary
//  4. pull the peer's diff against that summary
//  5. if non-empty: append it (origin pull), compact, reconstruct again
//  6. fetch the peer's summary
//  7. diff the refreshed document against it
//  8. if non-empty: push it, then trigger the peer's compaction
//
// Every local effect is committed before the network call that follows it,
// so a failed round leaves consistent local state and the next round resumes
// from there. Delivery is at-least-once; duplicate deltas are absorbed by the
// engine's idempotent merge.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/roach88/docsync/internal/compactor"
	"github.com/roach88/docsync/internal/engine"
	"github.com/roach88/docsync/internal/failure"
	"github.com/roach88/docsync/internal/metrics"
	"github.com/roach88/docsync/internal/peer"
	"github.com/roach88/docsync/internal/store"
)

// CompactPeerPolicy decides when a round asks the peer to compact.
type CompactPeerPolicy string

const (
	// CompactPeerOnPush triggers peer compaction only after a non-empty push.
	CompactPeerOnPush CompactPeerPolicy = "on_push"

	// CompactPeerAlways triggers peer compaction every round.
	CompactPeerAlways CompactPeerPolicy = "always"
)

// DefaultRoundTimeout bounds a round that callers have joined.
const DefaultRoundTimeout = time.Minute

// Appender is the log write a round needs.
type Appender interface {
	AppendUpdate(ctx context.Context, docID string, payload []byte, origin store.Origin) (int64, error)
}

// Report describes one round.
type Report struct {
	LocalCompaction compactor.Result  `json:"local_compaction"`
	PulledBytes     int               `json:"pulled_bytes"`
	PulledSeq       int64             `json:"pulled_seq,omitempty"`
	PullCompaction  *compactor.Result `json:"pull_compaction,omitempty"`
	PushedBytes     int               `json:"pushed_bytes"`
	PeerCompacted   bool              `json:"peer_compacted"`
}

// Syncer runs sync rounds. Concurrent rounds for the same document are
// coalesced: a caller arriving while a round is in flight joins it.
type Syncer struct {
	log          Appender
	compactor    *compactor.Compactor
	peer         peer.Client
	policy       CompactPeerPolicy
	roundTimeout time.Duration
	logger       *slog.Logger

	group singleflight.Group
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithCompactPeerPolicy sets when the peer is asked to compact.
// Default: CompactPeerOnPush.
func WithCompactPeerPolicy(p CompactPeerPolicy) Option {
	return func(s *Syncer) {
		s.policy = p
	}
}

// WithRoundTimeout bounds a whole round. Default: DefaultRoundTimeout.
func WithRoundTimeout(d time.Duration) Option {
	return func(s *Syncer) {
		s.roundTimeout = d
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Syncer) {
		s.logger = l
	}
}

func New(log Appender, c *compactor.Compactor, p peer.Client, opts ...Option) *Syncer {
	s := &Syncer{
		log:          log,
		compactor:    c,
		peer:         p,
		policy:       CompactPeerOnPush,
		roundTimeout: DefaultRoundTimeout,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DoSync runs one round for docID, or joins the round already in flight.
// The round itself is detached from ctx so a caller giving up does not abort
// it for the others; ctx only bounds how long this caller waits.
func (s *Syncer) DoSync(ctx context.Context, docID string) (Report, error) {
	ch := s.group.DoChan(docID, func() (any, error) {
		roundCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.roundTimeout)
		defer cancel()
		return s.round(roundCtx, docID)
	})

	select {
	case res := <-ch:
		return res.Val.(Report), res.Err
	case <-ctx.Done():
		return Report{}, ctx.Err()
	}
}

func (s *Syncer) round(ctx context.Context, docID string) (Report, error) {
	start := time.Now()
	rep, err := s.roundLocked(ctx, docID)

	metrics.SyncDuration.Observe(time.Since(start).Seconds())
	outcome := "ok"
	if err != nil {
		outcome = string(failure.KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
		s.logger.Warn("sync round failed", "doc", docID, "error", err)
	} else {
		s.logger.Info("sync round complete",
			"doc", docID,
			"pulled_bytes", rep.PulledBytes,
			"pushed_bytes", rep.PushedBytes,
			"peer_compacted", rep.PeerCompacted,
			"duration", time.Since(start))
	}
	metrics.SyncRounds.WithLabelValues(outcome).Inc()
	return rep, err
}

func (s *Syncer) roundLocked(ctx context.Context, docID string) (Report, error) {
	var rep Report

	unlock, err := s.compactor.Locks().Lock(ctx, docID)
	if err != nil {
		return rep, fmt.Errorf("sync %s: %w", docID, err)
	}
	defer unlock()

	res, err := s.compactor.CompactHeld(ctx, docID)
	if err != nil {
		return rep, err
	}
	rep.LocalCompaction = res

	doc, err := s.compactor.Reconstruct(ctx, docID)
	if err != nil {
		return rep, err
	}

	pulled, err := s.peer.RequestDiff(ctx, doc.Summary())
	if err != nil {
		return rep, err
	}

	if len(pulled) > 0 {
		doc, err = s.integratePull(ctx, docID, doc, pulled, &rep)
		if err != nil {
			return rep, err
		}
	}

	peerSummary, err := s.peer.Summary(ctx)
	if err != nil {
		return rep, err
	}

	push, err := doc.Diff(peerSummary)
	if err != nil {
		return rep, failure.ForDoc(failure.PeerUnavailable, "diff against peer summary", docID, err)
	}

	if len(push) > 0 {
		if err := s.peer.PushUpdate(ctx, push); err != nil {
			return rep, err
		}
		rep.PushedBytes = len(push)
		metrics.SyncBytes.WithLabelValues("push").Add(float64(len(push)))
	}

	if len(push) > 0 || s.policy == CompactPeerAlways {
		if err := s.peer.TriggerCompaction(ctx); err != nil {
			return rep, err
		}
		rep.PeerCompacted = true
	}
	return rep, nil
}

// integratePull makes a pulled delta durable and returns the refreshed
// document. A delta the engine cannot decode is rejected before it reaches
// the log.
func (s *Syncer) integratePull(ctx context.Context, docID string, doc engine.Document, pulled []byte, rep *Report) (engine.Document, error) {
	if err := doc.Merge(pulled); err != nil {
		return nil, failure.ForDoc(failure.PeerUnavailable, "pulled delta rejected", docID, err)
	}

	seq, err := s.log.AppendUpdate(ctx, docID, pulled, store.OriginPull)
	if err != nil {
		return nil, err
	}
	rep.PulledBytes = len(pulled)
	rep.PulledSeq = seq
	metrics.SyncBytes.WithLabelValues("pull").Add(float64(len(pulled)))

	res, err := s.compactor.CompactHeld(ctx, docID)
	if err != nil {
		return nil, err
	}
	rep.PullCompaction = &res

	return s.compactor.Reconstruct(ctx, docID)
}

// Run syncs docID every interval until ctx is done. Failed rounds are logged
// and retried on the next tick.
func (s *Syncer) Run(ctx context.Context, docID string, interval time.Duration) error {
	s.logger.Info("sync loop starting", "doc", docID, "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sync loop stopping", "doc", docID)
			return ctx.Err()
		case <-ticker.C:
			// Errors are logged by the round.
			_, _ = s.DoSync(ctx, docID)
		}
	}
}
