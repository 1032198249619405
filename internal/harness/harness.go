package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/roach88/docsync/internal/compactor"
	"github.com/roach88/docsync/internal/crdt"
	"github.com/roach88/docsync/internal/failure"
	"github.com/roach88/docsync/internal/peer"
	"github.com/roach88/docsync/internal/replica"
	"github.com/roach88/docsync/internal/server"
	"github.com/roach88/docsync/internal/store"
	"github.com/roach88/docsync/internal/syncer"
	"github.com/roach88/docsync/internal/testutil"
)

const (
	scenarioDocID = "doc"
	peerTimeout   = 5 * time.Second
	compactWait   = 2 * time.Second
)

// Harness runs scenarios against live replicas.
type Harness struct {
	clock  *testutil.DeterministicClock
	logger *slog.Logger
	nodes  map[string]*node
}

// Option configures a scenario run.
type Option func(*Harness)

// WithLogger routes replica logs to l. Runs are silent by default.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) {
		h.logger = l
	}
}

// node is one replica behind an httptest listener.
type node struct {
	name    string
	store   *store.Store
	replica *replica.Replica
	srv     *httptest.Server
	gate    *gate
}

// gate sits in front of a replica's handler. A closed gate answers every
// request with 503, which peers see as an unreachable replica.
type gate struct {
	mu   sync.RWMutex
	h    http.Handler
	down bool
}

func (g *gate) set(h http.Handler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.h = h
}

func (g *gate) setDown(down bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.down = down
}

func (g *gate) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mu.RLock()
	h, down := g.h, g.down
	g.mu.RUnlock()
	if down || h == nil {
		http.Error(w, "replica down", http.StatusServiceUnavailable)
		return
	}
	h.ServeHTTP(w, r)
}

// Run executes a scenario and returns the result.
//
// Each replica gets a fresh in-memory database and its own HTTP listener.
// Store timestamps come from a deterministic clock and client ids from the
// scenario, so traces are reproducible.
//
// Execution flow:
// 1. Start a listener per replica
// 2. Wire each replica to its peer over HTTP
// 3. Execute steps, checking expect clauses
// 4. Capture final views and evaluate assertions
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	h := &Harness{
		clock:  testutil.NewDeterministicClock(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		nodes:  make(map[string]*node),
	}
	for _, opt := range opts {
		opt(h)
	}
	defer h.close()

	if err := h.start(scenario); err != nil {
		return nil, err
	}

	result := NewResult()
	h.executeSteps(ctx, scenario.Steps, result)

	for name, n := range h.nodes {
		view, found, err := n.replica.View(ctx)
		if err != nil {
			return nil, fmt.Errorf("final view of %s: %w", name, err)
		}
		if found {
			result.Views[name] = view
		}
	}

	actx := &AssertionContext{Ctx: ctx, Replicas: h.replicas()}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}
	return result, nil
}

// start brings up every listener first so replicas can be wired to each
// other's URL.
func (h *Harness) start(s *Scenario) error {
	names := s.replicaNames()
	for _, name := range names {
		g := &gate{}
		h.nodes[name] = &node{name: name, gate: g, srv: httptest.NewServer(g)}
	}

	for _, name := range names {
		spec := s.Replicas[name]
		n := h.nodes[name]

		st, err := store.Open(":memory:", store.WithNow(h.clock.Now))
		if err != nil {
			return fmt.Errorf("failed to create in-memory store for %s: %w", name, err)
		}
		n.store = st

		eng := crdt.NewEngine(spec.ClientID)
		comp := compactor.New(st, eng, compactor.WithLogger(h.logger))
		ropts := []replica.Option{
			replica.WithLogger(h.logger),
			replica.WithClientIDs(epochClientIDs(spec.ClientID)),
		}
		if spec.Peer != "" {
			client := peer.NewHTTPClient(h.nodes[spec.Peer].srv.URL, peerTimeout)
			sy := syncer.New(st, comp, client,
				syncer.WithCompactPeerPolicy(syncer.CompactPeerPolicy(spec.CompactPeer)),
				syncer.WithLogger(h.logger))
			ropts = append(ropts, replica.WithSyncer(sy))
		}
		n.replica = replica.New(scenarioDocID, st, eng, comp, ropts...)
		n.gate.set(server.New(n.replica,
			server.WithCompactWait(compactWait),
			server.WithLogger(h.logger)).Handler())
	}
	return nil
}

// epochClientIDs returns deterministic replacement ids for a replica: the
// n-th reinitialization writes as n<<32 | client. Ids stay distinct across
// replicas because scenario client ids are.
func epochClientIDs(client uint64) func() uint64 {
	var epoch uint64
	return func() uint64 {
		epoch++
		return epoch<<32 | client
	}
}

func (h *Harness) close() {
	for _, n := range h.nodes {
		n.srv.Close()
		if n.store != nil {
			n.store.Close()
		}
	}
}

func (h *Harness) replicas() map[string]*replica.Replica {
	out := make(map[string]*replica.Replica, len(h.nodes))
	for name, n := range h.nodes {
		out[name] = n.replica
	}
	return out
}

// executeSteps runs the steps in order. Operation failures are recorded in
// the trace as outcomes.
func (h *Harness) executeSteps(ctx context.Context, steps []Step, result *Result) {
	for i, step := range steps {
		n := h.nodes[step.On]
		res, err := h.execute(ctx, n, step.Do)

		ev := TraceEvent{
			Step:    i + 1,
			Replica: step.On,
			Op:      step.Do,
			Outcome: outcomeOf(err),
			Result:  res,
		}
		result.AddStep(ev)

		if step.Expect != nil && !matchFields(ev.fields(), step.Expect) {
			result.AddError(fmt.Sprintf("step %d (%s on %s): expected %v, got %v (err: %v)",
				i+1, step.Do, step.On, step.Expect, ev.fields(), err))
		}

		h.logger.Info("scenario step completed",
			"step", i+1,
			"replica", step.On,
			"op", step.Do,
			"outcome", ev.Outcome)
	}
}

func (h *Harness) execute(ctx context.Context, n *node, op string) (map[string]any, error) {
	r := n.replica
	switch op {
	case OpInit:
		_, err := r.Init(ctx)
		return nil, err

	case OpAddCount:
		count, err := r.AddCount(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"count": count}, nil

	case OpSnapshot:
		view, found, err := r.View(ctx)
		if err != nil {
			return nil, err
		}
		if !found {
			return map[string]any{"found": false}, nil
		}
		out := map[string]any{"found": true}
		if root, ok := view[replica.RootMap].(map[string]any); ok {
			if c, ok := root[replica.CountKey].(int64); ok {
				out["count"] = c
			}
		}
		if items, ok := view[replica.ItemsList].([]any); ok {
			out["items"] = int64(len(items))
		}
		return out, nil

	case OpSync:
		rep, err := r.Sync(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"pulled":         rep.PulledBytes > 0,
			"pushed":         rep.PushedBytes > 0,
			"peer_compacted": rep.PeerCompacted,
		}, nil

	case OpCompact:
		res, err := r.Compact(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"applied": int64(res.Applied)}, nil

	case OpOffline:
		n.gate.setDown(true)
		return nil, nil

	case OpOnline:
		n.gate.setDown(false)
		return nil, nil
	}
	return nil, fmt.Errorf("unknown operation %q", op)
}

func outcomeOf(err error) string {
	if err == nil {
		return OutcomeOK
	}
	if kind := failure.KindOf(err); kind != "" {
		return string(kind)
	}
	return OutcomeError
}
