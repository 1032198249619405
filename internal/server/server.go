// Package server exposes a replica over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/docsync/internal/crdt"
	"github.com/roach88/docsync/internal/failure"
	"github.com/roach88/docsync/internal/metrics"
	"github.com/roach88/docsync/internal/peer"
	"github.com/roach88/docsync/internal/replica"
)

const (
	contentTypeJSON        = "application/json"
	defaultShutdownTimeout = 5 * time.Second
	defaultCompactWait     = 2 * time.Second
	maxRequestBytes        = 64 << 20
)

// Server serves one replica.
type Server struct {
	replica           *replica.Replica
	registry          *prometheus.Registry
	compactWait       time.Duration
	readHeaderTimeout time.Duration
	logger            *slog.Logger

	httpServer *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithRegistry serves reg at /metrics.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) {
		s.registry = reg
	}
}

// WithCompactWait bounds how long POST /compact waits for the document lock.
func WithCompactWait(d time.Duration) Option {
	return func(s *Server) {
		s.compactWait = d
	}
}

// WithReadHeaderTimeout sets the listener's header read timeout.
func WithReadHeaderTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.readHeaderTimeout = d
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

func New(r *replica.Replica, opts ...Option) *Server {
	s := &Server{
		replica:           r,
		compactWait:       defaultCompactWait,
		readHeaderTimeout: 10 * time.Second,
		logger:            slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if s.registry != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(s.registry))
	}

	r.Get("/init", s.handleInit)
	r.Get("/get-snapshot", s.handleGetSnapshot)
	r.Get("/add-count", s.handleAddCount)
	r.Get("/sv", s.handleSummary)
	r.Post("/diff", s.handleDiff)
	r.Get("/do-sync", s.handleDoSync)
	r.Post("/update", s.handleUpdate)
	r.Post("/compact", s.handleCompact)

	return r
}

// ListenAndServe serves on addr until ctx is done, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()
	s.logger.Info("HTTP server started", "addr", addr, "doc", s.replica.DocID())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTP server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("error encoding response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := failure.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	} else {
		s.logger.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	s.writeJSON(w, status, NewErrorResponse(err))
}

// decodeBody decodes a JSON body into v. An empty body leaves v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return failure.Invalid("decode request", "%v", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	seq, err := s.replica.Init(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, InitResponse{OK: true, Seq: seq, DocID: s.replica.DocID()})
}

func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	view, found, err := s.replica.View(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := SnapshotResponse{OK: true, Snapshot: json.RawMessage("null")}
	if found {
		b, err := crdt.MarshalCanonical(view)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		resp.Snapshot = b
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAddCount(w http.ResponseWriter, r *http.Request) {
	count, err := s.replica.AddCount(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, AddCountResponse{OK: true, Count: count})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	sv, err := s.replica.Summary(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if sv == nil {
		sv = []byte{}
	}
	s.writeJSON(w, http.StatusOK, peer.SummaryResponse{SV: sv})
}

func (s *Server) handleDiff(w http.ResponseWriter, r *http.Request) {
	var req peer.DiffRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	delta, err := s.replica.Diff(r.Context(), req.SV)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(delta) == 0 {
		delta = nil
	}
	s.writeJSON(w, http.StatusOK, peer.DiffResponse{Update: delta})
}

func (s *Server) handleDoSync(w http.ResponseWriter, r *http.Request) {
	rep, err := s.replica.Sync(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, SyncResponse{OK: true, Report: &rep})
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req peer.UpdateRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(req.Update) == 0 {
		s.writeError(w, r, failure.Invalid("update", "missing or empty field %q", "update"))
		return
	}

	seq, err := s.replica.ApplyRemote(r.Context(), req.Update)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, peer.UpdateResponse{OK: true, Seq: seq})
}

func (s *Server) handleCompact(w http.ResponseWriter, r *http.Request) {
	res, deferred, err := s.replica.CompactWithin(r.Context(), s.compactWait)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := CompactResponse{OK: true, Deferred: deferred}
	if !deferred {
		resp.Result = &res
	}
	s.writeJSON(w, http.StatusOK, resp)
}
