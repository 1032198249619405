package server

import (
	"encoding/json"

	"github.com/roach88/docsync/internal/compactor"
	"github.com/roach88/docsync/internal/failure"
	"github.com/roach88/docsync/internal/syncer"
)

type OKResponse struct {
	OK bool `json:"ok"`
}

type InitResponse struct {
	OK    bool   `json:"ok"`
	Seq   int64  `json:"seq"`
	DocID string `json:"doc_id"`
}

// SnapshotResponse carries the canonical JSON view, or null before init.
type SnapshotResponse struct {
	OK       bool            `json:"ok"`
	Snapshot json.RawMessage `json:"snapshot"`
}

type AddCountResponse struct {
	OK    bool  `json:"ok"`
	Count int64 `json:"count"`
}

type CompactResponse struct {
	OK       bool              `json:"ok"`
	Result   *compactor.Result `json:"result"`
	Deferred bool              `json:"deferred,omitempty"`
}

type SyncResponse struct {
	OK     bool           `json:"ok"`
	Report *syncer.Report `json:"report,omitempty"`
}

type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	OK    bool      `json:"ok"`
	Error ErrorBody `json:"error"`
}

// NewErrorResponse builds the error body for err. Unclassified errors are
// reported as Internal.
func NewErrorResponse(err error) ErrorResponse {
	kind := string(failure.KindOf(err))
	if kind == "" {
		kind = "Internal"
	}
	return ErrorResponse{Error: ErrorBody{Kind: kind, Message: err.Error()}}
}
