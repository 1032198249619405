// Package peer is the client side of a remote replica.
package peer

import "context"

// Client is what the sync orchestrator needs from a remote replica. Every
// failure is reported as failure.PeerUnavailable and never touches local
// state.
type Client interface {
	// Summary returns the peer's state vector.
	Summary(ctx context.Context) ([]byte, error)

	// RequestDiff returns what the peer knows beyond summary. An empty
	// result means the peer has nothing new.
	RequestDiff(ctx context.Context, summary []byte) ([]byte, error)

	// PushUpdate delivers a delta to the peer's log.
	PushUpdate(ctx context.Context, delta []byte) error

	// TriggerCompaction asks the peer to compact its log.
	TriggerCompaction(ctx context.Context) error
}

// Request and response bodies of the replica HTTP surface. Byte fields are
// base64 in JSON; a nil delta encodes as null.

type SummaryResponse struct {
	SV []byte `json:"sv"`
}

type DiffRequest struct {
	SV []byte `json:"sv"`
}

type DiffResponse struct {
	Update []byte `json:"update"`
}

type UpdateRequest struct {
	Update []byte `json:"update"`
}

type UpdateResponse struct {
	OK  bool  `json:"ok"`
	Seq int64 `json:"seq"`
}

type AckResponse struct {
	OK bool `json:"ok"`
}
