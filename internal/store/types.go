package store

import "time"

// Origin tags where a log entry came from.
type Origin string

const (
	// OriginLocal marks a delta produced by a local mutation.
	OriginLocal Origin = "local"

	// OriginRemote marks a delta pushed to us by a peer.
	OriginRemote Origin = "remote"

	// OriginPull marks a delta we pulled from a peer during sync.
	OriginPull Origin = "pull"
)

// UpdateRecord is one entry of a document's update log.
type UpdateRecord struct {
	DocID      string
	Seq        int64
	Payload    []byte
	Origin     Origin
	ReceivedAt time.Time
}

// SnapshotRecord is the durable full state of a document.
// Watermark is the highest log sequence folded into State.
type SnapshotRecord struct {
	DocID     string
	State     []byte
	Watermark int64
	UpdatedAt time.Time
}

// Stats summarizes the durable footprint of a document.
type Stats struct {
	Watermark      int64
	SnapshotBytes  int
	PendingUpdates int
	PendingBytes   int64
	MaxSeq         int64
}
