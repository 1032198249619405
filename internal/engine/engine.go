package engine

import "errors"

// ErrMalformed is returned (wrapped) when a delta, state, or summary cannot be
// decoded.
var ErrMalformed = errors.New("malformed document encoding")

// Engine creates documents.
type Engine interface {
	// New returns an empty document.
	New() Document

	// Load returns a document holding the given full state, as produced by
	// Document.Diff(nil). An empty state yields an empty document.
	Load(state []byte) (Document, error)
}

// Document is an in-memory conflict-free replicated document.
// A Document is not safe for concurrent use.
type Document interface {
	// Merge folds a delta into the document. On error the document is left
	// unchanged.
	Merge(delta []byte) error

	// Summary returns a compact causal-frontier descriptor of what the
	// document knows (a state vector).
	Summary() []byte

	// Diff returns what the document knows that the given summary does not
	// dominate. A nil summary yields the full state. An empty result means
	// there is nothing to send.
	Diff(summary []byte) ([]byte, error)
}

// FullState encodes everything doc knows.
func FullState(doc Document) ([]byte, error) {
	return doc.Diff(nil)
}
