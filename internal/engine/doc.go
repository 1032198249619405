// Package engine defines the Document Engine contract.
//
// The compactor and the sync orchestrator never look inside a document. They
// create documents, fold opaque deltas into them, and ask for summaries and
// diffs. Correctness of the sync protocol rests entirely on three algebraic
// properties of Merge:
//
//   - Idempotent: merging the same delta twice equals merging it once.
//   - Commutative: merging two deltas in either order gives the same state.
//   - Associative: how deltas are batched does not matter.
//
// Summaries are monotone: a document that knows more never produces a summary
// that dominates less.
//
// Engine errors are never masked. A delta the engine cannot decode is reported
// as ErrMalformed and aborts the enclosing operation.
package engine
