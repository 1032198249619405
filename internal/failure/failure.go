// Package failure defines the error taxonomy shared by the store, compactor,
// sync orchestrator and HTTP surface.
//
// Every error that crosses a package boundary carries a Kind. Callers inspect
// it with KindOf or Is (both use errors.As, so wrapped errors work) and the
// HTTP layer maps it to a status code with HTTPStatus.
package failure

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind categorizes failures. The string value is stable and appears in HTTP
// error bodies.
type Kind string

const (
	// InvalidInput is an empty or malformed delta, summary, or request field.
	// No state is changed.
	InvalidInput Kind = "InvalidInput"

	// CompactionFailed means the document engine rejected a fold step.
	// Log and snapshot are left exactly as they were.
	CompactionFailed Kind = "CompactionFailed"

	// PeerUnavailable is a transport failure talking to the remote replica.
	// Local state committed before the failing call persists.
	PeerUnavailable Kind = "PeerUnavailable"

	// StorageUnavailable means the durable store could not be reached or a
	// statement failed.
	StorageUnavailable Kind = "StorageUnavailable"
)

// Error is a classified failure.
type Error struct {
	// Kind identifies the failure category.
	Kind Kind

	// Op names the operation that failed, e.g. "append update".
	Op string

	// DocID identifies the affected document, if known.
	DocID string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.DocID != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s (doc=%s): %v", e.Kind, e.Op, e.DocID, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	case e.DocID != "":
		return fmt.Sprintf("%s: %s (doc=%s)", e.Kind, e.Op, e.DocID)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Op)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// ForDoc creates a classified error tagged with a document id.
func ForDoc(kind Kind, op, docID string, err error) *Error {
	return &Error{Kind: kind, Op: op, DocID: docID, Err: err}
}

// Invalid is shorthand for an InvalidInput error with a message.
func Invalid(op, format string, args ...any) *Error {
	return &Error{Kind: InvalidInput, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the Kind of the first classified error in err's chain, or
// the empty string when err is unclassified.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps an error to the status code the HTTP surface returns.
// Unclassified errors are internal server errors.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case InvalidInput:
		return http.StatusBadRequest
	case CompactionFailed:
		return http.StatusInternalServerError
	case PeerUnavailable:
		return http.StatusBadGateway
	case StorageUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
