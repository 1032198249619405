package crdt

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	"github.com/roach88/docsync/internal/engine"
)

// Engine creates crdt documents that write as a fixed client id.
type Engine struct {
	client uint64
}

var _ engine.Engine = (*Engine)(nil)
var _ engine.Document = (*Doc)(nil)

// NewEngine returns an engine whose documents write as client. A zero client
// is replaced by a random one.
func NewEngine(client uint64) *Engine {
	if client == 0 {
		client = RandomClientID()
	}
	return &Engine{client: client}
}

// ClientID returns the client id documents write as.
func (e *Engine) ClientID() uint64 { return e.client }

// New implements engine.Engine.
func (e *Engine) New() engine.Document { return e.NewDoc() }

// Load implements engine.Engine.
func (e *Engine) Load(state []byte) (engine.Document, error) {
	return e.LoadDoc(state)
}

// NewDoc returns an empty *Doc.
func (e *Engine) NewDoc() *Doc { return NewDoc(e.client) }

// LoadDoc returns a *Doc holding state.
func (e *Engine) LoadDoc(state []byte) (*Doc, error) {
	doc := NewDoc(e.client)
	if err := doc.Merge(state); err != nil {
		return nil, err
	}
	return doc, nil
}

// RandomClientID returns a non-zero client id in the uint32 range.
func RandomClientID() uint64 {
	for {
		u := uuid.New()
		if id := uint64(binary.BigEndian.Uint32(u[:4])); id != 0 {
			return id
		}
	}
}

// AsDoc returns doc as a *Doc, or an error if it came from another engine.
func AsDoc(doc engine.Document) (*Doc, error) {
	d, ok := doc.(*Doc)
	if !ok {
		return nil, fmt.Errorf("crdt: unsupported document type %T", doc)
	}
	return d, nil
}
