package testutil

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/docsync/internal/engine"
)

// SetEngine is a minimal engine.Engine for tests: a document is a set of
// strings, every encoding is a sorted JSON array of strings, and merge is set
// union. Elements starting with "!" are rejected as malformed, which lets
// tests plant a poisoned update in a log.
type SetEngine struct{}

var _ engine.Engine = SetEngine{}

// SetDoc is a SetEngine document.
type SetDoc struct {
	elems map[string]struct{}
}

// New implements engine.Engine.
func (SetEngine) New() engine.Document { return &SetDoc{elems: make(map[string]struct{})} }

// Load implements engine.Engine.
func (e SetEngine) Load(state []byte) (engine.Document, error) {
	doc := e.New()
	if err := doc.Merge(state); err != nil {
		return nil, err
	}
	return doc, nil
}

// Delta encodes elems as a SetEngine delta.
func Delta(elems ...string) []byte {
	return encodeSet(elems)
}

// Merge implements engine.Document.
func (d *SetDoc) Merge(delta []byte) error {
	elems, err := decodeSet(delta)
	if err != nil {
		return err
	}
	for _, e := range elems {
		d.elems[e] = struct{}{}
	}
	return nil
}

// Summary implements engine.Document.
func (d *SetDoc) Summary() []byte {
	return encodeSet(d.Elems())
}

// Diff implements engine.Document.
func (d *SetDoc) Diff(summary []byte) ([]byte, error) {
	known := map[string]struct{}{}
	if summary != nil {
		elems, err := decodeSet(summary)
		if err != nil {
			return nil, err
		}
		for _, e := range elems {
			known[e] = struct{}{}
		}
	}
	var out []string
	for e := range d.elems {
		if _, ok := known[e]; !ok {
			out = append(out, e)
		}
	}
	if len(out) == 0 {
		return nil, nil
	}
	return encodeSet(out), nil
}

// Elems returns the sorted elements.
func (d *SetDoc) Elems() []string {
	out := make([]string, 0, len(d.elems))
	for e := range d.elems {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

func encodeSet(elems []string) []byte {
	sorted := append([]string(nil), elems...)
	sort.Strings(sorted)
	if sorted == nil {
		sorted = []string{}
	}
	b, _ := json.Marshal(sorted)
	return b
}

func decodeSet(b []byte) ([]string, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var elems []string
	if err := json.Unmarshal(b, &elems); err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrMalformed, err)
	}
	for _, e := range elems {
		if strings.HasPrefix(e, "!") {
			return nil, fmt.Errorf("%w: poisoned element %q", engine.ErrMalformed, e)
		}
	}
	return elems, nil
}
