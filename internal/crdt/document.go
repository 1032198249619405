package crdt

import (
	"fmt"
	"sort"
)

// Doc is a CRDT document. It implements engine.Document.
// A Doc is not safe for concurrent use.
type Doc struct {
	client  uint64
	lamport uint64

	items   map[ID]Item
	vector  map[uint64]uint64 // contiguous known clock per client
	highest map[uint64]uint64 // highest known clock per client

	winners map[slot]ID
	lists   map[string][]ID
}

type slot struct {
	target string
	key    string
}

// NewDoc returns an empty document that writes as client.
func NewDoc(client uint64) *Doc {
	return &Doc{
		client:  client,
		items:   make(map[ID]Item),
		vector:  make(map[uint64]uint64),
		highest: make(map[uint64]uint64),
		winners: make(map[slot]ID),
		lists:   make(map[string][]ID),
	}
}

// Client returns the client id local edits are attributed to.
func (d *Doc) Client() uint64 { return d.client }

// SetClient changes the client id later local edits are attributed to.
func (d *Doc) SetClient(client uint64) { d.client = client }

// Clock returns the highest clock d holds for client, 0 if none.
func (d *Doc) Clock(client uint64) uint64 { return d.highest[client] }

// Len returns the number of items, placeholders included.
func (d *Doc) Len() int { return len(d.items) }

// Merge decodes delta and folds it into d. A delta that fails to decode
// leaves d unchanged.
func (d *Doc) Merge(delta []byte) error {
	items, err := decodeItems(delta)
	if err != nil {
		return err
	}
	for _, it := range items {
		d.integrate(it)
	}
	return nil
}

// Summary returns the encoded state vector.
func (d *Doc) Summary() []byte {
	return encodeVector(d.vector)
}

// Diff returns the items the summary does not cover. A nil summary yields the
// full state.
func (d *Doc) Diff(summary []byte) ([]byte, error) {
	var vector map[uint64]uint64
	if summary != nil {
		v, err := decodeVector(summary)
		if err != nil {
			return nil, err
		}
		vector = v
	}

	var out []Item
	for id, it := range d.items {
		if id.Clock > vector[id.Client] {
			out = append(out, it)
		}
	}
	return encodeItems(out), nil
}

// Set assigns v to key in the map named target and returns the delta holding
// the new item.
func (d *Doc) Set(target, key string, v Value) ([]byte, error) {
	if target == "" || key == "" {
		return nil, fmt.Errorf("set: target and key are required")
	}
	if err := v.validate(); err != nil {
		return nil, fmt.Errorf("set %s.%s: %w", target, key, err)
	}
	it := d.next(KindSet)
	it.Target, it.Key, it.Value = target, key, v
	d.integrate(it)
	return encodeItems([]Item{it}), nil
}

// Append adds v to the end of the list named target and returns the delta
// holding the new item.
func (d *Doc) Append(target string, v Value) ([]byte, error) {
	if target == "" {
		return nil, fmt.Errorf("append: target is required")
	}
	if err := v.validate(); err != nil {
		return nil, fmt.Errorf("append %s: %w", target, err)
	}
	it := d.next(KindAppend)
	it.Target, it.Value = target, v
	d.integrate(it)
	return encodeItems([]Item{it}), nil
}

func (d *Doc) next(kind Kind) Item {
	if d.client == 0 {
		panic("crdt: local edit on a document without a client id")
	}
	return Item{
		ID:      ID{Client: d.client, Clock: d.highest[d.client] + 1},
		Lamport: d.lamport + 1,
		Kind:    kind,
	}
}

// Get returns the current value of key in the map named target.
func (d *Doc) Get(target, key string) (Value, bool) {
	id, ok := d.winners[slot{target: target, key: key}]
	if !ok {
		return Value{}, false
	}
	return d.items[id].Value, true
}

// Map returns the current entries of the map named target.
func (d *Doc) Map(target string) map[string]Value {
	m := make(map[string]Value)
	for s, id := range d.winners {
		if s.target == target {
			m[s.key] = d.items[id].Value
		}
	}
	return m
}

// List returns the elements of the list named target in order.
func (d *Doc) List(target string) []Value {
	ids := d.lists[target]
	out := make([]Value, 0, len(ids))
	for _, id := range ids {
		out = append(out, d.items[id].Value)
	}
	return out
}

// Maps returns the sorted names of maps with at least one entry.
func (d *Doc) Maps() []string {
	seen := make(map[string]struct{})
	for s := range d.winners {
		seen[s.target] = struct{}{}
	}
	return sortedKeys(seen)
}

// Lists returns the sorted names of lists with at least one element.
func (d *Doc) Lists() []string {
	seen := make(map[string]struct{}, len(d.lists))
	for name := range d.lists {
		seen[name] = struct{}{}
	}
	return sortedKeys(seen)
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// integrate adds one validated item. Re-integrating a known item is a no-op,
// except that a placeholder demotes a full copy of the same item.
func (d *Doc) integrate(it Item) {
	if it.Lamport > d.lamport {
		d.lamport = it.Lamport
	}

	if existing, ok := d.items[it.ID]; ok {
		if it.Kind == KindGC && existing.Kind == KindSet {
			d.demote(existing)
		}
		return
	}

	switch it.Kind {
	case KindGC:
		d.items[it.ID] = it

	case KindSet:
		s := slot{target: it.Target, key: it.Key}
		curID, ok := d.winners[s]
		if ok && !it.beats(d.items[curID]) {
			d.items[it.ID] = it.placeholder()
			break
		}
		if ok {
			d.demote(d.items[curID])
		}
		d.items[it.ID] = it
		d.winners[s] = it.ID

	case KindAppend:
		d.items[it.ID] = it
		d.insertListItem(it)
	}

	d.advance(it.ID)
}

func (d *Doc) demote(it Item) {
	s := slot{target: it.Target, key: it.Key}
	if d.winners[s] == it.ID {
		delete(d.winners, s)
	}
	d.items[it.ID] = it.placeholder()
}

func (d *Doc) insertListItem(it Item) {
	ids := d.lists[it.Target]
	i := sort.Search(len(ids), func(i int) bool {
		return listLess(it, d.items[ids[i]])
	})
	ids = append(ids, ID{})
	copy(ids[i+1:], ids[i:])
	ids[i] = it.ID
	d.lists[it.Target] = ids
}

func listLess(a, b Item) bool {
	if a.Lamport != b.Lamport {
		return a.Lamport < b.Lamport
	}
	if a.ID.Client != b.ID.Client {
		return a.ID.Client < b.ID.Client
	}
	return a.ID.Clock < b.ID.Clock
}

func (d *Doc) advance(id ID) {
	if id.Clock > d.highest[id.Client] {
		d.highest[id.Client] = id.Clock
	}
	clock := d.vector[id.Client]
	for {
		if _, ok := d.items[ID{Client: id.Client, Clock: clock + 1}]; !ok {
			break
		}
		clock++
	}
	d.vector[id.Client] = clock
}
