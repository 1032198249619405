package crdt

import "fmt"

// ID identifies an item. Clocks start at 1 for every client.
type ID struct {
	Client uint64
	Clock  uint64
}

func (id ID) String() string {
	return fmt.Sprintf("%d:%d", id.Client, id.Clock)
}

// Kind is the item operation.
type Kind uint8

const (
	// KindSet assigns Value to Key in the map named Target.
	KindSet Kind = 1

	// KindAppend appends Value to the list named Target.
	KindAppend Kind = 2

	// KindGC is a set item that lost to a newer write. Only ID and Lamport
	// survive.
	KindGC Kind = 3
)

// ValueType tags a Value.
type ValueType uint8

const (
	TypeInt    ValueType = 1
	TypeString ValueType = 2
	TypeBool   ValueType = 3
)

// Value is a scalar stored in a map entry or list element.
type Value struct {
	Type ValueType
	Int  int64
	Str  string
	Bool bool
}

// IntValue returns an integer value.
func IntValue(v int64) Value { return Value{Type: TypeInt, Int: v} }

// StringValue returns a string value.
func StringValue(v string) Value { return Value{Type: TypeString, Str: v} }

// BoolValue returns a boolean value.
func BoolValue(v bool) Value { return Value{Type: TypeBool, Bool: v} }

// Any returns the value as int64, string or bool.
func (v Value) Any() any {
	switch v.Type {
	case TypeInt:
		return v.Int
	case TypeString:
		return v.Str
	case TypeBool:
		return v.Bool
	}
	return nil
}

// Item is one edit.
type Item struct {
	ID      ID
	Lamport uint64
	Kind    Kind
	Target  string
	Key     string
	Value   Value
}

// beats reports whether a wins over b as the value of the same map key.
func (a Item) beats(b Item) bool {
	if a.Lamport != b.Lamport {
		return a.Lamport > b.Lamport
	}
	if a.ID.Client != b.ID.Client {
		return a.ID.Client > b.ID.Client
	}
	return a.ID.Clock > b.ID.Clock
}

// placeholder strips a losing set item down to what the state vector needs.
func (a Item) placeholder() Item {
	return Item{ID: a.ID, Lamport: a.Lamport, Kind: KindGC}
}

func (a Item) validate() error {
	if a.ID.Client == 0 || a.ID.Clock == 0 {
		return fmt.Errorf("item %s: client and clock must be non-zero", a.ID)
	}
	switch a.Kind {
	case KindSet:
		if a.Target == "" || a.Key == "" {
			return fmt.Errorf("item %s: set needs target and key", a.ID)
		}
		return a.Value.validate()
	case KindAppend:
		if a.Target == "" {
			return fmt.Errorf("item %s: append needs target", a.ID)
		}
		return a.Value.validate()
	case KindGC:
		return nil
	}
	return fmt.Errorf("item %s: unknown kind %d", a.ID, a.Kind)
}

func (v Value) validate() error {
	switch v.Type {
	case TypeInt, TypeString, TypeBool:
		return nil
	}
	return fmt.Errorf("unknown value type %d", v.Type)
}
