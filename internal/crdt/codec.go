package crdt

import (
	"fmt"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/roach88/docsync/internal/engine"
)

// Wire layout (protobuf wire format, no generated code):
//
//	Update  { repeated Item items = 1; }
//	Item    { uint64 client = 1; uint64 clock = 2; uint64 lamport = 3;
//	          uint32 kind = 4; string target = 5; string key = 6; Value value = 7; }
//	Value   { sint64 int = 1; string str = 2; bool bool = 3; }
//	Summary { repeated Entry entries = 1; }
//	Entry   { uint64 client = 1; uint64 clock = 2; }
//
// Unknown fields are skipped so newer encoders stay readable.
const (
	fieldUpdateItem = protowire.Number(1)

	fieldItemClient  = protowire.Number(1)
	fieldItemClock   = protowire.Number(2)
	fieldItemLamport = protowire.Number(3)
	fieldItemKind    = protowire.Number(4)
	fieldItemTarget  = protowire.Number(5)
	fieldItemKey     = protowire.Number(6)
	fieldItemValue   = protowire.Number(7)

	fieldValueInt  = protowire.Number(1)
	fieldValueStr  = protowire.Number(2)
	fieldValueBool = protowire.Number(3)

	fieldSummaryEntry = protowire.Number(1)
	fieldEntryClient  = protowire.Number(1)
	fieldEntryClock   = protowire.Number(2)
)

// encodeItems encodes items sorted by (client, clock). Returns nil for none.
func encodeItems(items []Item) []byte {
	if len(items) == 0 {
		return nil
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].ID.Client != items[j].ID.Client {
			return items[i].ID.Client < items[j].ID.Client
		}
		return items[i].ID.Clock < items[j].ID.Clock
	})

	var b []byte
	for _, it := range items {
		b = protowire.AppendTag(b, fieldUpdateItem, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeItem(it))
	}
	return b
}

func encodeItem(it Item) []byte {
	var b []byte
	b = appendVarintField(b, fieldItemClient, it.ID.Client)
	b = appendVarintField(b, fieldItemClock, it.ID.Clock)
	b = appendVarintField(b, fieldItemLamport, it.Lamport)
	b = appendVarintField(b, fieldItemKind, uint64(it.Kind))
	if it.Kind == KindGC {
		return b
	}
	b = protowire.AppendTag(b, fieldItemTarget, protowire.BytesType)
	b = protowire.AppendString(b, it.Target)
	if it.Key != "" {
		b = protowire.AppendTag(b, fieldItemKey, protowire.BytesType)
		b = protowire.AppendString(b, it.Key)
	}
	b = protowire.AppendTag(b, fieldItemValue, protowire.BytesType)
	b = protowire.AppendBytes(b, encodeValue(it.Value))
	return b
}

func encodeValue(v Value) []byte {
	var b []byte
	switch v.Type {
	case TypeInt:
		b = appendVarintField(b, fieldValueInt, protowire.EncodeZigZag(v.Int))
	case TypeString:
		b = protowire.AppendTag(b, fieldValueStr, protowire.BytesType)
		b = protowire.AppendString(b, v.Str)
	case TypeBool:
		b = appendVarintField(b, fieldValueBool, protowire.EncodeBool(v.Bool))
	}
	return b
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// decodeItems decodes and validates an update. Any defect fails the whole
// update.
func decodeItems(b []byte) ([]Item, error) {
	var items []Item
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, malformed("update tag", protowire.ParseError(n))
		}
		b = b[n:]

		if num != fieldUpdateItem || typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, malformed("update field", protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}

		raw, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, malformed("item bytes", protowire.ParseError(n))
		}
		b = b[n:]

		it, err := decodeItem(raw)
		if err != nil {
			return nil, err
		}
		if err := it.validate(); err != nil {
			return nil, malformed("item", err)
		}
		items = append(items, it)
	}
	return items, nil
}

func decodeItem(b []byte) (Item, error) {
	var it Item
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return it, malformed("item tag", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case typ == protowire.VarintType && num <= fieldItemKind:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return it, malformed("item varint", protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case fieldItemClient:
				it.ID.Client = v
			case fieldItemClock:
				it.ID.Clock = v
			case fieldItemLamport:
				it.Lamport = v
			case fieldItemKind:
				it.Kind = Kind(v)
			}

		case typ == protowire.BytesType && (num == fieldItemTarget || num == fieldItemKey || num == fieldItemValue):
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return it, malformed("item bytes", protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case fieldItemTarget:
				it.Target = string(raw)
			case fieldItemKey:
				it.Key = string(raw)
			case fieldItemValue:
				v, err := decodeValue(raw)
				if err != nil {
					return it, err
				}
				it.Value = v
			}

		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return it, malformed("item field", protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return it, nil
}

func decodeValue(b []byte) (Value, error) {
	var v Value
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return v, malformed("value tag", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldValueInt && typ == protowire.VarintType:
			x, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return v, malformed("value int", protowire.ParseError(n))
			}
			b = b[n:]
			v = IntValue(protowire.DecodeZigZag(x))

		case num == fieldValueStr && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return v, malformed("value string", protowire.ParseError(n))
			}
			b = b[n:]
			v = StringValue(string(raw))

		case num == fieldValueBool && typ == protowire.VarintType:
			x, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return v, malformed("value bool", protowire.ParseError(n))
			}
			b = b[n:]
			v = BoolValue(protowire.DecodeBool(x))

		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return v, malformed("value field", protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return v, nil
}

// encodeVector encodes a state vector sorted by client.
func encodeVector(vector map[uint64]uint64) []byte {
	clients := make([]uint64, 0, len(vector))
	for c, clock := range vector {
		if clock > 0 {
			clients = append(clients, c)
		}
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i] < clients[j] })

	var b []byte
	for _, c := range clients {
		var entry []byte
		entry = appendVarintField(entry, fieldEntryClient, c)
		entry = appendVarintField(entry, fieldEntryClock, vector[c])
		b = protowire.AppendTag(b, fieldSummaryEntry, protowire.BytesType)
		b = protowire.AppendBytes(b, entry)
	}
	return b
}

func decodeVector(b []byte) (map[uint64]uint64, error) {
	vector := make(map[uint64]uint64)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, malformed("summary tag", protowire.ParseError(n))
		}
		b = b[n:]

		if num != fieldSummaryEntry || typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, malformed("summary field", protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}

		raw, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, malformed("summary entry", protowire.ParseError(n))
		}
		b = b[n:]

		var client, clock uint64
		for len(raw) > 0 {
			enum, etyp, en := protowire.ConsumeTag(raw)
			if en < 0 {
				return nil, malformed("entry tag", protowire.ParseError(en))
			}
			raw = raw[en:]
			if etyp != protowire.VarintType {
				en = protowire.ConsumeFieldValue(enum, etyp, raw)
				if en < 0 {
					return nil, malformed("entry field", protowire.ParseError(en))
				}
				raw = raw[en:]
				continue
			}
			v, en := protowire.ConsumeVarint(raw)
			if en < 0 {
				return nil, malformed("entry varint", protowire.ParseError(en))
			}
			raw = raw[en:]
			switch enum {
			case fieldEntryClient:
				client = v
			case fieldEntryClock:
				clock = v
			}
		}
		if client == 0 {
			return nil, malformed("summary entry", fmt.Errorf("client is zero"))
		}
		if clock > vector[client] {
			vector[client] = clock
		}
	}
	return vector, nil
}

func malformed(what string, err error) error {
	return fmt.Errorf("%w: %s: %v", engine.ErrMalformed, what, err)
}
