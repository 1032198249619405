package crdt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"string", "hello", `"hello"`},
		{"no html escaping", "<a&b>", `"<a&b>"`},
		{"int", int64(-3), `-3`},
		{"bool", true, `true`},
		{"empty array", []any{}, `[]`},
		{"sorted keys", map[string]any{"b": int64(1), "a": "x"}, `{"a":"x","b":1}`},
		{"nested", map[string]any{"root": map[string]any{"count": int64(1)}, "items": []any{}}, `{"items":[],"root":{"count":1}}`},
		{"nfc", "é", "\"é\""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(got))
		})
	}
}

func TestMarshalCanonicalRejects(t *testing.T) {
	for _, v := range []any{nil, 1.5, struct{}{}} {
		_, err := MarshalCanonical(v)
		assert.Error(t, err)
	}
}

func TestView(t *testing.T) {
	d := NewDoc(1)
	_, err := d.Set("root", "count", IntValue(1))
	require.NoError(t, err)

	view := d.View([]string{"root"}, []string{"items"})
	got, err := MarshalCanonical(view)
	require.NoError(t, err)
	assert.Equal(t, `{"items":[],"root":{"count":1}}`, string(got))
}
