package guard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckMemoryLimit(t *testing.T) {
	tests := []struct {
		name       string
		data       any
		maxBytes   int
		wantSize   int
		wantWithin bool
	}{
		{name: "exactly at limit", data: "12345678", maxBytes: 10, wantSize: 10, wantWithin: true},
		{name: "one byte over", data: "123456789", maxBytes: 10, wantSize: 11, wantWithin: false},
		{name: "object", data: map[string]any{"a": 1}, maxBytes: 100, wantSize: 7, wantWithin: true},
		{name: "html is not escaped", data: "<b>", maxBytes: 5, wantSize: 5, wantWithin: true},
		{name: "multibyte counts bytes", data: "é", maxBytes: 3, wantSize: 4, wantWithin: false},
		{name: "nil", data: nil, maxBytes: 4, wantSize: 4, wantWithin: true},
		{name: "line separator counts raw bytes", data: "\u2028", maxBytes: 5, wantSize: 5, wantWithin: true},
		{name: "paragraph separator in key", data: map[string]any{"a\u2029": 1}, maxBytes: 10, wantSize: 10, wantWithin: true},
		{name: "escaped backslash before u2028 text", data: `\u2028`, maxBytes: 9, wantSize: 9, wantWithin: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check, err := CheckMemoryLimit(tt.data, tt.maxBytes)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSize, check.SizeBytes)
			assert.Equal(t, tt.wantWithin, check.WithinLimit)
			assert.Equal(t, tt.maxBytes, check.MaxSizeBytes)
		})
	}
}

func TestCheckMemoryLimitDoesNotMutate(t *testing.T) {
	data := map[string]any{"values": []any{1, 2, 3}}
	_, err := CheckMemoryLimit(data, 1)
	require.NoError(t, err)
	assert.Equal(t, []any{1, 2, 3}, data["values"])
}

func TestCheckMemoryLimitUnserializable(t *testing.T) {
	_, err := CheckMemoryLimit(map[string]any{"fn": func() {}}, 100)
	assert.Error(t, err)
}
