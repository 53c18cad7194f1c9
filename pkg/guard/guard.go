// Package guard measures widget payloads against byte-size limits.
package guard

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MemoryCheck is the outcome of a size check
type MemoryCheck struct {
	WithinLimit  bool `json:"withinLimit"`
	SizeBytes    int  `json:"sizeBytes"`
	MaxSizeBytes int  `json:"maxSizeBytes"`
}

// CheckMemoryLimit serializes data to compact JSON and compares its byte length with maxBytes.
// HTML characters are not escaped and U+2028/U+2029 count as their raw three bytes,
// so the count matches what a browser's JSON.stringify produces.
func CheckMemoryLimit(data any, maxBytes int) (MemoryCheck, error) {
	size, err := SerializedSize(data)
	if err != nil {
		return MemoryCheck{MaxSizeBytes: maxBytes}, err
	}
	return MemoryCheck{
		WithinLimit:  size <= maxBytes,
		SizeBytes:    size,
		MaxSizeBytes: maxBytes,
	}, nil
}

// SerializedSize returns the compact JSON byte length of data
func SerializedSize(data any) (int, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(data); err != nil {
		return 0, fmt.Errorf("failed to serialize data: %w", err)
	}
	// Encode terminates the value with a newline
	size := buf.Len() - 1
	// encoding/json writes U+2028 and U+2029 as six-byte escapes; JSON.stringify writes them raw
	return size - 3*separatorEscapes(buf.Bytes()), nil
}

func separatorEscapes(encoded []byte) int {
	n := 0
	for i := 0; i < len(encoded); i++ {
		if encoded[i] != '\\' {
			continue
		}
		if bytes.HasPrefix(encoded[i+1:], []byte("u2028")) || bytes.HasPrefix(encoded[i+1:], []byte("u2029")) {
			n++
		}
		// skip the escaped character so an escaped backslash is not read as an escape
		i++
	}
	return n
}
