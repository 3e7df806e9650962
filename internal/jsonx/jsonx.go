// Package jsonx is the JSON codec used on the wire and for embedded data.
// It wraps Sonic with the standard library's semantics (HTML escaping off,
// map keys sorted) so output is stable across runs.
package jsonx

import (
	"io"

	"github.com/bytedance/sonic"
)

var api = sonic.Config{
	EscapeHTML:       false,
	SortMapKeys:      true,
	ValidateString:   true,
	CompactMarshaler: true,
}.Froze()

// Marshal returns the JSON encoding of v.
func Marshal(v interface{}) ([]byte, error) {
	return api.Marshal(v)
}

// Unmarshal parses data into v. Type mismatches are reported as errors.
func Unmarshal(data []byte, v interface{}) error {
	return api.Unmarshal(data, v)
}

// Valid reports whether data is a single well-formed JSON value.
func Valid(data []byte) bool {
	return api.Valid(data)
}

// NewEncoder returns an encoder writing to w.
func NewEncoder(w io.Writer) sonic.Encoder {
	return api.NewEncoder(w)
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r io.Reader) sonic.Decoder {
	return api.NewDecoder(r)
}
