// Package jsoncodec is the JSON codec used on the wire by the host and client.
//
// It follows encoding/json semantics: map keys are sorted and invalid UTF-8
// in strings is replaced with U+FFFD rather than rejected, so such bytes do
// not survive a round trip.
package jsoncodec

import (
	"io"

	"github.com/bytedance/sonic"
)

var defaultConfig = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return defaultConfig.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return defaultConfig.Unmarshal(data, v)
}

func Valid(data []byte) bool {
	return defaultConfig.Valid(data)
}

// Encode writes v to w followed by a newline. HTML characters are not escaped.
func Encode(w io.Writer, v any) error {
	enc := defaultConfig.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func Decode(r io.Reader, v any) error {
	return defaultConfig.NewDecoder(r).Decode(v)
}

// Convert re-encodes src into dst, which must be a pointer. It is used to move
// loosely typed values (maps, []any, float64) into concrete Go types.
func Convert(src any, dst any) error {
	data, err := Marshal(src)
	if err != nil {
		return err
	}
	return Unmarshal(data, dst)
}
