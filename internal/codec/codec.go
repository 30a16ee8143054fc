// Package codec provides the pluggable payload encoding chanhub's message
// framer delegates to. The wire protocol only requires encode(value)->bytes
// and decode(bytes)->value; this package implements that as a compile-time
// registry instead of the dynamically-imported class the distilled design
// used, per the project's design notes on runtime extensibility.
package codec

import (
	"encoding/json"
	"fmt"
)

// Codec converts between a Go value and its wire bytes.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, out any) error
}

// Name is a registry key for a Codec.
type Name string

const (
	// JSON is the only required codec entry (§4.1 of SPEC_FULL.md).
	JSON Name = "json"
)

var registry = map[Name]Codec{
	JSON: jsonCodec{},
}

// Register adds or replaces a codec entry. Intended for process
// initialization (e.g. a future binary-format codec), not runtime
// reconfiguration.
func Register(name Name, c Codec) {
	registry[name] = c
}

// Lookup resolves a codec by its configured name.
func Lookup(name Name) (Codec, error) {
	c, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("codec: unknown codec %q", name)
	}
	return c, nil
}

type jsonCodec struct{}

func (jsonCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Decode(data []byte, out any) error {
	return json.Unmarshal(data, out)
}
