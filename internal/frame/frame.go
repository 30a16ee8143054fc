// Package frame implements chanhub's wire framing: one codec-encoded
// payload followed by a single terminator byte per message.
package frame

import (
	"bytes"

	"github.com/arlonorlan/chanhub/internal/chanerrors"
	"github.com/arlonorlan/chanhub/internal/codec"
)

// Terminator separates frames on the wire. It must never occur inside a
// valid encoded payload; JSON text satisfies this (a raw 0x0A only ever
// appears escaped inside a JSON string).
const Terminator = '\n'

// Framer encodes and decodes wire frames using a single codec.
type Framer struct {
	codec codec.Codec
}

// New builds a Framer bound to c.
func New(c codec.Codec) *Framer {
	return &Framer{codec: c}
}

// EncodeFrame encodes v and appends the terminator byte.
func (f *Framer) EncodeFrame(v any) ([]byte, error) {
	payload, err := f.codec.Encode(v)
	if err != nil {
		return nil, &chanerrors.CodecError{Op: "encode", Err: err}
	}
	out := make([]byte, 0, len(payload)+1)
	out = append(out, payload...)
	out = append(out, Terminator)
	return out, nil
}

// DecodeFrame decodes a terminator-stripped payload into out.
func (f *Framer) DecodeFrame(payload []byte, out any) error {
	if err := f.codec.Decode(payload, out); err != nil {
		return &chanerrors.CodecError{Op: "decode", Err: err}
	}
	return nil
}

// Split appends chunk to residual, then repeatedly splits on the first
// terminator byte. Each complete payload (terminator stripped) is returned
// in order; the remainder without a trailing terminator becomes the new
// residual buffer for the next call. A residual with no terminator yields
// no payloads and is returned unchanged (except for the appended chunk).
func Split(residual, chunk []byte) (payloads [][]byte, rest []byte) {
	buf := append(residual, chunk...)
	for {
		idx := bytes.IndexByte(buf, Terminator)
		if idx < 0 {
			break
		}
		payload := make([]byte, idx)
		copy(payload, buf[:idx])
		payloads = append(payloads, payload)
		buf = buf[idx+1:]
	}
	rest = make([]byte, len(buf))
	copy(rest, buf)
	return payloads, rest
}
