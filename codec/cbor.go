package codec

import (
	"errors"

	"github.com/fxamacker/cbor/v2"
)

var errZeroCBOR = errors.New("not constructed with NewCBOR")

// CBOR encodes with fxamacker/cbor, falling back to `json` tags when a field
// has no `cbor` tag. Build it with NewCBOR; the zero value has no modes.
//
// Deterministic mode uses Core Deterministic Encoding (RFC 8949) so the same
// cart snapshot always produces the same bytes.
type CBOR[V any] struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

var _ Codec[struct{}] = CBOR[struct{}]{}

func NewCBOR[V any](deterministic bool) (CBOR[V], error) {
	eo := cbor.PreferredUnsortedEncOptions()
	if deterministic {
		eo = cbor.CoreDetEncOptions()
	}
	eo.Time = cbor.TimeRFC3339Nano

	em, err := eo.EncMode()
	if err != nil {
		return CBOR[V]{}, wrap("cbor", "enc mode", err)
	}
	// unknown fields are ignored so older snapshots keep decoding after a
	// field is dropped from the struct
	dm, err := cbor.DecOptions{ExtraReturnErrors: cbor.ExtraDecErrorNone}.DecMode()
	if err != nil {
		return CBOR[V]{}, wrap("cbor", "dec mode", err)
	}
	return CBOR[V]{enc: em, dec: dm}, nil
}

func (c CBOR[V]) Encode(v V) ([]byte, error) {
	if c.enc == nil {
		return nil, wrap("cbor", "encode", errZeroCBOR)
	}
	b, err := c.enc.Marshal(v)
	return b, wrap("cbor", "encode", err)
}

func (c CBOR[V]) Decode(b []byte) (V, error) {
	var v V
	if c.dec == nil {
		return v, wrap("cbor", "decode", errZeroCBOR)
	}
	return v, wrap("cbor", "decode", c.dec.Unmarshal(b, &v))
}
