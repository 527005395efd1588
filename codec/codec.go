// Package codec converts cached values to and from the payload bytes stored
// inside a storecache envelope. JSON output is kept inline in the envelope;
// binary codecs (CBOR, msgpack, protobuf) are stored base64-encoded.
//
// Struct codecs honour `json` tags, so storefront types such as
// storefront.Cart round-trip under every codec with the same field names.
package codec

import "fmt"

type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}

func wrap(name, op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("codec: %s %s: %w", name, op, err)
}
