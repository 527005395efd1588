package codec

import "encoding/json"

// JSON is the default codec. Its output is stored inline and stays readable
// with redis-cli.
type JSON[V any] struct{}

var _ Codec[struct{}] = JSON[struct{}]{}

func (JSON[V]) Encode(v V) ([]byte, error) {
	b, err := json.Marshal(v)
	return b, wrap("json", "encode", err)
}

func (JSON[V]) Decode(b []byte) (V, error) {
	var v V
	return v, wrap("json", "decode", json.Unmarshal(b, &v))
}
