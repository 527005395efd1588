package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"
)

var ErrCorrupt = errors.New("storecache: corrupt entry")

// envelope is the stored form of every entry:
//
//	{"data": <json payload>, "storedAt": <unix ms>, "ttl": <ms>}
//
// Payloads that are not JSON (CBOR, msgpack, protobuf) go to "blob" (base64) instead of "data".
type envelope struct {
	Data     json.RawMessage `json:"data,omitempty"`
	Blob     *[]byte         `json:"blob,omitempty"`
	StoredAt int64           `json:"storedAt"`
	TTL      int64           `json:"ttl"`
}

// Entry is a decoded envelope.
type Entry struct {
	Payload  []byte
	StoredAt time.Time
	TTL      time.Duration
}

// Expired reports whether now is past StoredAt + TTL.
func (e Entry) Expired(now time.Time) bool {
	return now.Sub(e.StoredAt) > e.TTL
}

func Encode(payload []byte, storedAt time.Time, ttl time.Duration) ([]byte, error) {
	env := envelope{
		StoredAt: storedAt.UnixMilli(),
		TTL:      ttl.Milliseconds(),
	}
	if compactJSON(payload) {
		env.Data = payload
	} else {
		blob := payload
		if blob == nil {
			blob = []byte{}
		}
		env.Blob = &blob
	}
	// HTML escaping would rewrite inline payload bytes.
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(env); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func Decode(b []byte) (Entry, error) {
	env, err := decode(b)
	if err != nil {
		return Entry{}, err
	}
	// RawMessage keeps a literal null, so an absent "data" and "data":null differ.
	hasData := len(env.Data) > 0
	if hasData == (env.Blob != nil) || env.TTL < 0 {
		return Entry{}, ErrCorrupt
	}
	payload := []byte(env.Data)
	if !hasData {
		payload = *env.Blob
	}
	return Entry{
		Payload:  payload,
		StoredAt: time.UnixMilli(env.StoredAt),
		TTL:      time.Duration(env.TTL) * time.Millisecond,
	}, nil
}

// StoredAt reads only the write timestamp; sweeps use it to age entries
// without caring whether the payload is still decodable.
func StoredAt(b []byte) (time.Time, error) {
	env, err := decode(b)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(env.StoredAt), nil
}

// compactJSON reports whether payload can be stored inline byte-for-byte
// (json.Marshal compacts RawMessage, so only already-compact JSON survives as is).
func compactJSON(payload []byte) bool {
	if len(payload) == 0 || !json.Valid(payload) {
		return false
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, payload); err != nil {
		return false
	}
	return bytes.Equal(buf.Bytes(), payload)
}

func decode(b []byte) (envelope, error) {
	var env envelope
	if len(b) == 0 || json.Unmarshal(b, &env) != nil || env.StoredAt <= 0 {
		return envelope{}, ErrCorrupt
	}
	return env, nil
}
