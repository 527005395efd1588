package wire

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

var t0 = time.UnixMilli(1_700_000_000_000)

func mustDecode(t *testing.T, b []byte) Entry {
	t.Helper()
	e, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode error: %v (raw=%s)", err, b)
	}
	return e
}

func TestJSONPayloadStoredInline(t *testing.T) {
	payload := []byte(`{"items":[{"id":111,"quantity":2}],"html":"<div>&</div>"}`)
	raw, err := Encode(payload, t0, 5*time.Minute)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.Contains(raw, payload) {
		t.Fatalf("expected inline data, got %s", raw)
	}
	if !strings.Contains(string(raw), `"storedAt":1700000000000`) || !strings.Contains(string(raw), `"ttl":300000`) {
		t.Fatalf("envelope fields missing: %s", raw)
	}
	e := mustDecode(t, raw)
	if !bytes.Equal(e.Payload, payload) {
		t.Fatalf("payload mismatch: got %s want %s", e.Payload, payload)
	}
	if !e.StoredAt.Equal(t0) || e.TTL != 5*time.Minute {
		t.Fatalf("header mismatch: storedAt=%v ttl=%v", e.StoredAt, e.TTL)
	}
}

func TestBinaryAndEmptyPayloadsUseBlob(t *testing.T) {
	cases := [][]byte{
		{0xa1, 0x61, 0x61, 0x01}, // cbor {"a":1}
		[]byte("not json"),
		[]byte(" 1 "), // valid JSON but not compact
		{},
		nil,
	}
	for _, payload := range cases {
		raw, err := Encode(payload, t0, time.Second)
		if err != nil {
			t.Fatalf("Encode(%x): %v", payload, err)
		}
		if !strings.Contains(string(raw), `"blob"`) {
			t.Fatalf("expected blob field for %x, got %s", payload, raw)
		}
		e := mustDecode(t, raw)
		if !bytes.Equal(e.Payload, payload) {
			t.Fatalf("payload mismatch: got %x want %x", e.Payload, payload)
		}
	}
}

func TestNullPayloadRoundTrips(t *testing.T) {
	raw, err := Encode([]byte("null"), t0, time.Minute)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !strings.Contains(string(raw), `"data":null`) {
		t.Fatalf("expected inline null, got %s", raw)
	}
	e := mustDecode(t, raw)
	if string(e.Payload) != "null" {
		t.Fatalf("payload = %q, want null", e.Payload)
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	bad := []string{
		``,
		`not-json`,
		`{"data":1,"ttl":1000}`,                       // no storedAt
		`{"data":1,"storedAt":0,"ttl":1000}`,          // zero storedAt
		`{"data":1,"storedAt":"yesterday","ttl":1000}`, // wrong type
		`{"storedAt":1700000000000,"ttl":1000}`,        // neither data nor blob
		`{"data":null,"blob":"AA==","storedAt":1700000000000,"ttl":1000}`,
		`{"data":1,"blob":"AA==","storedAt":1700000000000,"ttl":1000}`, // both
		`{"data":1,"storedAt":1700000000000,"ttl":-1}`,
	}
	for _, s := range bad {
		if _, err := Decode([]byte(s)); err != ErrCorrupt {
			t.Fatalf("Decode(%q) err=%v, want ErrCorrupt", s, err)
		}
	}
}

func TestExpiredBoundary(t *testing.T) {
	e := Entry{StoredAt: t0, TTL: time.Minute}
	if e.Expired(t0.Add(time.Minute)) {
		t.Fatalf("entry must still be valid at exactly storedAt+ttl")
	}
	if !e.Expired(t0.Add(time.Minute + time.Millisecond)) {
		t.Fatalf("entry must be expired past storedAt+ttl")
	}
}

func TestStoredAtIgnoresPayloadShape(t *testing.T) {
	// A sweep only needs the timestamp, even if data/blob are inconsistent.
	got, err := StoredAt([]byte(`{"storedAt":1700000000000}`))
	if err != nil {
		t.Fatalf("StoredAt: %v", err)
	}
	if !got.Equal(t0) {
		t.Fatalf("StoredAt got %v want %v", got, t0)
	}
	if _, err := StoredAt([]byte(`{"ttl":5}`)); err != ErrCorrupt {
		t.Fatalf("expected ErrCorrupt for missing storedAt, got %v", err)
	}
}
