package codec

import (
	"testing"
)

func sample() map[string]any {
	return map[string]any{
		"request_id": "req-1",
		"payload":    "héllo wörld ☃",
		"version":    1,
		"metadata":   map[string]any{"trace": "abc", "hop": "router"},
	}
}

func checkSample(t *testing.T, out map[string]any) {
	t.Helper()
	if out["request_id"] != "req-1" {
		t.Fatalf("request_id = %#v", out["request_id"])
	}
	if out["payload"] != "héllo wörld ☃" {
		t.Fatalf("payload = %#v", out["payload"])
	}
	md, ok := out["metadata"].(map[string]any)
	if !ok {
		t.Fatalf("metadata decoded as %T", out["metadata"])
	}
	if md["trace"] != "abc" || md["hop"] != "router" {
		t.Fatalf("metadata = %#v", md)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	c := JSON()
	b, err := c.Marshal(sample())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	out, err := c.Unmarshal(b)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	checkSample(t, out)
	if n, ok := out["version"].(float64); !ok || n != 1 {
		t.Fatalf("version = %#v", out["version"])
	}
}

func TestCBORRoundTrip(t *testing.T) {
	c, err := CBOR()
	if err != nil {
		t.Fatalf("new cbor: %v", err)
	}
	b, err := c.Marshal(sample())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	out, err := c.Unmarshal(b)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	checkSample(t, out)
}

func TestCBORDeterministic(t *testing.T) {
	c, err := CBOR()
	if err != nil {
		t.Fatalf("new cbor: %v", err)
	}
	a, err := c.Marshal(sample())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	b, err := c.Marshal(sample())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(a) != string(b) {
		t.Fatalf("encoding not deterministic")
	}
}

func TestProtoRoundTrip(t *testing.T) {
	c := Proto()
	in := sample()
	in["version"] = float64(1) // structpb carries numbers as doubles
	b, err := c.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	out, err := c.Unmarshal(b)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	checkSample(t, out)
}

func TestRegistryLookup(t *testing.T) {
	r, err := NewRegistry()
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	for _, ct := range []string{"application/json", "application/cbor", "application/x-protobuf"} {
		if r.Get(ct) == nil {
			t.Fatalf("missing codec for %s", ct)
		}
	}
	if r.Get("application/xml") != nil {
		t.Fatalf("unexpected codec for xml")
	}
}
