// Copyright 2026 The Murmur Authors
// SPDX-License-Identifier: Apache-2.0

package codec_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/murmur-net/murmur/lib/codec"
)

func TestMarshalDeterministic(t *testing.T) {
	// Map key order in the source must not affect the encoding.
	first, err := codec.Marshal(map[string]any{"b": 2, "a": 1, "c": 3})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	second, err := codec.Marshal(map[string]any{"c": 3, "a": 1, "b": 2})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("deterministic encoding produced different bytes:\n%x\n%x", first, second)
	}
}

func TestUnmarshalDefaultMapType(t *testing.T) {
	data, err := codec.Marshal(map[string]any{"outer": map[string]any{"inner": "value"}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded any
	if err := codec.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	outer, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded type = %T, want map[string]any", decoded)
	}
	if _, ok := outer["outer"].(map[string]any); !ok {
		t.Fatalf("nested type = %T, want map[string]any", outer["outer"])
	}
}

func TestUnmarshalIgnoresUnknownFields(t *testing.T) {
	type v1 struct {
		Name  string `cbor:"name"`
		Extra string `cbor:"extra"`
	}
	type v0 struct {
		Name string `cbor:"name"`
	}

	data, err := codec.Marshal(v1{Name: "feed", Extra: "future field"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded v0
	if err := codec.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal with unknown field: %v", err)
	}
	if decoded.Name != "feed" {
		t.Errorf("Name = %q, want %q", decoded.Name, "feed")
	}
}

func TestDiagnoseRendersNotation(t *testing.T) {
	data, err := codec.Marshal(map[string]any{"type": "post", "seq": 7})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	notation, err := codec.Diagnose(data)
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}
	for _, want := range []string{`"type"`, `"post"`, `"seq"`, "7"} {
		if !strings.Contains(notation, want) {
			t.Errorf("Diagnose = %q, missing %q", notation, want)
		}
	}

	if _, err := codec.Diagnose([]byte{0xFF}); err == nil {
		t.Error("Diagnose of a stray break code should fail")
	}
}

func TestStructRoundTrip(t *testing.T) {
	type payload struct {
		Kind string `cbor:"kind"`
		Body string `cbor:"body"`
		Seq  int64  `cbor:"seq"`
	}
	in := payload{Kind: "post", Body: "hello gossip", Seq: 7}

	data, err := codec.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out payload
	if err := codec.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out != in {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}
}
