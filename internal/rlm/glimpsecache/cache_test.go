package glimpsecache

import (
	"context"
	"testing"
)

func TestNilClientIsAlwaysMiss(t *testing.T) {
	c := New(nil, 0)
	if _, ok := c.Get(context.Background(), "rlm:glimpse:run1:abc"); ok {
		t.Fatal("expected miss with nil client")
	}
	c.Set(context.Background(), "rlm:glimpse:run1:abc", Entry{Text: "x"})
}

func TestGlimpseIDIsPureFunctionOfInputs(t *testing.T) {
	spec := map[string]any{"mode": "head", "n": float64(800)}
	id1, err := GlimpseID("artifact-1", "hash-1", spec)
	if err != nil {
		t.Fatalf("GlimpseID: %v", err)
	}
	id2, err := GlimpseID("artifact-1", "hash-1", spec)
	if err != nil {
		t.Fatalf("GlimpseID: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("GlimpseID not deterministic: %s != %s", id1, id2)
	}

	id3, err := GlimpseID("artifact-1", "hash-2", spec)
	if err != nil {
		t.Fatalf("GlimpseID: %v", err)
	}
	if id3 == id1 {
		t.Fatal("GlimpseID should differ when content_hash differs")
	}
}

func TestKeyFormat(t *testing.T) {
	if got, want := Key("run-1", "glimpse-1"), "rlm:glimpse:run-1:glimpse-1"; got != want {
		t.Fatalf("Key() = %q, want %q", got, want)
	}
}
