package rootlm

import "testing"

func TestParseTolerantJSONDirect(t *testing.T) {
	m, ok := parseTolerantJSON(`{"final": {"answer": "hi", "citations": []}}`)
	if !ok {
		t.Fatal("expected direct parse to succeed")
	}
	final, _ := m["final"].(map[string]any)
	if final["answer"] != "hi" {
		t.Fatalf("answer = %v", final["answer"])
	}
}

func TestParseTolerantJSONFenced(t *testing.T) {
	raw := "Sure, here you go:\n```json\n{\"program\": {\"steps\": []}}\n```\nLet me know if that helps."
	m, ok := parseTolerantJSON(raw)
	if !ok {
		t.Fatal("expected fenced parse to succeed")
	}
	if _, has := m["program"]; !has {
		t.Fatalf("missing program key: %v", m)
	}
}

func TestParseTolerantJSONGreedyExtraction(t *testing.T) {
	raw := "preamble text {\"final\": {\"answer\": \"x\", \"citations\": [1,2]}} trailing text"
	m, ok := parseTolerantJSON(raw)
	if !ok {
		t.Fatal("expected greedy extraction to succeed")
	}
	if _, has := m["final"]; !has {
		t.Fatalf("missing final key: %v", m)
	}
}

func TestParseTolerantJSONUnparseable(t *testing.T) {
	if _, ok := parseTolerantJSON("this is not json at all"); ok {
		t.Fatal("expected parse to fail")
	}
}

func TestDecodeFinalFallback(t *testing.T) {
	out, ok := decodeFinal(map[string]any{"unexpected": true})
	if !ok {
		t.Fatal("expected ok=true for untagged payload")
	}
	if out["answer"] != "" {
		t.Fatalf("answer = %v, want empty", out["answer"])
	}
	if cites, ok := out["citations"].([]any); !ok || len(cites) != 0 {
		t.Fatalf("citations = %v, want empty slice", out["citations"])
	}
}

func TestDecodeFinalRejectsMismatchedSchemaVersion(t *testing.T) {
	_, ok := decodeFinal(map[string]any{"schema_version": "2", "final": map[string]any{"answer": "hi"}})
	if ok {
		t.Fatal("expected ok=false for mismatched schema_version")
	}
}

func TestDecodeProgramRejectsMismatchedSchemaVersion(t *testing.T) {
	_, ok := decodeProgram(map[string]any{"schema_version": float64(2), "program": map[string]any{"steps": []any{}}})
	if ok {
		t.Fatal("expected ok=false for mismatched schema_version")
	}
}

func TestDecodeProgramAcceptsMatchingSchemaVersion(t *testing.T) {
	_, ok := decodeProgram(map[string]any{"schema_version": "1", "program": map[string]any{"steps": []any{}}})
	if !ok {
		t.Fatal("expected ok=true for matching schema_version")
	}
}
