package rootlm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"rlmcore/internal/rlm/domain"
)

func chatServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": content}},
			},
		})
	}))
}

func TestHTTPChatGenerateFinalDirectJSON(t *testing.T) {
	srv := chatServer(t, `{"final": {"answer": "the answer", "citations": ["a1"]}}`)
	defer srv.Close()

	backend := NewHTTPChat(HTTPChatConfig{BaseURL: srv.URL, Model: "test-model"}, srv.Client())
	result, err := backend.GenerateFinal(context.Background(), domain.CandidateIndex{Query: "q"}, nil, nil, nil)
	if err != nil {
		t.Fatalf("GenerateFinal: %v", err)
	}
	if !result.Parsed {
		t.Fatal("expected Parsed=true")
	}
	if result.Final["answer"] != "the answer" {
		t.Fatalf("answer = %v", result.Final["answer"])
	}
}

func TestHTTPChatGenerateFinalUnparseableFallsBackToRawText(t *testing.T) {
	srv := chatServer(t, "not json at all")
	defer srv.Close()

	backend := NewHTTPChat(HTTPChatConfig{BaseURL: srv.URL, Model: "test-model"}, srv.Client())
	result, err := backend.GenerateFinal(context.Background(), domain.CandidateIndex{Query: "q"}, nil, nil, nil)
	if err != nil {
		t.Fatalf("GenerateFinal: %v", err)
	}
	if result.Parsed {
		t.Fatal("expected Parsed=false")
	}
	if result.Final["answer"] != "not json at all" {
		t.Fatalf("answer = %v", result.Final["answer"])
	}
}

func Test4xxNeverRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": "bad request"}`))
	}))
	defer srv.Close()

	backend := NewHTTPChat(HTTPChatConfig{
		BaseURL: srv.URL,
		Model:   "test-model",
		Retry:   RetryPolicy{TimeoutSeconds: 2, MaxRetries: 3, BackoffSeconds: 0},
	}, srv.Client())

	_, err := backend.GenerateFinal(context.Background(), domain.CandidateIndex{Query: "q"}, nil, nil, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("calls = %d, want 1 (4xx must not retry)", got)
	}
}

func Test5xxRetriesUpToMaxThenFails(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	backend := NewHTTPChat(HTTPChatConfig{
		BaseURL: srv.URL,
		Model:   "test-model",
		Retry:   RetryPolicy{TimeoutSeconds: 2, MaxRetries: 2, BackoffSeconds: 0},
	}, srv.Client())

	_, err := backend.GenerateFinal(context.Background(), domain.CandidateIndex{Query: "q"}, nil, nil, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("calls = %d, want 3 (1 initial + 2 retries)", got)
	}
}

func TestNormalizeBaseURL(t *testing.T) {
	cases := map[string]string{
		"http://host:8000/":     "http://host:8000",
		"http://host:8000/v1":   "http://host:8000",
		"http://host:8000/v1/":  "http://host:8000",
		"http://host:8000":      "http://host:8000",
	}
	for in, want := range cases {
		if got := normalizeBaseURL(in); got != want {
			t.Fatalf("normalizeBaseURL(%q) = %q, want %q", in, got, want)
		}
	}
}
