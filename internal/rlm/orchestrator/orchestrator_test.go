package orchestrator

import (
	"context"
	"testing"

	"rlmcore/internal/rlm/candidates"
	"rlmcore/internal/rlm/domain"
	"rlmcore/internal/rlm/executor"
	"rlmcore/internal/rlm/retrieval"
	"rlmcore/internal/rlm/runstore"
	"rlmcore/internal/rlm/sandbox"
	"rlmcore/internal/rlm/trace"
)

func seedStore(t *testing.T) *candidates.MemoryStore {
	t.Helper()
	store := candidates.NewMemoryStore()
	store.Put(domain.Artifact{
		ID: "a1", ProjectID: "p1", SessionID: "s1", Scope: domain.ScopeSession,
		Type: domain.ArtifactDoc, Content: "hello world this is artifact one", Weight: 1.0, Status: domain.StatusActive,
	})
	return store
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, string) {
	t.Helper()
	store := seedStore(t)
	retrievalSvc := retrieval.New(store)
	runs := runstore.NewMemoryStore()
	tracer := trace.New(t.TempDir(), nil)
	exec := executor.New(store, sandbox.New(), nil)
	orch := New(retrievalSvc, runs, tracer, exec, nil, nil, Config{RootLMBackend: "mock"})
	return orch, "s1"
}

func TestRunEndToEndWithMockBackends(t *testing.T) {
	orch, sessionID := newTestOrchestrator(t)

	result, err := orch.Run(context.Background(), sessionID, "hello", map[string]any{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != domain.RunOK {
		t.Fatalf("status = %v, want ok", result.Status)
	}
	if result.FinalAnswer == "" {
		t.Fatal("expected a non-empty final answer from the Mock decision backend")
	}
	if len(result.Program.Steps) == 0 {
		t.Fatal("expected the Mock plan backend to emit select+glimpse steps")
	}
	if len(result.Glimpses) == 0 {
		t.Fatal("expected at least one glimpse from executing the plan program")
	}
}

func TestRunEmptyQueryRejected(t *testing.T) {
	orch, sessionID := newTestOrchestrator(t)
	_, err := orch.Run(context.Background(), sessionID, "   ", nil)
	if err != ErrEmptyQuery {
		t.Fatalf("err = %v, want ErrEmptyQuery", err)
	}
}

func TestRunUnknownSessionPropagatesNotFound(t *testing.T) {
	orch, _ := newTestOrchestrator(t)
	_, err := orch.Run(context.Background(), "missing-session", "hello", nil)
	if err == nil {
		t.Fatal("expected session_not_found error")
	}
}

func TestRunFallsBackToMockOnInvalidVllmBackend(t *testing.T) {
	orch, sessionID := newTestOrchestrator(t)
	result, err := orch.Run(context.Background(), sessionID, "hello", map[string]any{"rootlm_backend": "vllm"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.FinalAnswer == "" {
		t.Fatal("expected Mock fallback to still produce a final answer")
	}
}

func TestRunWithMockExecutorBackend(t *testing.T) {
	orch, sessionID := newTestOrchestrator(t)
	result, err := orch.Run(context.Background(), sessionID, "hello", map[string]any{"executor_backend": "mock"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Glimpses) != 0 {
		t.Fatalf("expected the mock executor to skip glimpsing, got %d", len(result.Glimpses))
	}
}
