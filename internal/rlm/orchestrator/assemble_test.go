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

func newTestAssemblyService(t *testing.T) (*AssemblyService, string) {
	t.Helper()
	store := candidates.NewMemoryStore()
	store.Put(domain.Artifact{
		ID: "a1", ProjectID: "p1", SessionID: "s1", Scope: domain.ScopeSession,
		Type: domain.ArtifactDoc, Content: "hello world this is artifact one", Weight: 1.0, Status: domain.StatusActive,
	})
	retrievalSvc := retrieval.New(store)
	runs := runstore.NewMemoryStore()
	tracer := trace.New(t.TempDir(), nil)
	exec := executor.New(store, sandbox.New(), nil)
	svc := NewAssemblyService(retrievalSvc, runs, tracer, exec, Config{})
	return svc, "s1"
}

func TestAssembleWithProgramOverrideSelectsCandidate(t *testing.T) {
	svc, sessionID := newTestAssemblyService(t)
	options := map[string]any{
		"program": map[string]any{
			"steps": []map[string]any{{"action": "select", "selected_ids": []string{"a1"}}},
		},
	}
	result, err := svc.Assemble(context.Background(), sessionID, "hello", options)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if result.Status != domain.RunOK {
		t.Fatalf("status = %v, want ok", result.Status)
	}
	ids, _ := result.AssembledContext["selected_ids"].([]string)
	if len(ids) != 1 || ids[0] != "a1" {
		t.Fatalf("selected_ids = %v, want [a1]", result.AssembledContext["selected_ids"])
	}
}

func TestAssembleEmptyQueryRejected(t *testing.T) {
	svc, sessionID := newTestAssemblyService(t)
	if _, err := svc.Assemble(context.Background(), sessionID, "", nil); err != ErrEmptyQuery {
		t.Fatalf("err = %v, want ErrEmptyQuery", err)
	}
}

func TestAssembleEmptyProgramIsCleanOk(t *testing.T) {
	svc, sessionID := newTestAssemblyService(t)
	result, err := svc.Assemble(context.Background(), sessionID, "hello", nil)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if result.Status != domain.RunOK {
		t.Fatalf("status = %v, want ok", result.Status)
	}
	if result.AssembledContext["mode"] != "program" {
		t.Fatalf("mode = %v, want program", result.AssembledContext["mode"])
	}
}

func TestAssembleMalformedProgramDegradesToFallback(t *testing.T) {
	svc, sessionID := newTestAssemblyService(t)
	options := map[string]any{
		"program": map[string]any{
			"steps": []map[string]any{{"action": ""}},
		},
	}
	result, err := svc.Assemble(context.Background(), sessionID, "hello", options)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if result.Status != domain.RunDegraded {
		t.Fatalf("status = %v, want degraded", result.Status)
	}
	if result.AssembledContext["mode"] != "fallback" {
		t.Fatalf("mode = %v, want fallback", result.AssembledContext["mode"])
	}
}
