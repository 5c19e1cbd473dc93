package executor

import (
	"context"
	"errors"
	"testing"

	"rlmcore/internal/rlm/candidates"
	"rlmcore/internal/rlm/domain"
	"rlmcore/internal/rlm/sandbox"
)

type fakeContentStore struct {
	text map[string]string
	meta map[string]map[string]any
}

func (f *fakeContentStore) GetContent(ctx context.Context, artifactID string) (candidates.ArtifactContent, error) {
	text, ok := f.text[artifactID]
	if !ok {
		return candidates.ArtifactContent{}, errors.New("not found")
	}
	return candidates.ArtifactContent{Content: text, Metadata: f.meta[artifactID]}, nil
}

func TestExecuteSelectAndGlimpseHead(t *testing.T) {
	store := &fakeContentStore{text: map[string]string{"a1": "the quick brown fox jumps over the lazy dog"}}
	ex := New(store, sandbox.New(), nil)

	program := domain.Program{Steps: []domain.Step{
		{Action: "select", SelectedIDs: []string{"a1"}},
		{Action: "glimpse", ArtifactID: "a1", Mode: "head", N: 9},
	}}

	result := ex.Execute(context.Background(), "run1", program, domain.CandidateIndex{}, DefaultLimits(), false, 0)
	if result.Status != "ok" {
		t.Fatalf("status = %q, want ok", result.Status)
	}
	if len(result.Glimpses) != 1 || result.Glimpses[0].Text != "the quick" {
		t.Fatalf("glimpses = %+v", result.Glimpses)
	}
	if ids, _ := result.Variables["selected_ids"].([]string); len(ids) != 1 || ids[0] != "a1" {
		t.Fatalf("selected_ids = %v", result.Variables["selected_ids"])
	}
}

func TestExecuteGrep(t *testing.T) {
	store := &fakeContentStore{text: map[string]string{"a1": "alpha beta gamma beta delta"}}
	ex := New(store, nil, nil)
	program := domain.Program{Steps: []domain.Step{
		{Action: "glimpse", ArtifactID: "a1", Mode: "grep", Pattern: "beta", Window: 2, MaxHits: 5},
	}}
	result := ex.Execute(context.Background(), "run1", program, domain.CandidateIndex{}, DefaultLimits(), false, 0)
	if result.Status != "ok" {
		t.Fatalf("status = %q, want ok: events=%+v", result.Status, result.Events)
	}
	if len(result.Glimpses) != 1 {
		t.Fatalf("glimpses = %+v", result.Glimpses)
	}
}

func TestExecuteReplUnavailableDegradesAfterThreshold(t *testing.T) {
	ex := New(nil, nil, nil)
	limits := DefaultLimits()
	limits.MaxEventErrors = 1
	program := domain.Program{Steps: []domain.Step{
		{Action: "repl", Code: "x := 1"},
		{Action: "repl", Code: "x := 1"},
	}}
	result := ex.Execute(context.Background(), "run1", program, domain.CandidateIndex{}, limits, true, 0)
	if result.Status != "degraded" {
		t.Fatalf("status = %q, want degraded", result.Status)
	}
	if result.AssembledContext == nil {
		t.Fatal("expected deterministic fallback assembled context")
	}
}

func TestExecuteMaxStepsLimitExceeded(t *testing.T) {
	ex := New(nil, nil, nil)
	limits := DefaultLimits()
	limits.MaxSteps = 1
	program := domain.Program{Steps: []domain.Step{
		{Action: "noop"},
		{Action: "noop"},
	}}
	result := ex.Execute(context.Background(), "run1", program, domain.CandidateIndex{}, limits, false, 0)
	if result.Status != "stopped" {
		t.Fatalf("status = %q, want stopped", result.Status)
	}
}

func TestExecuteGlimpseFallsBackToCandidatePreview(t *testing.T) {
	ex := New(nil, nil, nil)
	index := domain.CandidateIndex{Candidates: []domain.Candidate{{ArtifactID: "a1", ContentPreview: "preview text here"}}}
	program := domain.Program{Steps: []domain.Step{
		{Action: "glimpse", ArtifactID: "a1", Mode: "head", N: 7},
	}}
	result := ex.Execute(context.Background(), "run1", program, index, DefaultLimits(), false, 0)
	if result.Status != "ok" {
		t.Fatalf("status = %q, events=%+v", result.Status, result.Events)
	}
	if result.Glimpses[0].Text != "preview" {
		t.Fatalf("text = %q", result.Glimpses[0].Text)
	}
}

func TestExecuteProgramParseFailedDegrades(t *testing.T) {
	ex := New(nil, nil, nil)
	index := domain.CandidateIndex{Candidates: []domain.Candidate{{ArtifactID: "a1", BaseScore: 1}}}
	program := domain.Program{Steps: []domain.Step{{Action: "  "}}}
	result := ex.Execute(context.Background(), "run1", program, index, DefaultLimits(), true, 0)
	if result.Status != "degraded" {
		t.Fatalf("status = %q, want degraded", result.Status)
	}
	if result.Events[0].Action != "program_parse_failed" {
		t.Fatalf("event action = %q, want program_parse_failed", result.Events[0].Action)
	}
	if result.AssembledContext == nil || result.AssembledContext["mode"] != "fallback" {
		t.Fatalf("assembled context = %+v, want fallback", result.AssembledContext)
	}
}

func TestExecuteAssemblyModeSelectedIDs(t *testing.T) {
	store := &fakeContentStore{text: map[string]string{"a1": "hello world"}}
	ex := New(store, nil, nil)
	program := domain.Program{Steps: []domain.Step{
		{Action: "select", SelectedIDs: []string{"a1", "a1"}},
	}}
	result := ex.Execute(context.Background(), "run1", program, domain.CandidateIndex{}, AssemblyLimits(), true, 0)
	if result.Status != "ok" {
		t.Fatalf("status = %q", result.Status)
	}
	ids, _ := result.AssembledContext["selected_ids"].([]string)
	if len(ids) != 1 || ids[0] != "a1" {
		t.Fatalf("selected_ids = %v", result.AssembledContext["selected_ids"])
	}
}
