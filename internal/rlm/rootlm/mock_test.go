package rootlm

import (
	"context"
	"testing"

	"rlmcore/internal/rlm/domain"
)

func TestMockGenerateProgramWithCandidate(t *testing.T) {
	m := NewMock()
	index := domain.CandidateIndex{
		Query:      "q",
		Candidates: []domain.Candidate{{ArtifactID: "a1"}, {ArtifactID: "a2"}},
	}
	result, err := m.GenerateProgram(context.Background(), index, nil, nil, nil)
	if err != nil {
		t.Fatalf("GenerateProgram: %v", err)
	}
	if len(result.Program.Steps) != 2 {
		t.Fatalf("steps = %d, want 2", len(result.Program.Steps))
	}
	if result.Program.Steps[0].Action != "select" || result.Program.Steps[0].SelectedIDs[0] != "a1" {
		t.Fatalf("step 0 = %+v", result.Program.Steps[0])
	}
	if result.Program.Steps[1].Action != "glimpse" || result.Program.Steps[1].N != 800 {
		t.Fatalf("step 1 = %+v", result.Program.Steps[1])
	}
}

func TestMockGenerateProgramNoCandidates(t *testing.T) {
	m := NewMock()
	result, err := m.GenerateProgram(context.Background(), domain.CandidateIndex{}, nil, nil, nil)
	if err != nil {
		t.Fatalf("GenerateProgram: %v", err)
	}
	if len(result.Program.Steps) != 0 {
		t.Fatalf("steps = %v, want empty", result.Program.Steps)
	}
}

func TestMockGenerateFinalDefaultAndOverride(t *testing.T) {
	m := NewMock()
	index := domain.CandidateIndex{Query: "what is up"}

	result, err := m.GenerateFinal(context.Background(), index, nil, nil, nil)
	if err != nil {
		t.Fatalf("GenerateFinal: %v", err)
	}
	if result.Final["answer"] != "Mock answer for: what is up" {
		t.Fatalf("answer = %v", result.Final["answer"])
	}

	result, err = m.GenerateFinal(context.Background(), index, nil, nil, map[string]any{"final_answer": "overridden"})
	if err != nil {
		t.Fatalf("GenerateFinal: %v", err)
	}
	if result.Final["answer"] != "overridden" {
		t.Fatalf("answer = %v, want overridden", result.Final["answer"])
	}
}
