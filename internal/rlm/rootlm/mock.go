package rootlm

import (
	"context"
	"fmt"

	"rlmcore/internal/rlm/domain"
)

// Mock is the deterministic root-LM backend used as the always-available
// plan-round backend and as the decision-round fallback when the HTTP-Chat
// or Anthropic backend is unconfigured or fails.
type Mock struct{}

// NewMock constructs a Mock backend.
func NewMock() *Mock { return &Mock{} }

// GenerateProgram emits select(first_candidate) + glimpse(first_candidate,
// head, n=800) when a candidate exists, else an empty-steps program.
func (m *Mock) GenerateProgram(ctx context.Context, index domain.CandidateIndex, policy, limits map[string]any, options map[string]any) (ProgramResult, error) {
	program := domain.Program{Steps: []domain.Step{}}
	if len(index.Candidates) > 0 {
		first := index.Candidates[0].ArtifactID
		program.Steps = []domain.Step{
			{Action: "select", SelectedIDs: []string{first}},
			{Action: "glimpse", ArtifactID: first, Mode: "head", N: 800},
		}
		program.CandidateIDs = []string{first}
	}
	return ProgramResult{
		Program: program,
		Meta:    map[string]any{"backend": "mock"},
		Parsed:  true,
	}, nil
}

// GenerateFinal returns "Mock answer for: {query}" unless options.final_answer
// overrides it.
func (m *Mock) GenerateFinal(ctx context.Context, index domain.CandidateIndex, evidence []map[string]any, subcalls []map[string]any, options map[string]any) (FinalResult, error) {
	answer := fmt.Sprintf("Mock answer for: %s", index.Query)
	if override, ok := options["final_answer"].(string); ok && override != "" {
		answer = override
	}
	return FinalResult{
		Final: map[string]any{
			"answer":    answer,
			"citations": []any{},
		},
		Meta:   map[string]any{"backend": "mock"},
		Parsed: true,
	}, nil
}
