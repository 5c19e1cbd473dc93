// Package rootlm implements the Root-LM Adapter (C4): a polymorphic
// {generate_program, generate_final} interface with a deterministic Mock
// backend, an OpenAI-compatible HTTP-Chat backend, and an Anthropic backend,
// all sharing the same retry/timeout policy and tolerant JSON parsing
// contract.
package rootlm

import (
	"context"

	"rlmcore/internal/rlm/domain"
)

// ProgramResult is the return value of GenerateProgram.
type ProgramResult struct {
	Program domain.Program
	Meta    map[string]any
	Raw     any
	Parsed  bool
}

// FinalResult is the return value of GenerateFinal.
type FinalResult struct {
	Final  map[string]any
	Meta   map[string]any
	Raw    any
	Parsed bool
}

// RootLM is the interface every backend (Mock, HTTP-Chat, Anthropic)
// implements. Backends never mutate index/options; they are pure request/
// response round-trips against whichever model serves the plan or decision
// round.
type RootLM interface {
	GenerateProgram(ctx context.Context, index domain.CandidateIndex, policy, limits map[string]any, options map[string]any) (ProgramResult, error)
	GenerateFinal(ctx context.Context, index domain.CandidateIndex, evidence []map[string]any, subcalls []map[string]any, options map[string]any) (FinalResult, error)
}

// RetryPolicy governs HTTP-Chat and Anthropic backend retries. Timeouts and
// HTTP status codes below 500 are never retried; 5xx and network errors are
// retried up to MaxRetries with a fixed BackoffSeconds sleep between
// attempts.
type RetryPolicy struct {
	TimeoutSeconds float64
	MaxRetries     int
	BackoffSeconds float64
}

func (p RetryPolicy) orDefaults() RetryPolicy {
	if p.TimeoutSeconds <= 0 {
		p.TimeoutSeconds = 30
	}
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.BackoffSeconds < 0 {
		p.BackoffSeconds = 0
	}
	return p
}
