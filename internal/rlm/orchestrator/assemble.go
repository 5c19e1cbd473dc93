package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"rlmcore/internal/rlm/domain"
	"rlmcore/internal/rlm/executor"
)

// AssemblyStore is the Run Store surface the assembly-only path needs:
// insert plus the selective-patch/finish_run pair named by §4.7 as
// assembly-only operations, distinct from the three-round orchestrator's
// exclusive use of UpdateRunPayload.
type AssemblyStore interface {
	InsertRun(ctx context.Context, run domain.Run) (string, error)
	UpdateRun(ctx context.Context, runID string, patch map[string]any) error
	FinishRun(ctx context.Context, runID string, assembledContext map[string]any, renderedPrompt *string, status domain.RunStatus, errs []domain.StageError) error
}

// AssemblyService implements /v1/rlm/assemble: retrieval plus the Program
// Executor only, never the three-round LLM loop.
type AssemblyService struct {
	retrieval retrievalBuilder
	runs      AssemblyStore
	tracer    tracer
	exec      ProgramExecutor
	cfg       Config
}

type retrievalBuilder interface {
	BuildCandidateIndex(ctx context.Context, sessionID, query string, options map[string]any) (domain.CandidateIndex, error)
}

type tracer interface {
	Open(ctx context.Context, runID string) error
	Append(ctx context.Context, runID, stage string, payload, meta map[string]any) error
}

// NewAssemblyService constructs the assembly-only service.
func NewAssemblyService(retrievalSvc retrievalBuilder, runs AssemblyStore, tracer tracer, exec ProgramExecutor, cfg Config) *AssemblyService {
	return &AssemblyService{retrieval: retrievalSvc, runs: runs, tracer: tracer, exec: exec, cfg: cfg}
}

// AssembleResult is the {run_id, status, assembled_context, rounds_summary,
// rendered_prompt} contract of POST /v1/rlm/assemble.
type AssembleResult struct {
	RunID            string
	Status           domain.RunStatus
	AssembledContext map[string]any
	RoundsSummary    []map[string]any
	RenderedPrompt   *string
}

// Assemble runs retrieval + the Program Executor and persists the result via
// the assembly-only update_run/finish_run pair.
func (a *AssemblyService) Assemble(ctx context.Context, sessionID, query string, options map[string]any) (AssembleResult, error) {
	if strings.TrimSpace(query) == "" {
		return AssembleResult{}, ErrEmptyQuery
	}
	if options == nil {
		options = map[string]any{}
	}

	index, err := a.retrieval.BuildCandidateIndex(ctx, sessionID, query, options)
	if err != nil {
		return AssembleResult{}, err
	}

	run := domain.Run{SessionID: sessionID, Query: query, Options: options, CandidateIndex: index, Status: domain.RunOK}
	runID, err := a.runs.InsertRun(ctx, run)
	if err != nil {
		return AssembleResult{}, fmt.Errorf("assembly: insert_run: %w", err)
	}

	if err := a.tracer.Open(ctx, runID); err != nil {
		return AssembleResult{}, fmt.Errorf("assembly: open trace: %w", err)
	}

	var program domain.Program
	if override, ok := options["program"].(map[string]any); ok {
		program = decodeProgramOverride(override)
	}

	limitsOverrides, _ := options["limits"].(map[string]any)
	limits := executor.FromOptions(executor.AssemblyLimits(), limitsOverrides)

	result := a.exec.Execute(ctx, runID, program, index, limits, true, a.cfg.fallbackTopK())
	status := statusFromExec(result.Status)

	patch := map[string]any{
		"status":   string(status),
		"meta":     map[string]any{"events_count": len(result.Events), "glimpses_count": len(result.Glimpses)},
		"events":   result.Events,
		"glimpses": result.Glimpses,
	}
	if err := a.runs.UpdateRun(ctx, runID, patch); err != nil {
		return AssembleResult{}, fmt.Errorf("assembly: update_run: %w", err)
	}

	var errs []domain.StageError
	if status == domain.RunDegraded || status == domain.RunStopped {
		errs = []domain.StageError{{Stage: "examine", Error: fmt.Sprintf("executor status=%s", result.Status)}}
	}
	if err := a.runs.FinishRun(ctx, runID, result.AssembledContext, nil, status, errs); err != nil {
		return AssembleResult{}, fmt.Errorf("assembly: finish_run: %w", err)
	}

	a.appendTrace(ctx, runID, "examine", map[string]any{
		"events_count": len(result.Events), "glimpses_count": len(result.Glimpses), "executor_status": result.Status,
	})

	return AssembleResult{
		RunID:            runID,
		Status:           status,
		AssembledContext: result.AssembledContext,
		RoundsSummary:    []map[string]any{},
		RenderedPrompt:   nil,
	}, nil
}

func (a *AssemblyService) appendTrace(ctx context.Context, runID, stage string, payload map[string]any) {
	_ = a.tracer.Append(ctx, runID, stage, payload, nil)
}
