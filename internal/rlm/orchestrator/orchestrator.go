// Package orchestrator implements the Three-Round Orchestrator (C6): the
// R0→R1→R2→R3 state machine that turns a (session_id, query, options) triple
// into a persisted, traced Run by driving the Root-LM Adapter and Program
// Executor in sequence.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"rlmcore/internal/rlm/domain"
	"rlmcore/internal/rlm/executor"
	"rlmcore/internal/rlm/notify"
	"rlmcore/internal/rlm/retrieval"
	"rlmcore/internal/rlm/rootlm"
	"rlmcore/internal/rlm/trace"
)

// ErrEmptyQuery is returned when the (trimmed) query is empty; the caller
// maps this to 400 empty_query_not_allowed.
var ErrEmptyQuery = errors.New("empty_query_not_allowed")

// RunStore is the narrow Run Store surface the three-round orchestrator
// depends on. The orchestrator persists its terminal state exclusively via
// UpdateRunPayload's full-snapshot overwrite; finish_run is the assembly-only
// path's terminal op (§4.7) and has no role here.
type RunStore interface {
	InsertRun(ctx context.Context, run domain.Run) (string, error)
	UpdateRunPayload(ctx context.Context, run domain.Run) error
}

// ProgramExecutor is the narrow Program Executor surface the orchestrator
// drives during R2. executor.Executor satisfies this directly.
type ProgramExecutor interface {
	Execute(ctx context.Context, runID string, program domain.Program, index domain.CandidateIndex, limits executor.Limits, assemblyMode bool, fallbackTopK int) executor.Result
}

// mockExecutor is selected when options.executor_backend == "mock": it never
// touches the Candidate Store or the repl sandbox, producing an empty but
// well-formed ok result.
type mockExecutor struct{}

func (mockExecutor) Execute(ctx context.Context, runID string, program domain.Program, index domain.CandidateIndex, limits executor.Limits, assemblyMode bool, fallbackTopK int) executor.Result {
	return executor.Result{Status: "ok", Variables: map[string]any{}}
}

// Config bundles the decision-round backend defaults (drawn from process
// environment / server config) and the run-completion notification topic.
type Config struct {
	RootLMBackend string // mock | vllm | anthropic, default from RLM_ROOTLM_BACKEND

	VllmBaseURL     string
	VllmAPIKey      string
	VllmModel       string
	VllmMaxTokens   int
	VllmTemperature float64
	VllmRetry       rootlm.RetryPolicy
	VllmDebug       bool

	AnthropicAPIKey string
	AnthropicModel  string
	AnthropicRetry  rootlm.RetryPolicy
	AnthropicDebug  bool

	FallbackTopK int // deterministic_fallback top_k, default 20

	PolicyDefaults map[string]any // parsed rlm.policy.yaml, if configured; nil disables it
}

func (c Config) fallbackTopK() int {
	if c.FallbackTopK <= 0 {
		return 20
	}
	return c.FallbackTopK
}

// Orchestrator wires the Retrieval Service, Run Store, Trace Logger, Program
// Executor and Root-LM Adapter backends together into the three-round
// algorithm.
type Orchestrator struct {
	retrieval  *retrieval.Service
	runs       RunStore
	tracer     *trace.Logger
	exec       ProgramExecutor
	httpClient *http.Client
	notifier   *notify.Publisher
	cfg        Config
}

// New constructs an Orchestrator. notifier may be nil to disable run-
// completion notification entirely.
func New(retrievalSvc *retrieval.Service, runs RunStore, tracer *trace.Logger, exec ProgramExecutor, httpClient *http.Client, notifier *notify.Publisher, cfg Config) *Orchestrator {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Orchestrator{
		retrieval:  retrievalSvc,
		runs:       runs,
		tracer:     tracer,
		exec:       exec,
		httpClient: httpClient,
		notifier:   notifier,
		cfg:        cfg,
	}
}

// RunResult is the {run_id, status, program, glimpses, subcalls,
// final_answer?, citations, final} contract returned to POST /v1/rlm/run.
type RunResult struct {
	RunID       string
	Status      domain.RunStatus
	Program     domain.Program
	Glimpses    []domain.Glimpse
	Subcalls    []map[string]any
	FinalAnswer string
	Citations   []any
	Final       map[string]any
}

// Run executes the full R0→R1→R2→R3 state machine for one invocation.
func (o *Orchestrator) Run(ctx context.Context, sessionID, query string, options map[string]any) (RunResult, error) {
	if strings.TrimSpace(query) == "" {
		return RunResult{}, ErrEmptyQuery
	}
	if options == nil {
		options = map[string]any{}
	}

	// R0: setup.
	index, err := o.retrieval.BuildCandidateIndex(ctx, sessionID, query, options)
	if err != nil {
		return RunResult{}, err
	}

	run := domain.Run{
		SessionID:      sessionID,
		Query:          query,
		Options:        options,
		CandidateIndex: index,
		Status:         domain.RunOK,
	}
	runID, err := o.runs.InsertRun(ctx, run)
	if err != nil {
		return RunResult{}, fmt.Errorf("orchestrator: insert_run: %w", err)
	}
	run.ID = runID

	if err := o.tracer.Open(ctx, runID); err != nil {
		return RunResult{}, fmt.Errorf("orchestrator: open trace: %w", err)
	}

	planBackend := rootlm.NewMock()
	decisionBackend, decisionName, fallbackReason := o.resolveDecisionBackend(options)

	execBackend := o.exec
	if name, _ := options["executor_backend"].(string); name == "mock" {
		execBackend = mockExecutor{}
	}

	requestPolicy, _ := options["policy"].(map[string]any)
	policy := rootlm.MergePolicy(o.cfg.PolicyDefaults, requestPolicy)
	limitsOverrides, _ := options["limits"].(map[string]any)
	limits := executor.FromOptions(executor.DefaultLimits(), limitsOverrides)

	// R1: Plan.
	progResult, err := planBackend.GenerateProgram(ctx, index, policy, limitsToMap(limits), options)
	if err != nil {
		return o.failRound(ctx, &run, "round1", err)
	}
	run.Program = progResult.Program
	if override, ok := options["program"].(map[string]any); ok {
		run.Program = decodeProgramOverride(override)
	}
	run.Meta = setRoundMeta(run.Meta, "round1", mergeMaps(progResult.Meta, map[string]any{
		"policy": policy, "limits": limitsOverrides, "stage": "plan",
	}))
	if err := o.persist(ctx, &run); err != nil {
		return RunResult{}, err
	}
	o.appendTrace(ctx, runID, "plan", map[string]any{"steps": len(run.Program.Steps)}, progResult.Meta)

	// R2: Examine.
	result := execBackend.Execute(ctx, runID, run.Program, index, limits, false, o.cfg.fallbackTopK())
	execStatus := result.Status
	if execStatus == "" {
		execStatus = "ok"
	}
	run.Events = result.Events
	run.Glimpses = result.Glimpses
	run.Subcalls = result.Subcalls
	run.GlimpsesMeta = glimpsesMetaOf(options, result.Glimpses)
	evidence := []map[string]any{
		{"events": run.Events},
		{"glimpses": run.Glimpses},
		{"subcalls": run.Subcalls},
	}
	run.Evidence = evidence
	if err := o.persist(ctx, &run); err != nil {
		return RunResult{}, err
	}
	o.appendTrace(ctx, runID, "examine", map[string]any{
		"events_count": len(run.Events), "glimpses_count": len(run.Glimpses),
		"subcalls_count": len(run.Subcalls), "executor_status": execStatus,
	}, nil)

	// R3: Decision.
	finalResult, err := decisionBackend.GenerateFinal(ctx, index, evidence, run.Subcalls, options)
	fallbackFrom := ""
	if err != nil && decisionName != "mock" {
		fallbackReason = fmt.Sprintf("%s_request_failed:%v", decisionName, err)
		fallbackFrom = decisionName
		decisionBackend = rootlm.NewMock()
		decisionName = "mock"
		finalResult, err = decisionBackend.GenerateFinal(ctx, index, evidence, run.Subcalls, options)
		run.Meta = setRoundMeta(run.Meta, "round3_fallback_from", fallbackFrom)
	}
	if err != nil {
		return o.failRound(ctx, &run, "round3", err)
	}

	run.Final = finalResult.Final
	run.FinalAnswer = stringifyAnswer(finalResult.Final)
	run.Citations = citationsOf(finalResult.Final)
	run.Status = statusFromExec(execStatus)

	round3Meta := mergeMaps(finalResult.Meta, map[string]any{
		"evidence_items": len(evidence), "stage": "decision",
	})
	if fallbackReason != "" {
		round3Meta["fallback_reason"] = fallbackReason
	}
	if fallbackFrom != "" {
		round3Meta["fallback_from"] = fallbackFrom
	}
	run.Meta = setRoundMeta(run.Meta, "round3", round3Meta)

	if err := o.persist(ctx, &run); err != nil {
		return RunResult{}, err
	}
	o.appendTrace(ctx, runID, "decision", map[string]any{
		"citations_count":      len(run.Citations),
		"final_answer_preview": previewOf(run.FinalAnswer, 120),
	}, nil)

	o.notifyCompletion(ctx, run)

	return toRunResult(run), nil
}

// failRound persists an error-stage failure and returns the terminal
// RunResult without propagating a Go error — R1/R3 exceptions are folded
// into the run's own status, not surfaced as transport-level failures.
func (o *Orchestrator) failRound(ctx context.Context, run *domain.Run, stage string, cause error) (RunResult, error) {
	run.Status = domain.RunError
	run.Errors = append(run.Errors, domain.StageError{Stage: stage, Error: cause.Error()})
	if err := o.persist(ctx, run); err != nil {
		return RunResult{}, err
	}
	o.appendTrace(ctx, run.ID, "error", map[string]any{"stage": stage, "error": cause.Error()}, nil)
	o.notifyCompletion(ctx, *run)
	return toRunResult(*run), nil
}

func (o *Orchestrator) persist(ctx context.Context, run *domain.Run) error {
	if err := o.runs.UpdateRunPayload(ctx, *run); err != nil {
		return fmt.Errorf("orchestrator: update_run_payload: %w", err)
	}
	return nil
}

func (o *Orchestrator) appendTrace(ctx context.Context, runID, stage string, payload, meta map[string]any) {
	if err := o.tracer.Append(ctx, runID, stage, payload, meta); err != nil {
		log.Warn().Err(err).Str("run_id", runID).Str("stage", stage).Msg("orchestrator: trace append failed")
	}
}

// notifyCompletion best-effort publishes a run-completion event. Publish
// errors are logged, never returned to the caller.
func (o *Orchestrator) notifyCompletion(ctx context.Context, run domain.Run) {
	if o.notifier == nil {
		return
	}
	ev := notify.RunCompleted{RunID: run.ID, SessionID: run.SessionID, Status: string(run.Status)}
	if err := o.notifier.Publish(ctx, ev); err != nil {
		log.Warn().Err(err).Str("run_id", run.ID).Msg("orchestrator: run completion notification failed")
	}
}

func (o *Orchestrator) resolveDecisionBackend(options map[string]any) (rootlm.RootLM, string, string) {
	requested, _ := options["rootlm_backend"].(string)
	if requested == "" {
		requested = o.cfg.RootLMBackend
	}

	cfg := rootlm.DecisionBackendConfig{
		Requested:       requested,
		VllmBaseURL:     firstNonEmptyStr(optString(options, "vllm_base_url"), o.cfg.VllmBaseURL),
		VllmAPIKey:      firstNonEmptyStr(optString(options, "vllm_api_key"), o.cfg.VllmAPIKey),
		VllmModel:       firstNonEmptyStr(optString(options, "vllm_model"), o.cfg.VllmModel),
		VllmMaxTokens:   o.cfg.VllmMaxTokens,
		VllmTemperature: o.cfg.VllmTemperature,
		VllmRetry:       o.cfg.VllmRetry,
		VllmDebug:       o.cfg.VllmDebug,
		AnthropicAPIKey: firstNonEmptyStr(optString(options, "anthropic_api_key"), o.cfg.AnthropicAPIKey),
		AnthropicModel:  firstNonEmptyStr(optString(options, "anthropic_model"), o.cfg.AnthropicModel),
		AnthropicRetry:  o.cfg.AnthropicRetry,
		AnthropicDebug:  o.cfg.AnthropicDebug,
	}
	return rootlm.ResolveDecisionBackend(cfg, o.httpClient)
}

func optString(options map[string]any, key string) string {
	s, _ := options[key].(string)
	return s
}

func firstNonEmptyStr(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func limitsToMap(l executor.Limits) map[string]any {
	return map[string]any{
		"max_steps":         l.MaxSteps,
		"max_subcalls":      l.MaxSubcalls,
		"max_depth":         l.MaxDepth,
		"max_program_chars": l.MaxProgramChars,
		"max_event_errors":  l.MaxEventErrors,
		"max_glimpse_chars": l.MaxGlimpseChars,
		"max_grep_hits":     l.MaxGrepHits,
	}
}

func decodeProgramOverride(raw map[string]any) domain.Program {
	data, err := json.Marshal(raw)
	if err != nil {
		return domain.Program{Steps: []domain.Step{}}
	}
	var program domain.Program
	if err := json.Unmarshal(data, &program); err != nil {
		return domain.Program{Steps: []domain.Step{}}
	}
	if program.Steps == nil {
		program.Steps = []domain.Step{}
	}
	return program
}

func setRoundMeta(meta map[string]any, key string, value any) map[string]any {
	if meta == nil {
		meta = map[string]any{}
	}
	meta[key] = value
	return meta
}

func mergeMaps(base map[string]any, extra map[string]any) map[string]any {
	out := map[string]any{}
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func glimpsesMetaOf(options map[string]any, glimpses []domain.Glimpse) []domain.GlimpseMeta {
	if raw, ok := options["glimpses_meta"].([]any); ok {
		out := make([]domain.GlimpseMeta, 0, len(raw))
		for _, item := range raw {
			data, err := json.Marshal(item)
			if err != nil {
				continue
			}
			var gm domain.GlimpseMeta
			if err := json.Unmarshal(data, &gm); err == nil {
				out = append(out, gm)
			}
		}
		return out
	}
	out := make([]domain.GlimpseMeta, 0, len(glimpses))
	for _, g := range glimpses {
		out = append(out, g.Meta)
	}
	return out
}

func stringifyAnswer(final map[string]any) string {
	if final == nil {
		return ""
	}
	switch v := final["answer"].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		data, _ := json.Marshal(v)
		return string(data)
	}
}

func citationsOf(final map[string]any) []any {
	if final == nil {
		return []any{}
	}
	if v, ok := final["citations"].([]any); ok {
		return v
	}
	return []any{}
}

func statusFromExec(execStatus string) domain.RunStatus {
	switch execStatus {
	case "degraded":
		return domain.RunDegraded
	case "stopped":
		return domain.RunStopped
	default:
		return domain.RunOK
	}
}

func previewOf(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func toRunResult(run domain.Run) RunResult {
	return RunResult{
		RunID:       run.ID,
		Status:      run.Status,
		Program:     run.Program,
		Glimpses:    run.Glimpses,
		Subcalls:    run.Subcalls,
		FinalAnswer: run.FinalAnswer,
		Citations:   run.Citations,
		Final:       run.Final,
	}
}
