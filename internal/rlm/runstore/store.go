// Package runstore implements the Run Store (C2): durable persistence for a
// run's full lifecycle — the initial insert, the full-snapshot overwrite
// used after each orchestrator round, the selective patch used only by the
// assembly-only path, and the append-only per-event log mirrored alongside
// the trace log.
package runstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/google/uuid"

	"rlmcore/internal/rlm/domain"
)

// ErrRunNotFound is returned when a run id has no matching row.
var ErrRunNotFound = errors.New("run_not_found")

// Store is the pgx-backed Run Store.
type Store struct {
	pool *pgxpool.Pool
}

// New constructs a Store over an existing connection pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// InsertRun creates the initial row for a run with status=ok and the
// options/candidate_index captured at R0 setup time.
func (s *Store) InsertRun(ctx context.Context, run domain.Run) (string, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	optionsJSON, err := json.Marshal(run.Options)
	if err != nil {
		return "", fmt.Errorf("insert_run: marshal options: %w", err)
	}
	indexJSON, err := json.Marshal(run.CandidateIndex)
	if err != nil {
		return "", fmt.Errorf("insert_run: marshal candidate_index: %w", err)
	}

	const q = `
INSERT INTO rlm_runs (id, session_id, query, options, candidate_index, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	createdAt := run.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = s.pool.Exec(ctx, q, run.ID, run.SessionID, run.Query, optionsJSON, indexJSON, string(domain.RunOK), createdAt)
	if err != nil {
		return "", fmt.Errorf("insert_run: %w", err)
	}
	return run.ID, nil
}

// payloadColumns is shared by UpdateRunPayload's full-snapshot overwrite.
type payloadColumns struct {
	Program          []byte
	Meta             []byte
	Events           []byte
	Glimpses         []byte
	Subcalls         []byte
	Evidence         []byte
	Final            []byte
	FinalAnswer      *string
	Citations        []byte
	AssembledContext []byte
	RenderedPrompt   *string
	LLMRaw           []byte
	Errors           []byte
	Status           string
}

// UpdateRunPayload overwrites every payload column of a run with the current
// in-memory snapshot. This is the resolved Open Question: update_run_payload
// is a full overwrite, never a merge, so a round's complete state is always
// what lands in storage — never a partial union with a stale prior round.
func (s *Store) UpdateRunPayload(ctx context.Context, run domain.Run) error {
	cols, err := marshalPayload(run)
	if err != nil {
		return fmt.Errorf("update_run_payload: %w", err)
	}

	const q = `
UPDATE rlm_runs SET
  program = $2, meta = $3, events = $4, glimpses = $5, subcalls = $6,
  evidence = $7, final = $8, final_answer = $9, citations = $10,
  assembled_context = $11, rendered_prompt = $12, llm_raw = $13,
  errors = $14, status = $15
WHERE id = $1`
	tag, err := s.pool.Exec(ctx, q, run.ID,
		cols.Program, cols.Meta, cols.Events, cols.Glimpses, cols.Subcalls,
		cols.Evidence, cols.Final, cols.FinalAnswer, cols.Citations,
		cols.AssembledContext, cols.RenderedPrompt, cols.LLMRaw,
		cols.Errors, cols.Status,
	)
	if err != nil {
		return fmt.Errorf("update_run_payload: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, run.ID)
	}
	return nil
}

// jsonbArrayFields are patch keys that append to the column's existing jsonb
// array rather than replacing it outright, per §4.7: update_run is a
// selective append, distinct from update_run_payload's full-snapshot
// overwrite. status is a plain scalar column and always a direct SET;
// meta/assembled_context are jsonb objects and are merged (jsonb `||` union)
// rather than appended.
var jsonbArrayFields = map[string]bool{"events": true, "glimpses": true, "variables": true}

// UpdateRun applies a selective patch — used only by the assembly-only path,
// which never runs the three-round loop and so never has a full Run
// snapshot to overwrite with. List-shaped columns (events, glimpses,
// variables) append to whatever is already stored rather than replacing it;
// status is set directly; meta/assembled_context are merged.
func (s *Store) UpdateRun(ctx context.Context, runID string, patch map[string]any) error {
	allowed := map[string]bool{
		"status": true, "assembled_context": true, "meta": true,
		"events": true, "glimpses": true, "variables": true,
	}
	setClauses := make([]string, 0, len(patch))
	args := []any{runID}
	for key, value := range patch {
		if !allowed[key] {
			return fmt.Errorf("update_run: field %q is not patchable", key)
		}
		if key == "status" {
			args = append(args, value)
			setClauses = append(setClauses, fmt.Sprintf("status = $%d", len(args)))
			continue
		}
		b, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("update_run: marshal %s: %w", key, err)
		}
		args = append(args, b)
		if jsonbArrayFields[key] {
			setClauses = append(setClauses, fmt.Sprintf("%s = COALESCE(%s, '[]'::jsonb) || $%d::jsonb", key, key, len(args)))
		} else {
			setClauses = append(setClauses, fmt.Sprintf("%s = COALESCE(%s, '{}'::jsonb) || $%d::jsonb", key, key, len(args)))
		}
	}
	if len(setClauses) == 0 {
		return nil
	}

	q := "UPDATE rlm_runs SET "
	for i, clause := range setClauses {
		if i > 0 {
			q += ", "
		}
		q += clause
	}
	q += " WHERE id = $1"

	tag, err := s.pool.Exec(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update_run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

// AppendEvent writes one event to the append-only rlm_run_events log,
// mirroring the JSON-lines trace file but queryable from Postgres.
func (s *Store) AppendEvent(ctx context.Context, runID string, event map[string]any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("append_event: marshal: %w", err)
	}
	const q = `INSERT INTO rlm_run_events (id, run_id, event, created_at) VALUES ($1, $2, $3, $4)`
	_, err = s.pool.Exec(ctx, q, uuid.NewString(), runID, data, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("append_event: %w", err)
	}
	return nil
}

// FinishRun is the single-shot terminal update used only by the
// assembly-only path, which never accumulates a full Run snapshot to
// overwrite via UpdateRunPayload.
func (s *Store) FinishRun(ctx context.Context, runID string, assembledContext map[string]any, renderedPrompt *string, status domain.RunStatus, errs []domain.StageError) error {
	assembledJSON, err := json.Marshal(assembledContext)
	if err != nil {
		return fmt.Errorf("finish_run: marshal assembled_context: %w", err)
	}
	errsJSON, err := json.Marshal(errs)
	if err != nil {
		return fmt.Errorf("finish_run: marshal errors: %w", err)
	}

	const q = `
UPDATE rlm_runs SET
  assembled_context = $2, rendered_prompt = $3, status = $4, errors = $5, finished_at = $6
WHERE id = $1`
	tag, err := s.pool.Exec(ctx, q, runID, assembledJSON, renderedPrompt, string(status), errsJSON, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("finish_run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

// GetRun fetches a run's full current snapshot.
func (s *Store) GetRun(ctx context.Context, runID string) (domain.Run, error) {
	const q = `
SELECT id, session_id, query, options, candidate_index, program, meta, events,
       glimpses, subcalls, evidence, final, final_answer, citations,
       assembled_context, rendered_prompt, llm_raw, errors, status, created_at
FROM rlm_runs WHERE id = $1`

	var (
		run                                                                 domain.Run
		optionsJSON, indexJSON, programJSON, metaJSON, eventsJSON           []byte
		glimpsesJSON, subcallsJSON, evidenceJSON, finalJSON, citationsJSON  []byte
		assembledJSON, llmRawJSON, errorsJSON                               []byte
		finalAnswer, renderedPrompt                                        *string
		status                                                             string
	)
	err := s.pool.QueryRow(ctx, q, runID).Scan(
		&run.ID, &run.SessionID, &run.Query, &optionsJSON, &indexJSON, &programJSON,
		&metaJSON, &eventsJSON, &glimpsesJSON, &subcallsJSON, &evidenceJSON,
		&finalJSON, &finalAnswer, &citationsJSON, &assembledJSON, &renderedPrompt,
		&llmRawJSON, &errorsJSON, &status, &run.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return domain.Run{}, fmt.Errorf("get_run: %w", err)
	}

	run.Status = domain.RunStatus(status)
	if finalAnswer != nil {
		run.FinalAnswer = *finalAnswer
	}
	if renderedPrompt != nil {
		run.RenderedPrompt = renderedPrompt
	}
	_ = json.Unmarshal(optionsJSON, &run.Options)
	_ = json.Unmarshal(indexJSON, &run.CandidateIndex)
	_ = json.Unmarshal(programJSON, &run.Program)
	_ = json.Unmarshal(metaJSON, &run.Meta)
	_ = json.Unmarshal(eventsJSON, &run.Events)
	_ = json.Unmarshal(glimpsesJSON, &run.Glimpses)
	_ = json.Unmarshal(subcallsJSON, &run.Subcalls)
	_ = json.Unmarshal(evidenceJSON, &run.Evidence)
	_ = json.Unmarshal(finalJSON, &run.Final)
	_ = json.Unmarshal(citationsJSON, &run.Citations)
	_ = json.Unmarshal(assembledJSON, &run.AssembledContext)
	_ = json.Unmarshal(llmRawJSON, &run.LLMRaw)
	_ = json.Unmarshal(errorsJSON, &run.Errors)
	return run, nil
}

func marshalPayload(run domain.Run) (payloadColumns, error) {
	var cols payloadColumns
	var err error
	marshal := func(v any) []byte {
		if err != nil {
			return nil
		}
		var b []byte
		b, err = json.Marshal(v)
		return b
	}
	cols.Program = marshal(run.Program)
	cols.Meta = marshal(run.Meta)
	cols.Events = marshal(run.Events)
	cols.Glimpses = marshal(run.Glimpses)
	cols.Subcalls = marshal(run.Subcalls)
	cols.Evidence = marshal(run.Evidence)
	cols.Final = marshal(run.Final)
	cols.Citations = marshal(run.Citations)
	cols.AssembledContext = marshal(run.AssembledContext)
	cols.LLMRaw = marshal(run.LLMRaw)
	cols.Errors = marshal(run.Errors)
	if err != nil {
		return payloadColumns{}, err
	}
	if run.FinalAnswer != "" {
		cols.FinalAnswer = &run.FinalAnswer
	}
	cols.RenderedPrompt = run.RenderedPrompt
	cols.Status = string(run.Status)
	if cols.Status == "" {
		cols.Status = string(domain.RunOK)
	}
	return cols, nil
}
