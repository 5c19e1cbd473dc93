package runstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"rlmcore/internal/rlm/domain"
)

// MemoryStore is an in-memory double satisfying the same narrow surface as
// Store, used in tests that must not touch a live Postgres instance.
type MemoryStore struct {
	mu   sync.Mutex
	runs map[string]domain.Run
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: map[string]domain.Run{}}
}

func (m *MemoryStore) InsertRun(ctx context.Context, run domain.Run) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	run.Status = domain.RunOK
	m.runs[run.ID] = run
	return run.ID, nil
}

func (m *MemoryStore) UpdateRunPayload(ctx context.Context, run domain.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.runs[run.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, run.ID)
	}
	run.SessionID = existing.SessionID
	run.Query = existing.Query
	run.Options = existing.Options
	run.CandidateIndex = existing.CandidateIndex
	run.CreatedAt = existing.CreatedAt
	m.runs[run.ID] = run
	return nil
}

func (m *MemoryStore) UpdateRun(ctx context.Context, runID string, patch map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	for key, value := range patch {
		switch key {
		case "status":
			if s, ok := value.(domain.RunStatus); ok {
				run.Status = s
			} else if s, ok := value.(string); ok {
				run.Status = domain.RunStatus(s)
			}
		case "assembled_context":
			// object merge, mirroring Store.UpdateRun's jsonb `||` union.
			if v, ok := value.(map[string]any); ok {
				if run.AssembledContext == nil {
					run.AssembledContext = map[string]any{}
				}
				for k, vv := range v {
					run.AssembledContext[k] = vv
				}
			}
		case "meta":
			if v, ok := value.(map[string]any); ok {
				if run.Meta == nil {
					run.Meta = map[string]any{}
				}
				for k, vv := range v {
					run.Meta[k] = vv
				}
			}
		case "events":
			// array append, mirroring Store.UpdateRun's jsonb `||` concat.
			if v, ok := value.([]domain.Event); ok {
				run.Events = append(run.Events, v...)
			}
		case "glimpses":
			if v, ok := value.([]domain.Glimpse); ok {
				run.Glimpses = append(run.Glimpses, v...)
			}
		case "variables":
			// variables are not a persisted Run field; accepted for
			// whitelist parity with Store.UpdateRun, otherwise a no-op.
		default:
			return fmt.Errorf("update_run: field %q is not patchable", key)
		}
	}
	m.runs[runID] = run
	return nil
}

func (m *MemoryStore) AppendEvent(ctx context.Context, runID string, event map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	run.Events = append(run.Events, domain.Event{Payload: event})
	m.runs[runID] = run
	return nil
}

// FinishRun is the single-shot terminal update used only by the
// assembly-only path.
func (m *MemoryStore) FinishRun(ctx context.Context, runID string, assembledContext map[string]any, renderedPrompt *string, status domain.RunStatus, errs []domain.StageError) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	run.AssembledContext = assembledContext
	run.RenderedPrompt = renderedPrompt
	run.Status = status
	run.Errors = errs
	m.runs[runID] = run
	return nil
}

func (m *MemoryStore) GetRun(ctx context.Context, runID string) (domain.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return domain.Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return run, nil
}
