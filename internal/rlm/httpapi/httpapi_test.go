package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"rlmcore/internal/rlm/candidates"
	"rlmcore/internal/rlm/domain"
	"rlmcore/internal/rlm/orchestrator"
)

type fakeOrchestrator struct {
	result orchestrator.RunResult
	err    error
}

func (f *fakeOrchestrator) Run(ctx context.Context, sessionID, query string, options map[string]any) (orchestrator.RunResult, error) {
	return f.result, f.err
}

type fakeAssembler struct {
	result orchestrator.AssembleResult
	err    error
}

func (f *fakeAssembler) Assemble(ctx context.Context, sessionID, query string, options map[string]any) (orchestrator.AssembleResult, error) {
	return f.result, f.err
}

type fakeTracer struct {
	data string
	err  error
}

func (f *fakeTracer) Stream(w io.Writer, runID string) error {
	if f.err != nil {
		return f.err
	}
	_, err := io.WriteString(w, f.data)
	return err
}

func TestRunHandlerSuccess(t *testing.T) {
	app := New(&fakeOrchestrator{result: orchestrator.RunResult{RunID: "r1", Status: domain.RunOK, FinalAnswer: "hi"}}, &fakeAssembler{}, &fakeTracer{})
	req := httptest.NewRequest(http.MethodPost, "/v1/rlm/run", bytes.NewBufferString(`{"session_id":"s1","query":"hello"}`))
	rec := httptest.NewRecorder()
	app.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["run_id"] != "r1" {
		t.Fatalf("run_id = %v, want r1", body["run_id"])
	}
}

func TestRunHandlerEmptyQueryReturns400(t *testing.T) {
	app := New(&fakeOrchestrator{err: orchestrator.ErrEmptyQuery}, &fakeAssembler{}, &fakeTracer{})
	req := httptest.NewRequest(http.MethodPost, "/v1/rlm/run", bytes.NewBufferString(`{"session_id":"s1","query":""}`))
	rec := httptest.NewRecorder()
	app.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["detail"] != "empty_query_not_allowed" {
		t.Fatalf("detail = %v, want empty_query_not_allowed", body["detail"])
	}
}

func TestRunHandlerSessionNotFoundReturns404(t *testing.T) {
	wrapped := fmt.Errorf("%w: %s", candidates.ErrSessionNotFound, "missing")
	app := New(&fakeOrchestrator{err: wrapped}, &fakeAssembler{}, &fakeTracer{})
	req := httptest.NewRequest(http.MethodPost, "/v1/rlm/run", bytes.NewBufferString(`{"session_id":"missing","query":"hello"}`))
	rec := httptest.NewRecorder()
	app.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["detail"] != "session_not_found: missing" {
		t.Fatalf("detail = %v, want session_not_found: missing", body["detail"])
	}
}

func TestRunHandlerWrongMethodReturns405(t *testing.T) {
	app := New(&fakeOrchestrator{}, &fakeAssembler{}, &fakeTracer{})
	req := httptest.NewRequest(http.MethodGet, "/v1/rlm/run", nil)
	rec := httptest.NewRecorder()
	app.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestAssembleHandlerSuccess(t *testing.T) {
	app := New(&fakeOrchestrator{}, &fakeAssembler{result: orchestrator.AssembleResult{RunID: "r2", Status: domain.RunOK}}, &fakeTracer{})
	req := httptest.NewRequest(http.MethodPost, "/v1/rlm/assemble", bytes.NewBufferString(`{"session_id":"s1","query":"hello"}`))
	rec := httptest.NewRecorder()
	app.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestTraceHandlerStreamsFile(t *testing.T) {
	app := New(&fakeOrchestrator{}, &fakeAssembler{}, &fakeTracer{data: `{"ts":"x","stage":"plan"}` + "\n"})
	req := httptest.NewRequest(http.MethodGet, "/v1/rlm/runs/r1/trace", nil)
	rec := httptest.NewRecorder()
	app.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"stage":"plan"`) {
		t.Fatalf("body = %q, want trace content", rec.Body.String())
	}
}

func TestTraceHandlerMissingRunReturns404(t *testing.T) {
	app := New(&fakeOrchestrator{}, &fakeAssembler{}, &fakeTracer{err: errors.New("not found")})
	req := httptest.NewRequest(http.MethodGet, "/v1/rlm/runs/missing/trace", nil)
	rec := httptest.NewRecorder()
	app.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHealthzAndReadyz(t *testing.T) {
	app := New(&fakeOrchestrator{}, &fakeAssembler{}, &fakeTracer{})
	for _, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		app.Router().ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s status = %d, want 200", path, rec.Code)
		}
	}
}
