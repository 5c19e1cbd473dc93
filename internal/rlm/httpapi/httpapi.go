// Package httpapi exposes the RLM run pipeline over HTTP: the assembly-only
// entry point, the full three-round run entry point, trace replay, and the
// liveness/readiness probes.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"rlmcore/internal/rlm/candidates"
	"rlmcore/internal/rlm/orchestrator"
)

// Orchestrator is the narrow surface the /v1/rlm/run handler depends on.
type Orchestrator interface {
	Run(ctx context.Context, sessionID, query string, options map[string]any) (orchestrator.RunResult, error)
}

// Assembler is the narrow surface the /v1/rlm/assemble handler depends on.
type Assembler interface {
	Assemble(ctx context.Context, sessionID, query string, options map[string]any) (orchestrator.AssembleResult, error)
}

// TraceStreamer is the narrow surface the trace replay handler depends on;
// *trace.Logger satisfies this directly.
type TraceStreamer interface {
	Stream(w io.Writer, runID string) error
}

// App holds every dependency the RLM HTTP surface needs.
type App struct {
	orch      Orchestrator
	assembler Assembler
	tracer    TraceStreamer
}

// New constructs the App.
func New(orch Orchestrator, assembler Assembler, tracer TraceStreamer) *App {
	return &App{orch: orch, assembler: assembler, tracer: tracer}
}

// Router builds the net/http.ServeMux serving the RLM surface.
func (a *App) Router() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "ready")
	})

	mux.HandleFunc("/v1/rlm/assemble", a.assembleHandler())
	mux.HandleFunc("/v1/rlm/run", a.runHandler())
	mux.HandleFunc("/v1/rlm/runs/", a.traceHandler())

	return mux
}

type runRequest struct {
	SessionID string         `json:"session_id"`
	Query     string         `json:"query"`
	Options   map[string]any `json:"options"`
}

func (a *App) runHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req runRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body")
			return
		}

		result, err := a.orch.Run(r.Context(), req.SessionID, req.Query, req.Options)
		if err != nil {
			writeOrchestratorError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"run_id":       result.RunID,
			"status":       result.Status,
			"program":      result.Program,
			"glimpses":     result.Glimpses,
			"subcalls":     result.Subcalls,
			"final_answer": result.FinalAnswer,
			"citations":    result.Citations,
			"final":        result.Final,
		})
	}
}

func (a *App) assembleHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req runRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body")
			return
		}

		result, err := a.assembler.Assemble(r.Context(), req.SessionID, req.Query, req.Options)
		if err != nil {
			writeOrchestratorError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"run_id":            result.RunID,
			"status":            result.Status,
			"assembled_context": result.AssembledContext,
			"rounds_summary":    result.RoundsSummary,
			"rendered_prompt":   result.RenderedPrompt,
		})
	}
}

func (a *App) traceHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		rest := strings.TrimPrefix(r.URL.Path, "/v1/rlm/runs/")
		runID := strings.TrimSuffix(rest, "/trace")
		if runID == "" || runID == rest {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/x-ndjson")
		if err := a.tracer.Stream(w, runID); err != nil {
			log.Warn().Err(err).Str("run_id", runID).Msg("httpapi: trace stream failed")
			http.Error(w, "trace not found", http.StatusNotFound)
		}
	}
}

func writeOrchestratorError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrEmptyQuery):
		writeError(w, http.StatusBadRequest, "empty_query_not_allowed")
	case errors.Is(err, candidates.ErrSessionNotFound):
		// err already wraps as "session_not_found: <id>" via %w: %s.
		writeError(w, http.StatusNotFound, err.Error())
	default:
		log.Error().Err(err).Msg("httpapi: orchestrator call failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]any{"detail": detail})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("httpapi: encode response failed")
	}
}
