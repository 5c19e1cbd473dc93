// Package executor implements the Program Executor (C5): a bounded
// interpreter over select/glimpse/repl/noop steps that produces the event,
// glimpse and variable trail a three-round orchestrator or assembly-only
// caller folds into a run.
package executor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"rlmcore/internal/rlm/candidates"
	"rlmcore/internal/rlm/domain"
	"rlmcore/internal/rlm/glimpsecache"
	"rlmcore/internal/rlm/sandbox"
)

// ContentStore is the narrow surface the executor needs from the Candidate
// Store: full artifact text by id.
type ContentStore interface {
	GetContent(ctx context.Context, artifactID string) (candidates.ArtifactContent, error)
}

// Executor runs programs against a Candidate Store and (optionally) a repl
// sandbox, consulting a Glimpse Cache (C3) before re-extracting a glimpse's
// excerpt and populating it after. A nil sandbox makes every repl step fail
// with repl_env_unavailable; a nil cache makes every glimpse a cache miss
// (extract, don't cache) per the cache's own nil-safe contract.
type Executor struct {
	content ContentStore
	repl    *sandbox.Interpreter
	cache   *glimpsecache.Cache
}

// New constructs an Executor. repl may be nil to disable the repl action;
// cache may be nil to disable glimpse caching entirely.
func New(content ContentStore, repl *sandbox.Interpreter, cache *glimpsecache.Cache) *Executor {
	return &Executor{content: content, repl: repl, cache: cache}
}

// Result is the {events, glimpses, subcalls, variables, status, meta}
// contract of execute().
type Result struct {
	Events           []domain.Event
	Glimpses         []domain.Glimpse
	Subcalls         []map[string]any
	Variables        map[string]any
	Status           string // ok | degraded | stopped
	AssembledContext map[string]any
}

// Execute runs a program. runID scopes the Glimpse Cache (C3) keys for this
// run's glimpses. assemblyMode controls whether AssembledContext is
// populated per §4.5's outcome-mapping table; fallbackTopK bounds
// deterministicFallback when the run degrades or fails to parse.
func (ex *Executor) Execute(ctx context.Context, runID string, program domain.Program, index domain.CandidateIndex, limits Limits, assemblyMode bool, fallbackTopK int) Result {
	limits = limits.clamp()

	raw, err := json.Marshal(program)
	if err != nil || len(raw) > limits.MaxProgramChars {
		return Result{Status: "stopped", Events: []domain.Event{
			{Step: 0, Action: "limit_exceeded", Status: "error", Error: "max_program_chars"},
		}}
	}

	stepCount, subcallCount := 0, 0
	breach := countWalk(program.Steps, 0, limits, &stepCount, &subcallCount)
	if breach == "program_parse_failed" {
		var assembled map[string]any
		if assemblyMode {
			assembled = deterministicFallback(index, fallbackTopK)
		}
		return Result{Status: "degraded", AssembledContext: assembled, Events: []domain.Event{
			{Step: 0, Action: "program_parse_failed", Status: "error", Error: breach},
		}}
	}
	if breach != "" {
		return Result{Status: "stopped", Events: []domain.Event{
			{Step: 0, Action: "limit_exceeded", Status: "error", Error: breach},
		}}
	}

	state := &execState{
		ctx:       ctx,
		runID:     runID,
		executor:  ex,
		index:     index,
		limits:    limits,
		variables: map[string]any{"selected_ids": []string{}},
	}

	degraded, stopped := state.runSteps(program.Steps, 0)

	status := "ok"
	var assembled map[string]any
	switch {
	case stopped:
		status = "stopped"
	case degraded:
		status = "degraded"
		if assemblyMode {
			assembled = deterministicFallback(index, fallbackTopK)
		}
	case assemblyMode:
		assembled = map[string]any{
			"mode":         "program",
			"selected_ids": dedupPreserveOrder(selectedIDs(state.variables)),
		}
	}

	return Result{
		Events:           state.events,
		Glimpses:         state.glimpses,
		Subcalls:         state.subcalls,
		Variables:        state.variables,
		Status:           status,
		AssembledContext: assembled,
	}
}

// countWalk performs the pre-execution recursive walk that counts
// steps/subcalls/depth and raises the first limit breach it finds, or a
// program_parse_failed for a structurally empty step.
func countWalk(steps []domain.Step, depth int, limits Limits, stepCount, subcallCount *int) string {
	for _, s := range steps {
		*stepCount++
		if *stepCount > limits.MaxSteps {
			return "max_steps"
		}
		if strings.TrimSpace(s.Action) == "" {
			return "program_parse_failed"
		}
		if len(s.Subcalls) > 0 {
			if depth+1 > limits.MaxDepth {
				return "max_depth"
			}
			*subcallCount += len(s.Subcalls)
			if *subcallCount > limits.MaxSubcalls {
				return "max_subcalls"
			}
			if breach := countWalk(s.Subcalls, depth+1, limits, stepCount, subcallCount); breach != "" {
				return breach
			}
		}
	}
	return ""
}

// execState carries per-execution mutable state through the step walk.
type execState struct {
	ctx       context.Context
	runID     string
	executor  *Executor
	index     domain.CandidateIndex
	limits    Limits
	variables map[string]any
	events    []domain.Event
	glimpses  []domain.Glimpse
	subcalls  []map[string]any
	stepIdx   int
	errors    int
}

// runSteps executes steps at the given recursion depth, returning
// (degraded, stopped). Step numbering is 1-based and monotonically
// increasing across subcall descent.
func (s *execState) runSteps(steps []domain.Step, depth int) (degraded bool, stopped bool) {
	for _, step := range steps {
		s.stepIdx++
		ok := s.runStep(step)
		if !ok {
			s.errors++
			if s.errors > s.limits.MaxEventErrors {
				s.events = append(s.events, domain.Event{Step: s.stepIdx, Action: "event_error_threshold", Status: "error"})
				return true, false
			}
		}
		if len(step.Subcalls) > 0 {
			sub := map[string]any{"step": s.stepIdx, "action": step.Action}
			subDegraded, subStopped := s.runSteps(step.Subcalls, depth+1)
			s.subcalls = append(s.subcalls, sub)
			if subStopped {
				return degraded, true
			}
			if subDegraded {
				degraded = true
			}
		}
	}
	return degraded, false
}

// runStep executes a single step, appending an event (and glimpse, for
// glimpse steps) and returns whether the step succeeded.
func (s *execState) runStep(step domain.Step) bool {
	switch step.Action {
	case "noop":
		s.events = append(s.events, domain.Event{Step: s.stepIdx, Action: "noop", Status: "ok"})
		return true
	case "select":
		return s.runSelect(step)
	case "glimpse":
		return s.runGlimpse(step)
	case "repl":
		return s.runRepl(step)
	default:
		s.events = append(s.events, domain.Event{Step: s.stepIdx, Action: step.Action, Status: "error", Error: "unrecognized action"})
		return false
	}
}

func (s *execState) runSelect(step domain.Step) bool {
	if len(step.SelectedIDs) == 0 {
		s.events = append(s.events, domain.Event{Step: s.stepIdx, Action: "select", Status: "error", Error: "selected_ids must be a non-empty list of strings"})
		return false
	}
	for _, id := range step.SelectedIDs {
		if strings.TrimSpace(id) == "" {
			s.events = append(s.events, domain.Event{Step: s.stepIdx, Action: "select", Status: "error", Error: "selected_ids must be non-empty strings"})
			return false
		}
	}
	existing, _ := s.variables["selected_ids"].([]string)
	merged := dedupPreserveOrder(append(append([]string{}, existing...), step.SelectedIDs...))
	s.variables["selected_ids"] = merged
	s.events = append(s.events, domain.Event{Step: s.stepIdx, Action: "select", Status: "ok"})
	return true
}

func (s *execState) runGlimpse(step domain.Step) bool {
	if strings.TrimSpace(step.ArtifactID) == "" {
		s.events = append(s.events, domain.Event{Step: s.stepIdx, Action: "glimpse", Status: "error", Error: "artifact_id is required"})
		return false
	}

	text, contentHash, metadata := s.fetchContent(step.ArtifactID)
	if looksLikeHTML(metadata) {
		text = stripHTMLTags(text)
	}

	spec := map[string]any{"mode": defaultMode(step.Mode), "start": step.Start, "end": step.End, "n": step.N, "pattern": step.Pattern, "window": step.Window, "max_hits": step.MaxHits}
	glimpseID, cacheKey := s.cacheKey(step.ArtifactID, contentHash, spec)

	var excerpt string
	if cached, ok := s.executor.cache.Get(s.ctx, cacheKey); ok {
		excerpt = cached.Text
	} else {
		switch step.Mode {
		case "range":
			excerpt = rangeExcerpt(text, step.Start, step.End)
		case "grep":
			maxHits := step.MaxHits
			if maxHits <= 0 {
				maxHits = s.limits.MaxGrepHits
			}
			excerpt = grepExcerpt(text, step.Pattern, step.Window, maxHits)
		default: // "head" and unspecified both default to head semantics
			excerpt = headExcerpt(text, step.N, s.limits.MaxGlimpseChars)
		}
	}

	if excerpt == "" {
		s.events = append(s.events, domain.Event{Step: s.stepIdx, Action: "glimpse", Status: "error", Error: "glimpse extracted empty text"})
		return false
	}

	sum := sha256.Sum256([]byte(excerpt))
	hash := hex.EncodeToString(sum[:])
	meta := domain.GlimpseMeta{
		Step:        s.stepIdx,
		Source:      "glimpse",
		ArtifactID:  step.ArtifactID,
		ContentHash: contentHash,
	}
	s.glimpses = append(s.glimpses, domain.Glimpse{
		ArtifactID: step.ArtifactID,
		Mode:       defaultMode(step.Mode),
		Text:       excerpt,
		Span:       domain.Span{Start: 0, End: len(excerpt)},
		Hash:       hash,
		Meta:       meta,
	})
	if glimpseID != "" {
		entryMeta := map[string]any{"step": meta.Step, "source": meta.Source, "artifact_id": meta.ArtifactID, "content_hash": meta.ContentHash}
		s.executor.cache.Set(s.ctx, cacheKey, glimpsecache.Entry{Meta: entryMeta, Text: excerpt})
	}
	s.events = append(s.events, domain.Event{Step: s.stepIdx, Action: "glimpse", Status: "ok"})
	return true
}

// cacheKey derives the Glimpse Cache (C3) key for one glimpse extraction. An
// empty glimpseID (content hashing failed) disables caching for this call.
func (s *execState) cacheKey(artifactID, contentHash string, spec map[string]any) (glimpseID, key string) {
	id, err := glimpsecache.GlimpseID(artifactID, contentHash, spec)
	if err != nil {
		return "", ""
	}
	return id, glimpsecache.Key(s.runID, id)
}

func defaultMode(mode string) string {
	if mode == "" {
		return "head"
	}
	return mode
}

func (s *execState) fetchContent(artifactID string) (text, contentHash string, metadata map[string]any) {
	if s.executor.content != nil {
		content, err := s.executor.content.GetContent(s.ctx, artifactID)
		if err == nil {
			return content.Content, content.ContentHash, content.Metadata
		}
	}
	for _, c := range s.index.Candidates {
		if c.ArtifactID == artifactID {
			return c.ContentPreview, c.ContentHash, nil
		}
	}
	return "", "", nil
}

func (s *execState) runRepl(step domain.Step) bool {
	if s.executor.repl == nil {
		s.events = append(s.events, domain.Event{Step: s.stepIdx, Action: "repl", Status: "error", Error: "repl_env_unavailable"})
		return false
	}
	timeout := step.TimeoutS
	if timeout <= 0 {
		timeout = 5
	}
	result := s.executor.repl.Eval(s.ctx, step.Code, s.variables, time.Duration(timeout*float64(time.Second)))
	if result.Exception != "" {
		s.events = append(s.events, domain.Event{Step: s.stepIdx, Action: "repl", Status: "error", Error: result.Exception})
		return false
	}
	for k, v := range result.Variables {
		s.variables[k] = v
	}
	s.events = append(s.events, domain.Event{Step: s.stepIdx, Action: "repl", Status: "ok", Payload: map[string]any{
		"stdout":      result.Stdout,
		"duration_ms": result.DurationMs,
	}})
	return true
}

func headExcerpt(text string, n int, maxGlimpseChars int) string {
	limit := n
	if limit <= 0 || limit > maxGlimpseChars {
		limit = maxGlimpseChars
	}
	if limit > len(text) {
		limit = len(text)
	}
	if limit < 0 {
		limit = 0
	}
	return text[:limit]
}

func rangeExcerpt(text string, start, end int) string {
	length := len(text)
	if start < 0 {
		start = 0
	}
	if start > length {
		start = length
	}
	if end <= 0 || end > length {
		end = length
	}
	if end < start {
		start, end = end, start
	}
	return text[start:end]
}

func grepExcerpt(text, pattern string, window, maxHits int) string {
	if pattern == "" || maxHits <= 0 {
		return ""
	}
	var parts []string
	searchFrom := 0
	for len(parts) < maxHits {
		idx := strings.Index(text[searchFrom:], pattern)
		if idx < 0 {
			break
		}
		absIdx := searchFrom + idx
		start := absIdx - window
		if start < 0 {
			start = 0
		}
		end := absIdx + len(pattern) + window
		if end > len(text) {
			end = len(text)
		}
		parts = append(parts, text[start:end])
		searchFrom = absIdx + len(pattern)
		if searchFrom >= len(text) {
			break
		}
	}
	return strings.Join(parts, "\n...\n")
}

func selectedIDs(variables map[string]any) []string {
	ids, _ := variables["selected_ids"].([]string)
	return ids
}

func dedupPreserveOrder(ids []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// deterministicFallback builds the assembled_context used when a program
// parse or event-error threshold forces a degraded run: top-K candidates
// ordered (pinned, weight, hit_count, base_score) desc.
func deterministicFallback(index domain.CandidateIndex, topK int) map[string]any {
	if topK <= 0 || topK > 200 {
		topK = 20
	}
	ranked := append([]domain.Candidate{}, index.Candidates...)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Pinned != b.Pinned {
			return a.Pinned
		}
		if a.Weight != b.Weight {
			return a.Weight > b.Weight
		}
		if a.HitCount != b.HitCount {
			return a.HitCount > b.HitCount
		}
		return a.BaseScore > b.BaseScore
	})
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}
	ids := make([]string, 0, len(ranked))
	selected := make([]map[string]any, 0, len(ranked))
	for _, c := range ranked {
		ids = append(ids, c.ArtifactID)
		selected = append(selected, map[string]any{
			"artifact_id": c.ArtifactID,
			"title":       c.Title,
			"base_score":  c.BaseScore,
		})
	}
	return map[string]any{
		"mode":         "fallback",
		"selected_ids": ids,
		"selected":     selected,
	}
}
