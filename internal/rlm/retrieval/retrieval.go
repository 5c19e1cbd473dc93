// Package retrieval builds a CandidateIndex for one (session, query) pair:
// deterministic tokenization, option clamping, and Candidate Store lookup.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/singleflight"

	"rlmcore/internal/rlm/domain"
)

// CandidateStore is the narrow dependency Retrieval needs from C1.
type CandidateStore interface {
	ListCandidates(ctx context.Context, sessionID, query string, tokens []string, opt domain.RetrievalOptions) (domain.CandidateIndex, error)
}

// Service builds CandidateIndex values, coalescing concurrent identical
// requests via singleflight so a burst of duplicate calls shares one
// underlying Candidate Store round trip.
type Service struct {
	store CandidateStore
	group singleflight.Group
}

// New constructs a Service backed by the given Candidate Store.
func New(store CandidateStore) *Service {
	return &Service{store: store}
}

func clampInt(v any, def, lo, hi int) int {
	n, ok := asInt(v)
	if !ok {
		n = def
	}
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	default:
		return 0, false
	}
}

// BuildCandidateIndex implements build_candidate_index: clamps options,
// tokenizes the query, and delegates to the Candidate Store.
func (s *Service) BuildCandidateIndex(ctx context.Context, sessionID, query string, options map[string]any) (domain.CandidateIndex, error) {
	if options == nil {
		options = map[string]any{}
	}

	allowedTypes := stringSlice(options["allowed_types"])
	if len(allowedTypes) == 0 {
		allowedTypes = []string{"doc", "code", "note"}
	}

	includeGlobal := true
	if v, ok := options["include_global"].(bool); ok {
		includeGlobal = v
	}

	opt := domain.RetrievalOptions{
		IncludeGlobal: includeGlobal,
		TopK:          clampInt(options["top_k"], 20, 1, 200),
		PreviewChars:  clampInt(options["preview_chars"], 240, 0, 4000),
		AllowedTypes:  allowedTypes,
	}

	tokens := BuildTokens(query)
	if len(tokens) == 0 {
		tokens = []string{query}
	}

	key := coalesceKey(sessionID, query, opt)
	v, err, _ := s.group.Do(key, func() (any, error) {
		return s.store.ListCandidates(ctx, sessionID, query, tokens, opt)
	})
	if err != nil {
		return domain.CandidateIndex{}, err
	}
	return v.(domain.CandidateIndex), nil
}

func coalesceKey(sessionID, query string, opt domain.RetrievalOptions) string {
	return fmt.Sprintf("%s|%s|%v|%d|%d|%s", sessionID, query, opt.IncludeGlobal, opt.TopK, opt.PreviewChars, strings.Join(opt.AllowedTypes, ","))
}

func stringSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		if ss, ok := v.([]string); ok {
			return ss
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// SortCandidates orders candidates by (pinned desc, weight desc, hit_count
// desc, created_at desc), matching the Candidate Store's ORDER BY clause.
func SortCandidates(candidates []domain.Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Pinned != b.Pinned {
			return a.Pinned
		}
		if a.Weight != b.Weight {
			return a.Weight > b.Weight
		}
		if a.HitCount != b.HitCount {
			return a.HitCount > b.HitCount
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
}
