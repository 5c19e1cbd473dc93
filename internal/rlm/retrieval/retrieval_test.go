package retrieval

import (
	"context"
	"testing"
	"time"

	"rlmcore/internal/rlm/domain"
)

type fakeStore struct {
	calls int
	idx   domain.CandidateIndex
}

func (f *fakeStore) ListCandidates(ctx context.Context, sessionID, query string, tokens []string, opt domain.RetrievalOptions) (domain.CandidateIndex, error) {
	f.calls++
	return f.idx, nil
}

func TestBuildCandidateIndexClampsOptions(t *testing.T) {
	store := &fakeStore{idx: domain.CandidateIndex{SessionID: "s1"}}
	svc := New(store)

	_, err := svc.BuildCandidateIndex(context.Background(), "s1", "hello world", map[string]any{
		"top_k":         float64(500),
		"preview_chars": float64(-10),
	})
	if err != nil {
		t.Fatalf("BuildCandidateIndex: %v", err)
	}
	if store.calls != 1 {
		t.Fatalf("calls = %d, want 1", store.calls)
	}
}

func TestPinnedPrecedence(t *testing.T) {
	now := time.Now()
	candidates := []domain.Candidate{
		{ArtifactID: "a", Pinned: false, Weight: 5, HitCount: 10, CreatedAt: now},
		{ArtifactID: "b", Pinned: true, Weight: 0.1, HitCount: 0, CreatedAt: now},
	}
	SortCandidates(candidates)
	if candidates[0].ArtifactID != "b" {
		t.Fatalf("first candidate = %s, want pinned artifact b", candidates[0].ArtifactID)
	}
}
