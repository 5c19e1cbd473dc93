package candidates

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"rlmcore/internal/rlm/domain"
)

// MemoryStore is an in-memory double satisfying the same narrow repository
// surface as Store, used in tests that must not touch a live Postgres
// instance.
type MemoryStore struct {
	Sessions  map[string]string // session_id -> project_id
	Artifacts map[string]domain.Artifact
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		Sessions:  map[string]string{},
		Artifacts: map[string]domain.Artifact{},
	}
}

// Put inserts or replaces an artifact, computing its content hash.
func (m *MemoryStore) Put(a domain.Artifact) domain.Artifact {
	sum := sha256.Sum256([]byte(a.Content))
	a.ContentHash = hex.EncodeToString(sum[:])
	m.Artifacts[a.ID] = a
	if a.Scope == domain.ScopeSession && a.SessionID != "" {
		if _, ok := m.Sessions[a.SessionID]; !ok {
			m.Sessions[a.SessionID] = a.ProjectID
		}
	}
	return a
}

// ProjectOf mirrors Store.ProjectOf.
func (m *MemoryStore) ProjectOf(ctx context.Context, sessionID string) (string, error) {
	projectID, ok := m.Sessions[sessionID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return projectID, nil
}

// ListCandidates mirrors Store.ListCandidates over the in-memory artifact set.
func (m *MemoryStore) ListCandidates(ctx context.Context, sessionID, query string, tokens []string, opt domain.RetrievalOptions) (domain.CandidateIndex, error) {
	projectID, err := m.ProjectOf(ctx, sessionID)
	if err != nil {
		return domain.CandidateIndex{}, err
	}

	scopes := map[domain.Scope]bool{domain.ScopeSession: true, domain.ScopeProject: true}
	if opt.IncludeGlobal {
		scopes[domain.ScopeGlobal] = true
	}
	allowed := map[string]bool{}
	for _, t := range opt.AllowedTypes {
		allowed[t] = true
	}

	idx := domain.CandidateIndex{SessionID: sessionID, ProjectID: projectID, Query: query}
	for _, a := range m.Artifacts {
		if a.Status != domain.StatusActive {
			continue
		}
		if a.ProjectID != projectID {
			continue
		}
		if !scopes[a.Scope] {
			continue
		}
		if len(allowed) > 0 && !allowed[string(a.Type)] {
			continue
		}
		if a.Scope == domain.ScopeSession && a.SessionID != sessionID {
			continue
		}

		hitCount := 0
		lowered := strings.ToLower(a.Content)
		for _, tok := range tokens {
			if tok == "" {
				continue
			}
			if strings.Contains(lowered, strings.ToLower(tok)) {
				hitCount++
			}
		}

		preview := a.Content
		if opt.PreviewChars >= 0 && len(preview) > opt.PreviewChars {
			preview = preview[:opt.PreviewChars]
		}

		c := domain.Candidate{
			ArtifactID:     a.ID,
			Scope:          a.Scope,
			Type:           a.Type,
			Title:          a.Title,
			ContentHash:    a.ContentHash,
			Pinned:         a.Pinned,
			Weight:         a.Weight,
			Source:         a.Source,
			ContentPreview: preview,
			TokenEstimate:  a.TokenEstimate,
			HitCount:       hitCount,
			CreatedAt:      a.CreatedAt,
		}
		c.BaseScore = domain.ComputeBaseScore(c.Weight, c.HitCount, c.Pinned)
		c.ScoreBreakdown = domain.ScoreBreakdown{Weight: c.Weight, HitCount: c.HitCount}
		if c.Pinned {
			c.ScoreBreakdown.PinnedBonus = 5.0
		}
		idx.Candidates = append(idx.Candidates, c)
	}

	sortCandidates(idx.Candidates)
	if opt.TopK > 0 && len(idx.Candidates) > opt.TopK {
		idx.Candidates = idx.Candidates[:opt.TopK]
	}
	return idx, nil
}

func sortCandidates(candidates []domain.Candidate) {
	for i := 1; i < len(candidates); i++ {
		for j := i; j > 0 && less(candidates[j], candidates[j-1]); j-- {
			candidates[j], candidates[j-1] = candidates[j-1], candidates[j]
		}
	}
}

func less(a, b domain.Candidate) bool {
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
}

// GetContent mirrors Store.GetContent for the in-memory artifact set.
func (m *MemoryStore) GetContent(ctx context.Context, artifactID string) (ArtifactContent, error) {
	a, ok := m.Artifacts[artifactID]
	if !ok {
		return ArtifactContent{}, fmt.Errorf("%w: %s", ErrArtifactNotFound, artifactID)
	}
	return ArtifactContent{Content: a.Content, ContentHash: a.ContentHash, Metadata: a.Metadata}, nil
}
