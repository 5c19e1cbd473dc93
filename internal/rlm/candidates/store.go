// Package candidates implements the Candidate Store (C1): scope-filtered,
// lexical-scored artifact lookup and full-text fetch by id, backed by
// Postgres via pgx with optional S3 overflow for large content.
package candidates

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"rlmcore/internal/objectstore"
	"rlmcore/internal/rlm/domain"
)

// ErrSessionNotFound is returned by ProjectOf when the session row is absent.
var ErrSessionNotFound = errors.New("session_not_found")

// ErrArtifactNotFound is returned by GetContent when the artifact row is absent.
var ErrArtifactNotFound = errors.New("artifact_not_found")

// Store is the pgx-backed Candidate Store.
type Store struct {
	pool    *pgxpool.Pool
	objects objectstore.ObjectStore // optional; nil disables S3 overflow
	inlineThresholdByte int
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithObjectStore enables S3 overflow for content above the inline threshold.
func WithObjectStore(store objectstore.ObjectStore, inlineThresholdByte int) Option {
	return func(s *Store) {
		s.objects = store
		s.inlineThresholdByte = inlineThresholdByte
	}
}

// New constructs a Store over an existing connection pool.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{pool: pool, inlineThresholdByte: 8192}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ProjectOf resolves the project id owning a session, failing with
// ErrSessionNotFound if the session row is absent.
func (s *Store) ProjectOf(ctx context.Context, sessionID string) (string, error) {
	var projectID string
	err := s.pool.QueryRow(ctx, `SELECT project_id::text FROM sessions WHERE id = $1`, sessionID).Scan(&projectID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return "", fmt.Errorf("project_of: %w", err)
	}
	return projectID, nil
}

// ListCandidates implements the scope-aware, lexically-scored lookup
// described by C1/C7: scope filtering, hit-count scoring, and ordering by
// (pinned desc, weight desc, hit_count desc, created_at desc).
func (s *Store) ListCandidates(ctx context.Context, sessionID, query string, tokens []string, opt domain.RetrievalOptions) (domain.CandidateIndex, error) {
	projectID, err := s.ProjectOf(ctx, sessionID)
	if err != nil {
		return domain.CandidateIndex{}, err
	}

	scopes := []string{"session", "project"}
	if opt.IncludeGlobal {
		scopes = append(scopes, "global")
	}

	const q = `
SELECT
  id::text AS artifact_id,
  scope,
  type,
  title,
  content_hash,
  pinned,
  weight,
  source,
  token_estimate,
  metadata,
  left(content, $1) AS content_preview,
  created_at,
  (SELECT count(*) FROM unnest($2::text[]) AS t WHERE content ILIKE ('%' || t || '%')) AS hit_count
FROM artifacts
WHERE status = 'active'
  AND project_id = $3
  AND scope = ANY($4::text[])
  AND ($5::text[] IS NULL OR type = ANY($5::text[]))
  AND ((scope = 'session' AND session_id = $6) OR (scope <> 'session'))
ORDER BY pinned DESC, weight DESC, hit_count DESC, created_at DESC
LIMIT $7`

	rows, err := s.pool.Query(ctx, q, opt.PreviewChars, tokens, projectID, scopes, opt.AllowedTypes, sessionID, opt.TopK)
	if err != nil {
		return domain.CandidateIndex{}, fmt.Errorf("list_candidates: %w", err)
	}
	defer rows.Close()

	idx := domain.CandidateIndex{SessionID: sessionID, ProjectID: projectID, Query: query}
	for rows.Next() {
		var (
			c             domain.Candidate
			tokenEstimate *int
			metadata      map[string]any
		)
		if err := rows.Scan(&c.ArtifactID, &c.Scope, &c.Type, &c.Title, &c.ContentHash, &c.Pinned,
			&c.Weight, &c.Source, &tokenEstimate, &metadata, &c.ContentPreview, &c.CreatedAt, &c.HitCount); err != nil {
			return domain.CandidateIndex{}, fmt.Errorf("scan candidate: %w", err)
		}
		c.TokenEstimate = tokenEstimate
		c.BaseScore = domain.ComputeBaseScore(c.Weight, c.HitCount, c.Pinned)
		c.ScoreBreakdown = domain.ScoreBreakdown{
			Weight:   c.Weight,
			HitCount: c.HitCount,
		}
		if c.Pinned {
			c.ScoreBreakdown.PinnedBonus = 5.0
		}
		idx.Candidates = append(idx.Candidates, c)
	}
	if err := rows.Err(); err != nil {
		return domain.CandidateIndex{}, fmt.Errorf("list_candidates rows: %w", err)
	}
	return idx, nil
}

// ArtifactContent is the projection returned by GetContent.
type ArtifactContent struct {
	Content     string
	ContentHash string
	Metadata    map[string]any
}

// GetContent fetches full artifact text, transparently dereferencing an S3
// pointer when metadata.storage == "s3".
func (s *Store) GetContent(ctx context.Context, artifactID string) (ArtifactContent, error) {
	var (
		content     string
		contentHash string
		metadata    map[string]any
	)
	err := s.pool.QueryRow(ctx,
		`SELECT content, content_hash, metadata FROM artifacts WHERE id = $1`, artifactID,
	).Scan(&content, &contentHash, &metadata)
	if errors.Is(err, pgx.ErrNoRows) {
		return ArtifactContent{}, fmt.Errorf("%w: %s", ErrArtifactNotFound, artifactID)
	}
	if err != nil {
		return ArtifactContent{}, fmt.Errorf("get_content: %w", err)
	}

	if storage, _ := metadata["storage"].(string); storage == "s3" {
		key, _ := metadata["s3_key"].(string)
		if key == "" || s.objects == nil {
			return ArtifactContent{}, fmt.Errorf("get_content: artifact %s marked s3 overflow but no object store configured", artifactID)
		}
		rc, _, err := s.objects.Get(ctx, key)
		if err != nil {
			return ArtifactContent{}, fmt.Errorf("get_content s3 overflow: %w", err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return ArtifactContent{}, fmt.Errorf("get_content s3 read: %w", err)
		}
		content = string(data)
	}

	return ArtifactContent{Content: content, ContentHash: contentHash, Metadata: metadata}, nil
}

// GetArtifactText is a convenience projection over GetContent.
func (s *Store) GetArtifactText(ctx context.Context, artifactID string) (string, error) {
	c, err := s.GetContent(ctx, artifactID)
	if err != nil {
		return "", err
	}
	return c.Content, nil
}

// GetArtifactMetadata is a convenience projection over GetContent.
func (s *Store) GetArtifactMetadata(ctx context.Context, artifactID string) (map[string]any, error) {
	c, err := s.GetContent(ctx, artifactID)
	if err != nil {
		return nil, err
	}
	return c.Metadata, nil
}

// PutOverflowContent stores content in the object store when it exceeds the
// configured inline threshold, returning metadata to stamp onto the artifact
// row ({"storage":"s3","s3_key":...}), or nil if content should stay inline.
func (s *Store) PutOverflowContent(ctx context.Context, artifactID, content string) (map[string]any, error) {
	if s.objects == nil || len(content) <= s.inlineThresholdByte {
		return nil, nil
	}
	key := fmt.Sprintf("artifacts/%s", artifactID)
	if _, err := s.objects.Put(ctx, key, strings.NewReader(content), objectstore.PutOptions{ContentType: "text/plain; charset=utf-8"}); err != nil {
		return nil, fmt.Errorf("put_overflow_content: %w", err)
	}
	return map[string]any{"storage": "s3", "s3_key": key}, nil
}
