// Package glimpsecache implements the Glimpse Cache (C3): a content-addressed
// TTL cache of extracted excerpts keyed by (run, glimpse-id), backed by Redis.
// A nil/unreachable Redis client degrades every call to a non-fatal miss.
package glimpsecache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Entry is the {meta, text} value stored at a glimpse cache key.
type Entry struct {
	Meta map[string]any `json:"meta"`
	Text string         `json:"text"`
}

// Cache wraps a Redis client. It is safe to construct with client == nil:
// every Get becomes a miss and every Set becomes a no-op.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New constructs a Cache. ttlSeconds <= 0 means no expiry.
func New(client *redis.Client, ttlSeconds int) *Cache {
	ttl := time.Duration(0)
	if ttlSeconds > 0 {
		ttl = time.Duration(ttlSeconds) * time.Second
	}
	return &Cache{client: client, ttl: ttl}
}

// NewClient constructs a go-redis client from a URL and verifies
// connectivity with a bounded Ping, mirroring the construct-then-ping
// pattern used elsewhere in this codebase for shared infrastructure clients.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// GlimpseID computes glimpse_id = SHA256(json_canonical({artifact_id,
// content_hash, spec})). spec is any JSON-marshalable extraction descriptor
// (mode + mode-specific params), so the id is a pure function of semantic
// inputs only — never wall-clock or run-scoped state.
func GlimpseID(artifactID, contentHash string, spec map[string]any) (string, error) {
	payload := map[string]any{
		"artifact_id":  artifactID,
		"content_hash": contentHash,
		"spec":         spec,
	}
	canonical, err := canonicalJSON(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Key builds the rlm:glimpse:{run_id}:{glimpse_id} cache key.
func Key(runID, glimpseID string) string {
	return fmt.Sprintf("rlm:glimpse:%s:%s", runID, glimpseID)
}

// Get returns (entry, true) on a hit, (zero, false) on any miss — including
// a nil client, a missing key, or a malformed stored value. Misses are
// always non-fatal.
func (c *Cache) Get(ctx context.Context, key string) (Entry, bool) {
	if c == nil || c.client == nil {
		return Entry{}, false
	}
	raw, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false
	}
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("glimpse cache get failed, treating as miss")
		return Entry{}, false
	}
	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("glimpse cache value undecodable, treating as miss")
		return Entry{}, false
	}
	return entry, true
}

// Set stores entry at key. A nil client makes this a no-op; any other
// failure is logged and swallowed, since the cache is a pure optimization.
func (c *Cache) Set(ctx context.Context, key string, entry Entry) {
	if c == nil || c.client == nil {
		return
	}
	data, err := json.Marshal(entry)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("glimpse cache marshal failed")
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("glimpse cache set failed")
	}
}

// canonicalJSON marshals v with sorted map keys so semantically identical
// inputs always produce byte-identical output (Go's encoding/json already
// sorts map[string]any keys, so this is a direct Marshal).
func canonicalJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}
