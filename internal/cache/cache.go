// Package cache deduplicates identical generation requests so repeat calls
// return previously computed results without touching a provider.
// Supports an in-memory backend (the default) and Redis for multi-instance
// deployments.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"vidgate/internal/core"
)

const (
	// DefaultTTL is how long a cached result stays servable.
	DefaultTTL = 24 * time.Hour

	// DefaultMaxEntries bounds the in-memory backend.
	DefaultMaxEntries = 1000
)

// Entry is one cached completed generation.
type Entry struct {
	ID           string                  `json:"id"`
	PromptHash   string                  `json:"prompt_hash"`
	Provider     string                  `json:"provider"`
	Settings     core.GenerationSettings `json:"settings"`
	VideoURL     string                  `json:"video_url"`
	ThumbnailURL string                  `json:"thumbnail_url,omitempty"`
	// Result metadata subset kept for stats and reconstruction.
	DurationSeconds int          `json:"duration_seconds"`
	FileSizeBytes   int64        `json:"file_size_bytes"`
	Quality         core.Quality `json:"quality"`
	UsageCount      int64        `json:"usage_count"`
	LastAccessed    time.Time    `json:"last_accessed"`
	ExpiresAt       time.Time    `json:"expires_at"`
	CreatedAt       time.Time    `json:"created_at"`
}

// Result rebuilds the completed generation result an entry stands in for.
func (e *Entry) Result() *core.GenerationResult {
	completed := e.CreatedAt
	return &core.GenerationResult{
		ID:          e.ID,
		Provider:    e.Provider,
		Status:      core.StatusCompleted,
		Progress:    100,
		CreatedAt:   e.CreatedAt,
		CompletedAt: &completed,
		Payload: &core.ResultPayload{
			VideoURL:     e.VideoURL,
			ThumbnailURL: e.ThumbnailURL,
			Metadata: core.ResultMetadata{
				DurationSeconds: e.DurationSeconds,
				FileSizeBytes:   e.FileSizeBytes,
			},
		},
	}
}

// Stats describes the cache's current contents and lookup history.
type Stats struct {
	Entries        int            `json:"entries"`
	TotalSizeBytes int64          `json:"total_size_bytes"`
	PerProvider    map[string]int `json:"per_provider"`
	Hits           int64          `json:"hits"`
	Misses         int64          `json:"misses"`
	HitRate        float64        `json:"hit_rate"`
}

// Cache is the response cache contract. Implementations must be safe for
// concurrent use. Get returns nil, nil on a miss; callers treat any error
// as a miss and never let it reach the request path.
type Cache interface {
	// Get looks the request up by fingerprint. A live hit bumps its usage
	// counters; an expired hit is evicted and reported as a miss.
	Get(ctx context.Context, req *core.GenerationRequest) (*core.GenerationResult, error)

	// Set stores a completed result. Anything other than a completed result
	// with a payload is a no-op.
	Set(ctx context.Context, req *core.GenerationRequest, result *core.GenerationResult) error

	// Clear removes all entries, or only one provider's when provider != "".
	Clear(ctx context.Context, provider string) error

	// Stats reports entry counts, aggregate size, and hit history.
	Stats(ctx context.Context) (Stats, error)

	// Close releases any resources held by the cache.
	Close() error
}

// fingerprintPayload is the semantically relevant subset of a request.
// Marshalling a struct (not a map) keeps field order, and therefore the
// fingerprint, deterministic.
type fingerprintPayload struct {
	Prompt          string           `json:"prompt"`
	DurationSeconds int              `json:"duration_seconds"`
	AspectRatio     core.AspectRatio `json:"aspect_ratio"`
	Quality         core.Quality     `json:"quality"`
	Style           string           `json:"style"`
	ReferenceImages []string         `json:"reference_images"`
}

// Fingerprint derives the cache key for a request. Requests differing only
// in fields outside the semantic subset (metadata, seed, frame rate) share
// a fingerprint.
func Fingerprint(req *core.GenerationRequest) string {
	payload := fingerprintPayload{
		Prompt:          req.Prompt,
		DurationSeconds: req.Settings.DurationSeconds,
		AspectRatio:     req.Settings.AspectRatio,
		Quality:         req.Settings.Quality,
		Style:           req.Settings.Style,
		ReferenceImages: req.ReferenceImages,
	}
	data, _ := json.Marshal(payload)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// cacheable reports whether a result may be stored: only completed results
// with a payload, never partial or failed outcomes.
func cacheable(result *core.GenerationResult) bool {
	return result != nil && result.Status == core.StatusCompleted && result.Payload != nil
}

// newEntry builds the entry for one completed result, stamped with the
// caller's clock so backends with an injectable time source stay consistent.
func newEntry(req *core.GenerationRequest, result *core.GenerationResult, ttl time.Duration, now time.Time) *Entry {
	return &Entry{
		ID:              result.ID,
		PromptHash:      Fingerprint(req),
		Provider:        result.Provider,
		Settings:        req.Settings,
		VideoURL:        result.Payload.VideoURL,
		ThumbnailURL:    result.Payload.ThumbnailURL,
		DurationSeconds: result.Payload.Metadata.DurationSeconds,
		FileSizeBytes:   result.Payload.Metadata.FileSizeBytes,
		Quality:         req.Settings.Quality,
		LastAccessed:    now,
		ExpiresAt:       now.Add(ttl),
		CreatedAt:       now,
	}
}
