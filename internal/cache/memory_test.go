package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidgate/internal/core"
)

func testRequest(prompt string) *core.GenerationRequest {
	return &core.GenerationRequest{
		Prompt: prompt,
		Settings: core.GenerationSettings{
			DurationSeconds: 5,
			AspectRatio:     core.Aspect16x9,
			Quality:         core.QualityStandard,
		},
		Metadata: &core.RequestMetadata{UserID: "u1"},
	}
}

func completedResult(id, provider string) *core.GenerationResult {
	now := time.Now()
	return &core.GenerationResult{
		ID:       id,
		Provider: provider,
		Status:   core.StatusCompleted,
		Progress: 100,
		Payload: &core.ResultPayload{
			VideoURL: "https://cdn.example.com/" + id + ".mp4",
			Metadata: core.ResultMetadata{
				DurationSeconds: 5,
				FileSizeBytes:   1 << 20,
			},
		},
		CreatedAt:   now,
		CompletedAt: &now,
	}
}

func TestFingerprintIdentity(t *testing.T) {
	a := testRequest("a red balloon floating over a city")
	b := testRequest("a red balloon floating over a city")

	assert.Equal(t, Fingerprint(a), Fingerprint(b))

	// Fields outside the semantic subset do not change the key.
	b.Metadata = &core.RequestMetadata{UserID: "someone-else", Priority: 9}
	seed := int64(42)
	b.Settings.Seed = &seed
	b.Settings.FrameRate = 60
	assert.Equal(t, Fingerprint(a), Fingerprint(b))

	// Semantic fields do.
	c := testRequest("a red balloon floating over a city")
	c.Settings.DurationSeconds = 6
	assert.NotEqual(t, Fingerprint(a), Fingerprint(c))

	d := testRequest("a blue balloon floating over a city")
	assert.NotEqual(t, Fingerprint(a), Fingerprint(d))

	e := testRequest("a red balloon floating over a city")
	e.Settings.Style = "anime"
	assert.NotEqual(t, Fingerprint(a), Fingerprint(e))
}

func TestGetAndSet(t *testing.T) {
	c := NewMemoryCache(MemoryConfig{})
	ctx := context.Background()
	req := testRequest("sunrise timelapse")

	got, err := c.Get(ctx, req)
	require.NoError(t, err)
	assert.Nil(t, got, "miss returns nil, nil")

	require.NoError(t, c.Set(ctx, req, completedResult("gen-1", "runway")))

	got, err = c.Get(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "gen-1", got.ID)
	assert.Equal(t, "runway", got.Provider)
	assert.Equal(t, core.StatusCompleted, got.Status)
	require.NotNil(t, got.Payload)
	assert.Equal(t, "https://cdn.example.com/gen-1.mp4", got.Payload.VideoURL)
}

func TestSetIgnoresIncompleteResults(t *testing.T) {
	c := NewMemoryCache(MemoryConfig{})
	ctx := context.Background()
	req := testRequest("sunrise timelapse")

	failed := completedResult("gen-1", "runway")
	failed.Status = core.StatusFailed
	failed.Error = &core.ResultError{Message: "boom"}
	require.NoError(t, c.Set(ctx, req, failed))

	processing := completedResult("gen-2", "runway")
	processing.Status = core.StatusProcessing
	require.NoError(t, c.Set(ctx, req, processing))

	noPayload := completedResult("gen-3", "runway")
	noPayload.Payload = nil
	require.NoError(t, c.Set(ctx, req, noPayload))

	got, err := c.Get(ctx, req)
	require.NoError(t, err)
	assert.Nil(t, got, "nothing should have been cached")
}

func TestExpiredHitIsMissAndEvicted(t *testing.T) {
	c := NewMemoryCache(MemoryConfig{TTL: time.Hour})
	ctx := context.Background()
	req := testRequest("sunrise timelapse")

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c.SetClock(func() time.Time { return now })

	require.NoError(t, c.Set(ctx, req, completedResult("gen-1", "pika")))

	now = now.Add(2 * time.Hour)
	got, err := c.Get(ctx, req)
	require.NoError(t, err)
	assert.Nil(t, got, "expired entry is a miss")

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Entries, "expired entry was evicted on lookup")
}

func TestEvictionPrefersExpiredThenLRU(t *testing.T) {
	c := NewMemoryCache(MemoryConfig{MaxEntries: 10, TTL: time.Hour})
	ctx := context.Background()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c.SetClock(func() time.Time { return now })

	// Two entries that will be expired by the time the cache overflows.
	require.NoError(t, c.Set(ctx, testRequest("old-0"), completedResult("old-0", "luma")))
	require.NoError(t, c.Set(ctx, testRequest("old-1"), completedResult("old-1", "luma")))

	now = now.Add(2 * time.Hour)
	for i := 0; i < 8; i++ {
		now = now.Add(time.Minute)
		req := testRequest(fmt.Sprintf("fresh-%d", i))
		require.NoError(t, c.Set(ctx, req, completedResult(fmt.Sprintf("fresh-%d", i), "luma")))
	}

	// Touch fresh-0 so it is recently used despite being oldest.
	now = now.Add(time.Minute)
	got, err := c.Get(ctx, testRequest("fresh-0"))
	require.NoError(t, err)
	require.NotNil(t, got)

	// Overflow: eviction must drop the expired pair before any live entry.
	now = now.Add(time.Minute)
	require.NoError(t, c.Set(ctx, testRequest("overflow"), completedResult("overflow", "luma")))

	for _, prompt := range []string{"old-0", "old-1"} {
		r, err := c.Get(ctx, testRequest(prompt))
		require.NoError(t, err)
		assert.Nil(t, r, "expired entry %s should be gone", prompt)
	}
	r, err := c.Get(ctx, testRequest("fresh-0"))
	require.NoError(t, err)
	assert.NotNil(t, r, "recently used entry must survive eviction")

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.LessOrEqual(t, stats.Entries, 9, "eviction brings the cache comfortably under the ceiling")
}

func TestClear(t *testing.T) {
	c := NewMemoryCache(MemoryConfig{})
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, testRequest("a"), completedResult("a", "runway")))
	require.NoError(t, c.Set(ctx, testRequest("b"), completedResult("b", "pika")))
	require.NoError(t, c.Set(ctx, testRequest("c"), completedResult("c", "pika")))

	require.NoError(t, c.Clear(ctx, "pika"))
	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, 1, stats.PerProvider["runway"])
	assert.Zero(t, stats.PerProvider["pika"])

	require.NoError(t, c.Clear(ctx, ""))
	stats, err = c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Entries)
}

func TestStatsHitRate(t *testing.T) {
	c := NewMemoryCache(MemoryConfig{})
	ctx := context.Background()
	req := testRequest("sunrise timelapse")

	_, _ = c.Get(ctx, req) // miss
	require.NoError(t, c.Set(ctx, req, completedResult("gen-1", "stability")))
	_, _ = c.Get(ctx, req) // hit
	_, _ = c.Get(ctx, req) // hit

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 2.0/3.0, stats.HitRate, 1e-9)
	assert.Equal(t, int64(1<<20), stats.TotalSizeBytes)
}
