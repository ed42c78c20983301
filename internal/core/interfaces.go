package core

import (
	"context"
)

// VideoProvider is the contract every provider adapter implements. The
// dispatcher depends only on this interface, never on concrete adapters, so
// the fallback loop needs no provider-specific handling.
//
// Generate returns an error only for request validation failures
// (invalid_request). Network and remote failures never propagate as errors:
// they come back as a GenerationResult with StatusFailed and a structured
// ResultError carrying the retryable flag. All four adapters honor this.
type VideoProvider interface {
	// Name returns the provider identifier (e.g. "runway").
	Name() string

	// Generate submits a generation request to the provider.
	Generate(ctx context.Context, req *GenerationRequest) (*GenerationResult, error)

	// GetStatus re-checks an in-flight generation. Returns a fresh result
	// object; results are never mutated in place.
	GetStatus(ctx context.Context, id string) (*GenerationResult, error)

	// Cancel asks the provider to stop an in-flight generation. Providers
	// without cancellation support return false, nil.
	Cancel(ctx context.Context, id string) (bool, error)

	// IsAvailable reports whether the adapter considers itself dispatchable.
	IsAvailable() bool

	// MaxDuration returns the longest clip the provider renders, in seconds.
	MaxDuration() int

	// SupportedAspectRatios returns the provider's fixed ratio set.
	SupportedAspectRatios() []AspectRatio

	// CostPerSecond returns the provider's base per-second rate.
	CostPerSecond() float64

	// CheckRateLimit reports whether the user has quota left with this
	// provider. It never mutates the window.
	CheckRateLimit(userID string) bool

	// RemainingQuota reports the user's remaining daily requests and cost
	// allowance. Never negative.
	RemainingQuota(userID string) Quota
}
