// Package providers provides the dispatcher and adapter factory for video
// generation providers.
package providers

import (
	"fmt"

	"vidgate/internal/core"
)

// Config holds what the factory needs to construct one adapter.
type Config struct {
	// Type selects the adapter implementation (e.g. "runway").
	Type string
	// APIKey is the provider credential. An empty key fails construction.
	APIKey string
	// BaseURL overrides the provider's default API endpoint when set.
	BaseURL string
}

// Builder creates an adapter instance from configuration.
type Builder func(cfg Config) (core.VideoProvider, error)

// registry holds all registered adapter builders.
var registry = make(map[string]Builder)

// healthEndpoints holds each adapter's reachability probe URL.
var healthEndpoints = make(map[string]string)

// Register allows adapter packages to register themselves.
// This should be called from init() functions in adapter packages.
func Register(providerType string, builder Builder) {
	registry[providerType] = builder
}

// RegisterHealthEndpoint records the URL the health monitor should probe
// for an adapter type. Called from adapter init() alongside Register.
func RegisterHealthEndpoint(providerType, url string) {
	healthEndpoints[providerType] = url
}

// HealthEndpoint returns the probe URL for an adapter type, or "".
func HealthEndpoint(providerType string) string {
	return healthEndpoints[providerType]
}

// Create instantiates an adapter based on configuration.
func Create(cfg Config) (core.VideoProvider, error) {
	builder, ok := registry[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("unknown provider type: %s", cfg.Type)
	}
	return builder(cfg)
}

// ListRegistered returns all registered adapter types.
func ListRegistered() []string {
	types := make([]string, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	return types
}
