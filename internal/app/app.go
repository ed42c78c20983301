// Package app wires the configured providers, cache, and health monitor
// into the service the HTTP layer exposes.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"vidgate/config"
	"vidgate/internal/cache"
	"vidgate/internal/core"
	"vidgate/internal/health"
	"vidgate/internal/providers"
)

// App owns the dispatch layer's long-lived components.
type App struct {
	cfg        *config.Config
	dispatcher *providers.Dispatcher
	cache      cache.Cache
	monitor    *health.Monitor
}

// New builds the application from configuration. Providers without a
// credential are skipped, never a startup error; at least one must be
// configured.
func New(cfg *config.Config) (*App, error) {
	dispatcher := providers.NewDispatcher(providers.Options{
		Mode: providers.Mode(cfg.Routing.Mode),
	})

	var targets []health.Target
	for _, name := range cfg.ConfiguredProviders() {
		pc, _ := cfg.Provider(name)
		adapter, err := providers.Create(providers.Config{
			Type:    name,
			APIKey:  pc.APIKey,
			BaseURL: pc.BaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to build %s adapter: %w", name, err)
		}
		dispatcher.RegisterAdapter(adapter)
		if url := providers.HealthEndpoint(name); url != "" {
			targets = append(targets, health.Target{Provider: name, URL: url})
		}
		slog.Info("provider registered", "provider", name)
	}
	if len(dispatcher.AvailableProviders()) == 0 && len(cfg.ConfiguredProviders()) == 0 {
		return nil, fmt.Errorf("at least one provider must be configured")
	}

	responseCache, err := buildCache(cfg.Cache)
	if err != nil {
		return nil, err
	}

	monitorOpts := []health.Option{
		health.WithInterval(cfg.Health.Interval),
		health.WithProbeTimeout(cfg.Health.ProbeTimeout),
	}
	if cfg.Health.AlertUptimeThreshold > 0 || cfg.Health.AlertResponseTimeMs > 0 {
		monitorOpts = append(monitorOpts, health.WithAlerts(health.AlertConfig{
			UptimeThreshold:       cfg.Health.AlertUptimeThreshold,
			ResponseTimeThreshold: cfg.Health.AlertResponseTimeMs,
		}))
	}
	monitor := health.NewMonitor(monitorOpts...)
	monitor.Start(targets)

	return &App{
		cfg:        cfg,
		dispatcher: dispatcher,
		cache:      responseCache,
		monitor:    monitor,
	}, nil
}

func buildCache(cfg config.CacheConfig) (cache.Cache, error) {
	if cfg.Backend == "redis" {
		return cache.NewRedisCache(cache.RedisConfig{
			URL: cfg.RedisURL,
			TTL: cfg.TTL,
		})
	}
	return cache.NewMemoryCache(cache.MemoryConfig{
		MaxEntries: cfg.MaxEntries,
		TTL:        cfg.TTL,
	}), nil
}

// Close stops background work and releases connections.
func (a *App) Close() error {
	a.monitor.Stop()
	return a.cache.Close()
}

// Generate serves a request from the cache when possible, otherwise
// dispatches it and caches a completed result. The bool reports cache
// provenance.
func (a *App) Generate(ctx context.Context, req *core.GenerationRequest, preferred, userID string) (*core.GenerationResult, bool, error) {
	cached, err := a.cache.Get(ctx, req)
	if err != nil {
		slog.Warn("cache lookup failed", "error", err)
	}
	providers.ObserveCacheLookup(cached != nil)
	if cached != nil {
		slog.Debug("cache hit", "provider", cached.Provider, "id", cached.ID)
		return cached, true, nil
	}

	result, err := a.dispatcher.Generate(ctx, req, preferred, userID)
	if err != nil {
		return nil, false, err
	}

	if err := a.cache.Set(ctx, req, result); err != nil {
		slog.Warn("cache store failed", "error", err)
	}
	return result, false, nil
}

// GetStatus polls one provider for an in-flight generation.
func (a *App) GetStatus(ctx context.Context, provider, id string) (*core.GenerationResult, error) {
	return a.dispatcher.GetStatus(ctx, provider, id)
}

// Cancel asks one provider to cancel an in-flight generation.
func (a *App) Cancel(ctx context.Context, provider, id string) (bool, error) {
	return a.dispatcher.Cancel(ctx, provider, id)
}

// AvailableProviders lists the registered providers currently available.
func (a *App) AvailableProviders() []string {
	return a.dispatcher.AvailableProviders()
}

// GetProviderCapabilities returns a provider's static capability table.
func (a *App) GetProviderCapabilities(provider string) (core.Capabilities, error) {
	return a.dispatcher.GetProviderCapabilities(provider)
}

// GetProviderQuota returns a user's remaining quota with one provider.
func (a *App) GetProviderQuota(provider, userID string) (core.Quota, error) {
	return a.dispatcher.GetProviderQuota(provider, userID)
}

// GetProviderMetrics returns one provider's request metrics.
func (a *App) GetProviderMetrics(provider string) (core.ProviderMetrics, error) {
	return a.dispatcher.GetProviderMetrics(provider)
}

// AllProviderMetrics returns request metrics for every registered provider.
func (a *App) AllProviderMetrics() []core.ProviderMetrics {
	return a.dispatcher.AllProviderMetrics()
}

// CacheStats reports the response cache's contents and hit rate.
func (a *App) CacheStats(ctx context.Context) (cache.Stats, error) {
	return a.cache.Stats(ctx)
}

// ClearCache drops all cached results, or one provider's.
func (a *App) ClearCache(ctx context.Context, provider string) error {
	return a.cache.Clear(ctx, provider)
}

// HealthStatus returns the latest probe result for one provider.
func (a *App) HealthStatus(provider string) health.CheckResult {
	return a.monitor.GetHealthStatus(provider)
}

// AllHealthStatuses returns the latest probe result for every provider.
func (a *App) AllHealthStatuses() []health.CheckResult {
	return a.monitor.AllHealthStatuses()
}

// UptimeReport aggregates current health into an overall report.
func (a *App) UptimeReport(hours int) health.UptimeReport {
	return a.monitor.GenerateUptimeReport(hours)
}

// SLAReport derives SLA figures for one provider over a period.
func (a *App) SLAReport(provider string, hours int) (health.SLAReport, error) {
	metrics, err := a.dispatcher.GetProviderMetrics(provider)
	if err != nil {
		return health.SLAReport{}, err
	}
	return health.CalculateSLA(provider, metrics, hours), nil
}
