package providers

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"vidgate/internal/core"
)

// Mode selects the ordering policy for candidates without a preferred
// provider.
type Mode string

const (
	// ModeReliability orders providers by historical success ratio, most
	// trusted first. The default.
	ModeReliability Mode = "reliability"
	// ModeCost orders compatible providers by estimated request cost,
	// cheapest first.
	ModeCost Mode = "cost"
	// ModeQuality uses a fixed quality-ranked order, filtered to
	// compatible providers.
	ModeQuality Mode = "quality"
)

// DefaultQualityOrder ranks the known providers by output quality.
var DefaultQualityOrder = []string{"runway", "luma", "pika", "stability"}

// Options configures a Dispatcher.
type Options struct {
	// Mode selects the ordering policy. Defaults to ModeReliability.
	Mode Mode
	// QualityOrder overrides DefaultQualityOrder for ModeQuality.
	QualityOrder []string
}

// providerMetrics wraps one provider's running counters behind its own lock
// so concurrent generate calls never lose read-modify-write updates.
type providerMetrics struct {
	mu sync.Mutex
	m  core.ProviderMetrics
}

// Dispatcher owns the configured adapters and drives the fallback loop. It
// tries candidates strictly sequentially; there is no concurrent fan-out for
// a single request. Concurrent calls for different requests interleave
// freely.
type Dispatcher struct {
	mu       sync.RWMutex
	adapters map[string]core.VideoProvider
	// order is the configured fallback order; it also breaks reliability
	// ties deterministically.
	order        []string
	mode         Mode
	qualityOrder []string
	metrics      map[string]*providerMetrics
}

// NewDispatcher creates a dispatcher with no adapters registered.
func NewDispatcher(opts Options) *Dispatcher {
	mode := opts.Mode
	if mode == "" {
		mode = ModeReliability
	}
	qualityOrder := opts.QualityOrder
	if len(qualityOrder) == 0 {
		qualityOrder = DefaultQualityOrder
	}
	return &Dispatcher{
		adapters:     make(map[string]core.VideoProvider),
		mode:         mode,
		qualityOrder: qualityOrder,
		metrics:      make(map[string]*providerMetrics),
	}
}

// RegisterAdapter adds an adapter to the dispatcher's fallback order and
// initializes its metrics to zero. Registering the same provider twice
// replaces the adapter but keeps its position and metrics.
func (d *Dispatcher) RegisterAdapter(p core.VideoProvider) {
	d.mu.Lock()
	defer d.mu.Unlock()

	name := p.Name()
	if _, exists := d.adapters[name]; !exists {
		d.order = append(d.order, name)
		d.metrics[name] = &providerMetrics{m: core.ProviderMetrics{Provider: name}}
	}
	d.adapters[name] = p
}

// AvailableProviders returns the configured providers that currently report
// themselves available, in fallback order.
func (d *Dispatcher) AvailableProviders() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]string, 0, len(d.order))
	for _, name := range d.order {
		if d.adapters[name].IsAvailable() {
			out = append(out, name)
		}
	}
	return out
}

// compatible reports whether the request fits inside the provider's
// capability table.
func compatible(p core.VideoProvider, req *core.GenerationRequest) bool {
	if req.Settings.DurationSeconds > p.MaxDuration() {
		return false
	}
	for _, r := range p.SupportedAspectRatios() {
		if r == req.Settings.AspectRatio {
			return true
		}
	}
	return false
}

// successRatio returns the provider's historical success ratio. A provider
// with no history ranks 0: least trusted until proven.
func (d *Dispatcher) successRatio(name string) float64 {
	entry := d.metrics[name]
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.m.TotalRequests == 0 {
		return 0
	}
	return float64(entry.m.SuccessfulRequests) / float64(entry.m.TotalRequests)
}

// candidateOrder computes the try-order for one request. Availability is
// not filtered here: an unavailable candidate stays in the order so the
// dispatch loop records the skip against its metrics. Caller holds at
// least a read lock.
func (d *Dispatcher) candidateOrder(req *core.GenerationRequest, preferred string) []string {
	// A preferred, currently available provider goes first, followed by the
	// configured fallback order with the preferred entry removed.
	if preferred != "" {
		if p, ok := d.adapters[preferred]; ok && p.IsAvailable() {
			out := []string{preferred}
			for _, name := range d.order {
				if name != preferred {
					out = append(out, name)
				}
			}
			return out
		}
	}

	switch d.mode {
	case ModeCost:
		// Compatible providers, cheapest estimated request first.
		var out []string
		for _, name := range d.order {
			if compatible(d.adapters[name], req) {
				out = append(out, name)
			}
		}
		sort.SliceStable(out, func(i, j int) bool {
			ci := d.adapters[out[i]].CostPerSecond() * float64(req.Settings.DurationSeconds)
			cj := d.adapters[out[j]].CostPerSecond() * float64(req.Settings.DurationSeconds)
			return ci < cj
		})
		return out

	case ModeQuality:
		var out []string
		for _, name := range d.qualityOrder {
			p, ok := d.adapters[name]
			if ok && compatible(p, req) {
				out = append(out, name)
			}
		}
		return out

	default:
		// Reliability: providers by success ratio descending. Stable sort
		// over the configured order keeps ties (including zero-history
		// providers) deterministic.
		out := make([]string, len(d.order))
		copy(out, d.order)
		sort.SliceStable(out, func(i, j int) bool {
			return d.successRatio(out[i]) > d.successRatio(out[j])
		})
		return out
	}
}

// Generate dispatches the request against the first candidate that accepts
// it, falling back through the remaining candidates on failure. It returns
// an error only for invalid requests, unknown preferred providers, or when
// every candidate is exhausted.
func (d *Dispatcher) Generate(ctx context.Context, req *core.GenerationRequest, preferred, userID string) (*core.GenerationResult, error) {
	if userID == "" {
		userID = req.UserID()
	}

	d.mu.RLock()
	if preferred != "" {
		if _, ok := d.adapters[preferred]; !ok {
			d.mu.RUnlock()
			return nil, core.NewProviderNotFoundError(preferred)
		}
	}
	candidates := d.candidateOrder(req, preferred)
	adapters := make(map[string]core.VideoProvider, len(candidates))
	for _, name := range candidates {
		adapters[name] = d.adapters[name]
	}
	d.mu.RUnlock()

	for _, name := range candidates {
		p := adapters[name]

		if !p.IsAvailable() {
			// Routing signal: charged to provider metrics, never to the user.
			slog.Warn("provider unavailable, trying next candidate",
				"provider", name, "reason", "SERVICE_UNAVAILABLE")
			dispatchAttempts.WithLabelValues(name, outcomeUnavailable).Inc()
			d.recordFailure(name, 0)
			continue
		}

		if !compatible(p, req) {
			// Routing decision, not a failure: no metrics penalty.
			slog.Debug("provider incompatible with request, trying next candidate",
				"provider", name,
				"duration_seconds", req.Settings.DurationSeconds,
				"aspect_ratio", req.Settings.AspectRatio)
			dispatchAttempts.WithLabelValues(name, outcomeSkipped).Inc()
			continue
		}

		if userID != "" && !p.CheckRateLimit(userID) {
			slog.Warn("user rate limited on provider, trying next candidate",
				"provider", name, "user", userID, "reason", "RATE_LIMITED")
			dispatchAttempts.WithLabelValues(name, outcomeRateLimited).Inc()
			continue
		}

		start := time.Now()
		result, err := p.Generate(ctx, req)
		elapsed := time.Since(start)

		if err != nil {
			var dispatchErr *core.DispatchError
			if errors.As(err, &dispatchErr) && dispatchErr.Type == core.ErrorTypeInvalidRequest {
				// Bad input is provider-independent; surface immediately.
				return nil, err
			}
			slog.Error("provider generate failed, trying next candidate",
				"provider", name, "error", err, "elapsed", elapsed)
			dispatchAttempts.WithLabelValues(name, outcomeFailure).Inc()
			d.recordFailure(name, elapsed)
			continue
		}

		if result.Status == core.StatusFailed {
			slog.Warn("provider returned failed result, trying next candidate",
				"provider", name,
				"error", resultErrorMessage(result),
				"elapsed", elapsed)
			dispatchAttempts.WithLabelValues(name, outcomeFailure).Inc()
			d.recordFailure(name, elapsed)
			continue
		}

		dispatchAttempts.WithLabelValues(name, outcomeSuccess).Inc()
		generationDuration.WithLabelValues(name).Observe(elapsed.Seconds())
		d.recordSuccess(name, elapsed)
		slog.Info("generation dispatched",
			"provider", name, "id", result.ID, "status", result.Status, "elapsed", elapsed)
		return result, nil
	}

	return nil, core.NewAllProvidersExhaustedError(len(candidates))
}

func resultErrorMessage(r *core.GenerationResult) string {
	if r.Error == nil {
		return ""
	}
	return r.Error.Message
}

// recordSuccess updates one provider's counters after a successful dispatch.
func (d *Dispatcher) recordSuccess(name string, elapsed time.Duration) {
	entry := d.metricsEntry(name)
	if entry == nil {
		return
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	entry.m.TotalRequests++
	entry.m.SuccessfulRequests++
	// Running mean over successful generations only.
	n := float64(entry.m.SuccessfulRequests)
	sample := float64(elapsed.Milliseconds())
	entry.m.AverageGenerationTimeMs += (sample - entry.m.AverageGenerationTimeMs) / n
	entry.m.Uptime = float64(entry.m.SuccessfulRequests) / float64(entry.m.TotalRequests)
	entry.m.UpdatedAt = time.Now()
}

// recordFailure updates one provider's counters after a failed or skipped
// (unavailable) dispatch attempt.
func (d *Dispatcher) recordFailure(name string, _ time.Duration) {
	entry := d.metricsEntry(name)
	if entry == nil {
		return
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	entry.m.TotalRequests++
	entry.m.FailedRequests++
	entry.m.Uptime = float64(entry.m.SuccessfulRequests) / float64(entry.m.TotalRequests)
	entry.m.UpdatedAt = time.Now()
}

func (d *Dispatcher) metricsEntry(name string) *providerMetrics {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.metrics[name]
}

// adapter returns the named adapter or a ProviderNotFound error.
func (d *Dispatcher) adapter(name string) (core.VideoProvider, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.adapters[name]
	if !ok {
		return nil, core.NewProviderNotFoundError(name)
	}
	return p, nil
}

// GetStatus re-checks a generation with the provider that accepted it.
func (d *Dispatcher) GetStatus(ctx context.Context, provider, id string) (*core.GenerationResult, error) {
	p, err := d.adapter(provider)
	if err != nil {
		return nil, err
	}
	return p.GetStatus(ctx, id)
}

// Cancel asks a specific provider to cancel a specific in-flight id.
func (d *Dispatcher) Cancel(ctx context.Context, provider, id string) (bool, error) {
	p, err := d.adapter(provider)
	if err != nil {
		return false, err
	}
	return p.Cancel(ctx, id)
}

// GetProviderCapabilities returns one provider's static capability table.
func (d *Dispatcher) GetProviderCapabilities(provider string) (core.Capabilities, error) {
	p, err := d.adapter(provider)
	if err != nil {
		return core.Capabilities{}, err
	}
	return core.Capabilities{
		MaxDurationSeconds:    p.MaxDuration(),
		SupportedAspectRatios: p.SupportedAspectRatios(),
		CostPerSecond:         p.CostPerSecond(),
	}, nil
}

// GetProviderQuota returns a user's remaining allowance with one provider.
func (d *Dispatcher) GetProviderQuota(provider, userID string) (core.Quota, error) {
	p, err := d.adapter(provider)
	if err != nil {
		return core.Quota{}, err
	}
	return p.RemainingQuota(userID), nil
}

// GetProviderMetrics returns a snapshot of one provider's counters.
func (d *Dispatcher) GetProviderMetrics(provider string) (core.ProviderMetrics, error) {
	entry := d.metricsEntry(provider)
	if entry == nil {
		return core.ProviderMetrics{}, core.NewProviderNotFoundError(provider)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.m, nil
}

// AllProviderMetrics returns snapshots for every configured provider, in
// fallback order.
func (d *Dispatcher) AllProviderMetrics() []core.ProviderMetrics {
	d.mu.RLock()
	order := make([]string, len(d.order))
	copy(order, d.order)
	d.mu.RUnlock()

	out := make([]core.ProviderMetrics, 0, len(order))
	for _, name := range order {
		if m, err := d.GetProviderMetrics(name); err == nil {
			out = append(out, m)
		}
	}
	return out
}
