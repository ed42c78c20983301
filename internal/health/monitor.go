// Package health probes provider reachability on a fixed schedule,
// maintains a smoothed uptime score per provider, and derives SLA figures
// and uptime reports from the collected state.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"vidgate/internal/core"
)

const (
	// DefaultInterval is the probe cadence when none is configured.
	DefaultInterval = 5 * time.Minute

	// DefaultProbeTimeout bounds a single reachability probe.
	DefaultProbeTimeout = 10 * time.Second

	// emaWeight is the smoothing factor for the uptime moving average.
	emaWeight = 0.9
)

// Target is one provider health endpoint to probe.
type Target struct {
	Provider string
	URL      string
}

// CheckResult is the outcome of the most recent probe for a provider.
// Only the smoothed uptime carries history; everything else is
// overwritten each cycle.
type CheckResult struct {
	Provider       string    `json:"provider"`
	IsHealthy      bool      `json:"is_healthy"`
	ResponseTimeMs int64     `json:"response_time_ms"`
	Error          string    `json:"error,omitempty"`
	Uptime         float64   `json:"uptime"`
	LastCheck      time.Time `json:"last_check"`
}

// Alert is raised when a probe trips one of the configured thresholds.
type Alert struct {
	Provider  string    `json:"provider"`
	Condition string    `json:"condition"`
	Message   string    `json:"message"`
	RaisedAt  time.Time `json:"raised_at"`
}

// AlertConfig enables threshold checks after each probe. A nil config
// disables alerting entirely.
type AlertConfig struct {
	// UptimeThreshold fires when the smoothed uptime drops below it
	// (percentage, e.g. 95).
	UptimeThreshold float64

	// ResponseTimeThreshold fires when a probe takes longer
	// (milliseconds).
	ResponseTimeThreshold int64
}

// SLAReport summarizes a provider's service level over a reporting period.
type SLAReport struct {
	Provider            string    `json:"provider"`
	PeriodHours         int       `json:"period_hours"`
	UptimePercent       float64   `json:"uptime_percent"`
	AvailabilityPercent float64   `json:"availability_percent"`
	MTBFMinutes         float64   `json:"mtbf_minutes"`
	MTTRMinutes         float64   `json:"mttr_minutes"`
	GeneratedAt         time.Time `json:"generated_at"`
}

// UptimeReport aggregates current per-provider health into an overall
// view with free-text recommendations.
type UptimeReport struct {
	PeriodHours     int                    `json:"period_hours"`
	OverallUptime   float64                `json:"overall_uptime"`
	Providers       map[string]CheckResult `json:"providers"`
	Recommendations []string               `json:"recommendations"`
	GeneratedAt     time.Time              `json:"generated_at"`
}

// Monitor runs the periodic probe loop and owns all health state.
type Monitor struct {
	client   *http.Client
	interval time.Duration
	alerts   *AlertConfig
	onAlert  func(Alert)

	mu      sync.RWMutex
	targets []Target
	results map[string]*CheckResult
	raised  []Alert
	sched   *cron.Cron
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithInterval overrides the probe cadence.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithProbeTimeout bounds each probe request.
func WithProbeTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.client.Timeout = d
		}
	}
}

// WithAlerts enables threshold alerting.
func WithAlerts(cfg AlertConfig) Option {
	return func(m *Monitor) { m.alerts = &cfg }
}

// WithAlertHandler registers a callback invoked for every raised alert.
func WithAlertHandler(fn func(Alert)) Option {
	return func(m *Monitor) { m.onAlert = fn }
}

// NewMonitor creates a health monitor. Probing does not start until
// Start is called.
func NewMonitor(opts ...Option) *Monitor {
	m := &Monitor{
		client:   &http.Client{Timeout: DefaultProbeTimeout},
		interval: DefaultInterval,
		results:  make(map[string]*CheckResult),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start begins probing the given targets. Calling Start while already
// running stops the previous schedule before installing the new one, so
// at most one timer is ever live. The first probe cycle runs
// immediately rather than waiting a full interval.
func (m *Monitor) Start(targets []Target) {
	m.mu.Lock()
	if m.sched != nil {
		m.sched.Stop()
	}
	m.targets = targets
	m.sched = cron.New()
	m.sched.AddFunc(fmt.Sprintf("@every %s", m.interval), m.probeAll)
	m.sched.Start()
	m.mu.Unlock()

	slog.Info("health monitoring started",
		"providers", len(targets),
		"interval", m.interval)

	go m.probeAll()
}

// Stop halts the probe loop. Collected state is retained. Safe to call
// when not running.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sched == nil {
		return
	}
	m.sched.Stop()
	m.sched = nil
	slog.Info("health monitoring stopped")
}

func (m *Monitor) probeAll() {
	m.mu.RLock()
	targets := make([]Target, len(m.targets))
	copy(targets, m.targets)
	m.mu.RUnlock()

	for _, t := range targets {
		m.probe(t)
	}
}

func (m *Monitor) probe(t Target) {
	ctx, cancel := context.WithTimeout(context.Background(), m.client.Timeout)
	defer cancel()

	start := time.Now()
	healthy, probeErr := m.doProbe(ctx, t.URL)
	elapsed := time.Since(start).Milliseconds()

	result := CheckResult{
		Provider:       t.Provider,
		IsHealthy:      healthy,
		ResponseTimeMs: elapsed,
		LastCheck:      time.Now(),
	}
	if probeErr != nil {
		result.Error = probeErr.Error()
	}

	m.mu.Lock()
	prev, seen := m.results[t.Provider]
	sample := 0.0
	if healthy {
		sample = 100.0
	}
	if seen {
		result.Uptime = prev.Uptime*emaWeight + sample*(1-emaWeight)
	} else {
		result.Uptime = sample
	}
	m.results[t.Provider] = &result
	m.mu.Unlock()

	if !healthy {
		slog.Warn("provider health check failed",
			"provider", t.Provider,
			"response_time_ms", elapsed,
			"error", result.Error)
	} else {
		slog.Debug("provider health check passed",
			"provider", t.Provider,
			"response_time_ms", elapsed,
			"uptime", result.Uptime)
	}

	m.checkAlerts(result, probeErr)
}

func (m *Monitor) doProbe(ctx context.Context, url string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return false, fmt.Errorf("health endpoint returned %d", resp.StatusCode)
	}
	return true, nil
}

// checkAlerts evaluates the three alert conditions independently; any
// probe may raise up to three alerts.
func (m *Monitor) checkAlerts(result CheckResult, probeErr error) {
	if m.alerts == nil {
		return
	}

	var fired []Alert
	now := time.Now()

	if result.Uptime < m.alerts.UptimeThreshold {
		fired = append(fired, Alert{
			Provider:  result.Provider,
			Condition: "uptime_below_threshold",
			Message: fmt.Sprintf("Uptime below threshold: %.1f%% < %.1f%%",
				result.Uptime, m.alerts.UptimeThreshold),
			RaisedAt: now,
		})
	}
	if m.alerts.ResponseTimeThreshold > 0 && result.ResponseTimeMs > m.alerts.ResponseTimeThreshold {
		fired = append(fired, Alert{
			Provider:  result.Provider,
			Condition: "response_time_above_threshold",
			Message: fmt.Sprintf("Response time above threshold: %dms > %dms",
				result.ResponseTimeMs, m.alerts.ResponseTimeThreshold),
			RaisedAt: now,
		})
	}
	if probeErr != nil {
		fired = append(fired, Alert{
			Provider:  result.Provider,
			Condition: "health_check_failed",
			Message:   fmt.Sprintf("Health check failed: %s", probeErr),
			RaisedAt:  now,
		})
	}

	if len(fired) == 0 {
		return
	}

	m.mu.Lock()
	m.raised = append(m.raised, fired...)
	m.mu.Unlock()

	for _, a := range fired {
		slog.Warn("health alert raised",
			"provider", a.Provider,
			"condition", a.Condition,
			"message", a.Message)
		if m.onAlert != nil {
			m.onAlert(a)
		}
	}
}

// GetHealthStatus returns the latest result for one provider. A provider
// that was never probed gets a synthetic unhealthy result rather than an
// error.
func (m *Monitor) GetHealthStatus(provider string) CheckResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.results[provider]; ok {
		return *r
	}
	return CheckResult{
		Provider: provider,
		Error:    "no health check performed",
	}
}

// AllHealthStatuses returns the latest result for every probed provider.
func (m *Monitor) AllHealthStatuses() []CheckResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]CheckResult, 0, len(m.results))
	for _, r := range m.results {
		out = append(out, *r)
	}
	return out
}

// Alerts returns all alerts raised since the monitor was created.
func (m *Monitor) Alerts() []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Alert, len(m.raised))
	copy(out, m.raised)
	return out
}

// CalculateSLA derives service-level figures from a provider's request
// metrics over a reporting period. MTBF falls back to the full period
// when no failures occurred.
func CalculateSLA(provider string, metrics core.ProviderMetrics, periodHours int) SLAReport {
	report := SLAReport{
		Provider:    provider,
		PeriodHours: periodHours,
		GeneratedAt: time.Now(),
	}

	if metrics.TotalRequests > 0 {
		report.UptimePercent = float64(metrics.SuccessfulRequests) / float64(metrics.TotalRequests) * 100
	}
	report.AvailabilityPercent = metrics.Uptime * 100

	periodMinutes := float64(periodHours) * 60
	if metrics.FailedRequests > 0 {
		report.MTBFMinutes = periodMinutes / float64(metrics.FailedRequests)
	} else {
		report.MTBFMinutes = periodMinutes
	}
	report.MTTRMinutes = metrics.AverageGenerationTimeMs / 1000 / 60

	return report
}

// GenerateUptimeReport aggregates current per-provider health into an
// overall uptime figure with recommendations.
func (m *Monitor) GenerateUptimeReport(periodHours int) UptimeReport {
	m.mu.RLock()
	defer m.mu.RUnlock()

	report := UptimeReport{
		PeriodHours: periodHours,
		Providers:   make(map[string]CheckResult, len(m.results)),
		GeneratedAt: time.Now(),
	}

	var total float64
	for name, r := range m.results {
		report.Providers[name] = *r
		total += r.Uptime

		if r.Uptime < 95 {
			report.Recommendations = append(report.Recommendations,
				fmt.Sprintf("Provider %s has low uptime (%.1f%%), consider reducing its priority", name, r.Uptime))
		}
		if r.ResponseTimeMs > 5000 {
			report.Recommendations = append(report.Recommendations,
				fmt.Sprintf("Provider %s has high response time (%dms)", name, r.ResponseTimeMs))
		}
		if !r.IsHealthy {
			report.Recommendations = append(report.Recommendations,
				fmt.Sprintf("Provider %s is currently unhealthy", name))
		}
	}

	if len(m.results) > 0 {
		report.OverallUptime = total / float64(len(m.results))
	}
	if len(m.results) > 0 && report.OverallUptime < 99 {
		report.Recommendations = append(report.Recommendations,
			"Overall uptime below 99%, consider adding providers or improving fallback ordering")
	}

	return report
}
