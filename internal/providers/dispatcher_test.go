package providers

import (
	"context"
	"errors"
	"testing"
	"time"

	"vidgate/internal/core"
)

func asDispatchError(err error, target **core.DispatchError) bool {
	return errors.As(err, target)
}

// mockAdapter implements core.VideoProvider for dispatcher tests.
type mockAdapter struct {
	name          string
	available     bool
	maxDuration   int
	ratios        []core.AspectRatio
	costPerSecond float64
	rateLimited   bool

	generateResult *core.GenerationResult
	generateErr    error
	generateCalls  int

	statusResult *core.GenerationResult
	cancelOK     bool
}

func (m *mockAdapter) Name() string { return m.name }

func (m *mockAdapter) Generate(ctx context.Context, req *core.GenerationRequest) (*core.GenerationResult, error) {
	m.generateCalls++
	if m.generateErr != nil {
		return nil, m.generateErr
	}
	return m.generateResult, nil
}

func (m *mockAdapter) GetStatus(ctx context.Context, id string) (*core.GenerationResult, error) {
	return m.statusResult, nil
}

func (m *mockAdapter) Cancel(ctx context.Context, id string) (bool, error) {
	return m.cancelOK, nil
}

func (m *mockAdapter) IsAvailable() bool                         { return m.available }
func (m *mockAdapter) MaxDuration() int                          { return m.maxDuration }
func (m *mockAdapter) SupportedAspectRatios() []core.AspectRatio { return m.ratios }
func (m *mockAdapter) CostPerSecond() float64                    { return m.costPerSecond }
func (m *mockAdapter) CheckRateLimit(userID string) bool         { return !m.rateLimited }

func (m *mockAdapter) RemainingQuota(userID string) core.Quota {
	return core.Quota{RequestsRemaining: 100, CostRemaining: 50}
}

func newMockAdapter(name string) *mockAdapter {
	return &mockAdapter{
		name:          name,
		available:     true,
		maxDuration:   120,
		ratios:        []core.AspectRatio{core.Aspect16x9, core.Aspect9x16},
		costPerSecond: 0.10,
		generateResult: &core.GenerationResult{
			ID:        name + "-gen-1",
			Provider:  name,
			Status:    core.StatusProcessing,
			CreatedAt: time.Now(),
		},
	}
}

func requestFor(duration int) *core.GenerationRequest {
	return &core.GenerationRequest{
		Prompt: "waves crashing on a rocky shore",
		Settings: core.GenerationSettings{
			DurationSeconds: duration,
			AspectRatio:     core.Aspect16x9,
			Quality:         core.QualityStandard,
		},
		Metadata: &core.RequestMetadata{UserID: "u1"},
	}
}

func failedResult(name string) *core.GenerationResult {
	return &core.GenerationResult{
		ID:       name + "-gen-1",
		Provider: name,
		Status:   core.StatusFailed,
		Error:    &core.ResultError{Message: "render farm on fire", Retryable: true},
	}
}

func TestGenerateUsesFirstCandidate(t *testing.T) {
	d := NewDispatcher(Options{})
	a := newMockAdapter("a")
	b := newMockAdapter("b")
	d.RegisterAdapter(a)
	d.RegisterAdapter(b)

	result, err := d.Generate(context.Background(), requestFor(5), "", "")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if result.Provider != "a" {
		t.Errorf("expected provider a, got %s", result.Provider)
	}
	if b.generateCalls != 0 {
		t.Error("second candidate should not have been tried")
	}
}

func TestGenerateFallsBackOnFailure(t *testing.T) {
	d := NewDispatcher(Options{})
	a := newMockAdapter("a")
	a.generateResult = failedResult("a")
	b := newMockAdapter("b")
	d.RegisterAdapter(a)
	d.RegisterAdapter(b)

	result, err := d.Generate(context.Background(), requestFor(5), "", "")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if result.Provider != "b" {
		t.Errorf("expected fallback to b, got %s", result.Provider)
	}
	if a.generateCalls != 1 {
		t.Errorf("a should have been tried once, got %d", a.generateCalls)
	}

	// The failed attempt is charged to a's metrics.
	m, err := d.GetProviderMetrics("a")
	if err != nil {
		t.Fatal(err)
	}
	if m.TotalRequests != 1 || m.FailedRequests != 1 {
		t.Errorf("a metrics = %+v, want 1 total / 1 failed", m)
	}
}

func TestGenerateSkipsUnavailable(t *testing.T) {
	d := NewDispatcher(Options{})
	a := newMockAdapter("a")
	a.available = false
	b := newMockAdapter("b")
	d.RegisterAdapter(a)
	d.RegisterAdapter(b)

	result, err := d.Generate(context.Background(), requestFor(5), "", "")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if result.Provider != "b" {
		t.Errorf("expected b, got %s", result.Provider)
	}
	if a.generateCalls != 0 {
		t.Error("unavailable provider must not be called")
	}

	// An unavailable skip counts as a provider failure.
	m, _ := d.GetProviderMetrics("a")
	if m.TotalRequests != 1 || m.FailedRequests != 1 {
		t.Errorf("a metrics = %+v, want 1 total / 1 failed", m)
	}
}

func TestGenerateSkipsIncompatibleWithoutPenalty(t *testing.T) {
	d := NewDispatcher(Options{})
	a := newMockAdapter("a")
	a.maxDuration = 60
	b := newMockAdapter("b")
	b.maxDuration = 120
	d.RegisterAdapter(a)
	d.RegisterAdapter(b)

	result, err := d.Generate(context.Background(), requestFor(90), "", "")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if result.Provider != "b" {
		t.Errorf("expected b, got %s", result.Provider)
	}
	if a.generateCalls != 0 {
		t.Error("incompatible provider must not be called")
	}

	// An incompatibility skip is a routing decision, not a failure.
	m, _ := d.GetProviderMetrics("a")
	if m.TotalRequests != 0 {
		t.Errorf("a must not be penalized for incompatibility, metrics = %+v", m)
	}
}

func TestGenerateSkipsRateLimitedUser(t *testing.T) {
	d := NewDispatcher(Options{})
	a := newMockAdapter("a")
	a.rateLimited = true
	b := newMockAdapter("b")
	d.RegisterAdapter(a)
	d.RegisterAdapter(b)

	result, err := d.Generate(context.Background(), requestFor(5), "", "u1")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if result.Provider != "b" {
		t.Errorf("expected b, got %s", result.Provider)
	}
	if a.generateCalls != 0 {
		t.Error("rate-limited provider must not be called")
	}
}

func TestGenerateExhaustsAllCandidates(t *testing.T) {
	d := NewDispatcher(Options{})
	a := newMockAdapter("a")
	a.generateResult = failedResult("a")
	b := newMockAdapter("b")
	b.available = false
	d.RegisterAdapter(a)
	d.RegisterAdapter(b)

	_, err := d.Generate(context.Background(), requestFor(5), "", "")
	if err == nil {
		t.Fatal("expected AllProvidersExhausted")
	}
	var de *core.DispatchError
	if !asDispatchError(err, &de) || de.Type != core.ErrorTypeAllProvidersExhausted {
		t.Errorf("expected all_providers_exhausted, got %v", err)
	}
}

func TestGenerateAllIncompatibleExhausts(t *testing.T) {
	d := NewDispatcher(Options{})
	a := newMockAdapter("a")
	a.maxDuration = 120
	b := newMockAdapter("b")
	b.maxDuration = 60
	d.RegisterAdapter(a)
	d.RegisterAdapter(b)

	_, err := d.Generate(context.Background(), requestFor(150), "", "")
	var de *core.DispatchError
	if !asDispatchError(err, &de) || de.Type != core.ErrorTypeAllProvidersExhausted {
		t.Errorf("expected all_providers_exhausted for 150s request, got %v", err)
	}
	if a.generateCalls != 0 || b.generateCalls != 0 {
		t.Error("no provider should have been called")
	}
}

func TestGenerateInvalidRequestSurfacesImmediately(t *testing.T) {
	d := NewDispatcher(Options{})
	a := newMockAdapter("a")
	a.generateErr = core.NewInvalidRequestError("prompt must not be empty")
	b := newMockAdapter("b")
	d.RegisterAdapter(a)
	d.RegisterAdapter(b)

	_, err := d.Generate(context.Background(), requestFor(5), "", "")
	var de *core.DispatchError
	if !asDispatchError(err, &de) || de.Type != core.ErrorTypeInvalidRequest {
		t.Fatalf("expected invalid_request, got %v", err)
	}
	if b.generateCalls != 0 {
		t.Error("bad input is provider-independent; no fallback")
	}
}

func TestPreferredProviderGoesFirst(t *testing.T) {
	d := NewDispatcher(Options{})
	a := newMockAdapter("a")
	b := newMockAdapter("b")
	d.RegisterAdapter(a)
	d.RegisterAdapter(b)

	result, err := d.Generate(context.Background(), requestFor(5), "b", "")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if result.Provider != "b" {
		t.Errorf("expected preferred provider b, got %s", result.Provider)
	}
}

func TestPreferredUnavailableFallsBackToOrdering(t *testing.T) {
	d := NewDispatcher(Options{})
	a := newMockAdapter("a")
	b := newMockAdapter("b")
	b.available = false
	d.RegisterAdapter(a)
	d.RegisterAdapter(b)

	result, err := d.Generate(context.Background(), requestFor(5), "b", "")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if result.Provider != "a" {
		t.Errorf("expected a, got %s", result.Provider)
	}
}

func TestPreferredUnknownProviderErrors(t *testing.T) {
	d := NewDispatcher(Options{})
	d.RegisterAdapter(newMockAdapter("a"))

	_, err := d.Generate(context.Background(), requestFor(5), "nope", "")
	var de *core.DispatchError
	if !asDispatchError(err, &de) || de.Type != core.ErrorTypeProviderNotFound {
		t.Errorf("expected provider_not_found, got %v", err)
	}
}

func TestCostModeOrdersCheapestFirst(t *testing.T) {
	d := NewDispatcher(Options{Mode: ModeCost})
	a := newMockAdapter("a")
	a.costPerSecond = 0.25
	b := newMockAdapter("b")
	b.costPerSecond = 0.05
	c := newMockAdapter("c")
	c.costPerSecond = 0.10
	d.RegisterAdapter(a)
	d.RegisterAdapter(b)
	d.RegisterAdapter(c)

	result, err := d.Generate(context.Background(), requestFor(5), "", "")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if result.Provider != "b" {
		t.Errorf("cost mode must pick the cheapest, got %s", result.Provider)
	}
}

func TestCostModeFiltersIncompatible(t *testing.T) {
	d := NewDispatcher(Options{Mode: ModeCost})
	cheap := newMockAdapter("cheap")
	cheap.costPerSecond = 0.01
	cheap.maxDuration = 4
	pricey := newMockAdapter("pricey")
	pricey.costPerSecond = 0.25
	d.RegisterAdapter(cheap)
	d.RegisterAdapter(pricey)

	result, err := d.Generate(context.Background(), requestFor(10), "", "")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if result.Provider != "pricey" {
		t.Errorf("incompatible cheap provider must be filtered, got %s", result.Provider)
	}
}

func TestCostModePenalizesUnavailableCheapest(t *testing.T) {
	d := NewDispatcher(Options{Mode: ModeCost})
	cheap := newMockAdapter("cheap")
	cheap.costPerSecond = 0.01
	cheap.available = false
	pricey := newMockAdapter("pricey")
	pricey.costPerSecond = 0.25
	d.RegisterAdapter(cheap)
	d.RegisterAdapter(pricey)

	result, err := d.Generate(context.Background(), requestFor(5), "", "")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if result.Provider != "pricey" {
		t.Errorf("expected pricey, got %s", result.Provider)
	}
	if cheap.generateCalls != 0 {
		t.Error("unavailable provider must not be called")
	}

	// The unavailable skip is charged to the cheap provider's metrics.
	m, _ := d.GetProviderMetrics("cheap")
	if m.TotalRequests != 1 || m.FailedRequests != 1 {
		t.Errorf("cheap metrics = %+v, want 1 total / 1 failed", m)
	}
}

func TestQualityModeUsesFixedOrder(t *testing.T) {
	d := NewDispatcher(Options{
		Mode:         ModeQuality,
		QualityOrder: []string{"best", "good", "ok"},
	})
	best := newMockAdapter("best")
	best.available = false
	good := newMockAdapter("good")
	ok := newMockAdapter("ok")
	// Registration order differs from quality order on purpose.
	d.RegisterAdapter(ok)
	d.RegisterAdapter(good)
	d.RegisterAdapter(best)

	result, err := d.Generate(context.Background(), requestFor(5), "", "")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if result.Provider != "good" {
		t.Errorf("expected good (best is down), got %s", result.Provider)
	}
}

func TestReliabilityOrdersBySuccessRatio(t *testing.T) {
	d := NewDispatcher(Options{Mode: ModeReliability})
	a := newMockAdapter("a")
	b := newMockAdapter("b")
	d.RegisterAdapter(a)
	d.RegisterAdapter(b)

	// Give b a perfect history and a a poor one.
	d.recordSuccess("b", 100*time.Millisecond)
	d.recordSuccess("b", 100*time.Millisecond)
	d.recordSuccess("a", 100*time.Millisecond)
	d.recordFailure("a", 0)
	d.recordFailure("a", 0)

	result, err := d.Generate(context.Background(), requestFor(5), "", "")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if result.Provider != "b" {
		t.Errorf("expected most reliable provider b, got %s", result.Provider)
	}
}

func TestMetricsUptimeRatio(t *testing.T) {
	d := NewDispatcher(Options{})
	d.RegisterAdapter(newMockAdapter("a"))

	for i := 0; i < 3; i++ {
		d.recordSuccess("a", 200*time.Millisecond)
	}
	for i := 0; i < 2; i++ {
		d.recordFailure("a", 0)
	}

	m, err := d.GetProviderMetrics("a")
	if err != nil {
		t.Fatal(err)
	}
	if m.TotalRequests != 5 || m.SuccessfulRequests != 3 || m.FailedRequests != 2 {
		t.Errorf("counters = %+v", m)
	}
	if m.Uptime != 3.0/5.0 {
		t.Errorf("Uptime = %v, want 0.6", m.Uptime)
	}
	if m.AverageGenerationTimeMs != 200 {
		t.Errorf("AverageGenerationTimeMs = %v, want 200", m.AverageGenerationTimeMs)
	}
}

func TestAvailableProviders(t *testing.T) {
	d := NewDispatcher(Options{})
	a := newMockAdapter("a")
	b := newMockAdapter("b")
	b.available = false
	c := newMockAdapter("c")
	d.RegisterAdapter(a)
	d.RegisterAdapter(b)
	d.RegisterAdapter(c)

	got := d.AvailableProviders()
	if len(got) != 2 || got[0] != "a" || got[1] != "c" {
		t.Errorf("AvailableProviders() = %v", got)
	}
}

func TestGetStatusUnknownProvider(t *testing.T) {
	d := NewDispatcher(Options{})

	_, err := d.GetStatus(context.Background(), "nope", "id")
	var de *core.DispatchError
	if !asDispatchError(err, &de) || de.Type != core.ErrorTypeProviderNotFound {
		t.Errorf("expected provider_not_found, got %v", err)
	}
}

func TestCapabilitiesAreIdempotent(t *testing.T) {
	d := NewDispatcher(Options{})
	d.RegisterAdapter(newMockAdapter("a"))

	first, err := d.GetProviderCapabilities("a")
	if err != nil {
		t.Fatal(err)
	}
	second, _ := d.GetProviderCapabilities("a")
	if first.MaxDurationSeconds != second.MaxDurationSeconds ||
		first.CostPerSecond != second.CostPerSecond ||
		len(first.SupportedAspectRatios) != len(second.SupportedAspectRatios) {
		t.Errorf("capabilities changed between calls: %+v vs %+v", first, second)
	}
}
