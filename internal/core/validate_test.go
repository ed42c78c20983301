package core

import (
	"errors"
	"math"
	"strings"
	"testing"
)

func testCaps() Capabilities {
	return Capabilities{
		MaxDurationSeconds:    10,
		SupportedAspectRatios: []AspectRatio{Aspect16x9, Aspect9x16},
		CostPerSecond:         0.25,
	}
}

func validRequest() *GenerationRequest {
	return &GenerationRequest{
		Prompt: "a drone shot over a coastline at sunset",
		Settings: GenerationSettings{
			DurationSeconds: 5,
			AspectRatio:     Aspect16x9,
			Quality:         QualityStandard,
		},
		Metadata: &RequestMetadata{UserID: "user-1"},
	}
}

func TestValidatePrompt(t *testing.T) {
	tests := []struct {
		name    string
		prompt  string
		wantErr bool
	}{
		{"valid prompt", "a cat riding a skateboard", false},
		{"empty prompt", "", true},
		{"whitespace only", "   \t\n", true},
		{"over length limit", strings.Repeat("x", MaxPromptLength+1), true},
		{"exactly at limit", strings.Repeat("x", MaxPromptLength), false},
		{"multi-byte under limit", strings.Repeat("山", 1500), false},
		{"multi-byte over limit", strings.Repeat("山", MaxPromptLength+1), true},
		{"script tag", "nice video <script>alert(1)</script>", true},
		{"script tag mixed case", "nice video <SCRIPT>alert(1)</SCRIPT>", true},
		{"javascript scheme", "click javascript:void(0)", true},
		{"iframe", "embed <iframe src=x>", true},
		{"onerror handler", "img onerror=steal()", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePrompt(tt.prompt)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePrompt() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateRequest(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *GenerationRequest)
		wantErr bool
	}{
		{"valid", func(r *GenerationRequest) {}, false},
		{"zero duration", func(r *GenerationRequest) { r.Settings.DurationSeconds = 0 }, true},
		{"negative duration", func(r *GenerationRequest) { r.Settings.DurationSeconds = -3 }, true},
		{"over max duration", func(r *GenerationRequest) { r.Settings.DurationSeconds = 11 }, true},
		{"at max duration", func(r *GenerationRequest) { r.Settings.DurationSeconds = 10 }, false},
		{"unknown aspect ratio", func(r *GenerationRequest) { r.Settings.AspectRatio = "5:7" }, true},
		{"unsupported aspect ratio", func(r *GenerationRequest) { r.Settings.AspectRatio = Aspect1x1 }, true},
		{"unknown quality", func(r *GenerationRequest) { r.Settings.Quality = "ultra" }, true},
		{"missing metadata", func(r *GenerationRequest) { r.Metadata = nil }, true},
		{"missing user id", func(r *GenerationRequest) { r.Metadata.UserID = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(req)
			err := ValidateRequest(req, testCaps())
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateRequest() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var de *DispatchError
				if !errors.As(err, &de) || de.Type != ErrorTypeInvalidRequest {
					t.Errorf("expected invalid_request DispatchError, got %v", err)
				}
			}
		})
	}

	if err := ValidateRequest(nil, testCaps()); err == nil {
		t.Error("expected error for nil request")
	}
}

func TestEstimateCost(t *testing.T) {
	tests := []struct {
		name     string
		duration int
		quality  Quality
		rate     float64
		expected float64
	}{
		{"standard multiplies by 1", 5, QualityStandard, 0.25, 1.25},
		{"draft halves", 10, QualityDraft, 0.10, 0.50},
		{"high at 1.5x", 4, QualityHigh, 0.20, 1.20},
		{"premium doubles", 6, QualityPremium, 0.05, 0.60},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			req.Settings.DurationSeconds = tt.duration
			req.Settings.Quality = tt.quality
			if got := EstimateCost(req, tt.rate); math.Abs(got-tt.expected) > 1e-9 {
				t.Errorf("EstimateCost() = %v, want %v", got, tt.expected)
			}
		})
	}
}
