package core

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxPromptLength is the longest prompt any adapter accepts.
const MaxPromptLength = 2000

// unsafePromptFragments are markup/script-like substrings that no legitimate
// video prompt contains. Matched case-insensitively.
var unsafePromptFragments = []string{
	"<script",
	"</script",
	"javascript:",
	"data:text/html",
	"onerror=",
	"onload=",
	"<iframe",
}

// ValidatePrompt rejects empty, oversized, or unsafe prompts.
func ValidatePrompt(prompt string) error {
	trimmed := strings.TrimSpace(prompt)
	if trimmed == "" {
		return NewInvalidRequestError("prompt must not be empty")
	}
	if utf8.RuneCountInString(prompt) > MaxPromptLength {
		return NewInvalidRequestError(fmt.Sprintf("prompt exceeds %d characters", MaxPromptLength))
	}
	lower := strings.ToLower(prompt)
	for _, frag := range unsafePromptFragments {
		if strings.Contains(lower, frag) {
			return NewInvalidRequestError("prompt contains disallowed markup")
		}
	}
	return nil
}

// ValidateRequest runs every pre-dispatch check an adapter performs before
// touching the network: prompt safety, duration bounds against the
// provider's capability table, aspect ratio support, and the presence of a
// user identifier.
func ValidateRequest(req *GenerationRequest, caps Capabilities) error {
	if req == nil {
		return NewInvalidRequestError("request must not be nil")
	}
	if err := ValidatePrompt(req.Prompt); err != nil {
		return err
	}
	d := req.Settings.DurationSeconds
	if d < 1 || d > caps.MaxDurationSeconds {
		return NewInvalidRequestError(fmt.Sprintf("duration %ds is outside the supported range [1, %d]", d, caps.MaxDurationSeconds))
	}
	if !req.Settings.AspectRatio.Valid() {
		return NewInvalidRequestError(fmt.Sprintf("unknown aspect ratio %q", req.Settings.AspectRatio))
	}
	if !caps.Supports(req.Settings.AspectRatio) {
		return NewInvalidRequestError(fmt.Sprintf("aspect ratio %s is not supported by this provider", req.Settings.AspectRatio))
	}
	if !req.Settings.Quality.Valid() {
		return NewInvalidRequestError(fmt.Sprintf("unknown quality %q", req.Settings.Quality))
	}
	if req.UserID() == "" {
		return NewInvalidRequestError("request metadata must include a user id")
	}
	return nil
}

// EstimateCost computes the charge for a request against a provider's rate:
// duration times the per-second rate times the quality multiplier.
func EstimateCost(req *GenerationRequest, costPerSecond float64) float64 {
	return float64(req.Settings.DurationSeconds) * costPerSecond * req.Settings.Quality.CostMultiplier()
}
