package providers

import (
	"context"
)

// Task names route requests to a provider preference order. Cheap tasks lead
// with inexpensive providers; quality-sensitive tasks lead with the strongest
// model available.
const (
	TaskSimple           = "simple"
	TaskScriptGeneration = "script_generation"
	TaskRefinement       = "refinement"
)

// Request describes one generation call.
type Request struct {
	SystemPrompt string
	Prompt       string
	// ModelID overrides the provider's configured model when set.
	ModelID     string
	MaxTokens   int
	Temperature float64
}

// Usage reports token consumption for a completed call.
type Usage struct {
	TokensIn  int
	TokensOut int
}

// Result is a successful generation.
type Result struct {
	Payload string
	ModelID string
	Usage   Usage
}

// Provider is a single text-generation backend.
type Provider interface {
	Name() string
	// Available reports whether the provider has credentials configured.
	Available() bool
	Generate(ctx context.Context, req Request) (*Result, error)
	// Cost prices a call's token usage in dollars.
	Cost(usage Usage) float64
}

const defaultMaxTokens = 4096

func effectiveMaxTokens(req Request) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return defaultMaxTokens
}
