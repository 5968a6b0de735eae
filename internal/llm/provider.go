// Package llm abstracts chat-completion access behind a small Provider
// interface, and layers ordered failover with per-provider circuit breaking
// on top so a single flaky upstream cannot stall conversation handling.
package llm

import (
	"context"
	"time"
)

// Message is one turn of a chat-completion request.
type Message struct {
	Role    string // system, user, assistant
	Content string
}

// Usage reports token accounting for a single completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Result is the outcome of a successful Generate call.
type Result struct {
	Content  string
	Usage    Usage
	Provider string
	Duration time.Duration
}

// Provider is a single chat-completion backend. Implementations translate
// orchestrator-internal failures into the internal/errors soft/hard
// taxonomy so the registry can decide whether to fail over.
type Provider interface {
	// Name identifies the provider for logging, metrics and config.
	Name() string

	// Generate performs a synchronous chat completion.
	Generate(ctx context.Context, messages []Message) (*Result, error)

	// Healthy reports whether the provider is currently able to serve
	// requests, independent of circuit breaker state (used for Warmup-style
	// readiness probes).
	Healthy(ctx context.Context) error
}
