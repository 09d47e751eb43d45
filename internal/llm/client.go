// Package llm defines the uniform completion client consumed by the research
// pipeline and the local preprocessor, plus the shared error taxonomy both
// providers raise from.
package llm

import (
	"context"
	"time"
)

// Client is the uniform completion surface. Implementations must translate
// provider failures into the taxonomy in errors.go so callers can branch on
// error kind.
type Client interface {
	// Name returns the provider name.
	Name() string

	// Complete issues one completion request and blocks until the response
	// arrives, the request times out, or ctx is cancelled.
	Complete(ctx context.Context, req Request) (*Response, error)

	// IsAvailable checks if the provider is configured and reachable.
	IsAvailable(ctx context.Context) bool
}

// Request holds one completion request. Zero-valued optionals fall back to
// client configuration.
type Request struct {
	Prompt        string
	SystemMessage string
	Temperature   float32
	MaxTokens     int
	// Timeout overrides the client's configured per-request ceiling.
	Timeout time.Duration
}

// Usage tracks token consumption for one completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is one completion result.
type Response struct {
	Content      string
	Model        string
	Usage        Usage
	FinishReason string
	LatencyMS    float64
}
