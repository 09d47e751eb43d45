package llm

import (
	"errors"
	"fmt"
	"time"
)

// Error is the generic LLM failure every more specific error wraps
// conceptually. Callers match with errors.As against the concrete types.
type Error struct {
	Provider string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// RateLimitError signals the provider rejected the request for quota
// reasons. RetryAfter carries the provider's hint when one was given.
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: rate limited, retry after %s", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("%s: rate limited", e.Provider)
}

// TimeoutError signals the per-request ceiling elapsed. Distinct from other
// failures so callers can decide whether to retry with a reduced scope.
type TimeoutError struct {
	Provider string
	Timeout  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: request timed out after %s", e.Provider, e.Timeout)
}

// AuthError signals rejected credentials. Never retried.
type AuthError struct {
	Provider string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: authentication failed", e.Provider)
}

// ContextLengthError signals the prompt exceeded the model's window.
// Overage is the estimated amount over the limit, in tokens, when known.
type ContextLengthError struct {
	Provider  string
	MaxTokens int
	Overage   int
}

func (e *ContextLengthError) Error() string {
	if e.Overage > 0 {
		return fmt.Sprintf("%s: context length exceeded by ~%d tokens (limit %d)", e.Provider, e.Overage, e.MaxTokens)
	}
	return fmt.Sprintf("%s: context length exceeded (limit %d)", e.Provider, e.MaxTokens)
}

// IsTransient reports whether err is a failure the preprocessing strategies
// may absorb by falling back to their safe default. Contract violations and
// context-length errors are not transient.
func IsTransient(err error) bool {
	var (
		rateErr *RateLimitError
		toErr   *TimeoutError
		genErr  *Error
	)
	switch {
	case errors.As(err, &rateErr), errors.As(err, &toErr):
		return true
	case errors.As(err, &genErr):
		return true
	default:
		return false
	}
}
