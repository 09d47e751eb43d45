package llm

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestErrorTaxonomy_Matching(t *testing.T) {
	var (
		rateErr    *RateLimitError
		timeoutErr *TimeoutError
		authErr    *AuthError
		ctxErr     *ContextLengthError
	)

	err := fmt.Errorf("wrapped: %w", &RateLimitError{Provider: "openai", RetryAfter: 2 * time.Second})
	if !errors.As(err, &rateErr) {
		t.Fatal("expected RateLimitError match through wrapping")
	}
	if rateErr.RetryAfter != 2*time.Second {
		t.Errorf("expected retry-after hint preserved, got %s", rateErr.RetryAfter)
	}

	err = &TimeoutError{Provider: "ollama", Timeout: 30 * time.Second}
	if !errors.As(err, &timeoutErr) {
		t.Fatal("expected TimeoutError match")
	}
	if errors.As(err, &rateErr) {
		t.Error("timeout must not match rate limit")
	}

	if errors.As(&AuthError{Provider: "openai"}, &timeoutErr) {
		t.Error("auth must not match timeout")
	}
	if !errors.As(&AuthError{Provider: "openai"}, &authErr) {
		t.Error("expected AuthError match")
	}

	err = &ContextLengthError{Provider: "ollama", MaxTokens: 8192, Overage: 1000}
	if !errors.As(err, &ctxErr) {
		t.Fatal("expected ContextLengthError match")
	}
	if !strings.Contains(err.Error(), "1000") {
		t.Errorf("expected overage in message, got %q", err.Error())
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limit", &RateLimitError{Provider: "openai"}, true},
		{"timeout", &TimeoutError{Provider: "openai"}, true},
		{"generic", &Error{Provider: "openai", Message: "malformed response"}, true},
		{"auth", &AuthError{Provider: "openai"}, false},
		{"context length", &ContextLengthError{Provider: "openai", MaxTokens: 8192}, false},
		{"plain error", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
