package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// OpenAIClient implements Client for the OpenAI Chat Completions API. This
// is the foundation-model client: it receives the assembled context and
// produces the cited answer.
type OpenAIClient struct {
	client  *openai.Client
	config  Config
	limiter *rate.Limiter
}

// Config holds configuration shared by all LLM clients.
type Config struct {
	Model     string
	APIKey    string
	BaseURL   string
	Timeout   time.Duration
	MaxTokens int
	// RateLimit is requests per second; zero disables limiting.
	RateLimit float64
	// Workers sizes the generation slots of a local model. Remote clients
	// ignore it.
	Workers int
}

// NewOpenAIClient creates a new OpenAI-backed client.
func NewOpenAIClient(config Config) (*OpenAIClient, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	var limiter *rate.Limiter
	if config.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), 1)
	}

	return &OpenAIClient{
		client:  openai.NewClientWithConfig(clientConfig),
		config:  config,
		limiter: limiter,
	}, nil
}

// Name returns the provider name.
func (c *OpenAIClient) Name() string {
	return "openai"
}

// IsAvailable checks if the provider is properly configured.
func (c *OpenAIClient) IsAvailable(ctx context.Context) bool {
	_, err := c.client.ListModels(ctx)
	return err == nil
}

// Complete issues one chat completion, mapping API failures onto the shared
// taxonomy.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (*Response, error) {
	timeout := req.Timeout
	if timeout == 0 {
		timeout = c.config.Timeout
	}
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &Error{Provider: c.Name(), Message: "rate limiter wait", Err: err}
		}
	}

	ctxWithTimeout, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.config.MaxTokens
	}

	var messages []openai.ChatCompletionMessage
	if req.SystemMessage != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemMessage,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctxWithTimeout, openai.ChatCompletionRequest{
		Model:       c.config.Model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, c.mapError(err, timeout)
	}

	if len(resp.Choices) == 0 {
		return nil, &Error{Provider: c.Name(), Message: "empty response"}
	}

	choice := resp.Choices[0]
	return &Response{
		Content:      strings.TrimSpace(choice.Message.Content),
		Model:        resp.Model,
		FinishReason: string(choice.FinishReason),
		LatencyMS:    float64(time.Since(start).Microseconds()) / 1000.0,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// mapError translates go-openai failures onto the shared taxonomy.
func (c *OpenAIClient) mapError(err error, timeout time.Duration) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Provider: c.Name(), Timeout: timeout}
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return &AuthError{Provider: c.Name()}
		case http.StatusTooManyRequests:
			return &RateLimitError{Provider: c.Name(), RetryAfter: parseRetryAfter(apiErr.Message)}
		}
		if code, ok := apiErr.Code.(string); ok && code == "context_length_exceeded" {
			return &ContextLengthError{Provider: c.Name()}
		}
		if strings.Contains(apiErr.Message, "maximum context length") {
			return &ContextLengthError{Provider: c.Name()}
		}
	}

	return &Error{Provider: c.Name(), Message: "completion failed", Err: err}
}

// retryHintPattern matches the wait hint OpenAI embeds in rate-limit error
// messages, e.g. "Please try again in 1.898s" or "in 6ms".
var retryHintPattern = regexp.MustCompile(`(?i)try again in\s*([0-9.]+)\s*(ms|s)\b`)

// parseRetryAfter extracts the retry hint from a rate-limit message. Returns
// zero when the message carries none.
func parseRetryAfter(msg string) time.Duration {
	m := retryHintPattern.FindStringSubmatch(msg)
	if m == nil {
		return 0
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	unit := float64(time.Second)
	if strings.EqualFold(m[2], "ms") {
		unit = float64(time.Millisecond)
	}
	// Round to the millisecond so fractional hints survive the float
	// conversion intact.
	return time.Duration(n*unit).Round(time.Millisecond)
}
