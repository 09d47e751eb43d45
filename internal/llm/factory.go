package llm

import (
	"fmt"
	"strings"
	"time"

	"github.com/avezina/docent/internal/model"
)

// NewClient creates an LLM client from configuration. An empty provider
// returns nil, nil: the caller treats that as "disabled".
func NewClient(cfg model.LLMConfig) (Client, error) {
	provider := strings.ToLower(cfg.Provider)

	switch provider {
	case "openai":
		client, err := NewOpenAIClient(configFromModel(cfg))
		if err != nil {
			return nil, err
		}
		return client, nil

	case "ollama":
		client, err := NewOllamaClient(configFromModel(cfg))
		if err != nil {
			return nil, err
		}
		return client, nil

	case "":
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown LLM provider: %s (supported: openai, ollama)", cfg.Provider)
	}
}

func configFromModel(cfg model.LLMConfig) Config {
	return Config{
		Model:     cfg.Model,
		APIKey:    cfg.APIKey,
		BaseURL:   cfg.BaseURL,
		Timeout:   time.Duration(cfg.Timeout) * time.Second,
		MaxTokens: cfg.MaxTokens,
		RateLimit: cfg.RateLimit,
		Workers:   cfg.Workers,
	}
}
