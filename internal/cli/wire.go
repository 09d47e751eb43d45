package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/avezina/docent/internal/llm"
	"github.com/avezina/docent/internal/model"
	"github.com/avezina/docent/internal/preprocess"
	"github.com/avezina/docent/internal/research"
	"github.com/avezina/docent/internal/search"
	"github.com/avezina/docent/internal/store"
)

// loadConfig merges defaults, the config file, and environment variables.
func loadConfig() (*model.Config, error) {
	cfg := model.DefaultConfig()
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// API keys come from the environment, never the config file.
	if cfg.LLM.Provider == "openai" && cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		if cfg.LLM.APIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
	}
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" && cfg.Local.Provider == "ollama" {
		cfg.Local.BaseURL = baseURL
	}

	return cfg, nil
}

// buildPipeline assembles the full query stack from configuration.
func buildPipeline(cfg *model.Config, logger *zap.Logger) (*research.Pipeline, error) {
	embedder, err := search.NewOpenAIEmbedder(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.Search.EmbedModel, cfg.Search.EmbedDimension)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	engine, err := search.NewQdrantEngine(cfg.Search, embedder, logger)
	if err != nil {
		return nil, fmt.Errorf("connect qdrant: %w", err)
	}

	docs := store.NewFileStore(cfg.Store.Root, time.Duration(cfg.Store.CacheTTL)*time.Second, logger)
	builder := research.NewBuilder(engine, docs, cfg.Context, logger)

	foundation, err := llm.NewClient(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("create foundation client: %w", err)
	}
	if foundation == nil {
		return nil, fmt.Errorf("no foundation model configured (set llm.provider)")
	}

	var preprocessor *preprocess.Preprocessor
	local, err := llm.NewClient(cfg.Local)
	if err != nil {
		return nil, fmt.Errorf("create local client: %w", err)
	}
	if local != nil {
		preprocessor = preprocess.NewPreprocessor(local, cfg.Preprocess.MaxConcurrent, logger)
	}

	return research.NewPipeline(builder, preprocessor, foundation, logger), nil
}
