package model

// Config is the complete Docent configuration, loadable from
// ~/.docent/config.yaml and DOCENT_* environment variables via viper.
type Config struct {
	Search     SearchConfig     `yaml:"search" mapstructure:"search"`
	Context    ContextConfig    `yaml:"context" mapstructure:"context"`
	LLM        LLMConfig        `yaml:"llm" mapstructure:"llm"`
	Local      LLMConfig        `yaml:"local" mapstructure:"local"`
	Preprocess PreprocessConfig `yaml:"preprocess" mapstructure:"preprocess"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
}

// SearchConfig configures the Qdrant-backed search engine.
type SearchConfig struct {
	Host             string `yaml:"host" mapstructure:"host"`
	Port             int    `yaml:"port" mapstructure:"port"`
	VisualCollection string `yaml:"visual_collection" mapstructure:"visual_collection"`
	TextCollection   string `yaml:"text_collection" mapstructure:"text_collection"`
	EmbedModel       string `yaml:"embed_model" mapstructure:"embed_model"`
	EmbedDimension   int    `yaml:"embed_dimension" mapstructure:"embed_dimension"`
}

// ContextConfig bounds context assembly.
type ContextConfig struct {
	// MaxSources caps unique (doc, page) sources kept after deduplication.
	MaxSources int `yaml:"max_sources" mapstructure:"max_sources"`
	// MaxTokens is the soft token ceiling for the formatted context.
	MaxTokens int `yaml:"max_tokens" mapstructure:"max_tokens"`
	// BaseURL is prepended to detail links when absolute URLs are requested.
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// LLMConfig configures one LLM client (foundation or local).
type LLMConfig struct {
	Provider string `yaml:"provider" mapstructure:"provider"` // "openai", "ollama", ""
	Model    string `yaml:"model" mapstructure:"model"`
	APIKey   string `yaml:"api_key,omitempty" mapstructure:"api_key"`
	BaseURL  string `yaml:"base_url,omitempty" mapstructure:"base_url"`
	// Timeout is the per-request ceiling in seconds.
	Timeout   int     `yaml:"timeout" mapstructure:"timeout"`
	MaxTokens int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"` // requests/second, 0 = unlimited
	// Workers sizes the generation slots of a local model; remote APIs
	// ignore it. Local inference serializes at 1 unless raised explicitly.
	Workers int `yaml:"workers" mapstructure:"workers"`
}

// PreprocessConfig configures the local preprocessing pass.
type PreprocessConfig struct {
	// Mode is one of "none", "compress", "filter", "synthesize".
	Mode string `yaml:"mode" mapstructure:"mode"`
	// Threshold is the 0-10 relevance cutoff for filter mode.
	Threshold float64 `yaml:"threshold" mapstructure:"threshold"`
	// MaxConcurrent bounds how many per-source LLM calls run at once.
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host string `yaml:"host" mapstructure:"host"`
	Port int    `yaml:"port" mapstructure:"port"`
	// CacheTTL is the answer cache lifetime in seconds; 0 disables caching.
	CacheTTL int `yaml:"cache_ttl" mapstructure:"cache_ttl"`
	// CacheDir is the disk directory backing the answer cache.
	CacheDir string `yaml:"cache_dir" mapstructure:"cache_dir"`
}

// StoreConfig configures the document metadata store.
type StoreConfig struct {
	// Root is the directory holding per-document metadata and markdown files.
	Root string `yaml:"root" mapstructure:"root"`
	// CacheTTL is the metadata cache lifetime in seconds.
	CacheTTL int `yaml:"cache_ttl" mapstructure:"cache_ttl"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Search: SearchConfig{
			Host:             "localhost",
			Port:             6334,
			VisualCollection: "doc_pages",
			TextCollection:   "doc_chunks",
			EmbedModel:       "text-embedding-3-small",
			EmbedDimension:   1536,
		},
		Context: ContextConfig{
			MaxSources: 10,
			MaxTokens:  10000,
		},
		LLM: LLMConfig{
			Provider:  "openai",
			Model:     "gpt-4o-mini",
			Timeout:   60,
			MaxTokens: 2000,
		},
		Local: LLMConfig{
			Provider:  "ollama",
			Model:     "qwen2.5:3b",
			BaseURL:   "http://localhost:11434",
			Timeout:   120,
			MaxTokens: 1000,
			Workers:   1,
		},
		Preprocess: PreprocessConfig{
			Mode:          "none",
			Threshold:     5.0,
			MaxConcurrent: 4,
		},
		Server: ServerConfig{
			Host:     "0.0.0.0",
			Port:     8080,
			CacheTTL: 0,
			CacheDir: "data/cache",
		},
		Store: StoreConfig{
			Root:     "data/store",
			CacheTTL: 300,
		},
	}
}
