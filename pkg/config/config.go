package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LLM          LLMConfig          `yaml:"llm"`
	Embedding    EmbeddingConfig    `yaml:"embedding"`
	Index        IndexConfig        `yaml:"index"`
	Retrieval    RetrievalConfig    `yaml:"retrieval"`
	Conversation ConversationConfig `yaml:"conversation"`
	Persona      PersonaConfig      `yaml:"persona"`
	Server       ServerConfig       `yaml:"server"`
	Ingest       IngestConfig       `yaml:"ingest"`
	Log          LogConfig          `yaml:"log"`
}

type LLMConfig struct {
	Provider    string        `yaml:"provider"`
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"api_key"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
	RateLimit   float64       `yaml:"rate_limit"`
}

type EmbeddingConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	CacheDir  string `yaml:"cache_dir"`
	BatchSize int    `yaml:"batch_size"`
}

type IndexConfig struct {
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	Name        string `yaml:"name"`
	DatabaseURL string `yaml:"database_url"`
	TableName   string `yaml:"table_name"`
	BatchSize   int    `yaml:"batch_size"`
}

type RetrievalConfig struct {
	TopK            int    `yaml:"top_k"`
	MaxContextChars int    `yaml:"max_context_chars"`
	CitationPrefix  string `yaml:"citation_prefix"`
}

type ConversationConfig struct {
	Store string `yaml:"store"`
	Path  string `yaml:"path"`
}

type PersonaConfig struct {
	SystemPrompt string `yaml:"system_prompt"`
	File         string `yaml:"file"`
}

type ServerConfig struct {
	Addr        string `yaml:"addr"`
	NATSURL     string `yaml:"nats_url"`
	NATSSubject string `yaml:"nats_subject"`
}

type IngestConfig struct {
	DataDir   string  `yaml:"data_dir"`
	SourceURL string  `yaml:"source_url"`
	MaxDepth  int     `yaml:"max_depth"`
	RateLimit float64 `yaml:"rate_limit"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/gitagpt/config.yaml"),
			"/etc/gitagpt/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	mergeWithEnv(&config)
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	mergeWithEnv(config)
	applyDefaults(config)
	return config, nil
}

// PersonaPrompt returns the configured persona text, reading persona.file
// when set. An empty result means the built-in persona applies.
func (c *Config) PersonaPrompt() (string, error) {
	if c.Persona.File != "" {
		data, err := os.ReadFile(c.Persona.File)
		if err != nil {
			return "", fmt.Errorf("error reading persona file: %w", err)
		}
		return string(data), nil
	}
	return c.Persona.SystemPrompt, nil
}

func applyDefaults(config *Config) {
	if config.LLM.Provider == "" {
		config.LLM.Provider = "ollama"
	}
	if config.LLM.Model == "" {
		config.LLM.Model = "mistral"
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 2000
	}
	if config.LLM.Temperature == 0 {
		config.LLM.Temperature = 0.7
	}
	if config.LLM.BaseURL == "" && config.LLM.Provider == "ollama" {
		config.LLM.BaseURL = "http://localhost:11434"
	}
	if config.LLM.Timeout == 0 {
		config.LLM.Timeout = 60 * time.Second
	}
	if config.LLM.RateLimit == 0 {
		config.LLM.RateLimit = 5
	}

	if config.Embedding.Provider == "" {
		config.Embedding.Provider = "fastembed"
	}
	if config.Embedding.Model == "" {
		config.Embedding.Model = "sentence-transformers/all-MiniLM-L6-v2"
	}
	if config.Embedding.BaseURL == "" && config.Embedding.Provider == "ollama" {
		config.Embedding.BaseURL = "http://localhost:11434"
	}
	if config.Embedding.CacheDir == "" {
		config.Embedding.CacheDir = "local_cache"
	}
	if config.Embedding.BatchSize == 0 {
		config.Embedding.BatchSize = 256
	}

	if config.Index.Backend == "" {
		config.Index.Backend = "chromem"
	}
	if config.Index.Path == "" {
		config.Index.Path = filepath.Join("vectorstore", "db")
	}
	if config.Index.Name == "" {
		config.Index.Name = "index"
	}
	if config.Index.TableName == "" {
		config.Index.TableName = "gita_documents"
	}
	if config.Index.BatchSize == 0 {
		config.Index.BatchSize = 100
	}

	if config.Retrieval.TopK == 0 {
		config.Retrieval.TopK = 4
	}
	if config.Retrieval.MaxContextChars == 0 {
		config.Retrieval.MaxContextChars = 800
	}
	if config.Retrieval.CitationPrefix == "" {
		config.Retrieval.CitationPrefix = "BG"
	}

	if config.Conversation.Store == "" {
		config.Conversation.Store = "memory"
	}
	if config.Conversation.Path == "" {
		config.Conversation.Path = "data"
	}

	if config.Server.Addr == "" {
		config.Server.Addr = ":8000"
	}
	if config.Server.NATSSubject == "" {
		config.Server.NATSSubject = "gitagpt"
	}

	if config.Ingest.DataDir == "" {
		config.Ingest.DataDir = filepath.Join("data", "bhagavad-gita-as-it-is", "json")
	}
	if config.Ingest.MaxDepth == 0 {
		config.Ingest.MaxDepth = 2
	}
	if config.Ingest.RateLimit == 0 {
		config.Ingest.RateLimit = 2.0
	}

	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.Format == "" {
		config.Log.Format = "console"
	}
}

func mergeWithEnv(config *Config) {
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.LLM.BaseURL = baseURL
		if config.Embedding.Provider == "ollama" {
			config.Embedding.BaseURL = baseURL
		}
	}
	if model := os.Getenv("LLM_MODEL"); model != "" {
		config.LLM.Model = model
	}
	if key := os.Getenv("GOOGLE_API_KEY"); key != "" && config.LLM.Provider == "googleai" {
		config.LLM.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		if config.LLM.Provider == "openai" {
			config.LLM.APIKey = key
		}
		if config.Embedding.Provider == "openai" {
			config.Embedding.APIKey = key
		}
	}
	if model := os.Getenv("EMBEDDING_MODEL"); model != "" {
		config.Embedding.Model = model
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Index.DatabaseURL = dbURL
	}
	if path := os.Getenv("INDEX_PATH"); path != "" {
		config.Index.Path = path
	}
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		config.Server.NATSURL = natsURL
	}
	if port := os.Getenv("PORT"); port != "" {
		config.Server.Addr = ":" + port
	}
}
