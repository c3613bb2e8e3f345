package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"

	StoreChromem  = "chromem"
	StorePGVector = "pgvector"

	DriverPGDriver = "pgdriver"
	DriverPQ       = "postgres"

	defaultOllamaURL = "http://localhost:11434"
)

type Config struct {
	DocsDir      string            `yaml:"docs_dir"`
	PersistDir   string            `yaml:"persist_dir"`
	EmbedLLM     LLMConfig         `yaml:"embed_llm"`
	InferenceLLM LLMConfig         `yaml:"inference_llm"`
	RAG          RAGConfig         `yaml:"rag"`
	VectorStore  VectorStoreConfig `yaml:"vector_store"`
	Database     DatabaseConfig    `yaml:"database"`
	Chat         ChatConfig        `yaml:"chat"`
	Log          LogConfig         `yaml:"log"`
}

// LLMConfig addresses a model served by ollama or an OpenAI compatible endpoint.
type LLMConfig struct {
	Provider  string `yaml:"provider"`
	BaseURL   string `yaml:"base_url"`
	Key       string `yaml:"key"`
	Model     string `yaml:"model"`
	BatchSize int    `yaml:"batch_size"`
}

type RAGConfig struct {
	ChunkSize      int      `yaml:"chunk_size"`
	ChunkOverlap   *int     `yaml:"chunk_overlap"`
	Extensions     []string `yaml:"extensions"`
	TopK           int      `yaml:"top_k"`
	NumQueries     int      `yaml:"num_queries"`
	Compress       *bool    `yaml:"compress"`
	CollectionName string   `yaml:"collection_name"`
	EncryptionKey  string   `yaml:"encryption_key"`
}

type VectorStoreConfig struct {
	Type string `yaml:"type"`
}

type DatabaseConfig struct {
	URL        string `yaml:"url"`
	Password   string `yaml:"password"`
	Driver     string `yaml:"driver"`
	Debug      bool   `yaml:"debug"`
	VectorSize int    `yaml:"vector_size"`
}

type ChatConfig struct {
	Tone        string   `yaml:"tone"`
	ExitWords   []string `yaml:"exit_words"`
	ShowSources bool     `yaml:"show_sources"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// LoadConfig reads the YAML file at path. A missing file is not an error,
// the built-in defaults are returned instead.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	cfg.ApplyEnv()
	cfg.ApplyDefaults()
	return &cfg, nil
}

// Default returns a configuration populated only with defaults.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyEnv fills empty fields from the environment.
func (c *Config) ApplyEnv() {
	if host := os.Getenv("OLLAMA_HOST"); host != "" {
		if c.EmbedLLM.BaseURL == "" {
			c.EmbedLLM.BaseURL = host
		}
		if c.InferenceLLM.BaseURL == "" {
			c.InferenceLLM.BaseURL = host
		}
	}
	if c.Database.URL == "" {
		c.Database.URL = os.Getenv("DATABASE_URL")
	}
}

func (c *Config) ApplyDefaults() {
	if c.DocsDir == "" {
		c.DocsDir = "docs"
	}
	if c.PersistDir == "" {
		c.PersistDir = "chroma_db"
	}
	c.EmbedLLM.applyDefaults("nomic-embed-text")
	c.InferenceLLM.applyDefaults("llama3")

	if c.RAG.ChunkSize == 0 {
		c.RAG.ChunkSize = 1000
	}
	if c.RAG.ChunkOverlap == nil {
		overlap := min(200, c.RAG.ChunkSize/5)
		c.RAG.ChunkOverlap = &overlap
	}
	if len(c.RAG.Extensions) == 0 {
		c.RAG.Extensions = []string{".pdf"}
	}
	for i, ext := range c.RAG.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		c.RAG.Extensions[i] = ext
	}
	if c.RAG.TopK == 0 {
		c.RAG.TopK = 4
	}
	if c.RAG.NumQueries == 0 {
		c.RAG.NumQueries = 3
	}
	if c.RAG.Compress == nil {
		compress := true
		c.RAG.Compress = &compress
	}
	if c.RAG.CollectionName == "" {
		c.RAG.CollectionName = "pdf_chunks"
	}

	if c.VectorStore.Type == "" {
		c.VectorStore.Type = StoreChromem
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DriverPGDriver
	}
	if c.Database.VectorSize == 0 {
		c.Database.VectorSize = 768
	}

	if c.Chat.Tone == "" {
		c.Chat.Tone = "friendly"
	}
	if len(c.Chat.ExitWords) == 0 {
		c.Chat.ExitWords = []string{"exit", "quit"}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (l *LLMConfig) applyDefaults(model string) {
	if l.Provider == "" {
		l.Provider = ProviderOllama
	}
	if l.Model == "" {
		l.Model = model
	}
	if l.BaseURL == "" && l.Provider == ProviderOllama {
		l.BaseURL = defaultOllamaURL
	}
	if l.BatchSize == 0 {
		l.BatchSize = 32
	}
}

const redacted = "********"

// Redacted returns a copy of c with keys and passwords masked, for printing.
func (c *Config) Redacted() *Config {
	out := *c
	for _, l := range []*LLMConfig{&out.EmbedLLM, &out.InferenceLLM} {
		if l.Key != "" {
			l.Key = redacted
		}
	}
	if out.Database.Password != "" {
		out.Database.Password = redacted
	}
	if out.RAG.EncryptionKey != "" {
		out.RAG.EncryptionKey = redacted
	}
	if u, err := url.Parse(out.Database.URL); err == nil && u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), redacted)
			out.Database.URL = u.String()
		}
	}
	return &out
}

// Overlap is the configured chunk overlap. An explicit 0 disables overlap.
func (r RAGConfig) Overlap() int {
	if r.ChunkOverlap == nil {
		return 0
	}
	return *r.ChunkOverlap
}

// CompressEnabled reports whether retrieved chunks go through the LLM extractor.
func (r RAGConfig) CompressEnabled() bool {
	return r.Compress == nil || *r.Compress
}

func (c *Config) Validate() error {
	if c.RAG.ChunkSize <= 0 {
		return fmt.Errorf("rag.chunk_size must be positive, got %d", c.RAG.ChunkSize)
	}
	if overlap := c.RAG.Overlap(); overlap < 0 || overlap >= c.RAG.ChunkSize {
		return fmt.Errorf("rag.chunk_overlap must be in [0, %d), got %d", c.RAG.ChunkSize, overlap)
	}
	if c.RAG.TopK <= 0 {
		return fmt.Errorf("rag.top_k must be positive, got %d", c.RAG.TopK)
	}
	if c.RAG.NumQueries < 0 {
		return fmt.Errorf("rag.num_queries must not be negative, got %d", c.RAG.NumQueries)
	}
	if n := len(c.RAG.EncryptionKey); n != 0 && n != 32 {
		return fmt.Errorf("rag.encryption_key must be 32 bytes, got %d", n)
	}
	for _, l := range []LLMConfig{c.EmbedLLM, c.InferenceLLM} {
		if l.Provider != ProviderOllama && l.Provider != ProviderOpenAI {
			return fmt.Errorf("unsupported llm provider: %s", l.Provider)
		}
	}
	switch c.VectorStore.Type {
	case StoreChromem:
	case StorePGVector:
		if c.Database.URL == "" {
			return errors.New("database.url is required for the pgvector store")
		}
		if c.Database.Driver != DriverPGDriver && c.Database.Driver != DriverPQ {
			return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
		}
	default:
		return fmt.Errorf("unsupported vector store: %s", c.VectorStore.Type)
	}
	return nil
}
