package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"ragqa/internal/domain"
)

// ServerConfig configures the HTTP query endpoint.
type ServerConfig struct {
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	RequestTimeoutSecs int    `yaml:"request_timeout_secs"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + strconv.Itoa(s.Port)
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DocumentsConfig selects the files an index is built from.
type DocumentsConfig struct {
	Dir          string   `yaml:"dir"`
	Patterns     []string `yaml:"patterns,omitempty"`
	Watch        bool     `yaml:"watch"`
	DebounceSecs int      `yaml:"debounce_secs"`
}

// ChunkerConfig configures how documents are split into chunks.
type ChunkerConfig struct {
	Type      string `yaml:"type"`
	ChunkSize int    `yaml:"chunk_size"`
	Overlap   int    `yaml:"overlap"`
}

// OpenAIConfig holds connection details for an OpenAI-compatible API.
type OpenAIConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type      string        `yaml:"type"`
	Dimension int           `yaml:"dimension"`
	OpenAI    *OpenAIConfig `yaml:"openai,omitempty"`
}

// CompleterConfig selects and configures the answer generator.
type CompleterConfig struct {
	Type         string        `yaml:"type"`
	MaxSentences int           `yaml:"max_sentences"`
	Temperature  float32       `yaml:"temperature"`
	SystemPrompt string        `yaml:"system_prompt,omitempty"`
	OpenAI       *OpenAIConfig `yaml:"openai,omitempty"`
}

// IndexConfig selects where the vector index is persisted.
type IndexConfig struct {
	Store            string `yaml:"store"`
	Path             string `yaml:"path"`
	BuildConcurrency int    `yaml:"build_concurrency"`
}

// RetrievalConfig tunes query-time behaviour.
type RetrievalConfig struct {
	TopK     int    `yaml:"top_k"`
	Template string `yaml:"template,omitempty"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Documents DocumentsConfig `yaml:"documents"`
	Chunker   ChunkerConfig   `yaml:"chunker"`
	Embedder  EmbedderConfig  `yaml:"embedder"`
	Completer CompleterConfig `yaml:"completer"`
	Index     IndexConfig     `yaml:"index"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultConfig(), nil
		}
		return nil, err
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrConfiguration, path, err)
	}
	applyConfigDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/ragqa/config.yaml.
// If neither exists, it writes defaults to ~/.config/ragqa/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ApplyEnv overrides file values with environment variables, as read by
// lookup (os.LookupEnv in production). FAISS_INDEX_DIR and OLLAMA_MODEL are
// accepted as older names for INDEX_PATH's directory and LLM_MODEL; the
// newer names win when both are set.
func (c *AppConfig) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("HOST"); ok && v != "" {
		c.Server.Host = v
	}
	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: PORT=%q: %w", domain.ErrConfiguration, v, err)
		}
		c.Server.Port = port
	}
	if v, ok := lookup("DEBUG"); ok && v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: DEBUG=%q: %w", domain.ErrConfiguration, v, err)
		}
		if debug {
			c.Log.Level = "debug"
		}
	}
	if v, ok := lookup("DOCS_DIR"); ok && v != "" {
		c.Documents.Dir = v
	}
	if v, ok := lookup("FAISS_INDEX_DIR"); ok && v != "" {
		base := filepath.Base(c.Index.Path)
		if c.Index.Path == "" || base == "." || base == string(filepath.Separator) {
			base = filepath.Base(defaultConfig().Index.Path)
		}
		c.Index.Path = filepath.Join(v, base)
	}
	if v, ok := lookup("INDEX_PATH"); ok && v != "" {
		c.Index.Path = v
	}
	if v, ok := lookup("EMBEDDING_MODEL"); ok && v != "" {
		if c.Embedder.OpenAI == nil {
			c.Embedder.OpenAI = &OpenAIConfig{}
		}
		c.Embedder.OpenAI.Model = v
	}
	for _, key := range []string{"OLLAMA_MODEL", "LLM_MODEL"} {
		if v, ok := lookup(key); ok && v != "" {
			if c.Completer.OpenAI == nil {
				c.Completer.OpenAI = &OpenAIConfig{}
			}
			c.Completer.OpenAI.Model = v
		}
	}
	applyConfigDefaults(c)
	return nil
}

// Validate reports the first invalid setting wrapped in domain.ErrConfiguration.
func (c *AppConfig) Validate() error {
	var problems []string
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if c.Documents.Dir == "" {
		problems = append(problems, "documents.dir is required")
	}
	if c.Chunker.Type != "fixed" {
		problems = append(problems, fmt.Sprintf("unknown chunker type %q", c.Chunker.Type))
	}
	if c.Chunker.ChunkSize <= 0 {
		problems = append(problems, fmt.Sprintf("chunker.chunk_size must be positive, got %d", c.Chunker.ChunkSize))
	}
	if c.Chunker.Overlap < 0 || c.Chunker.Overlap >= c.Chunker.ChunkSize {
		problems = append(problems, fmt.Sprintf("chunker.overlap must be in [0, chunk_size), got %d", c.Chunker.Overlap))
	}
	switch c.Embedder.Type {
	case "hashing":
	case "openai":
		if c.Embedder.OpenAI == nil {
			problems = append(problems, "embedder.openai section is required for type openai")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown embedder type %q", c.Embedder.Type))
	}
	if c.Embedder.Dimension < 0 {
		problems = append(problems, "embedder.dimension must not be negative")
	}
	switch c.Completer.Type {
	case "extractive":
	case "openai":
		if c.Completer.OpenAI == nil {
			problems = append(problems, "completer.openai section is required for type openai")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown completer type %q", c.Completer.Type))
	}
	switch c.Index.Store {
	case "none":
	case "file", "sqlite":
		if c.Index.Path == "" {
			problems = append(problems, "index.path is required for store "+c.Index.Store)
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown index store %q", c.Index.Store))
	}
	if c.Retrieval.TopK <= 0 {
		problems = append(problems, fmt.Sprintf("retrieval.top_k must be positive, got %d", c.Retrieval.TopK))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("unknown log format %q", c.Log.Format))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrConfiguration, strings.Join(problems, "; "))
	}
	return nil
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "ragqa", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{
		Server:    ServerConfig{Host: "127.0.0.1", Port: 8000, RequestTimeoutSecs: 60},
		Log:       LogConfig{Level: "info", Format: "text"},
		Documents: DocumentsConfig{Dir: "docs", DebounceSecs: 2},
		Chunker:   ChunkerConfig{Type: "fixed", ChunkSize: 500, Overlap: 50},
		Embedder:  EmbedderConfig{Type: "hashing", Dimension: 384},
		Completer: CompleterConfig{Type: "extractive", MaxSentences: 3},
		Index:     IndexConfig{Store: "file", Path: "index/ragqa.idx", BuildConcurrency: 4},
		Retrieval: RetrievalConfig{TopK: 4},
	}
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	d := defaultConfig()
	if cfg.Server.Host == "" {
		cfg.Server.Host = d.Server.Host
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = d.Server.Port
	}
	if cfg.Server.RequestTimeoutSecs == 0 {
		cfg.Server.RequestTimeoutSecs = d.Server.RequestTimeoutSecs
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = d.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = d.Log.Format
	}
	if cfg.Documents.Dir == "" {
		cfg.Documents.Dir = d.Documents.Dir
	}
	if cfg.Documents.DebounceSecs == 0 {
		cfg.Documents.DebounceSecs = d.Documents.DebounceSecs
	}
	if cfg.Chunker.Type == "" {
		cfg.Chunker.Type = d.Chunker.Type
	}
	if cfg.Chunker.ChunkSize == 0 {
		cfg.Chunker.ChunkSize = d.Chunker.ChunkSize
	}
	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = d.Embedder.Type
	}
	if cfg.Embedder.Type == "hashing" && cfg.Embedder.Dimension == 0 {
		cfg.Embedder.Dimension = d.Embedder.Dimension
	}
	if cfg.Embedder.Type == "openai" && cfg.Embedder.OpenAI != nil {
		openAIDefaults(cfg.Embedder.OpenAI, "text-embedding-3-small", 30)
	}
	if cfg.Completer.Type == "" {
		cfg.Completer.Type = d.Completer.Type
	}
	if cfg.Completer.MaxSentences == 0 {
		cfg.Completer.MaxSentences = d.Completer.MaxSentences
	}
	if cfg.Completer.Type == "openai" && cfg.Completer.OpenAI != nil {
		openAIDefaults(cfg.Completer.OpenAI, "gpt-4o-mini", 60)
	}
	if cfg.Index.Store == "" {
		cfg.Index.Store = d.Index.Store
	}
	if cfg.Index.Path == "" && cfg.Index.Store != "none" {
		cfg.Index.Path = d.Index.Path
	}
	if cfg.Index.BuildConcurrency == 0 {
		cfg.Index.BuildConcurrency = d.Index.BuildConcurrency
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = d.Retrieval.TopK
	}
}

func openAIDefaults(c *OpenAIConfig, model string, timeoutSecs int) {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.openai.com/v1"
	}
	if c.APIKeyEnv == "" {
		c.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.Model == "" {
		c.Model = model
	}
	if c.TimeoutSecs == 0 {
		c.TimeoutSecs = timeoutSecs
	}
}
