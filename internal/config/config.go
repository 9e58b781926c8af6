// Package config provides configuration loading and structs for the usine server.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Log       LogConfig       `yaml:"log"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Window    WindowConfig    `yaml:"window"`
	Session   SessionConfig   `yaml:"session"`
	Backend   BackendConfig   `yaml:"backend"`
	Companion CompanionConfig `yaml:"companion"`
	Prompt    PromptConfig    `yaml:"prompt"`
	Watch     WatchConfig     `yaml:"watch"`
}

// LogConfig holds optional rotating file output and the in-memory event ring size.
type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	RingSize   int    `yaml:"ring_size"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// StorageConfig holds paths for the database and indices, and the vector index kind.
type StorageConfig struct {
	DatabasePath    string `yaml:"database_path"`
	BleveIndexPath  string `yaml:"bleve_index_path"`
	VectorIndexPath string `yaml:"vector_index_path"`
	VectorIndexType string `yaml:"vector_index_type"`
	VectorMetric    string `yaml:"vector_metric"`
	ChromemPath     string `yaml:"chromem_path"`
}

// EmbeddingConfig selects the embedding provider.
type EmbeddingConfig struct {
	Provider   string        `yaml:"provider"`
	Model      string        `yaml:"model"`
	ModelPath  string        `yaml:"model_path"`
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	Dimensions int           `yaml:"dimensions"`
	MaxTokens  int           `yaml:"max_tokens"`
	CacheSize  int           `yaml:"cache_size"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// IngestConfig holds chunking settings (in words) and file limits.
type IngestConfig struct {
	ChunkSize    int      `yaml:"chunk_size"`
	ChunkOverlap int      `yaml:"chunk_overlap"`
	MaxFileBytes int64    `yaml:"max_file_bytes"`
	Extensions   []string `yaml:"extensions"`
}

// RetrievalConfig holds retrieval defaults.
type RetrievalConfig struct {
	Enabled        *bool   `yaml:"enabled"`
	TopK           int     `yaml:"top_k"`
	MaxTopK        int     `yaml:"max_top_k"`
	MinScore       float64 `yaml:"min_score"`
	KeywordEnabled bool    `yaml:"keyword_enabled"`
	KeywordWeight  float64 `yaml:"keyword_weight"`
	TitleBoost     float64 `yaml:"title_boost"`
}

// EnabledOrDefault returns whether retrieval is on by default; true when unset.
func (r *RetrievalConfig) EnabledOrDefault() bool {
	if r.Enabled != nil {
		return *r.Enabled
	}
	return true
}

// WindowConfig holds the context window budget (in estimated tokens).
type WindowConfig struct {
	MaxContextTokens int `yaml:"max_context_tokens"`
	ReserveTokens    int `yaml:"reserve_tokens"`
	HardLimitTokens  int `yaml:"hard_limit_tokens"`
}

// SessionConfig holds session lifecycle settings.
type SessionConfig struct {
	IdleTTL       time.Duration `yaml:"idle_ttl"`
	EvictInterval time.Duration `yaml:"evict_interval"`
	BusyPolicy    string        `yaml:"busy_policy"`
	AutoCreate    *bool         `yaml:"auto_create"`
	Persist       bool          `yaml:"persist"`
}

// AutoCreateOrDefault returns whether unseen keys create sessions; true when unset.
func (s *SessionConfig) AutoCreateOrDefault() bool {
	if s.AutoCreate != nil {
		return *s.AutoCreate
	}
	return true
}

// BackendConfig describes the primary OpenAI-compatible inference runtime.
type BackendConfig struct {
	BaseURL        string        `yaml:"base_url"`
	APIKey         string        `yaml:"api_key"`
	Model          string        `yaml:"model"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	ProbeTimeout   time.Duration `yaml:"probe_timeout"`
	Freshness      time.Duration `yaml:"freshness"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RetryBackoff   time.Duration `yaml:"retry_backoff"`
}

// CompanionConfig describes the optional secondary backend used for enrichment.
type CompanionConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BaseURL       string        `yaml:"base_url"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`
	Freshness     time.Duration `yaml:"freshness"`
	Timeout       time.Duration `yaml:"timeout"`
	EnrichmentTTL time.Duration `yaml:"enrichment_ttl"`
	Hybrid        bool          `yaml:"hybrid"`
}

// PromptConfig holds the master system prompt, inline or from a file.
type PromptConfig struct {
	MasterPrompt     string `yaml:"master_prompt"`
	MasterPromptPath string `yaml:"master_prompt_path"`
}

// WatchConfig holds directory watch settings.
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	Extensions  []string `yaml:"extensions"`
	Recursive   *bool    `yaml:"recursive"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// Load reads and parses the config file at path, applies .env and USINE_* overrides,
// expands paths, applies defaults and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	configDir := filepath.Dir(path)
	if err := loadDotEnv(filepath.Join(configDir, ".env")); err != nil {
		return nil, err
	}
	if err := ApplyEnv(&cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(&cfg)

	cfg.Log.File = expandPath(cfg.Log.File, configDir)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.BleveIndexPath = expandPath(cfg.Storage.BleveIndexPath, configDir)
	cfg.Storage.VectorIndexPath = expandPath(cfg.Storage.VectorIndexPath, configDir)
	cfg.Storage.ChromemPath = expandPath(cfg.Storage.ChromemPath, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	cfg.Prompt.MasterPromptPath = expandPath(cfg.Prompt.MasterPromptPath, configDir)
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the config to path. Used for persisting watch directory add/remove.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// loadDotEnv loads KEY=VALUE pairs from path without overriding variables that are
// already set. A missing file is not an error.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides cfg with USINE_* environment variables.
func ApplyEnv(cfg *Config) error {
	str := map[string]*string{
		"USINE_BACKEND_URL":       &cfg.Backend.BaseURL,
		"USINE_BACKEND_API_KEY":   &cfg.Backend.APIKey,
		"USINE_BACKEND_MODEL":     &cfg.Backend.Model,
		"USINE_COMPANION_URL":     &cfg.Companion.BaseURL,
		"USINE_EMBEDDING_API_KEY": &cfg.Embedding.APIKey,
		"USINE_EMBEDDING_URL":     &cfg.Embedding.BaseURL,
		"USINE_SERVER_HOST":       &cfg.Server.Host,
	}
	for key, dst := range str {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	if v, ok := os.LookupEnv("USINE_SERVER_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("USINE_SERVER_PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	if v, ok := os.LookupEnv("USINE_DEBUG"); ok {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("USINE_DEBUG: %w", err)
		}
		cfg.Debug = debug
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory. Empty paths stay empty.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
