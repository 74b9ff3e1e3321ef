// Package config provides configuration loading and structs for the vecdex server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Index     IndexConfig     `yaml:"index"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Search    SearchConfig    `yaml:"search"`
	Sources   SourcesConfig   `yaml:"sources"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds the on-disk index layout.
type StorageConfig struct {
	Root      string `yaml:"root"`       // per-client index directories live under here
	CachePath string `yaml:"cache_path"` // embedding cache database; empty disables caching
}

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"` // "openai", "onnx", or "mock"
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	BatchSize  int    `yaml:"batch_size"`

	// OpenAI-compatible API settings.
	BaseURL   string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"` // environment variable holding the key
	MaxRetries int   `yaml:"max_retries"`

	// ONNX settings.
	ModelPath string `yaml:"model_path"`
	MaxTokens int    `yaml:"max_tokens"`
}

// IndexConfig holds vector index maintenance settings.
type IndexConfig struct {
	CompactThreshold float64 `yaml:"compact_threshold"` // tombstone ratio triggering compaction
	Durability       string  `yaml:"durability"`        // "batch" or "document"
	RemoveMissing    bool    `yaml:"remove_missing"`    // drop documents absent from the source listing
}

// ChunkingConfig holds text splitting settings.
type ChunkingConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

// SearchConfig holds result ranking settings.
type SearchConfig struct {
	DefaultK        int     `yaml:"default_k"`
	MaxK            int     `yaml:"max_k"`
	DefaultMinScore float64 `yaml:"default_min_score"`
}

// SourcesConfig holds document source settings.
type SourcesConfig struct {
	ListURL        string   `yaml:"list_url"`    // HTTP listing endpoint; empty disables the HTTP source
	MaxFileSize    int64    `yaml:"max_file_size"`
	Directories    []string `yaml:"directories"` // local directories served as sources
	Extensions     []string `yaml:"extensions"`
	WatchDebounce  int      `yaml:"watch_debounce_ms"`
	WatchRecursive *bool    `yaml:"watch_recursive"`
}

// RecursiveOrDefault returns whether directory watching descends into
// subdirectories; defaults to true when unset.
func (s *SourcesConfig) RecursiveOrDefault() bool {
	if s.WatchRecursive != nil {
		return *s.WatchRecursive
	}
	return true
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.Root = expandPath(cfg.Storage.Root, configDir)
	if cfg.Storage.CachePath != "" {
		cfg.Storage.CachePath = expandPath(cfg.Storage.CachePath, configDir)
	}
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}
	for i := range cfg.Sources.Directories {
		cfg.Sources.Directories[i] = expandPath(cfg.Sources.Directories[i], configDir)
	}

	return &cfg, nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
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
