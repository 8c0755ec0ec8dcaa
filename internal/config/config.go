// Package config provides configuration loading and structs for the kioku server.
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
	Ingest    IngestConfig    `yaml:"ingest"`
	Search    SearchConfig    `yaml:"search"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Remote    RemoteConfig    `yaml:"remote"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// MaxUploadMB caps multipart uploads (documents and archives).
	MaxUploadMB int `yaml:"max_upload_mb"`
}

// StorageConfig holds where stores and the catalogue live.
type StorageConfig struct {
	DataDir      string `yaml:"data_dir"`
	DatabasePath string `yaml:"database_path"`
}

// EmbeddingConfig lists the embedding models the server can use.
type EmbeddingConfig struct {
	DefaultModel string        `yaml:"default_model"`
	CacheSize    int           `yaml:"cache_size"`
	Models       []ModelConfig `yaml:"models"`
}

// Backends for ModelConfig.Backend.
const (
	BackendONNX = "onnx"
	BackendHTTP = "http"
	BackendHash = "hash"
)

// ModelConfig describes one embedding model.
type ModelConfig struct {
	ID         string `yaml:"id"`
	Backend    string `yaml:"backend"`
	Dimensions int    `yaml:"dimensions"`
	// ModelPath is the ONNX file for the onnx backend.
	ModelPath string `yaml:"model_path"`
	MaxTokens int    `yaml:"max_tokens"`
	// Endpoint is the base URL of an OpenAI-compatible API for the http backend.
	Endpoint          string  `yaml:"endpoint"`
	APIKeyEnv         string  `yaml:"api_key_env"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BatchSize         int     `yaml:"batch_size"`
}

// IngestConfig holds chunking defaults.
type IngestConfig struct {
	ChunkingMethod string `yaml:"chunking_method"`
	ChunkSize      int    `yaml:"chunk_size"`
	ChunkOverlap   int    `yaml:"chunk_overlap"`
}

// SearchConfig holds query defaults.
type SearchConfig struct {
	DefaultK  int `yaml:"default_k"`
	MaxK      int `yaml:"max_k"`
	Overfetch int `yaml:"overfetch"`
}

// ArchiveConfig holds export and import settings.
type ArchiveConfig struct {
	// Compression is "deflate" or "zstd".
	Compression string `yaml:"compression"`
	// MaxEntryMB caps the decompressed size of each entry read from an archive.
	MaxEntryMB int `yaml:"max_entry_mb"`
}

// RemoteConfig points at an S3-compatible bucket for published archives.
// An empty endpoint means archives are published to LocalDir instead.
type RemoteConfig struct {
	Endpoint     string `yaml:"endpoint"`
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	AccessKeyEnv string `yaml:"access_key_env"`
	SecretKeyEnv string `yaml:"secret_key_env"`
	UseSSL       bool   `yaml:"use_ssl"`
	LocalDir     string `yaml:"local_dir"`
}

// WatchConfig holds drop-directory settings.
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	Extensions  []string `yaml:"extensions"`
	Recursive   *bool    `yaml:"recursive"`
	// Store is the store watched files are ingested into.
	Store string `yaml:"store"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// Model returns the configured model with the given id.
func (e *EmbeddingConfig) Model(id string) (ModelConfig, bool) {
	for _, m := range e.Models {
		if m.ID == id {
			return m, true
		}
	}
	return ModelConfig{}, false
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
	cfg.Storage.DataDir = expandPath(cfg.Storage.DataDir, configDir)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Remote.LocalDir = expandPath(cfg.Remote.LocalDir, configDir)
	for i := range cfg.Embedding.Models {
		if cfg.Embedding.Models[i].ModelPath != "" {
			cfg.Embedding.Models[i].ModelPath = expandPath(cfg.Embedding.Models[i].ModelPath, configDir)
		}
	}
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	return &cfg, nil
}

// Default returns a config with every default applied, used when no config file exists.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// Save writes the config to path.
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

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir,
// "~/" is the home directory, and other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	path = strings.TrimPrefix(path, "~/")
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
