package config

// DefaultStoreID addresses the default store.
const DefaultStoreID = "default"

// defaultModels mirrors the sentence-transformers models the store was built around.
var defaultModels = []ModelConfig{
	{ID: "all-MiniLM-L6-v2", Backend: BackendONNX, Dimensions: 384, ModelPath: "/usr/local/var/kioku/models/all-MiniLM-L6-v2.onnx"},
	{ID: "all-mpnet-base-v2", Backend: BackendONNX, Dimensions: 768, ModelPath: "/usr/local/var/kioku/models/all-mpnet-base-v2.onnx"},
	{ID: "multi-qa-MiniLM-L6-cos-v1", Backend: BackendONNX, Dimensions: 384, ModelPath: "/usr/local/var/kioku/models/multi-qa-MiniLM-L6-cos-v1.onnx"},
}

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.MaxUploadMB == 0 {
		cfg.Server.MaxUploadMB = 64
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "/usr/local/var/kioku/data/stores"
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/kioku/data/catalog.db"
	}
	if len(cfg.Embedding.Models) == 0 {
		cfg.Embedding.Models = append([]ModelConfig(nil), defaultModels...)
	}
	for i := range cfg.Embedding.Models {
		m := &cfg.Embedding.Models[i]
		if m.Backend == "" {
			m.Backend = BackendONNX
		}
		if m.MaxTokens == 0 {
			m.MaxTokens = 256
		}
		if m.BatchSize == 0 {
			m.BatchSize = 32
		}
	}
	if cfg.Embedding.DefaultModel == "" {
		cfg.Embedding.DefaultModel = cfg.Embedding.Models[0].ID
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Ingest.ChunkingMethod == "" {
		cfg.Ingest.ChunkingMethod = "fixed_size"
	}
	if cfg.Ingest.ChunkSize == 0 {
		cfg.Ingest.ChunkSize = 500
	}
	if cfg.Ingest.ChunkOverlap == 0 {
		cfg.Ingest.ChunkOverlap = 50
	}
	if cfg.Search.DefaultK == 0 {
		cfg.Search.DefaultK = 5
	}
	if cfg.Search.MaxK == 0 {
		cfg.Search.MaxK = 100
	}
	if cfg.Search.Overfetch == 0 {
		cfg.Search.Overfetch = 3
	}
	if cfg.Archive.Compression == "" {
		cfg.Archive.Compression = "deflate"
	}
	if cfg.Archive.MaxEntryMB == 0 {
		cfg.Archive.MaxEntryMB = 1024
	}
	if cfg.Remote.LocalDir == "" {
		cfg.Remote.LocalDir = "/usr/local/var/kioku/data/published"
	}
	if cfg.Remote.AccessKeyEnv == "" {
		cfg.Remote.AccessKeyEnv = "KIOKU_S3_ACCESS_KEY"
	}
	if cfg.Remote.SecretKeyEnv == "" {
		cfg.Remote.SecretKeyEnv = "KIOKU_S3_SECRET_KEY"
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".txt", ".md", ".pdf", ".docx", ".xlsx", ".pptx", ".odt", ".odp", ".ods"}
	}
	if cfg.Watch.Store == "" {
		cfg.Watch.Store = DefaultStoreID
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}
