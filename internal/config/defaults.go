package config

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.Root == "" {
		cfg.Storage.Root = "/usr/local/var/vecdex/data/indices"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "openai"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "text-embedding-3-small"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 1536
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 64
	}
	if cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Embedding.APIKeyEnv == "" {
		cfg.Embedding.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Embedding.MaxRetries == 0 {
		cfg.Embedding.MaxRetries = 3
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Index.CompactThreshold == 0 {
		cfg.Index.CompactThreshold = 0.30
	}
	if cfg.Index.Durability == "" {
		cfg.Index.Durability = "batch"
	}
	if cfg.Chunking.ChunkSize == 0 {
		cfg.Chunking.ChunkSize = 1000
	}
	if cfg.Chunking.ChunkOverlap == 0 {
		cfg.Chunking.ChunkOverlap = 200
	}
	if cfg.Search.DefaultK == 0 {
		cfg.Search.DefaultK = 10
	}
	if cfg.Search.MaxK == 0 {
		cfg.Search.MaxK = 100
	}
	if cfg.Sources.MaxFileSize == 0 {
		cfg.Sources.MaxFileSize = 50 << 20
	}
	if cfg.Sources.Extensions == nil {
		cfg.Sources.Extensions = []string{".txt", ".md", ".rst", ".html", ".pdf", ".docx", ".xlsx"}
	}
	if cfg.Sources.WatchDebounce == 0 {
		cfg.Sources.WatchDebounce = 500
	}
	// WatchRecursive defaults to true when unset (nil).
	if len(cfg.Sources.Directories) > 0 && cfg.Sources.WatchRecursive == nil {
		t := true
		cfg.Sources.WatchRecursive = &t
	}
}
