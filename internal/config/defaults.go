package config

import "time"

const dataRoot = "/usr/local/var/usine/data"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Log.MaxSizeMB == 0 {
		cfg.Log.MaxSizeMB = 50
	}
	if cfg.Log.MaxBackups == 0 {
		cfg.Log.MaxBackups = 3
	}
	if cfg.Log.MaxAgeDays == 0 {
		cfg.Log.MaxAgeDays = 28
	}
	if cfg.Log.RingSize == 0 {
		cfg.Log.RingSize = 1000
	}

	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 60 * time.Second
	}

	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = dataRoot + "/db/usine.db"
	}
	if cfg.Storage.BleveIndexPath == "" {
		cfg.Storage.BleveIndexPath = dataRoot + "/indices/bleve"
	}
	if cfg.Storage.VectorIndexPath == "" {
		cfg.Storage.VectorIndexPath = dataRoot + "/indices/vectors.bin"
	}
	if cfg.Storage.VectorIndexType == "" {
		cfg.Storage.VectorIndexType = "memory"
	}
	if cfg.Storage.VectorMetric == "" {
		cfg.Storage.VectorMetric = "cosine"
	}
	if cfg.Storage.ChromemPath == "" {
		cfg.Storage.ChromemPath = dataRoot + "/indices/chromem"
	}

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "mock"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 30 * time.Second
	}
	if cfg.Embedding.MaxRetries == 0 {
		cfg.Embedding.MaxRetries = 3
	}
	if cfg.Embedding.Provider == "onnx" && cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = dataRoot + "/models/bge-small-en-v1.5.onnx"
	}

	if cfg.Ingest.ChunkSize == 0 {
		cfg.Ingest.ChunkSize = 512
	}
	if cfg.Ingest.ChunkOverlap == 0 {
		cfg.Ingest.ChunkOverlap = 64
	}
	if cfg.Ingest.MaxFileBytes == 0 {
		cfg.Ingest.MaxFileBytes = 32 << 20
	}
	if cfg.Ingest.Extensions == nil {
		cfg.Ingest.Extensions = []string{".txt", ".md", ".rst", ".pdf", ".docx", ".odt", ".rtf", ".xlsx"}
	}

	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 5
	}
	if cfg.Retrieval.MaxTopK == 0 {
		cfg.Retrieval.MaxTopK = 50
	}
	if cfg.Retrieval.MinScore == 0 {
		cfg.Retrieval.MinScore = 0.2
	}
	if cfg.Retrieval.KeywordWeight == 0 {
		cfg.Retrieval.KeywordWeight = 0.3
	}
	if cfg.Retrieval.TitleBoost == 0 {
		cfg.Retrieval.TitleBoost = 3.0
	}

	if cfg.Window.MaxContextTokens == 0 {
		cfg.Window.MaxContextTokens = 4096
	}
	if cfg.Window.ReserveTokens == 0 {
		cfg.Window.ReserveTokens = 1024
	}
	if cfg.Window.HardLimitTokens == 0 {
		cfg.Window.HardLimitTokens = 4 * cfg.Window.MaxContextTokens
	}

	if cfg.Session.IdleTTL == 0 {
		cfg.Session.IdleTTL = 30 * time.Minute
	}
	if cfg.Session.EvictInterval == 0 {
		cfg.Session.EvictInterval = time.Minute
	}
	if cfg.Session.BusyPolicy == "" {
		cfg.Session.BusyPolicy = "queue"
	}

	if cfg.Backend.BaseURL == "" {
		cfg.Backend.BaseURL = "http://127.0.0.1:52625/v1"
	}
	if cfg.Backend.Model == "" {
		cfg.Backend.Model = "fastflow-hx"
	}
	if cfg.Backend.PollInterval == 0 {
		cfg.Backend.PollInterval = 2 * time.Second
	}
	if cfg.Backend.ProbeTimeout == 0 {
		cfg.Backend.ProbeTimeout = 2 * time.Second
	}
	if cfg.Backend.Freshness == 0 {
		cfg.Backend.Freshness = 5 * cfg.Backend.PollInterval
	}
	if cfg.Backend.RequestTimeout == 0 {
		cfg.Backend.RequestTimeout = 120 * time.Second
	}
	if cfg.Backend.RetryBackoff == 0 {
		cfg.Backend.RetryBackoff = 500 * time.Millisecond
	}

	if cfg.Companion.BaseURL == "" {
		cfg.Companion.BaseURL = "http://127.0.0.1:52626/v1"
	}
	if cfg.Companion.PollInterval == 0 {
		cfg.Companion.PollInterval = 5 * time.Second
	}
	if cfg.Companion.ProbeTimeout == 0 {
		cfg.Companion.ProbeTimeout = 2 * time.Second
	}
	if cfg.Companion.Freshness == 0 {
		cfg.Companion.Freshness = 5 * cfg.Companion.PollInterval
	}
	if cfg.Companion.Timeout == 0 {
		cfg.Companion.Timeout = 10 * time.Second
	}
	if cfg.Companion.EnrichmentTTL == 0 {
		cfg.Companion.EnrichmentTTL = 10 * time.Minute
	}

	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = append([]string(nil), cfg.Ingest.Extensions...)
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}
