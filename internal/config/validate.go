package config

import (
	"errors"
	"fmt"
)

// Validate reports every inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		add("server.port %d out of range", c.Server.Port)
	}
	switch c.Storage.VectorIndexType {
	case "memory", "chromem":
	default:
		add("storage.vector_index_type %q (supported: memory, chromem)", c.Storage.VectorIndexType)
	}
	switch c.Storage.VectorMetric {
	case "cosine":
	case "inner_product":
		if c.Storage.VectorIndexType == "chromem" {
			add("storage.vector_metric inner_product is not supported by chromem")
		}
	default:
		add("storage.vector_metric %q (supported: cosine, inner_product)", c.Storage.VectorMetric)
	}
	switch c.Embedding.Provider {
	case "mock", "onnx", "openai", "ollama":
	default:
		add("embedding.provider %q (supported: mock, onnx, openai, ollama)", c.Embedding.Provider)
	}
	if c.Embedding.Dimensions <= 0 {
		add("embedding.dimensions must be positive")
	}
	if c.Ingest.ChunkSize <= 0 {
		add("ingest.chunk_size must be positive")
	}
	if c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		add("ingest.chunk_overlap %d must be in [0, chunk_size)", c.Ingest.ChunkOverlap)
	}
	if c.Retrieval.TopK <= 0 || c.Retrieval.TopK > c.Retrieval.MaxTopK {
		add("retrieval.top_k %d must be in [1, max_top_k=%d]", c.Retrieval.TopK, c.Retrieval.MaxTopK)
	}
	if c.Window.ReserveTokens >= c.Window.MaxContextTokens {
		add("window.reserve_tokens %d must be below max_context_tokens %d", c.Window.ReserveTokens, c.Window.MaxContextTokens)
	}
	if c.Window.HardLimitTokens < c.Window.MaxContextTokens {
		add("window.hard_limit_tokens %d must be at least max_context_tokens %d", c.Window.HardLimitTokens, c.Window.MaxContextTokens)
	}
	switch c.Session.BusyPolicy {
	case "queue", "reject":
	default:
		add("session.busy_policy %q (supported: queue, reject)", c.Session.BusyPolicy)
	}
	if c.Backend.PollInterval <= 0 || c.Backend.Freshness < c.Backend.PollInterval {
		add("backend.freshness must be at least backend.poll_interval")
	}
	return errors.Join(errs...)
}
