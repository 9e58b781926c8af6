package main

import (
	"fmt"

	"github.com/gat45/usine-a-gaz/internal/config"
	"github.com/gat45/usine-a-gaz/internal/embedding"
	"github.com/gat45/usine-a-gaz/internal/extract"
	"github.com/gat45/usine-a-gaz/internal/indexer"
	"github.com/gat45/usine-a-gaz/internal/keyword"
	"github.com/gat45/usine-a-gaz/internal/search"
	"github.com/gat45/usine-a-gaz/internal/storage"
	"github.com/gat45/usine-a-gaz/internal/vector"
	"go.uber.org/zap"
)

// Components holds the storage and retrieval services shared by the commands.
type Components struct {
	Storage      *storage.SQLiteStorage
	Embedder     embedding.Embedder
	VectorIndex  vector.VectorIndex
	KeywordIndex keyword.KeywordIndex
	Retriever    *search.Retriever
	Indexer      *indexer.Indexer

	snapshotPath string
	logger       *zap.Logger
}

// Close saves the vector snapshot and releases every component.
func (c *Components) Close() {
	if c.VectorIndex != nil {
		if c.snapshotPath != "" {
			if err := c.VectorIndex.Save(c.snapshotPath); err != nil {
				c.logger.Warn("vector index save failed", zap.String("path", c.snapshotPath), zap.Error(err))
			}
		}
		_ = c.VectorIndex.Close()
	}
	if c.KeywordIndex != nil {
		_ = c.KeywordIndex.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	c := &Components{logger: logger}
	ok := false
	defer func() {
		if !ok {
			c.Close()
		}
	}()

	var err error
	if c.Storage, err = storage.NewSQLiteStorage(cfg.Storage.DatabasePath); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	c.Embedder, err = embedding.New(embedding.Options{
		Provider:   cfg.Embedding.Provider,
		Model:      cfg.Embedding.Model,
		ModelPath:  cfg.Embedding.ModelPath,
		BaseURL:    cfg.Embedding.BaseURL,
		APIKey:     cfg.Embedding.APIKey,
		Dimensions: cfg.Embedding.Dimensions,
		MaxTokens:  cfg.Embedding.MaxTokens,
		CacheSize:  cfg.Embedding.CacheSize,
		Timeout:    cfg.Embedding.Timeout,
		MaxRetries: cfg.Embedding.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	c.VectorIndex, err = vector.NewVectorIndex(vector.Options{
		Type:       cfg.Storage.VectorIndexType,
		Dimensions: cfg.Embedding.Dimensions,
		Metric:     cfg.Storage.VectorMetric,
		Dir:        cfg.Storage.ChromemPath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}
	if cfg.Storage.VectorIndexType != string(vector.IndexTypeChromem) {
		c.snapshotPath = cfg.Storage.VectorIndexPath
	}
	if c.snapshotPath != "" {
		if err := c.VectorIndex.Load(c.snapshotPath); err != nil {
			// A snapshot from another embedding setup is discarded; re-ingestion rebuilds it.
			logger.Warn("vector snapshot not loaded", zap.String("path", c.snapshotPath), zap.Error(err))
		}
	}
	logger.Info("vector index initialized",
		zap.String("type", c.VectorIndex.Type()),
		zap.String("metric", string(c.VectorIndex.Metric())),
		zap.Int("vectors", c.VectorIndex.Size()))

	if c.KeywordIndex, err = keyword.NewBleveIndex(cfg.Storage.BleveIndexPath); err != nil {
		return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
	}

	c.Retriever = search.NewRetriever(c.Storage, c.Embedder, c.VectorIndex, c.KeywordIndex, &cfg.Retrieval, search.WithLogger(logger))
	c.Indexer, err = indexer.NewIndexer(c.Storage, c.Embedder, c.VectorIndex, c.KeywordIndex,
		&cfg.Ingest, extract.NewExtractor(cfg.Ingest.MaxFileBytes), indexer.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	ok = true
	return c, nil
}
