package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/gat45/usine-a-gaz/internal/config"
	"github.com/gat45/usine-a-gaz/internal/embedding"
	"github.com/gat45/usine-a-gaz/internal/extract"
	"github.com/gat45/usine-a-gaz/internal/fileid"
	"github.com/gat45/usine-a-gaz/internal/keyword"
	"github.com/gat45/usine-a-gaz/internal/models"
	"github.com/gat45/usine-a-gaz/internal/storage"
	"github.com/gat45/usine-a-gaz/internal/vector"
	"github.com/gat45/usine-a-gaz/pkg/utils"
	"go.uber.org/zap"
)

const previewLen = 240

// Indexer commits documents to storage, the vector index and the keyword index.
type Indexer struct {
	storage      storage.Storage
	embedder     embedding.Embedder
	vectorIndex  vector.VectorIndex
	keywordIndex keyword.KeywordIndex
	chunker      *Chunker
	config       *config.IngestConfig
	extractor    *extract.Extractor
	logger       *zap.Logger

	// writeMu serializes commits so a source is never half-replaced by two writers.
	writeMu sync.Mutex
}

// IngestResult describes what one ingestion changed.
type IngestResult struct {
	DocumentID string `json:"document_id"`
	Chunks     int    `json:"chunks"`
	Removed    int    `json:"removed"`
	Skipped    bool   `json:"skipped,omitempty"`
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = l }
}

// NewIndexer creates an indexer with the given dependencies.
// extractor may be nil; when nil, IngestFile treats all files as plain text.
func NewIndexer(
	storage storage.Storage,
	embedder embedding.Embedder,
	vectorIndex vector.VectorIndex,
	keywordIndex keyword.KeywordIndex,
	cfg *config.IngestConfig,
	extractor *extract.Extractor,
	opts ...IndexerOption,
) (*Indexer, error) {
	chunker, err := NewChunker(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	if embedder.Dimensions() != vectorIndex.Dimensions() {
		return nil, &vector.DimensionMismatchError{Op: "new indexer", Got: embedder.Dimensions(), Want: vectorIndex.Dimensions()}
	}
	idx := &Indexer{
		storage:      storage,
		embedder:     embedder,
		vectorIndex:  vectorIndex,
		keywordIndex: keywordIndex,
		chunker:      chunker,
		config:       cfg,
		extractor:    extractor,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx, nil
}

// Ingest chunks, embeds and commits text under sourceID. An empty sourceID gets a
// content-derived ID.
func (idx *Indexer) Ingest(ctx context.Context, text, sourceID string) (*IngestResult, error) {
	return idx.IngestDocument(ctx, &models.DocumentInput{ID: sourceID, Content: text})
}

// IngestDocument chunks, embeds and commits a document. Every vector is checked against
// the index dimensionality before anything is written. Re-ingesting a source replaces its
// chunks: unchanged chunks keep their IDs and chunks no longer produced are removed.
func (idx *Indexer) IngestDocument(ctx context.Context, input *models.DocumentInput) (*IngestResult, error) {
	content := Preprocess(input.Content)
	docID := input.ID
	if docID == "" {
		docID = fileid.DocumentID(content)
	}
	title := input.Title
	if title == "" {
		title = docID
	}
	if content == "" {
		// Nothing to store unless an earlier version has to be cleared.
		if _, err := idx.storage.GetDocument(ctx, docID); errors.Is(err, storage.ErrNotFound) {
			return &IngestResult{DocumentID: docID}, nil
		} else if err != nil {
			return nil, &IngestionError{SourceID: docID, Stage: StageCommit, Err: err}
		}
	}

	chunks := dedupe(idx.chunker.Chunk(docID, content))
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Content
	}
	var vectors [][]float32
	if len(texts) > 0 {
		var err error
		vectors, err = idx.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, &IngestionError{SourceID: docID, Stage: StageEmbed, Err: err}
		}
		if len(vectors) != len(chunks) {
			return nil, &IngestionError{SourceID: docID, Stage: StageEmbed,
				Err: fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))}
		}
	}
	want := idx.vectorIndex.Dimensions()
	for i, v := range vectors {
		if len(v) != want {
			return nil, &IngestionError{SourceID: docID, Stage: StageValid,
				Err: &vector.DimensionMismatchError{Op: fmt.Sprintf("chunk %d", i), Got: len(v), Want: want}}
		}
		chunks[i].Embedding = v
	}

	idx.writeMu.Lock()
	defer idx.writeMu.Unlock()

	previous, err := idx.storage.GetChunksByDocumentID(ctx, docID)
	if err != nil {
		return nil, &IngestionError{SourceID: docID, Stage: StageCommit, Err: err}
	}
	keep := make(map[string]struct{}, len(chunks))
	ids := make([]string, len(chunks))
	for i, ch := range chunks {
		keep[ch.ID] = struct{}{}
		ids[i] = ch.ID
	}
	var stale []string
	for _, ch := range previous {
		if _, ok := keep[ch.ID]; !ok {
			stale = append(stale, ch.ID)
		}
	}

	doc := &models.Document{ID: docID, Title: title, Content: content, Metadata: input.Metadata}
	if err := idx.storage.UpsertDocument(ctx, doc); err != nil {
		return nil, &IngestionError{SourceID: docID, Stage: StageCommit, Err: fmt.Errorf("store document: %w", err)}
	}
	if err := idx.storage.ReplaceChunks(ctx, docID, chunks); err != nil {
		return nil, &IngestionError{SourceID: docID, Stage: StageCommit, Err: fmt.Errorf("store chunks: %w", err)}
	}
	if len(ids) > 0 {
		if err := idx.vectorIndex.Add(ctx, ids, vectors); err != nil {
			return nil, &IngestionError{SourceID: docID, Stage: StageCommit, Err: fmt.Errorf("index vectors: %w", err)}
		}
	}
	if err := idx.vectorIndex.Remove(ctx, stale); err != nil {
		return nil, &IngestionError{SourceID: docID, Stage: StageCommit, Err: fmt.Errorf("remove stale vectors: %w", err)}
	}
	if err := idx.keywordIndex.Delete(ctx, stale); err != nil {
		return nil, &IngestionError{SourceID: docID, Stage: StageCommit, Err: fmt.Errorf("remove stale keywords: %w", err)}
	}
	if err := idx.keywordIndex.Index(ctx, title, chunks); err != nil {
		return nil, &IngestionError{SourceID: docID, Stage: StageCommit, Err: fmt.Errorf("index keywords: %w", err)}
	}

	idx.logger.Debug("indexer document ingested",
		zap.String("doc_id", docID),
		zap.Int("chunks", len(chunks)),
		zap.Int("removed", len(stale)))
	return &IngestResult{DocumentID: docID, Chunks: len(chunks), Removed: len(stale)}, nil
}

// dedupe drops repeated chunks of the same document; identical text maps to one ID.
func dedupe(chunks []*models.DocumentChunk) []*models.DocumentChunk {
	seen := make(map[string]struct{}, len(chunks))
	out := chunks[:0]
	for _, ch := range chunks {
		if _, ok := seen[ch.ID]; ok {
			continue
		}
		seen[ch.ID] = struct{}{}
		out = append(out, ch)
	}
	return out
}

const (
	metaKeySourcePath  = "source_path"
	metaKeySourceMtime = "source_mtime"
	metaKeySourceSize  = "source_size"
)

// IngestFile reads a file and ingests it. The document ID is derived from the absolute
// path so re-ingesting updates the same document. Files whose extension is not in the
// configured list are refused. Unchanged files (same mtime and size) are skipped.
func (idx *Indexer) IngestFile(ctx context.Context, path string) (*IngestResult, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(absPath))
	if len(idx.config.Extensions) > 0 && !extensionAllowed(ext, idx.config.Extensions) {
		return nil, fmt.Errorf("extension %q not in allowed list", ext)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", absPath)
	}
	docID := fileid.FileDocID(absPath)
	if idx.unchanged(ctx, absPath, docID, info) {
		// Repopulate the keyword index in case it was opened empty.
		if chunks, err := idx.storage.GetChunksByDocumentID(ctx, docID); err == nil && len(chunks) > 0 {
			if err := idx.keywordIndex.Index(ctx, filepath.Base(absPath), chunks); err != nil {
				idx.logger.Warn("indexer keyword refresh failed", zap.String("path", absPath), zap.Error(err))
			}
		}
		idx.logger.Debug("indexer skipping unchanged file", zap.String("path", absPath))
		return &IngestResult{DocumentID: docID, Skipped: true}, nil
	}

	text, err := idx.extractContent(absPath)
	if err != nil {
		return nil, &IngestionError{SourceID: docID, Stage: StageExtract, Err: err}
	}
	return idx.IngestDocument(ctx, &models.DocumentInput{
		ID:      docID,
		Title:   filepath.Base(absPath),
		Content: text,
		Metadata: map[string]interface{}{
			metaKeySourcePath:  absPath,
			metaKeySourceMtime: strconv.FormatInt(info.ModTime().UnixNano(), 10),
			metaKeySourceSize:  strconv.FormatInt(info.Size(), 10),
		},
	})
}

// unchanged reports whether the file is already ingested with the same mtime and size.
func (idx *Indexer) unchanged(ctx context.Context, absPath, docID string, info os.FileInfo) bool {
	doc, err := idx.storage.GetDocument(ctx, docID)
	if err != nil || doc.Metadata == nil {
		return false
	}
	if doc.Metadata[metaKeySourcePath] != absPath {
		return false
	}
	// Stored as strings: UnixNano exceeds the float64 mantissa after a JSON round trip.
	return metadataInt64(doc.Metadata, metaKeySourceMtime) == info.ModTime().UnixNano() &&
		metadataInt64(doc.Metadata, metaKeySourceSize) == info.Size()
}

func metadataInt64(m map[string]interface{}, key string) int64 {
	switch n := m[key].(type) {
	case string:
		x, _ := strconv.ParseInt(n, 10, 64)
		return x
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

// IngestDirectory walks dir recursively and ingests every regular file with an allowed
// and extractable extension. Failures on single files are collected and do not stop
// the walk. Returns the number of files ingested or found unchanged.
func (idx *Indexer) IngestDirectory(ctx context.Context, dir string) (int, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return 0, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return 0, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("not a directory: %s", absDir)
	}
	var (
		n    int
		errs []error
	)
	walkErr := filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if len(idx.config.Extensions) > 0 && !extensionAllowed(ext, idx.config.Extensions) {
			return nil
		}
		if idx.extractor != nil && !extract.Supported(path) {
			return nil
		}
		// Resolve symlinks so only regular files are ingested.
		finfo, statErr := os.Stat(path)
		if statErr != nil || !finfo.Mode().IsRegular() {
			return nil
		}
		if _, err := idx.IngestFile(ctx, path); err != nil {
			idx.logger.Warn("indexer file failed", zap.String("path", path), zap.Error(err))
			errs = append(errs, err)
			return nil
		}
		n++
		return nil
	})
	if walkErr != nil {
		errs = append(errs, walkErr)
	}
	return n, errors.Join(errs...)
}

func (idx *Indexer) extractContent(path string) (string, error) {
	if idx.extractor != nil {
		return idx.extractor.Extract(path)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

func extensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}

// DeleteDocument removes a document from all indices and storage.
// Returns storage.ErrNotFound when the document does not exist.
func (idx *Indexer) DeleteDocument(ctx context.Context, id string) error {
	idx.writeMu.Lock()
	defer idx.writeMu.Unlock()

	chunks, err := idx.storage.GetChunksByDocumentID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get chunks: %w", err)
	}
	chunkIDs := make([]string, len(chunks))
	for i, ch := range chunks {
		chunkIDs[i] = ch.ID
	}
	if err := idx.keywordIndex.Delete(ctx, chunkIDs); err != nil {
		return fmt.Errorf("failed to delete from keyword index: %w", err)
	}
	if err := idx.vectorIndex.Remove(ctx, chunkIDs); err != nil {
		return fmt.Errorf("failed to delete from vector index: %w", err)
	}
	if err := idx.storage.DeleteDocument(ctx, id); err != nil {
		return err
	}
	idx.logger.Debug("indexer document deleted", zap.String("id", id), zap.Int("chunks", len(chunkIDs)))
	return nil
}

// DocumentSummary describes a stored document without returning its full content.
func (idx *Indexer) DocumentSummary(ctx context.Context, id string) (*models.DocumentSummary, error) {
	doc, err := idx.storage.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	chunks, err := idx.storage.GetChunksByDocumentID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get chunks: %w", err)
	}
	return &models.DocumentSummary{
		ID:         doc.ID,
		Title:      doc.Title,
		ChunkCount: len(chunks),
		WordCount:  len(strings.Fields(doc.Content)),
		Preview:    utils.Truncate(doc.Content, previewLen),
		Metadata:   doc.Metadata,
		CreatedAt:  doc.CreatedAt,
		UpdatedAt:  doc.UpdatedAt,
	}, nil
}
