package indexer

import "fmt"

// Ingestion stages reported by IngestionError.
const (
	StageChunk   = "chunk"
	StageEmbed   = "embed"
	StageValid   = "validate"
	StageCommit  = "commit"
	StageExtract = "extract"
)

// IngestionError reports which stage of ingesting a source failed.
type IngestionError struct {
	SourceID string
	Stage    string
	Err      error
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("ingest %s: %s: %v", e.SourceID, e.Stage, e.Err)
}

func (e *IngestionError) Unwrap() error { return e.Err }
