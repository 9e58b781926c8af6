// Package fileid derives deterministic identifiers for documents and chunks.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
)

const (
	filePrefix  = "file:"
	docPrefix   = "doc_"
	chunkPrefix = "chk_"

	docHexLen   = 32
	chunkHexLen = 24
)

// FileDocID returns a stable document ID for the given absolute path.
// Same path always yields the same ID. Used for index/update/delete by path.
func FileDocID(absolutePath string) string {
	normalized := filepath.Clean(absolutePath)
	hash := sha256.Sum256([]byte(normalized))
	return filePrefix + hex.EncodeToString(hash[:])
}

// DocumentID returns a content-addressed ID for documents submitted without one.
func DocumentID(content string) string {
	hash := sha256.Sum256([]byte(content))
	return docPrefix + hex.EncodeToString(hash[:])[:docHexLen]
}

// ChunkID returns the content-addressed ID of a chunk: identical text in the same
// document always maps to the same ID, so re-ingestion overwrites rather than duplicates.
func ChunkID(documentID, text string) string {
	h := sha256.New()
	h.Write([]byte(documentID))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return chunkPrefix + hex.EncodeToString(h.Sum(nil))[:chunkHexLen]
}
