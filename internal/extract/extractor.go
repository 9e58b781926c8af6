// Package extract provides text extraction from various document formats.
package extract

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnsupportedFormat is returned by Extract for file extensions with no extractor.
var ErrUnsupportedFormat = errors.New("unsupported document format")

// DefaultMaxBytes bounds the size of files read by Extract.
const DefaultMaxBytes = 32 << 20

var supported = map[string]bool{
	".txt": true, ".md": true, ".markdown": true, ".rst": true, ".log": true,
	".csv": true, ".json": true, ".yaml": true, ".yml": true, ".html": true,
	".pdf": true, ".docx": true, ".odt": true, ".rtf": true, ".xlsx": true,
}

// Extractor extracts plain text from document files.
type Extractor struct {
	maxBytes int64
}

// NewExtractor returns an Extractor that refuses files larger than maxBytes
// (DefaultMaxBytes when maxBytes <= 0).
func NewExtractor(maxBytes int64) *Extractor {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Extractor{maxBytes: maxBytes}
}

// Supported reports whether files with the given extension can be extracted.
func Supported(path string) bool {
	return supported[strings.ToLower(filepath.Ext(path))]
}

// Extract reads the file at path and returns its text content.
func (e *Extractor) Extract(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !supported[ext] {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat file: %w", err)
	}
	if info.Size() > e.maxBytes {
		return "", fmt.Errorf("file %s is %d bytes, limit is %d", filepath.Base(path), info.Size(), e.maxBytes)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return e.ExtractBytes(content, ext)
}

// ExtractBytes extracts text from content based on the given extension.
// ext should include the leading dot (e.g. ".pdf"); unknown or empty extensions
// are treated as plain text.
func (e *Extractor) ExtractBytes(content []byte, ext string) (string, error) {
	switch strings.ToLower(ext) {
	case ".pdf":
		return extractPDF(content)
	case ".docx":
		return extractDOCX(content)
	case ".odt", ".rtf":
		return extractWithCat(content)
	case ".xlsx":
		return extractExcel(content)
	default:
		return extractPlain(content)
	}
}
