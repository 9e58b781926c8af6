package keyword

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/gat45/usine-a-gaz/internal/models"
)

// chunkDoc is the shape stored in Bleve for each chunk.
type chunkDoc struct {
	DocumentID string `json:"document_id"`
	Title      string `json:"title"`
	Content    string `json:"content"`
}

// titleReplacer splits file names like "quarterly_report.pdf" into words; the standard
// tokenizer keeps "report.pdf" as a single token.
var titleReplacer = strings.NewReplacer("_", " ", ".", " ")

// BleveIndex implements KeywordIndex using Bleve.
type BleveIndex struct {
	index bleve.Index
}

func newMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()
	// standard analyzer: lowercase + tokenize, no stemming, so "bayes" matches "Bayes"
	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("content", textFieldMapping)
	docMapping.AddFieldMappingsAt("title", textFieldMapping)
	docMapping.AddFieldMappingsAt("document_id", bleve.NewKeywordFieldMapping())
	im.AddDocumentMapping("chunk", docMapping)
	im.DefaultType = "chunk"
	im.DefaultMapping = docMapping
	return im
}

// NewBleveIndex creates or opens a Bleve index at path. An empty path creates an
// in-memory index. If the mapping changes, remove the index directory to force a rebuild.
func NewBleveIndex(path string) (*BleveIndex, error) {
	if path == "" {
		index, err := bleve.NewMemOnly(newMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory Bleve index: %w", err)
		}
		return &BleveIndex{index: index}, nil
	}
	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}
	index, err := bleve.New(path, newMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// Index writes all chunks in a single batch.
func (b *BleveIndex) Index(ctx context.Context, title string, chunks []*models.DocumentChunk) error {
	batch := b.index.NewBatch()
	title = titleReplacer.Replace(title)
	for _, c := range chunks {
		if err := batch.Index(c.ID, chunkDoc{DocumentID: c.DocumentID, Title: title, Content: c.Content}); err != nil {
			return fmt.Errorf("batch index %s: %w", c.ID, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("Bleve batch failed: %w", err)
	}
	return nil
}

// Delete removes chunks from the index.
func (b *BleveIndex) Delete(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	batch := b.index.NewBatch()
	for _, id := range chunkIDs {
		batch.Delete(id)
	}
	return b.index.Batch(batch)
}

// Search runs a match query and returns up to limit results. With TitleBoost > 1
// title and content are queried separately and merged additively.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error) {
	if strings.TrimSpace(query) == "" || limit <= 0 {
		return nil, nil
	}
	var o SearchOptions
	if opts != nil {
		o = *opts
	}
	if o.Fuzziness <= 0 {
		o.Fuzziness = 1
	}
	if o.TitleBoost <= 1 {
		hits, err := b.run(ctx, b.buildQuery(query, o, ""), limit)
		if err != nil {
			return nil, err
		}
		out := make([]*KeywordResult, 0, len(hits))
		for id, score := range hits {
			out = append(out, &KeywordResult{ID: id, Score: score})
		}
		return sortResults(out, limit), nil
	}

	reqSize := limit * 2
	if reqSize < 50 {
		reqSize = 50
	}
	titleHits, err := b.run(ctx, b.buildQuery(query, o, "title"), reqSize)
	if err != nil {
		return nil, err
	}
	contentHits, err := b.run(ctx, b.buildQuery(query, o, "content"), reqSize)
	if err != nil {
		return nil, err
	}
	scores := make(map[string]float64, len(titleHits)+len(contentHits))
	for id, s := range titleHits {
		scores[id] += s * o.TitleBoost
	}
	for id, s := range contentHits {
		scores[id] += s
	}
	out := make([]*KeywordResult, 0, len(scores))
	for id, s := range scores {
		out = append(out, &KeywordResult{ID: id, Score: s})
	}
	return sortResults(out, limit), nil
}

func (b *BleveIndex) run(ctx context.Context, q blevequery.Query, size int) (map[string]float64, error) {
	req := bleve.NewSearchRequest(q)
	req.Size = size
	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	hits := make(map[string]float64, len(res.Hits))
	for _, h := range res.Hits {
		hits[h.ID] = h.Score
	}
	return hits, nil
}

// buildQuery returns a match query, or a disjunction of fuzzy term queries when fuzzy
// matching is on. An empty field searches all fields.
func (b *BleveIndex) buildQuery(query string, o SearchOptions, field string) blevequery.Query {
	terms := strings.Fields(strings.ToLower(query))
	if !o.FuzzyEnabled || len(terms) == 0 {
		mq := bleve.NewMatchQuery(query)
		if field != "" {
			mq.SetField(field)
		}
		return mq
	}
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(o.Fuzziness)
		if field != "" {
			fq.SetField(field)
		}
		queries = append(queries, fq)
	}
	if len(queries) == 1 {
		return queries[0]
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// sortResults orders by score descending (ID ascending on ties) and truncates to limit.
func sortResults(out []*KeywordResult, limit int) []*KeywordResult {
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// DocCount returns the number of indexed chunks.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
