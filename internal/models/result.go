package models

// RetrievedChunk is a chunk returned by retrieval, hydrated from the chunk store.
type RetrievedChunk struct {
	ChunkID       string  `json:"chunk_id"`
	DocumentID    string  `json:"document_id"`
	Title         string  `json:"title,omitempty"`
	Content       string  `json:"content"`
	ChunkIndex    int     `json:"chunk_index"`
	Score         float64 `json:"score"`
	SemanticScore float64 `json:"semantic_score"`
	KeywordScore  float64 `json:"keyword_score,omitempty"`
}

// RetrievalQuery is a request for relevant chunks.
type RetrievalQuery struct {
	Query    string  `json:"query"`
	K        int     `json:"k,omitempty"`
	MinScore float64 `json:"min_score,omitempty"`
	// Keyword fuses BM25 scores into the ranking even when it is off in the config.
	Keyword bool `json:"keyword,omitempty"`
}

// Validate checks the query and applies defaults.
func (q *RetrievalQuery) Validate(defaultK, maxK int) error {
	if q.Query == "" {
		return ErrEmptyQuery
	}
	if q.K <= 0 {
		q.K = defaultK
	}
	if maxK > 0 && q.K > maxK {
		q.K = maxK
	}
	return nil
}
