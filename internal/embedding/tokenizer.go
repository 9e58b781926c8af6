package embedding

import (
	"hash/fnv"
	"strings"
)

// Tokenizer produces token IDs for BERT-style models (input_ids, attention_mask, token_type_ids).
type Tokenizer interface {
	Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
}

const (
	clsToken  = 101
	sepToken  = 102
	vocabSize = 30000
)

// HashTokenizer is a word-split tokenizer with hash-based token IDs. It is only a
// fallback for models that tolerate approximate vocabularies.
type HashTokenizer struct{}

// Tokenize splits text into lowercased words and produces padded token IDs up to maxTokens.
func (t *HashTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	if maxTokens <= 2 {
		maxTokens = 256
	}
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)

	inputIDs[0] = clsToken
	attentionMask[0] = 1

	pos := 1
	for _, word := range strings.Fields(strings.ToLower(text)) {
		if pos >= maxTokens-1 {
			break
		}
		inputIDs[pos] = tokenID(word)
		attentionMask[pos] = 1
		pos++
	}
	inputIDs[pos] = sepToken
	attentionMask[pos] = 1
	return inputIDs, attentionMask, tokenTypeIDs
}

// tokenID maps a word into the non-special id range [1000, vocabSize).
func tokenID(word string) int64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(word))
	return int64(1000 + h.Sum32()%(vocabSize-1000))
}
