package retrieval

import (
	"context"
	"log"

	"github.com/ak-palla/saas-chatbot-sub001/config"
	"github.com/ak-palla/saas-chatbot-sub001/internal/llm"
	"github.com/ak-palla/saas-chatbot-sub001/internal/store"
)

// Snippet is one retrieved piece of context, ready for prompt assembly.
// Keyword marks results that came from the BM25 fallback rather than the
// vector index; their Similarity is a normalized BM25 score, not cosine.
type Snippet struct {
	ChunkID    string
	DocumentID string
	Filename   string
	Content    string
	Similarity float64
	Keyword    bool
}

// ChunkSearcher is the vector-search surface the retriever needs.
type ChunkSearcher interface {
	SearchChunks(ctx context.Context, chatbotID string, vector []float32, k int, minSimilarity float64) ([]store.ChunkSearchResult, error)
}

// Retriever answers "what stored text is relevant to this query" for one
// chatbot. Retrieval is best-effort: when both the embedding provider and
// the keyword fallback are unavailable it returns no snippets rather than
// failing the conversation turn.
type Retriever struct {
	store    ChunkSearcher
	embedder llm.Embedder
	keyword  *KeywordIndex
	cfg      config.RAGConfig
}

func NewRetriever(st ChunkSearcher, embedder llm.Embedder, keyword *KeywordIndex, cfg config.RAGConfig) *Retriever {
	return &Retriever{store: st, embedder: embedder, keyword: keyword, cfg: cfg}
}

// Retrieve returns up to k snippets ordered by decreasing similarity.
func (r *Retriever) Retrieve(ctx context.Context, chatbotID, query string, k int) ([]Snippet, error) {
	if k <= 0 {
		k = r.cfg.TopK
	}
	if k <= 0 {
		k = 5
	}

	vecs, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		log.Printf("[retrieval] chatbot %s: query embedding failed, trying keyword fallback: %v", chatbotID, err)
		return r.keywordFallback(chatbotID, query, k), nil
	}
	if len(vecs) != 1 {
		log.Printf("[retrieval] chatbot %s: embedder returned %d vectors for one query", chatbotID, len(vecs))
		return r.keywordFallback(chatbotID, query, k), nil
	}

	// Over-fetch so near-duplicate suppression still leaves k results.
	results, err := r.store.SearchChunks(ctx, chatbotID, llm.Normalize(vecs[0]), k*3, r.cfg.MinSimilarity)
	if err != nil {
		log.Printf("[retrieval] chatbot %s: vector search failed, trying keyword fallback: %v", chatbotID, err)
		return r.keywordFallback(chatbotID, query, k), nil
	}

	deduped := dedupeByOffset(results, r.cfg.DedupOffsetWindow)
	if len(deduped) > k {
		deduped = deduped[:k]
	}
	snippets := make([]Snippet, len(deduped))
	for i, res := range deduped {
		snippets[i] = Snippet{
			ChunkID:    res.ChunkID,
			DocumentID: res.DocumentID,
			Filename:   res.Filename,
			Content:    res.Content,
			Similarity: res.Similarity,
		}
	}
	return snippets, nil
}

func (r *Retriever) keywordFallback(chatbotID, query string, k int) []Snippet {
	if !r.cfg.KeywordFallback || r.keyword == nil {
		return nil
	}
	hits, err := r.keyword.Search(chatbotID, query, k)
	if err != nil {
		log.Printf("[retrieval] chatbot %s: keyword fallback failed: %v", chatbotID, err)
		return nil
	}
	snippets := make([]Snippet, len(hits))
	for i, h := range hits {
		snippets[i] = Snippet{
			ChunkID:    h.ChunkID,
			DocumentID: h.DocumentID,
			Content:    h.Content,
			Similarity: h.Score,
			Keyword:    true,
		}
	}
	return snippets
}

// dedupeByOffset drops hits from the same document whose source offsets sit
// within window runes of an already-kept hit. Overlapping chunk windows make
// adjacent chunks carry mostly the same text; results arrive ordered by
// similarity, so the kept hit is always the stronger one.
func dedupeByOffset(results []store.ChunkSearchResult, window int) []store.ChunkSearchResult {
	if window <= 0 || len(results) < 2 {
		return results
	}
	kept := make([]store.ChunkSearchResult, 0, len(results))
	for _, cand := range results {
		candStart, candOK := startOffset(cand.Metadata)
		dup := false
		for _, prev := range kept {
			if prev.DocumentID != cand.DocumentID {
				continue
			}
			prevStart, prevOK := startOffset(prev.Metadata)
			if !candOK || !prevOK {
				continue
			}
			diff := candStart - prevStart
			if diff < 0 {
				diff = -diff
			}
			if diff <= window {
				dup = true
				break
			}
		}
		if !dup {
			kept = append(kept, cand)
		}
	}
	return kept
}

// startOffset reads the chunk's rune offset from metadata. JSON round-trips
// store numbers as float64.
func startOffset(meta map[string]interface{}) (int, bool) {
	raw, ok := meta["start"]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}
