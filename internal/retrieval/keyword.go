package retrieval

import (
	"sync"

	"github.com/blevesearch/bleve"

	"github.com/ak-palla/saas-chatbot-sub001/internal/ingest"
)

// keywordChunk is what bleve indexes and what searches hand back.
type keywordChunk struct {
	DocumentID string `json:"document_id"`
	Content    string `json:"content"`
}

type botIndex struct {
	index    bleve.Index
	meta     map[string]keywordChunk // chunk ID -> chunk
	docIDs   map[string][]string     // document ID -> chunk IDs
}

// KeywordIndex is an in-memory BM25 index over chunk text, one bleve index
// per chatbot. It backs retrieval when the embedding provider is down and is
// rebuilt from the store on startup.
type KeywordIndex struct {
	mu   sync.RWMutex
	bots map[string]*botIndex
}

func NewKeywordIndex() *KeywordIndex {
	return &KeywordIndex{bots: make(map[string]*botIndex)}
}

func (k *KeywordIndex) forBot(chatbotID string) (*botIndex, error) {
	if bi, ok := k.bots[chatbotID]; ok {
		return bi, nil
	}
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	bi := &botIndex{
		index:  index,
		meta:   make(map[string]keywordChunk),
		docIDs: make(map[string][]string),
	}
	k.bots[chatbotID] = bi
	return bi, nil
}

// IndexChunks replaces a document's entries in the chatbot's index.
func (k *KeywordIndex) IndexChunks(chatbotID, documentID string, chunks []ingest.IndexedChunk) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	bi, err := k.forBot(chatbotID)
	if err != nil {
		return err
	}
	for _, id := range bi.docIDs[documentID] {
		if err := bi.index.Delete(id); err != nil {
			return err
		}
		delete(bi.meta, id)
	}
	delete(bi.docIDs, documentID)

	ids := make([]string, 0, len(chunks))
	for _, c := range chunks {
		kc := keywordChunk{DocumentID: documentID, Content: c.Content}
		if err := bi.index.Index(c.ID, kc); err != nil {
			return err
		}
		bi.meta[c.ID] = kc
		ids = append(ids, c.ID)
	}
	bi.docIDs[documentID] = ids
	return nil
}

// RemoveDocument drops a document's chunks from the chatbot's index.
func (k *KeywordIndex) RemoveDocument(chatbotID, documentID string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	bi, ok := k.bots[chatbotID]
	if !ok {
		return nil
	}
	for _, id := range bi.docIDs[documentID] {
		if err := bi.index.Delete(id); err != nil {
			return err
		}
		delete(bi.meta, id)
	}
	delete(bi.docIDs, documentID)
	return nil
}

// KeywordHit is one BM25 match. Score is normalized to [0,1] within the
// result set so hits are comparable to vector similarities downstream.
type KeywordHit struct {
	ChunkID    string
	DocumentID string
	Content    string
	Score      float64
}

// Search runs a BM25 query against the chatbot's index.
func (k *KeywordIndex) Search(chatbotID, q string, limit int) ([]KeywordHit, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	bi, ok := k.bots[chatbotID]
	if !ok {
		return nil, nil
	}
	query := bleve.NewQueryStringQuery(q)
	searchReq := bleve.NewSearchRequestOptions(query, limit, 0, false)
	res, err := bi.index.Search(searchReq)
	if err != nil {
		return nil, err
	}
	if len(res.Hits) == 0 {
		return nil, nil
	}

	maxScore := res.Hits[0].Score
	var out []KeywordHit
	for _, hit := range res.Hits {
		chunk, ok := bi.meta[hit.ID]
		if !ok {
			continue
		}
		score := 0.0
		if maxScore > 0 {
			score = hit.Score / maxScore
		}
		out = append(out, KeywordHit{
			ChunkID:    hit.ID,
			DocumentID: chunk.DocumentID,
			Content:    chunk.Content,
			Score:      score,
		})
	}
	return out, nil
}
