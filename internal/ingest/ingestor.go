package ingest

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/ak-palla/saas-chatbot-sub001/config"
	"github.com/ak-palla/saas-chatbot-sub001/internal/llm"
	"github.com/ak-palla/saas-chatbot-sub001/internal/store"
)

// embedBatchSize bounds one embeddings request; large documents are split
// into several provider calls.
const embedBatchSize = 64

// DocumentStore is the persistence surface the ingestor needs.
type DocumentStore interface {
	ReplaceDocumentChunks(ctx context.Context, documentID string, records []store.ChunkRecord) error
	MarkDocumentProcessed(ctx context.Context, id string, processed bool, metadata map[string]interface{}) error
	ListUnprocessedDocuments(ctx context.Context, limit int) ([]store.Document, error)
}

// IndexedChunk is what the keyword index needs about one stored chunk.
type IndexedChunk struct {
	ID      string
	Content string
}

// KeywordIndexer receives chunk text for the keyword fallback index.
type KeywordIndexer interface {
	IndexChunks(chatbotID, documentID string, chunks []IndexedChunk) error
}

// Ingestor turns an uploaded document into embedded chunks. Processing is
// idempotent per document: chunks are replaced wholesale, never appended.
type Ingestor struct {
	store    DocumentStore
	embedder llm.Embedder
	chunker  *Chunker
	keyword  KeywordIndexer
	cfg      config.RAGConfig
}

func NewIngestor(st DocumentStore, embedder llm.Embedder, keyword KeywordIndexer, cfg config.RAGConfig) (*Ingestor, error) {
	chunker, err := NewChunker(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	return &Ingestor{store: st, embedder: embedder, chunker: chunker, keyword: keyword, cfg: cfg}, nil
}

// Process chunks, embeds and stores one document. A document with no usable
// text is marked processed with zero chunks. When an embedding batch fails
// past the retry bound, the failure policy decides: lenient stores the
// surviving chunks and marks the document processed with the failure count
// recorded; strict leaves the document unprocessed for the sweeper.
func (in *Ingestor) Process(ctx context.Context, doc store.Document) error {
	chunks := in.chunker.Split(doc.Content)
	if len(chunks) == 0 {
		if err := in.store.ReplaceDocumentChunks(ctx, doc.ID, nil); err != nil {
			return fmt.Errorf("clear chunks: %w", err)
		}
		return in.store.MarkDocumentProcessed(ctx, doc.ID, true, map[string]interface{}{"chunks": 0})
	}

	var records []store.ChunkRecord
	failed := 0
	for start := 0; start < len(chunks); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}
		vecs, err := in.embedBatch(ctx, texts)
		if err != nil {
			if in.cfg.FailurePolicy == "strict" {
				return fmt.Errorf("embed chunks %d..%d of document %s: %w", start, end-1, doc.ID, err)
			}
			log.Printf("[ingest] document %s: embedding batch %d..%d failed, skipping: %v", doc.ID, start, end-1, err)
			failed += len(batch)
			continue
		}
		for i, c := range batch {
			records = append(records, store.ChunkRecord{
				ID:         uuid.NewString(),
				DocumentID: doc.ID,
				ChunkIndex: c.Index,
				Content:    c.Text,
				Vector:     llm.Normalize(vecs[i]),
				Metadata:   map[string]interface{}{"start": c.Start},
			})
		}
	}

	if err := in.store.ReplaceDocumentChunks(ctx, doc.ID, records); err != nil {
		return fmt.Errorf("store chunks: %w", err)
	}

	if in.keyword != nil {
		indexed := make([]IndexedChunk, len(records))
		for i, r := range records {
			indexed[i] = IndexedChunk{ID: r.ID, Content: r.Content}
		}
		if err := in.keyword.IndexChunks(doc.ChatbotID, doc.ID, indexed); err != nil {
			log.Printf("[ingest] document %s: keyword indexing failed: %v", doc.ID, err)
		}
	}

	meta := map[string]interface{}{"chunks": len(records)}
	if failed > 0 {
		meta["failed_chunks"] = failed
	}
	return in.store.MarkDocumentProcessed(ctx, doc.ID, true, meta)
}

// embedBatch calls the embedder with bounded retries and doubling backoff.
func (in *Ingestor) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	attempts := in.cfg.MaxRetries
	if attempts <= 0 {
		attempts = 1
	}
	backoff := in.cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 300 * time.Millisecond
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
				backoff *= 2
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		vecs, err := in.embedder.Embed(ctx, texts)
		if err == nil {
			if len(vecs) != len(texts) {
				return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(texts))
			}
			return vecs, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}
