package ingest

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
)

// sweepBatchLimit caps how many stalled documents one sweep picks up.
const sweepBatchLimit = 20

// Sweeper periodically retries documents that are still unprocessed, either
// because ingestion crashed mid-way or because the strict failure policy
// left them behind.
type Sweeper struct {
	ingestor *Ingestor
	store    DocumentStore
	expr     *cronexpr.Expression
}

func NewSweeper(ingestor *Ingestor, st DocumentStore, cronSpec string) (*Sweeper, error) {
	expr, err := cronexpr.Parse(cronSpec)
	if err != nil {
		return nil, err
	}
	return &Sweeper{ingestor: ingestor, store: st, expr: expr}, nil
}

// Run blocks until ctx is cancelled, firing a sweep at each cron tick.
func (s *Sweeper) Run(ctx context.Context) {
	for {
		next := s.expr.Next(time.Now())
		if next.IsZero() {
			log.Printf("[ingest] sweeper cron has no next activation, stopping")
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(next)):
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	docs, err := s.store.ListUnprocessedDocuments(ctx, sweepBatchLimit)
	if err != nil {
		log.Printf("[ingest] sweep: list unprocessed: %v", err)
		return
	}
	for _, doc := range docs {
		if ctx.Err() != nil {
			return
		}
		if err := s.ingestor.Process(ctx, doc); err != nil {
			log.Printf("[ingest] sweep: reprocess document %s: %v", doc.ID, err)
		}
	}
}
