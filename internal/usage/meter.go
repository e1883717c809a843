package usage

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ak-palla/saas-chatbot-sub001/config"
	"github.com/ak-palla/saas-chatbot-sub001/internal/store"
)

var (
	recordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatbot_usage_records_total",
		Help: "Usage records by write outcome.",
	}, []string{"status"})
	tokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatbot_tokens_total",
		Help: "Tokens metered, by direction.",
	}, []string{"direction"})
	costTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatbot_usage_cost_dollars_total",
		Help: "Accumulated metered cost in dollars.",
	})
)

// RecordStore persists usage records.
type RecordStore interface {
	InsertUsageRecord(ctx context.Context, rec store.UsageRecord) error
}

// Meter accepts usage records from request paths and writes them in the
// background. Record never blocks the caller: a full buffer spills the write
// onto its own goroutine. Metering is best-effort; a record that exhausts
// its retries is logged and dropped, never surfaced to the conversation.
type Meter struct {
	store   RecordStore
	queue   chan store.UsageRecord
	retries int
	backoff time.Duration

	wg       sync.WaitGroup
	shutdown chan struct{}
	once     sync.Once
}

func NewMeter(st RecordStore, cfg config.UsageConfig) *Meter {
	size := cfg.BufferSize
	if size <= 0 {
		size = 256
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 5
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	m := &Meter{
		store:    st,
		queue:    make(chan store.UsageRecord, size),
		retries:  retries,
		backoff:  backoff,
		shutdown: make(chan struct{}),
	}
	m.wg.Add(1)
	go m.drain()
	return m
}

// Record enqueues one usage record.
func (m *Meter) Record(rec store.UsageRecord) {
	rec.CreatedAt = time.Now()
	tokensTotal.WithLabelValues("prompt").Add(float64(rec.PromptTokens))
	tokensTotal.WithLabelValues("completion").Add(float64(rec.CompletionTokens))
	costTotal.Add(rec.Cost)

	select {
	case m.queue <- rec:
	case <-m.shutdown:
		recordsTotal.WithLabelValues("dropped").Inc()
	default:
		// Buffer full. Spill onto a goroutine rather than stall the turn.
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.write(rec)
		}()
	}
}

func (m *Meter) drain() {
	defer m.wg.Done()
	for {
		select {
		case rec := <-m.queue:
			m.write(rec)
		case <-m.shutdown:
			for {
				select {
				case rec := <-m.queue:
					m.write(rec)
				default:
					return
				}
			}
		}
	}
}

func (m *Meter) write(rec store.UsageRecord) {
	backoff := m.backoff
	var lastErr error
	for attempt := 0; attempt < m.retries; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff)
			backoff *= 2
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := m.store.InsertUsageRecord(ctx, rec)
		cancel()
		if err == nil {
			recordsTotal.WithLabelValues("written").Inc()
			return
		}
		lastErr = err
	}
	recordsTotal.WithLabelValues("failed").Inc()
	log.Printf("[usage] dropping record %s after %d attempts: %v", rec.ID, m.retries, lastErr)
}

// Close flushes buffered records and stops the writer.
func (m *Meter) Close() {
	m.once.Do(func() { close(m.shutdown) })
	m.wg.Wait()
}
