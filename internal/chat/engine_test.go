package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/ak-palla/saas-chatbot-sub001/config"
	"github.com/ak-palla/saas-chatbot-sub001/internal/llm"
	"github.com/ak-palla/saas-chatbot-sub001/internal/retrieval"
	"github.com/ak-palla/saas-chatbot-sub001/internal/store"
)

type fakeConvStore struct {
	mu            sync.Mutex
	conversations map[string]store.Conversation
	messages      []store.Message
	nextSeq       int64
}

func newFakeConvStore() *fakeConvStore {
	return &fakeConvStore{conversations: map[string]store.Conversation{}}
}

func (f *fakeConvStore) CreateConversation(ctx context.Context, chatbotID, sessionID string) (store.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv := store.Conversation{ID: fmt.Sprintf("conv-%d", len(f.conversations)+1), ChatbotID: chatbotID, SessionID: sessionID}
	f.conversations[conv.ID] = conv
	return conv, nil
}

func (f *fakeConvStore) GetConversation(ctx context.Context, id string) (store.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.conversations[id]
	if !ok {
		return store.Conversation{}, errors.New("not found")
	}
	return conv, nil
}

func (f *fakeConvStore) AppendMessage(ctx context.Context, msg store.Message) (store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextSeq++
	msg.Seq = f.nextSeq
	f.messages = append(f.messages, msg)
	return msg, nil
}

func (f *fakeConvStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Message
	for _, m := range f.messages {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeConvStore) snapshot() []store.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.Message, len(f.messages))
	copy(out, f.messages)
	return out
}

type scriptedProvider struct {
	deltas      []llm.Delta
	hangAfter   int // emit this many deltas then wait for cancellation
	streamCalls int
}

func (p *scriptedProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("not used")
}

func (p *scriptedProvider) GenerateWithTokens(ctx context.Context, messages []llm.Message, cfg llm.GenerationConfig) (string, llm.TokenUsage, error) {
	return "", llm.TokenUsage{}, errors.New("not used")
}

func (p *scriptedProvider) GenerateStream(ctx context.Context, messages []llm.Message, cfg llm.GenerationConfig) (<-chan llm.Delta, error) {
	p.streamCalls++
	ch := make(chan llm.Delta)
	go func() {
		defer close(ch)
		var cumulative string
		for i, d := range p.deltas {
			if p.hangAfter > 0 && i == p.hangAfter {
				<-ctx.Done()
				ch <- llm.Delta{Cumulative: cumulative, Final: true, Err: ctx.Err()}
				return
			}
			cumulative = d.Cumulative
			select {
			case ch <- d:
			case <-ctx.Done():
				ch <- llm.Delta{Cumulative: cumulative, Final: true, Err: ctx.Err()}
				return
			}
		}
	}()
	return ch, nil
}

func (p *scriptedProvider) CalculateCost(usage llm.TokenUsage) float64 {
	return float64(usage.PromptTokens+usage.CompletionTokens) / 1000
}

type recordingMeter struct {
	mu      sync.Mutex
	records []store.UsageRecord
}

func (m *recordingMeter) Record(rec store.UsageRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
}

func (m *recordingMeter) snapshot() []store.UsageRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.UsageRecord, len(m.records))
	copy(out, m.records)
	return out
}

type countingRetriever struct {
	calls    int
	snippets []retrieval.Snippet
}

func (r *countingRetriever) Retrieve(ctx context.Context, chatbotID, query string, k int) ([]retrieval.Snippet, error) {
	r.calls++
	return r.snippets, nil
}

func testBot() store.Chatbot {
	return store.Chatbot{ID: "bot-1", UserID: "user-1", SystemPrompt: "You help customers.", RAGEnabled: true}
}

func testEngine(st *fakeConvStore, p *scriptedProvider, r SnippetRetriever, m UsageRecorder) *Engine {
	assembler := NewAssembler(config.ChatConfig{TokenBudget: 4000, HistoryLimit: 20})
	return NewEngine(st, p, r, assembler, m, 20)
}

func TestRunTurnStreamsAndPersists(t *testing.T) {
	st := newFakeConvStore()
	provider := &scriptedProvider{deltas: []llm.Delta{
		{Text: "Hel", Cumulative: "Hel"},
		{Text: "lo", Cumulative: "Hello"},
		{Cumulative: "Hello", Final: true, Usage: llm.TokenUsage{PromptTokens: 10, CompletionTokens: 2}},
	}}
	meter := &recordingMeter{}
	retr := &countingRetriever{snippets: []retrieval.Snippet{{ChunkID: "c1", Content: "ctx"}}}
	engine := testEngine(st, provider, retr, meter)

	events, err := engine.RunTurn(context.Background(), TurnRequest{
		Bot: testBot(), UserID: "user-1", Message: "hi", UseRAG: true, Endpoint: "/chat",
	})
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}

	var deltas []string
	var done *Event
	for ev := range events {
		if ev.Err != nil {
			t.Fatalf("unexpected error event: %v", ev.Err)
		}
		if ev.Done {
			d := ev
			done = &d
			continue
		}
		deltas = append(deltas, ev.Delta)
	}
	if len(deltas) != 2 || deltas[0] != "Hel" || deltas[1] != "lo" {
		t.Fatalf("unexpected deltas: %v", deltas)
	}
	if done == nil {
		t.Fatal("no done event")
	}
	if done.Answer != "Hello" || done.ConversationID == "" || done.MessageID == "" {
		t.Fatalf("unexpected done event: %+v", done)
	}
	if len(done.Sources) != 1 {
		t.Fatalf("expected sources on done event, got %d", len(done.Sources))
	}
	if retr.calls != 1 {
		t.Fatalf("retriever calls = %d, want 1", retr.calls)
	}

	msgs := st.snapshot()
	if len(msgs) != 2 {
		t.Fatalf("expected user + assistant persisted, got %d", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[0].Content != "hi" || !msgs[0].Complete {
		t.Fatalf("unexpected user message: %+v", msgs[0])
	}
	if msgs[1].Role != "assistant" || msgs[1].Content != "Hello" || !msgs[1].Complete {
		t.Fatalf("unexpected assistant message: %+v", msgs[1])
	}

	recs := meter.snapshot()
	if len(recs) != 1 {
		t.Fatalf("expected 1 usage record, got %d", len(recs))
	}
	if recs[0].PromptTokens != 10 || recs[0].CompletionTokens != 2 || recs[0].Estimated {
		t.Fatalf("unexpected usage record: %+v", recs[0])
	}
}

func TestRunTurnCancellationPersistsPartial(t *testing.T) {
	st := newFakeConvStore()
	provider := &scriptedProvider{
		deltas:    []llm.Delta{{Text: "partial", Cumulative: "partial"}, {Text: "never", Cumulative: "partialnever"}},
		hangAfter: 1,
	}
	meter := &recordingMeter{}
	engine := testEngine(st, provider, nil, meter)

	ctx, cancel := context.WithCancel(context.Background())
	events, err := engine.RunTurn(ctx, TurnRequest{Bot: testBot(), UserID: "user-1", Message: "hi"})
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}

	first := <-events
	if first.Delta != "partial" {
		t.Fatalf("first event = %+v", first)
	}
	cancel()
	for range events {
	}

	msgs := st.snapshot()
	incomplete := 0
	for _, m := range msgs {
		if m.Role == "assistant" {
			if m.Complete {
				t.Fatalf("cancelled turn persisted a complete answer: %+v", m)
			}
			if m.Content != "partial" {
				t.Fatalf("partial content = %q", m.Content)
			}
			incomplete++
		}
	}
	if incomplete != 1 {
		t.Fatalf("expected exactly one incomplete assistant message, got %d", incomplete)
	}

	recs := meter.snapshot()
	if len(recs) != 1 || !recs[0].Estimated {
		t.Fatalf("expected one estimated usage record, got %+v", recs)
	}
}

func TestRunTurnSkipsRetrievalWhenDisabled(t *testing.T) {
	cases := []struct {
		name   string
		useRAG bool
		botRAG bool
	}{
		{"request opts out", false, true},
		{"bot disabled", true, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := newFakeConvStore()
			provider := &scriptedProvider{deltas: []llm.Delta{
				{Text: "ok", Cumulative: "ok"},
				{Cumulative: "ok", Final: true, Usage: llm.TokenUsage{PromptTokens: 1, CompletionTokens: 1}},
			}}
			retr := &countingRetriever{}
			bot := testBot()
			bot.RAGEnabled = tc.botRAG
			engine := testEngine(st, provider, retr, &recordingMeter{})

			events, err := engine.RunTurn(context.Background(), TurnRequest{Bot: bot, Message: "hi", UseRAG: tc.useRAG})
			if err != nil {
				t.Fatalf("RunTurn: %v", err)
			}
			for range events {
			}
			if retr.calls != 0 {
				t.Fatalf("retriever must not be called, got %d calls", retr.calls)
			}
		})
	}
}

func TestRunTurnContinuesConversation(t *testing.T) {
	st := newFakeConvStore()
	conv, _ := st.CreateConversation(context.Background(), "bot-1", "sess-1")
	provider := &scriptedProvider{deltas: []llm.Delta{
		{Cumulative: "ok", Text: "ok"},
		{Cumulative: "ok", Final: true},
	}}
	engine := testEngine(st, provider, nil, &recordingMeter{})

	events, err := engine.RunTurn(context.Background(), TurnRequest{
		Bot: testBot(), ConversationID: conv.ID, Message: "again",
	})
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	var done Event
	for ev := range events {
		if ev.Done {
			done = ev
		}
	}
	if done.ConversationID != conv.ID {
		t.Fatalf("conversation = %s, want %s", done.ConversationID, conv.ID)
	}
}

func TestRunTurnRejectsForeignConversation(t *testing.T) {
	st := newFakeConvStore()
	conv, _ := st.CreateConversation(context.Background(), "other-bot", "sess-1")
	engine := testEngine(st, &scriptedProvider{}, nil, &recordingMeter{})

	_, err := engine.RunTurn(context.Background(), TurnRequest{Bot: testBot(), ConversationID: conv.ID, Message: "hi"})
	if err == nil {
		t.Fatal("expected error for conversation owned by another chatbot")
	}
}

func TestRunTurnBudgetExceeded(t *testing.T) {
	st := newFakeConvStore()
	assembler := NewAssembler(config.ChatConfig{TokenBudget: 5})
	engine := NewEngine(st, &scriptedProvider{}, nil, assembler, &recordingMeter{}, 20)

	bot := testBot()
	bot.SystemPrompt = "a very long system prompt that does not fit the tiny budget at all"
	_, err := engine.RunTurn(context.Background(), TurnRequest{Bot: bot, Message: "and a long user question on top"})
	if !errors.Is(err, ErrBudgetExceeded) {
		t.Fatalf("expected ErrBudgetExceeded, got %v", err)
	}
}
