package chat

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/ak-palla/saas-chatbot-sub001/internal/llm"
	"github.com/ak-palla/saas-chatbot-sub001/internal/retrieval"
	"github.com/ak-palla/saas-chatbot-sub001/internal/store"
)

// persistTimeout bounds the post-stream writes. They run on a fresh context
// so a cancelled turn still gets its partial answer persisted.
const persistTimeout = 10 * time.Second

// ConversationStore is the persistence surface the engine needs.
type ConversationStore interface {
	CreateConversation(ctx context.Context, chatbotID, sessionID string) (store.Conversation, error)
	GetConversation(ctx context.Context, id string) (store.Conversation, error)
	AppendMessage(ctx context.Context, msg store.Message) (store.Message, error)
	ListMessages(ctx context.Context, conversationID string, limit int) ([]store.Message, error)
}

// SnippetRetriever answers context queries; nil disables retrieval.
type SnippetRetriever interface {
	Retrieve(ctx context.Context, chatbotID, query string, k int) ([]retrieval.Snippet, error)
}

// UsageRecorder accepts usage records without blocking the caller.
type UsageRecorder interface {
	Record(rec store.UsageRecord)
}

// TurnRequest describes one user turn.
type TurnRequest struct {
	Bot            store.Chatbot
	ConversationID string
	SessionID      string
	UserID         string
	Message        string
	UseRAG         bool
	Endpoint       string
}

// Engine drives one conversation turn: resolve the conversation, persist the
// user message, retrieve context, assemble the prompt, stream the completion
// and persist the outcome. Events flow on an unbuffered channel so a slow
// transport paces the provider stream.
type Engine struct {
	store     ConversationStore
	provider  llm.Provider
	retriever SnippetRetriever
	assembler *Assembler
	meter     UsageRecorder
	history   int
}

func NewEngine(st ConversationStore, provider llm.Provider, retriever SnippetRetriever, assembler *Assembler, meter UsageRecorder, historyLimit int) *Engine {
	return &Engine{
		store:     st,
		provider:  provider,
		retriever: retriever,
		assembler: assembler,
		meter:     meter,
		history:   historyLimit,
	}
}

// RunTurn starts a turn and returns its event stream. Setup errors (unknown
// conversation, budget overflow, provider refusing the stream) are returned
// directly; errors after streaming starts arrive as the terminal event.
// Cancelling ctx aborts the provider stream; the partial answer is persisted
// with Complete=false.
func (e *Engine) RunTurn(ctx context.Context, req TurnRequest) (<-chan Event, error) {
	if req.Message == "" {
		return nil, fmt.Errorf("empty message")
	}

	conv, err := e.resolveConversation(ctx, req)
	if err != nil {
		return nil, err
	}

	history, err := e.store.ListMessages(ctx, conv.ID, e.history)
	if err != nil {
		log.Printf("[chat] conversation %s: loading history failed, continuing without: %v", conv.ID, err)
		history = nil
	}

	if _, err := e.store.AppendMessage(ctx, store.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Role:           "user",
		Content:        req.Message,
		Complete:       true,
	}); err != nil {
		return nil, fmt.Errorf("persist user message: %w", err)
	}

	var snippets []retrieval.Snippet
	if req.UseRAG && req.Bot.RAGEnabled && e.retriever != nil {
		snippets, err = e.retriever.Retrieve(ctx, req.Bot.ID, req.Message, 0)
		if err != nil {
			log.Printf("[chat] conversation %s: retrieval failed, answering without context: %v", conv.ID, err)
			snippets = nil
		}
	}

	prompt, err := e.assembler.Assemble(req.Bot.SystemPrompt, history, req.Message, snippets)
	if err != nil {
		return nil, err
	}

	deltas, err := e.provider.GenerateStream(ctx, prompt, llm.GenerationConfig{
		Model:       req.Bot.Model,
		Temperature: req.Bot.Temperature,
	})
	if err != nil {
		return nil, err
	}

	events := make(chan Event)
	go e.pump(ctx, deltas, events, conv, req, snippets)
	return events, nil
}

func (e *Engine) resolveConversation(ctx context.Context, req TurnRequest) (store.Conversation, error) {
	if req.ConversationID == "" {
		return e.store.CreateConversation(ctx, req.Bot.ID, req.SessionID)
	}
	conv, err := e.store.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return store.Conversation{}, fmt.Errorf("conversation %s: %w", req.ConversationID, err)
	}
	if conv.ChatbotID != req.Bot.ID {
		return store.Conversation{}, fmt.Errorf("conversation %s does not belong to chatbot %s", conv.ID, req.Bot.ID)
	}
	return conv, nil
}

func (e *Engine) pump(ctx context.Context, deltas <-chan llm.Delta, events chan<- Event, conv store.Conversation, req TurnRequest, snippets []retrieval.Snippet) {
	defer close(events)

	for d := range deltas {
		if !d.Final {
			select {
			case events <- Event{Delta: d.Text}:
			case <-ctx.Done():
				// Keep draining; the provider emits its terminal delta
				// after it observes the cancellation.
				continue
			}
			continue
		}

		if d.Err != nil {
			e.finishFailed(conv, req, d)
			select {
			case events <- Event{Err: d.Err, ConversationID: conv.ID}:
			case <-ctx.Done():
			}
			return
		}

		msgID := e.finishComplete(conv, req, d)
		cost := e.provider.CalculateCost(d.Usage)
		select {
		case events <- Event{
			Done:           true,
			Answer:         d.Cumulative,
			MessageID:      msgID,
			ConversationID: conv.ID,
			Usage:          d.Usage,
			Cost:           cost,
			Sources:        snippets,
		}:
		case <-ctx.Done():
		}
		return
	}

	// Stream closed without a terminal delta. Treat as a provider fault.
	select {
	case events <- Event{Err: fmt.Errorf("provider stream ended without result"), ConversationID: conv.ID}:
	case <-ctx.Done():
	}
}

// finishComplete persists the full answer and meters the turn. Persistence
// failures are logged; the answer was already streamed and must not be
// retracted over a storage hiccup.
func (e *Engine) finishComplete(conv store.Conversation, req TurnRequest, d llm.Delta) string {
	pctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	msg := store.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Role:           "assistant",
		Content:        d.Cumulative,
		Complete:       true,
	}
	if _, err := e.store.AppendMessage(pctx, msg); err != nil {
		log.Printf("[chat] conversation %s: persisting answer failed: %v", conv.ID, err)
		msg.ID = ""
	}
	e.record(conv, req, d.Usage)
	return msg.ID
}

// finishFailed persists whatever text was streamed before the failure, with
// estimated usage for the partial completion.
func (e *Engine) finishFailed(conv store.Conversation, req TurnRequest, d llm.Delta) {
	pctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if d.Cumulative != "" {
		if _, err := e.store.AppendMessage(pctx, store.Message{
			ID:             uuid.NewString(),
			ConversationID: conv.ID,
			Role:           "assistant",
			Content:        d.Cumulative,
			Complete:       false,
		}); err != nil {
			log.Printf("[chat] conversation %s: persisting partial answer failed: %v", conv.ID, err)
		}
	}

	usage := d.Usage
	if usage.PromptTokens == 0 && usage.CompletionTokens == 0 {
		usage = llm.TokenUsage{
			CompletionTokens: int64(llm.EstimateTokens(d.Cumulative)),
			Estimated:        true,
		}
	}
	e.record(conv, req, usage)
}

func (e *Engine) record(conv store.Conversation, req TurnRequest, usage llm.TokenUsage) {
	if e.meter == nil {
		return
	}
	e.meter.Record(store.UsageRecord{
		ID:               uuid.NewString(),
		UserID:           req.UserID,
		ChatbotID:        req.Bot.ID,
		ConversationID:   conv.ID,
		Kind:             "chat",
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		Cost:             e.provider.CalculateCost(usage),
		Endpoint:         req.Endpoint,
		Estimated:        usage.Estimated,
	})
}
