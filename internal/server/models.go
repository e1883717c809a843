package server

import (
	"encoding/json"
	"time"
)

// HTTPError is the JSON error envelope returned by the API.
type HTTPError struct {
	Error string `json:"error"`
}

type ChatbotCreateRequest struct {
	Name         string          `json:"name"`
	SystemPrompt string          `json:"system_prompt"`
	Model        string          `json:"model"`
	Temperature  float64         `json:"temperature"`
	RAGEnabled   *bool           `json:"rag_enabled"`
	Appearance   json.RawMessage `json:"appearance"`
}

type ChatbotResponse struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	SystemPrompt string          `json:"system_prompt"`
	Model        string          `json:"model,omitempty"`
	Temperature  float64         `json:"temperature"`
	RAGEnabled   bool            `json:"rag_enabled"`
	Appearance   json.RawMessage `json:"appearance,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

type DocumentResponse struct {
	ID          string                 `json:"id"`
	Filename    string                 `json:"filename"`
	ContentType string                 `json:"content_type"`
	SizeBytes   int64                  `json:"size_bytes"`
	Processed   bool                   `json:"processed"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}

type ChatRequest struct {
	ConversationID string `json:"conversation_id"`
	SessionID      string `json:"session_id"`
	Message        string `json:"message"`
	UseRAG         *bool  `json:"use_rag"`
	Stream         bool   `json:"stream"`
}

type ChatSource struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Filename   string  `json:"filename,omitempty"`
	Similarity float64 `json:"similarity"`
	Keyword    bool    `json:"keyword,omitempty"`
}

type ChatResponse struct {
	ConversationID string       `json:"conversation_id"`
	MessageID      string       `json:"message_id,omitempty"`
	Answer         string       `json:"answer"`
	Sources        []ChatSource `json:"sources,omitempty"`
	Usage          UsageBlock   `json:"usage"`
}

type UsageBlock struct {
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	Cost             float64 `json:"cost"`
	Estimated        bool    `json:"estimated,omitempty"`
}

// streamDelta is the payload of an SSE "delta" frame.
type streamDelta struct {
	Text string `json:"text"`
}

// streamDone is the payload of the terminal SSE "done" frame.
type streamDone struct {
	ConversationID string       `json:"conversation_id"`
	MessageID      string       `json:"message_id,omitempty"`
	Sources        []ChatSource `json:"sources,omitempty"`
	Usage          UsageBlock   `json:"usage"`
}

type MessageResponse struct {
	ID        string    `json:"id"`
	Seq       int64     `json:"seq"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Complete  bool      `json:"complete"`
	CreatedAt time.Time `json:"created_at"`
}
