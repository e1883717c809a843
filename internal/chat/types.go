package chat

import (
	"errors"

	"github.com/ak-palla/saas-chatbot-sub001/internal/llm"
	"github.com/ak-palla/saas-chatbot-sub001/internal/retrieval"
)

// ErrBudgetExceeded means the system prompt plus the latest user message
// alone do not fit the prompt token budget. The turn is rejected before any
// provider call.
var ErrBudgetExceeded = errors.New("prompt token budget exceeded")

// Event is one increment of a conversation turn as seen by the transport.
// Zero or more delta events are followed by exactly one terminal event:
// either Done with the full answer and usage, or Err.
type Event struct {
	Delta string

	Done           bool
	Answer         string
	MessageID      string
	ConversationID string
	Usage          llm.TokenUsage
	Cost           float64
	Sources        []retrieval.Snippet

	Err error
}
