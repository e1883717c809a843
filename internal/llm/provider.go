package llm

import (
	"context"
	"math"
)

// Message is a single prompt message in provider wire order.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TokenUsage carries provider-reported token counts for one generation.
// Estimated is set when the provider did not report usage and the counts
// were derived from text length instead.
type TokenUsage struct {
	PromptTokens     int64
	CompletionTokens int64
	Estimated        bool
}

// Delta is one increment of a streamed generation. Exactly one Delta per
// stream has Final=true; it carries the usage, or the terminal error.
type Delta struct {
	Text       string
	Cumulative string
	Final      bool
	Usage      TokenUsage
	Err        error
}

// GenerationConfig selects model and sampling parameters for one call.
type GenerationConfig struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Embedder turns texts into fixed-length vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Provider is the language-model capability consumed by the engine.
// Implementations are constructed once and injected; tests substitute
// deterministic fakes.
type Provider interface {
	Embedder
	GenerateWithTokens(ctx context.Context, messages []Message, cfg GenerationConfig) (string, TokenUsage, error)
	// GenerateStream returns an unbuffered channel of deltas. The channel is
	// closed after the final delta. Cancelling ctx aborts the upstream call.
	GenerateStream(ctx context.Context, messages []Message, cfg GenerationConfig) (<-chan Delta, error)
	CalculateCost(usage TokenUsage) float64
}

// Normalize rescales a vector to unit L2 length in place and returns it.
// Applied identically at ingestion and query time so cosine scores from the
// index line up with the [0,1] similarity contract.
func Normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	norm := math.Sqrt(sum)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

// EstimateTokens approximates model token count from byte length. Used when
// the provider does not report usage and for prompt budgeting.
func EstimateTokens(s string) int {
	if s == "" {
		return 0
	}
	return (len(s) + 3) / 4
}
