package chat

import (
	"errors"
	"math/rand"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/ak-palla/saas-chatbot-sub001/config"
	"github.com/ak-palla/saas-chatbot-sub001/internal/llm"
	"github.com/ak-palla/saas-chatbot-sub001/internal/retrieval"
	"github.com/ak-palla/saas-chatbot-sub001/internal/store"
)

func promptTokens(messages []llm.Message) int {
	total := 0
	for _, m := range messages {
		total += llm.EstimateTokens(m.Content)
	}
	return total
}

func TestAssembleOrdering(t *testing.T) {
	a := NewAssembler(config.ChatConfig{TokenBudget: 2000, HistoryLimit: 10})
	history := []store.Message{
		{Role: "user", Content: "earlier question"},
		{Role: "assistant", Content: "earlier answer"},
	}
	snippets := []retrieval.Snippet{
		{Filename: "faq.txt", Content: "refunds take 14 days", Similarity: 0.9},
	}

	messages, err := a.Assemble("You are a support bot.", history, "what about refunds?", snippets)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(messages) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(messages))
	}
	if messages[0].Role != "system" || !strings.Contains(messages[0].Content, "refunds take 14 days") {
		t.Fatalf("system message missing context: %+v", messages[0])
	}
	if !strings.HasPrefix(messages[0].Content, "You are a support bot.") {
		t.Fatalf("system prompt must lead: %q", messages[0].Content)
	}
	if messages[1].Content != "earlier question" || messages[2].Content != "earlier answer" {
		t.Fatalf("history out of order: %+v", messages[1:3])
	}
	if messages[3].Role != "user" || messages[3].Content != "what about refunds?" {
		t.Fatalf("user message must be last: %+v", messages[3])
	}
}

func TestAssembleBudgetExceeded(t *testing.T) {
	a := NewAssembler(config.ChatConfig{TokenBudget: 10})
	_, err := a.Assemble(strings.Repeat("x", 100), nil, strings.Repeat("y", 100), nil)
	if !errors.Is(err, ErrBudgetExceeded) {
		t.Fatalf("expected ErrBudgetExceeded, got %v", err)
	}
}

func TestAssembleDropsOldestHistoryFirst(t *testing.T) {
	a := NewAssembler(config.ChatConfig{TokenBudget: 60, HistoryLimit: 10})
	history := []store.Message{
		{Role: "user", Content: strings.Repeat("old ", 100)},
		{Role: "assistant", Content: "short answer"},
		{Role: "user", Content: "recent question"},
	}

	messages, err := a.Assemble("sys", history, "now?", nil)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	for _, m := range messages {
		if strings.HasPrefix(m.Content, "old old") {
			t.Fatal("oldest oversized message must be dropped first")
		}
	}
	found := false
	for _, m := range messages {
		if m.Content == "recent question" {
			found = true
		}
	}
	if !found {
		t.Fatal("most recent history must be kept")
	}
}

func TestAssembleTruncatesSnippetAtBudget(t *testing.T) {
	a := NewAssembler(config.ChatConfig{TokenBudget: 120})
	snippets := []retrieval.Snippet{
		{Filename: "big.txt", Content: strings.Repeat("alpha beta gamma ", 200), Similarity: 0.9},
	}

	messages, err := a.Assemble("sys", nil, "q", snippets)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if got := promptTokens(messages); got > 120 {
		t.Fatalf("prompt tokens = %d, budget 120", got)
	}
	if !strings.Contains(messages[0].Content, "alpha beta") {
		t.Fatal("truncated snippet should still contribute text")
	}
}

func TestAssembleTruncatesMultibyteSnippet(t *testing.T) {
	a := NewAssembler(config.ChatConfig{TokenBudget: 200})
	snippets := []retrieval.Snippet{
		{Filename: "cjk.txt", Content: strings.Repeat("日", 5000), Similarity: 0.9},
	}

	messages, err := a.Assemble("sys", nil, "q", snippets)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if got := promptTokens(messages); got > 200 {
		t.Fatalf("prompt tokens = %d, budget 200", got)
	}
	if !strings.Contains(messages[0].Content, "日") {
		t.Fatal("truncated snippet should still contribute text")
	}
	if !utf8.ValidString(messages[0].Content) {
		t.Fatal("truncation must not split a rune")
	}
}

func TestAssembleNeverExceedsBudget(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	letters := []rune("abcdefghijklmnopqrstuvwxyz日本語データ消费者рыба")
	word := func(n int) string {
		var b strings.Builder
		for i := 0; i < n; i++ {
			b.WriteRune(letters[rng.Intn(len(letters))])
		}
		return b.String()
	}
	text := func(maxWords int) string {
		n := 1 + rng.Intn(maxWords)
		words := make([]string, n)
		for i := range words {
			words[i] = word(1 + rng.Intn(10))
		}
		return strings.Join(words, " ")
	}

	for trial := 0; trial < 200; trial++ {
		budget := 100 + rng.Intn(2000)
		a := NewAssembler(config.ChatConfig{TokenBudget: budget, HistoryLimit: 20})

		var history []store.Message
		for i := 0; i < rng.Intn(12); i++ {
			role := "user"
			if i%2 == 1 {
				role = "assistant"
			}
			history = append(history, store.Message{Role: role, Content: text(120)})
		}
		var snippets []retrieval.Snippet
		for i := 0; i < rng.Intn(8); i++ {
			snippets = append(snippets, retrieval.Snippet{Filename: word(8) + ".txt", Content: text(200)})
		}

		messages, err := a.Assemble(text(20), history, text(20), snippets)
		if errors.Is(err, ErrBudgetExceeded) {
			continue
		}
		if err != nil {
			t.Fatalf("trial %d: %v", trial, err)
		}
		if got := promptTokens(messages); got > budget {
			t.Fatalf("trial %d: prompt tokens %d exceed budget %d", trial, got, budget)
		}
	}
}

func TestAssembleDeterministic(t *testing.T) {
	a := NewAssembler(config.ChatConfig{TokenBudget: 500, HistoryLimit: 10})
	history := []store.Message{{Role: "user", Content: "hi"}, {Role: "assistant", Content: "hello"}}
	snippets := []retrieval.Snippet{{Filename: "a.txt", Content: "context text"}}

	first, err1 := a.Assemble("sys", history, "question", snippets)
	second, err2 := a.Assemble("sys", history, "question", snippets)
	if err1 != nil || err2 != nil {
		t.Fatalf("Assemble: %v %v", err1, err2)
	}
	if len(first) != len(second) {
		t.Fatal("non-deterministic message count")
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("message %d differs between runs", i)
		}
	}
}
