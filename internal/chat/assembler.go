package chat

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ak-palla/saas-chatbot-sub001/config"
	"github.com/ak-palla/saas-chatbot-sub001/internal/llm"
	"github.com/ak-palla/saas-chatbot-sub001/internal/retrieval"
	"github.com/ak-palla/saas-chatbot-sub001/internal/store"
)

// minSnippetTokens is the smallest truncated snippet worth including; below
// this the leftover budget goes to history instead.
const minSnippetTokens = 16

const contextPreamble = "Use the following context from the knowledge base when it is relevant. If the context does not cover the question, say so instead of guessing."

// Assembler builds the provider prompt for one turn under a fixed token
// budget. Allocation order is system prompt, then the latest user message,
// then retrieved snippets by decreasing similarity, then prior history
// newest-first. Assembly is deterministic: the same inputs always produce
// the same prompt.
type Assembler struct {
	budget       int
	historyLimit int
}

func NewAssembler(cfg config.ChatConfig) *Assembler {
	return &Assembler{budget: cfg.TokenBudget, historyLimit: cfg.HistoryLimit}
}

// Assemble returns the prompt messages in provider order: system (with the
// context block appended), history oldest-first, latest user message last.
// Returns ErrBudgetExceeded when the system prompt and user message alone
// overflow the budget.
func (a *Assembler) Assemble(systemPrompt string, history []store.Message, userMsg string, snippets []retrieval.Snippet) ([]llm.Message, error) {
	remaining := a.budget
	remaining -= llm.EstimateTokens(systemPrompt)
	remaining -= llm.EstimateTokens(userMsg)
	if remaining < 0 {
		return nil, ErrBudgetExceeded
	}

	contextBlock, remaining := a.buildContext(snippets, remaining)
	kept := a.selectHistory(history, remaining)

	system := systemPrompt
	if contextBlock != "" {
		system = systemPrompt + "\n\n" + contextBlock
	}

	messages := make([]llm.Message, 0, len(kept)+2)
	messages = append(messages, llm.Message{Role: "system", Content: system})
	for _, m := range kept {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, llm.Message{Role: "user", Content: userMsg})
	return messages, nil
}

// buildContext greedily packs snippets into the budget. The last snippet
// that does not fit whole is truncated to the remaining budget; anything
// after it is dropped.
func (a *Assembler) buildContext(snippets []retrieval.Snippet, remaining int) (string, int) {
	if len(snippets) == 0 || remaining <= 0 {
		return "", remaining
	}

	// The +2 covers the joining newlines around the preamble; each entry
	// is charged one extra token for its own separator.
	preambleTokens := llm.EstimateTokens(contextPreamble) + 2
	if remaining <= preambleTokens+minSnippetTokens {
		return "", remaining
	}
	remaining -= preambleTokens

	var parts []string
	for _, sn := range snippets {
		entry := formatSnippet(sn)
		tokens := llm.EstimateTokens(entry) + 1
		if tokens <= remaining {
			parts = append(parts, entry)
			remaining -= tokens
			continue
		}
		if remaining >= minSnippetTokens {
			header := llm.EstimateTokens(formatSnippet(retrieval.Snippet{Filename: sn.Filename})) + 1
			truncated := truncateToTokens(sn.Content, remaining-header)
			if truncated != "" {
				entry = formatSnippet(retrieval.Snippet{Filename: sn.Filename, Content: truncated})
				parts = append(parts, entry)
				remaining -= llm.EstimateTokens(entry) + 1
			}
		}
		break
	}
	if len(parts) == 0 {
		return "", remaining + preambleTokens
	}
	return contextPreamble + "\n\n" + strings.Join(parts, "\n\n"), remaining
}

// selectHistory keeps the most recent whole messages that fit the budget,
// returned oldest-first.
func (a *Assembler) selectHistory(history []store.Message, remaining int) []store.Message {
	if a.historyLimit > 0 && len(history) > a.historyLimit {
		history = history[len(history)-a.historyLimit:]
	}
	cut := len(history)
	for cut > 0 {
		tokens := llm.EstimateTokens(history[cut-1].Content)
		if tokens > remaining {
			break
		}
		remaining -= tokens
		cut--
	}
	return history[cut:]
}

func formatSnippet(sn retrieval.Snippet) string {
	source := sn.Filename
	if source == "" {
		source = "knowledge base"
	}
	return fmt.Sprintf("[source: %s]\n%s", source, sn.Content)
}

// truncateToTokens cuts text to the token allowance. EstimateTokens counts
// bytes, so the cut is measured in bytes and backed up to a rune boundary.
func truncateToTokens(text string, tokens int) string {
	if tokens <= 0 {
		return ""
	}
	limit := tokens * 4
	if len(text) <= limit {
		return text
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
