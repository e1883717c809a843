package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/ak-palla/saas-chatbot-sub001/config"
)

// OpenAIClient implements Provider against the OpenAI-compatible HTTP API.
type OpenAIClient struct {
	cfg          config.OpenAIConfig
	httpClient   *http.Client
	streamClient *http.Client
}

// NewOpenAIClient creates a provider client. The HTTP timeout bounds
// non-streaming calls whole. Streaming calls must outlive it, so their
// client has no overall timeout; instead the configured timeout bounds the
// wait for response headers, and the caller's context governs the body.
func NewOpenAIClient(cfg config.OpenAIConfig) *OpenAIClient {
	return &OpenAIClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		streamClient: &http.Client{
			Transport: &http.Transport{ResponseHeaderTimeout: cfg.Timeout},
		},
	}
}

func (c *OpenAIClient) baseURL() string {
	if c.cfg.BaseURL != "" {
		return strings.TrimRight(c.cfg.BaseURL, "/")
	}
	return "https://api.openai.com/v1"
}

// Embed generates embeddings for the given texts in one batch call.
func (c *OpenAIClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	requestBody := map[string]interface{}{
		"model": c.cfg.EmbeddingModel,
		"input": texts,
	}
	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL()+"/embeddings", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, wrapProviderErr("embed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &ProviderError{Op: "embed", StatusCode: resp.StatusCode}
	}

	var out struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &ProviderError{Op: "embed", Err: err}
	}
	if len(out.Data) != len(texts) {
		return nil, &ProviderError{Op: "embed", Err: fmt.Errorf("expected %d vectors, got %d", len(texts), len(out.Data))}
	}
	vecs := make([][]float32, len(out.Data))
	for i, d := range out.Data {
		vecs[i] = d.Embedding
	}
	return vecs, nil
}

type chatRequest struct {
	Model         string         `json:"model"`
	Messages      []Message      `json:"messages"`
	Temperature   float64        `json:"temperature,omitempty"`
	MaxTokens     int            `json:"max_tokens,omitempty"`
	Stream        bool           `json:"stream,omitempty"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type chatUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

func (c *OpenAIClient) resolve(cfg GenerationConfig) GenerationConfig {
	if cfg.Model == "" {
		cfg.Model = c.cfg.CompletionModel
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = c.cfg.Temperature
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = c.cfg.MaxTokens
	}
	return cfg
}

// GenerateWithTokens performs a blocking completion and returns the final
// text with provider-reported usage.
func (c *OpenAIClient) GenerateWithTokens(ctx context.Context, messages []Message, cfg GenerationConfig) (string, TokenUsage, error) {
	cfg = c.resolve(cfg)
	body, err := json.Marshal(chatRequest{
		Model:       cfg.Model,
		Messages:    messages,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	})
	if err != nil {
		return "", TokenUsage{}, fmt.Errorf("marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL()+"/chat/completions", bytes.NewBuffer(body))
	if err != nil {
		return "", TokenUsage{}, fmt.Errorf("request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", TokenUsage{}, wrapProviderErr("completion", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", TokenUsage{}, &ProviderError{Op: "completion", StatusCode: resp.StatusCode}
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage chatUsage `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", TokenUsage{}, &ProviderError{Op: "completion", Err: err}
	}
	if len(out.Choices) == 0 {
		return "", TokenUsage{}, &ProviderError{Op: "completion", Err: fmt.Errorf("no choices in response")}
	}
	content := out.Choices[0].Message.Content
	usage := TokenUsage{PromptTokens: out.Usage.PromptTokens, CompletionTokens: out.Usage.CompletionTokens}
	if usage.PromptTokens == 0 && usage.CompletionTokens == 0 {
		usage = estimateUsage(messages, content)
	}
	return content, usage, nil
}

// GenerateStream opens a streaming completion. Deltas are written to an
// unbuffered channel so a slow consumer pauses the read loop (and with it
// the HTTP body) instead of buffering the answer in memory. Cancelling ctx
// aborts the upstream request.
func (c *OpenAIClient) GenerateStream(ctx context.Context, messages []Message, cfg GenerationConfig) (<-chan Delta, error) {
	cfg = c.resolve(cfg)
	body, err := json.Marshal(chatRequest{
		Model:         cfg.Model,
		Messages:      messages,
		Temperature:   cfg.Temperature,
		MaxTokens:     cfg.MaxTokens,
		Stream:        true,
		StreamOptions: &streamOptions{IncludeUsage: true},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL()+"/chat/completions", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, wrapProviderErr("completion stream", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &ProviderError{Op: "completion stream", StatusCode: resp.StatusCode}
	}

	out := make(chan Delta)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		var cumulative strings.Builder
		var usage TokenUsage
		sawUsage := false

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "[DONE]" {
				break
			}
			var chunk struct {
				Choices []struct {
					Delta struct {
						Content string `json:"content"`
					} `json:"delta"`
				} `json:"choices"`
				Usage *chatUsage `json:"usage"`
			}
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				continue
			}
			if chunk.Usage != nil {
				usage = TokenUsage{PromptTokens: chunk.Usage.PromptTokens, CompletionTokens: chunk.Usage.CompletionTokens}
				sawUsage = true
			}
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			text := chunk.Choices[0].Delta.Content
			cumulative.WriteString(text)
			select {
			case out <- Delta{Text: text, Cumulative: cumulative.String()}:
			case <-ctx.Done():
				out <- Delta{Cumulative: cumulative.String(), Final: true, Err: ctx.Err()}
				return
			}
		}
		if err := scanner.Err(); err != nil {
			out <- Delta{Cumulative: cumulative.String(), Final: true, Err: wrapProviderErr("completion stream", err)}
			return
		}
		if ctx.Err() != nil {
			out <- Delta{Cumulative: cumulative.String(), Final: true, Err: ctx.Err()}
			return
		}
		if !sawUsage {
			usage = estimateUsage(messages, cumulative.String())
		}
		out <- Delta{Cumulative: cumulative.String(), Final: true, Usage: usage}
	}()
	return out, nil
}

// CalculateCost converts token usage to dollars using configured per-1k rates.
func (c *OpenAIClient) CalculateCost(usage TokenUsage) float64 {
	inputCost := float64(usage.PromptTokens) / 1000.0 * c.cfg.CostPer1KInput
	outputCost := float64(usage.CompletionTokens) / 1000.0 * c.cfg.CostPer1KOutput
	return inputCost + outputCost
}

func estimateUsage(messages []Message, completion string) TokenUsage {
	var promptLen int
	for _, m := range messages {
		promptLen += len(m.Content)
	}
	return TokenUsage{
		PromptTokens:     int64((promptLen + 3) / 4),
		CompletionTokens: int64((len(completion) + 3) / 4),
		Estimated:        true,
	}
}
