// Package llm is the chat-completion and embedding client for the hosted
// model endpoint (OpenAI-compatible).
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"soul-teller/server/internal/config"
)

const (
	defaultTimeout = 120 * time.Second
	retryDelay     = 1 * time.Second
)

// ErrEmptyResponse is returned when the endpoint answers without choices
var ErrEmptyResponse = errors.New("llm: empty response")

// Message is one chat message
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = openai.ChatMessageRoleSystem
	RoleUser      = openai.ChatMessageRoleUser
	RoleAssistant = openai.ChatMessageRoleAssistant
)

// ChatRequest is a chat completion request
type ChatRequest struct {
	Model       string
	Messages    []Message
	Temperature float32
	MaxTokens   int
	JSONMode    bool
}

// ChatResponse is the first choice of a completion
type ChatResponse struct {
	Content      string
	Model        string
	FinishReason string
	Usage        Usage
}

// Usage represents token usage
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ChatCompleter is what story generation, emotion analysis and plot twist
// classification depend on.
type ChatCompleter interface {
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
}

// StreamCompleter streams completion deltas to onDelta and returns the full text
type StreamCompleter interface {
	ChatStream(ctx context.Context, req *ChatRequest, onDelta func(string) error) (string, error)
}

// Embedder turns texts into vectors
type Embedder interface {
	CreateEmbeddings(ctx context.Context, model string, texts []string, dimensions int) ([][]float64, error)
}

// Client wraps the go-openai client for the hosted endpoint
type Client struct {
	client       *openai.Client
	defaultModel string
	maxAttempts  int
	logger       *slog.Logger
}

// NewClient creates a client against baseURL. maxAttempts < 1 means one attempt.
func NewClient(baseURL, apiKey, defaultModel string, timeout time.Duration, maxAttempts int, logger *slog.Logger) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		client:       openai.NewClientWithConfig(cfg),
		defaultModel: defaultModel,
		maxAttempts:  maxAttempts,
		logger:       logger.With("component", "llm"),
	}
}

// NewClientFromConfig builds the chat client from the LLM section. Chat
// callers own their fallbacks, so every request gets exactly one attempt.
func NewClientFromConfig(cfg config.LLMConfig, logger *slog.Logger) *Client {
	return NewClient(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Timeout, 1, logger)
}

// NewEmbeddingClientFromConfig builds the embedding client, sharing the chat
// timeout
func NewEmbeddingClientFromConfig(cfg config.AIConfig, logger *slog.Logger) *Client {
	e := cfg.Embedding
	return NewClient(e.BaseURL, e.APIKey, e.Model, cfg.LLM.Timeout, e.MaxAttempts, logger)
}

// Chat sends a chat completion request
func (c *Client) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	var lastErr error

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryDelay * time.Duration(attempt)):
			}
		}

		resp, err := c.client.CreateChatCompletion(ctx, c.buildRequest(req, false))
		if err == nil {
			if len(resp.Choices) == 0 {
				return nil, ErrEmptyResponse
			}
			return &ChatResponse{
				Content:      resp.Choices[0].Message.Content,
				Model:        resp.Model,
				FinishReason: string(resp.Choices[0].FinishReason),
				Usage: Usage{
					PromptTokens:     resp.Usage.PromptTokens,
					CompletionTokens: resp.Usage.CompletionTokens,
					TotalTokens:      resp.Usage.TotalTokens,
				},
			}, nil
		}

		lastErr = err
		if !isRetryableError(err) {
			break
		}
		c.logger.Warn("chat completion failed, retrying", "attempt", attempt+1, "error", err)
	}

	return nil, fmt.Errorf("chat completion failed: %w", lastErr)
}

// ChatStream streams a completion. Streaming is never retried.
func (c *Client) ChatStream(ctx context.Context, req *ChatRequest, onDelta func(string) error) (string, error) {
	stream, err := c.client.CreateChatCompletionStream(ctx, c.buildRequest(req, true))
	if err != nil {
		return "", fmt.Errorf("failed to open stream: %w", err)
	}
	defer stream.Close()

	var sb strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return sb.String(), nil
		}
		if err != nil {
			return sb.String(), fmt.Errorf("stream receive: %w", err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		sb.WriteString(delta)
		if onDelta != nil {
			if err := onDelta(delta); err != nil {
				return sb.String(), err
			}
		}
	}
}

// CreateEmbeddings creates embeddings for the given texts, in input order
func (c *Client) CreateEmbeddings(ctx context.Context, model string, texts []string, dimensions int) ([][]float64, error) {
	req := openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(model),
	}
	if dimensions > 0 {
		req.Dimensions = dimensions
	}

	resp, err := c.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(resp.Data), len(texts))
	}

	out := make([][]float64, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("embedding index out of range: %d", d.Index)
		}
		vec := make([]float64, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float64(v)
		}
		out[d.Index] = vec
	}
	return out, nil
}

func (c *Client) buildRequest(req *ChatRequest, stream bool) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	out := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    msgs,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	}
	if req.JSONMode {
		out.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	return out
}

// isRetryableError checks if an error is retryable
func isRetryableError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") || strings.Contains(msg, "rate limit")
}
