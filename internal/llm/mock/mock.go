// Package mock provides a test double for the llm chat and embedding
// interfaces.
//
// Set response fields before use; every call is recorded so tests can assert
// on the prompts that were sent.
//
//	c := &mock.Client{Responses: []string{`{"narrative":"X","choices":[]}`}}
//	resp, _ := c.Chat(ctx, req)
package mock

import (
	"context"
	"sync"

	"soul-teller/server/internal/llm"
)

// ChatCall records a single invocation of Chat or ChatStream.
type ChatCall struct {
	Req    llm.ChatRequest
	Stream bool
}

// EmbedCall records a single invocation of CreateEmbeddings.
type EmbedCall struct {
	Model      string
	Texts      []string
	Dimensions int
}

// Client is a mock implementation of llm.ChatCompleter, llm.StreamCompleter
// and llm.Embedder.
type Client struct {
	mu sync.Mutex

	// Responses are returned by Chat in order. Once exhausted the last one
	// repeats. Ignored when ChatFunc is set.
	Responses []string

	// ChatErr, if non-nil, is returned from Chat.
	ChatErr error

	// ChatFunc, if set, computes the response from the request.
	ChatFunc func(req llm.ChatRequest) (string, error)

	// StreamDeltas are emitted by ChatStream in order.
	StreamDeltas []string

	// StreamErr, if non-nil, is returned from ChatStream before any delta.
	StreamErr error

	// Vectors maps an input text to its embedding. Texts not present get
	// DefaultVector.
	Vectors map[string][]float64

	// DefaultVector is the embedding for unknown texts.
	DefaultVector []float64

	// EmbedErr, if non-nil, is returned from CreateEmbeddings.
	EmbedErr error

	// --- Call records ---

	ChatCalls  []ChatCall
	EmbedCalls []EmbedCall

	served int
}

// Chat records the call and returns the next canned response.
func (c *Client) Chat(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ChatCalls = append(c.ChatCalls, ChatCall{Req: copyRequest(req)})
	if c.ChatErr != nil {
		return nil, c.ChatErr
	}
	if c.ChatFunc != nil {
		content, err := c.ChatFunc(copyRequest(req))
		if err != nil {
			return nil, err
		}
		return &llm.ChatResponse{Content: content, Model: req.Model, FinishReason: "stop"}, nil
	}
	if len(c.Responses) == 0 {
		return nil, llm.ErrEmptyResponse
	}

	idx := c.served
	if idx >= len(c.Responses) {
		idx = len(c.Responses) - 1
	}
	c.served++
	return &llm.ChatResponse{Content: c.Responses[idx], Model: req.Model, FinishReason: "stop"}, nil
}

// ChatStream records the call and feeds StreamDeltas to onDelta.
func (c *Client) ChatStream(ctx context.Context, req *llm.ChatRequest, onDelta func(string) error) (string, error) {
	c.mu.Lock()
	c.ChatCalls = append(c.ChatCalls, ChatCall{Req: copyRequest(req), Stream: true})
	if c.StreamErr != nil {
		err := c.StreamErr
		c.mu.Unlock()
		return "", err
	}
	deltas := append([]string(nil), c.StreamDeltas...)
	c.mu.Unlock()

	var full string
	for _, d := range deltas {
		if err := ctx.Err(); err != nil {
			return full, err
		}
		full += d
		if onDelta != nil {
			if err := onDelta(d); err != nil {
				return full, err
			}
		}
	}
	return full, nil
}

// CreateEmbeddings records the call and returns the configured vectors.
func (c *Client) CreateEmbeddings(_ context.Context, model string, texts []string, dimensions int) ([][]float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.EmbedCalls = append(c.EmbedCalls, EmbedCall{
		Model:      model,
		Texts:      append([]string(nil), texts...),
		Dimensions: dimensions,
	})
	if c.EmbedErr != nil {
		return nil, c.EmbedErr
	}

	out := make([][]float64, len(texts))
	for i, t := range texts {
		v, ok := c.Vectors[t]
		if !ok {
			v = c.DefaultVector
		}
		out[i] = append([]float64(nil), v...)
	}
	return out, nil
}

// Calls returns a copy of the recorded chat calls.
func (c *Client) Calls() []ChatCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ChatCall(nil), c.ChatCalls...)
}

// Reset clears all recorded calls and rewinds Responses.
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ChatCalls = nil
	c.EmbedCalls = nil
	c.served = 0
}

func copyRequest(req *llm.ChatRequest) llm.ChatRequest {
	if req == nil {
		return llm.ChatRequest{}
	}
	out := *req
	out.Messages = append([]llm.Message(nil), req.Messages...)
	return out
}

var (
	_ llm.ChatCompleter   = (*Client)(nil)
	_ llm.StreamCompleter = (*Client)(nil)
	_ llm.Embedder        = (*Client)(nil)
)
