// Package llm is the HTTP client for the model proxy. All chat and embedding
// traffic flows through one proxy endpoint (OpenAI-compatible), wrapped in a
// circuit breaker and retried on transient failures.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/plinthworks/plinth/pkg/contracts"
)

// ErrProxyUnavailable wraps circuit-open and exhausted-retry failures.
var ErrProxyUnavailable = errors.New("model proxy unavailable")

// retryable marks an error worth retrying (429, 5xx, transport).
type retryable struct{ err error }

func (r retryable) Error() string { return r.err.Error() }
func (r retryable) Unwrap() error { return r.err }

// Client talks to the model proxy. Implements contracts.LLMClient.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewClient creates the proxy client. baseURL is the proxy root, e.g.
// http://litellm:4000.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 120 * time.Second},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "llm-proxy",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit state change")
			},
		}),
	}
}

type chatCompletionRequest struct {
	Model       string                  `json:"model"`
	Messages    []contracts.ChatMessage `json:"messages"`
	MaxTokens   int                     `json:"max_tokens,omitempty"`
	Temperature float64                 `json:"temperature,omitempty"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type chatCompletionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message contracts.ChatMessage `json:"message"`
	} `json:"choices"`
	Usage usage `json:"usage"`
}

// Chat sends a completion request through the proxy.
func (c *Client) Chat(ctx context.Context, req contracts.ChatRequest) (*contracts.ChatResponse, error) {
	start := time.Now()
	body := chatCompletionRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}

	var parsed chatCompletionResponse
	if err := c.call(ctx, "/v1/chat/completions", body, &parsed); err != nil {
		return nil, err
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}

	return &contracts.ChatResponse{
		Content:      parsed.Choices[0].Message.Content,
		Model:        parsed.Model,
		InputTokens:  parsed.Usage.PromptTokens,
		OutputTokens: parsed.Usage.CompletionTokens,
		LatencyMs:    time.Since(start).Milliseconds(),
	}, nil
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Model string `json:"model"`
	Data  []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Usage usage `json:"usage"`
}

// Embed requests embeddings for a batch of texts.
func (c *Client) Embed(ctx context.Context, model string, texts []string) (*contracts.EmbedResponse, error) {
	start := time.Now()

	var parsed embeddingResponse
	if err := c.call(ctx, "/v1/embeddings", embeddingRequest{Model: model, Input: texts}, &parsed); err != nil {
		return nil, err
	}

	vectors := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index >= 0 && d.Index < len(vectors) {
			vectors[d.Index] = d.Embedding
		}
	}
	return &contracts.EmbedResponse{
		Vectors:     vectors,
		Model:       parsed.Model,
		InputTokens: parsed.Usage.PromptTokens,
		LatencyMs:   time.Since(start).Milliseconds(),
	}, nil
}

// call POSTs one JSON request through the breaker with retries and decodes
// the response into out.
func (c *Client) call(ctx context.Context, path string, payload, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	op := func() error {
		_, err := c.breaker.Execute(func() (any, error) {
			return nil, c.post(ctx, path, raw, out)
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(fmt.Errorf("%w: %s", ErrProxyUnavailable, err))
		}
		var r retryable
		if errors.As(err, &r) {
			return err
		}
		return backoff.Permanent(err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		var r retryable
		if errors.As(err, &r) {
			return fmt.Errorf("%w: %s", ErrProxyUnavailable, err)
		}
		return err
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return retryable{fmt.Errorf("proxy request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		drained, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return retryable{fmt.Errorf("proxy status %d: %s", resp.StatusCode, strings.TrimSpace(string(drained)))}
	}
	if resp.StatusCode >= 400 {
		drained, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("proxy status %d: %s", resp.StatusCode, strings.TrimSpace(string(drained)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
