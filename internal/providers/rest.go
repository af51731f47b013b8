package providers

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
)

// ErrProviderUnavailable wraps exhausted-retry failures against an external
// provider API.
var ErrProviderUnavailable = errors.New("provider unavailable")

// retryable marks a provider error worth retrying (429, 5xx, transport).
type retryable struct{ err error }

func (r retryable) Error() string { return r.err.Error() }
func (r retryable) Unwrap() error { return r.err }

// restClient is the shared JSON-over-HTTP plumbing for provider adapters.
// Transient failures are retried with exponential backoff; other 4xx
// responses fail immediately.
type restClient struct {
	name    string
	baseURL string
	headers map[string]string
	http    *http.Client
	maxWait time.Duration
}

func newRESTClient(name, baseURL string, headers map[string]string) *restClient {
	return &restClient{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		headers: headers,
		http:    &http.Client{Timeout: 60 * time.Second},
		maxWait: 15 * time.Second,
	}
}

// doJSON sends one request with retries and decodes the response into out.
// payload may be nil for bodyless requests; out may be nil to discard.
func (c *restClient) doJSON(ctx context.Context, method, path string, payload, out any) error {
	var raw []byte
	if payload != nil {
		var err error
		if raw, err = json.Marshal(payload); err != nil {
			return fmt.Errorf("%s: marshal request: %w", c.name, err)
		}
	}

	op := func() error {
		err := c.once(ctx, method, path, "application/json", raw, out)
		if err == nil {
			return nil
		}
		var r retryable
		if errors.As(err, &r) {
			return err
		}
		return backoff.Permanent(err)
	}
	return c.retry(ctx, op)
}

// doRaw sends one request with an opaque body (audio, image bytes) under the
// given content type.
func (c *restClient) doRaw(ctx context.Context, method, path, contentType string, body []byte, out any) error {
	op := func() error {
		err := c.once(ctx, method, path, contentType, body, out)
		if err == nil {
			return nil
		}
		var r retryable
		if errors.As(err, &r) {
			return err
		}
		return backoff.Permanent(err)
	}
	return c.retry(ctx, op)
}

func (c *restClient) retry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxElapsedTime = c.maxWait
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		var r retryable
		if errors.As(err, &r) {
			return fmt.Errorf("%w: %s: %s", ErrProviderUnavailable, c.name, err)
		}
		return err
	}
	return nil
}

func (c *restClient) once(ctx context.Context, method, path, contentType string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", c.name, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return retryable{fmt.Errorf("%s: request: %w", c.name, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		drained, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return retryable{fmt.Errorf("%s: status %d: %s", c.name, resp.StatusCode, strings.TrimSpace(string(drained)))}
	}
	if resp.StatusCode >= 400 {
		drained, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s: status %d: %s", c.name, resp.StatusCode, strings.TrimSpace(string(drained)))
	}

	if out == nil {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", c.name, err)
	}
	return nil
}
