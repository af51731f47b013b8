package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultTurnstileURL = "https://challenges.cloudflare.com/turnstile/v0/siteverify"

// ErrBotCheckFailed is the challenge rejection (maps to 403).
var ErrBotCheckFailed = errors.New("bot verification failed")

// ErrBotCheckUnavailable is a transport or Cloudflare failure; the caller's
// failure mode decides whether the request proceeds.
var ErrBotCheckUnavailable = errors.New("bot verification unavailable")

// Turnstile validates Cloudflare Turnstile challenge tokens.
type Turnstile struct {
	secret    string
	verifyURL string
	http      *http.Client
}

// NewTurnstile builds the verifier. verifyURL overrides the Cloudflare
// endpoint; pass "" for the default.
func NewTurnstile(secret, verifyURL string) *Turnstile {
	if verifyURL == "" {
		verifyURL = defaultTurnstileURL
	}
	return &Turnstile{
		secret:    secret,
		verifyURL: verifyURL,
		http:      &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *Turnstile) Configured() bool { return t.secret != "" }
func (t *Turnstile) Name() string     { return "turnstile" }

// Verify checks one challenge token. A missing token fails immediately; an
// unreachable verifier returns ErrBotCheckUnavailable.
func (t *Turnstile) Verify(ctx context.Context, token, remoteIP string) error {
	if token == "" {
		return fmt.Errorf("%w: missing token", ErrBotCheckFailed)
	}

	form := url.Values{
		"secret":   {t.secret},
		"response": {token},
	}
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBotCheckUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBotCheckUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		drained, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", ErrBotCheckUnavailable, resp.StatusCode, strings.TrimSpace(string(drained)))
	}

	var out struct {
		Success    bool     `json:"success"`
		ErrorCodes []string `json:"error-codes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("%w: %s", ErrBotCheckUnavailable, err)
	}
	if !out.Success {
		return fmt.Errorf("%w: %s", ErrBotCheckFailed, strings.Join(out.ErrorCodes, ", "))
	}
	return nil
}
