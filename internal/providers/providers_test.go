package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateOpenMode(t *testing.T) {
	gate := NewGate(ModeOpen)

	assert.NoError(t, gate.Check(NewMem0("key", "")))

	err := gate.Check(NewMem0("", ""))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDisabled)
	assert.Contains(t, err.Error(), "mem0")
}

func TestGateStrictMode(t *testing.T) {
	gate := NewGate(ModeStrict)

	assert.NoError(t, gate.Check(NewDeepgram("key", "")))

	err := gate.Check(NewDeepgram("", ""))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestGateUnknownModeDefaultsOpen(t *testing.T) {
	gate := NewGate(Mode("bogus"))
	assert.Equal(t, ModeOpen, gate.Mode())
	assert.ErrorIs(t, gate.Check(NewZep("", "")), ErrDisabled)
}

func TestRESTClientRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"ok": "yes"})
	}))
	defer srv.Close()

	c := newRESTClient("test", srv.URL, nil)
	var out map[string]string
	require.NoError(t, c.doJSON(context.Background(), "GET", "/x", nil, &out))
	assert.Equal(t, "yes", out["ok"])
	assert.Equal(t, int32(3), calls.Load())
}

func TestRESTClientDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error": "bad input"}`))
	}))
	defer srv.Close()

	c := newRESTClient("test", srv.URL, nil)
	err := c.doJSON(context.Background(), "POST", "/x", map[string]string{}, nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrProviderUnavailable)
	assert.Equal(t, int32(1), calls.Load())
}

func TestMem0AddAndSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Token mk", r.Header.Get("Authorization"))
		switch {
		case r.Method == "POST" && r.URL.Path == "/v1/memories/":
			var req map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "u1", req["user_id"])
			json.NewEncoder(w).Encode([]map[string]any{
				{"id": "m1", "memory": "prefers dark mode", "user_id": "u1"},
			})
		case r.Method == "POST" && r.URL.Path == "/v1/memories/search/":
			json.NewEncoder(w).Encode([]map[string]any{
				{"id": "m1", "memory": "prefers dark mode", "user_id": "u1", "score": 0.91},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	m := NewMem0("mk", srv.URL)
	require.True(t, m.Configured())

	entry, err := m.Add(context.Background(), "u1", "user prefers dark mode", nil)
	require.NoError(t, err)
	assert.Equal(t, "m1", entry.ID)
	assert.Equal(t, "prefers dark mode", entry.Content)

	hits, err := m.Search(context.Background(), "u1", "ui preferences", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.InDelta(t, 0.91, hits[0].Score, 1e-9)
}

func TestMem0GetAllAndDelete(t *testing.T) {
	var deleted string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == "GET" && r.URL.Path == "/v1/memories/":
			assert.Equal(t, "u1", r.URL.Query().Get("user_id"))
			json.NewEncoder(w).Encode([]map[string]any{
				{"id": "m1", "memory": "a", "user_id": "u1"},
				{"id": "m2", "memory": "b", "user_id": "u1"},
			})
		case r.Method == "DELETE":
			deleted = r.URL.Path
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{}`))
		}
	}))
	defer srv.Close()

	m := NewMem0("mk", srv.URL)
	all, err := m.GetAll(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, m.Delete(context.Background(), "m2"))
	assert.Equal(t, "/v1/memories/m2/", deleted)
}

func TestZepSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Api-Key zk", r.Header.Get("Authorization"))
		assert.Equal(t, "/api/v2/graph/search", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"edges": []map[string]any{
				{"uuid": "e1", "fact": "works at acme", "score": 0.8},
			},
		})
	}))
	defer srv.Close()

	z := NewZep("zk", srv.URL)
	hits, err := z.Search(context.Background(), "u1", "employer", 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "works at acme", hits[0].Content)
	assert.Equal(t, "u1", hits[0].UserID)
}

func TestComposioListAndExecute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ck", r.Header.Get("X-API-Key"))
		switch r.URL.Path {
		case "/api/v2/actions":
			json.NewEncoder(w).Encode(map[string]any{
				"items": []map[string]string{
					{"name": "GMAIL_SEND_EMAIL", "description": "Send an email", "appName": "gmail"},
				},
			})
		case "/api/v2/actions/GMAIL_SEND_EMAIL/execute":
			var req map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Contains(t, req, "input")
			json.NewEncoder(w).Encode(map[string]any{
				"successfull": true,
				"data":        map[string]any{"messageId": "abc"},
			})
		}
	}))
	defer srv.Close()

	c := NewComposio("ck", srv.URL)
	actions, err := c.ListActions(context.Background())
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, "gmail", actions[0].AppName)

	out, err := c.Execute(context.Background(), "GMAIL_SEND_EMAIL", map[string]any{"to": "a@b.co"})
	require.NoError(t, err)
	assert.Equal(t, "abc", out["messageId"])
}

func TestComposioExecuteFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"successfull": false,
			"error":       "account not connected",
		})
	}))
	defer srv.Close()

	c := NewComposio("ck", srv.URL)
	_, err := c.Execute(context.Background(), "SLACK_POST", nil)
	assert.ErrorContains(t, err, "account not connected")
}

func TestOpenPipeTriggerAndStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == "POST" && r.URL.Path == "/fine-tunes":
			var req map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "llama-3.1-8b", req["baseModel"])
			json.NewEncoder(w).Encode(map[string]string{"id": "ft-1", "status": "PENDING"})
		case r.Method == "GET" && r.URL.Path == "/fine-tunes/ft-1":
			json.NewEncoder(w).Encode(map[string]string{"id": "ft-1", "status": "DEPLOYED", "model": "openpipe:custom-1"})
		case r.Method == "POST" && r.URL.Path == "/report":
			w.Write([]byte(`{}`))
		}
	}))
	defer srv.Close()

	o := NewOpenPipe("ok", srv.URL)
	require.NoError(t, o.LogCompletion(context.Background(), map[string]any{"respPayload": "x"}))

	job, err := o.Trigger(context.Background(), "llama-3.1-8b", nil)
	require.NoError(t, err)
	assert.Equal(t, "PENDING", job.Status)

	job, err = o.Status(context.Background(), "ft-1")
	require.NoError(t, err)
	assert.Equal(t, "DEPLOYED", job.Status)
	assert.Equal(t, "openpipe:custom-1", job.Model)
}

func TestDeepgramTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Token dk", r.Header.Get("Authorization"))
		assert.Equal(t, "audio/wav", r.Header.Get("Content-Type"))
		assert.Equal(t, "/v1/listen", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"metadata": map[string]any{"duration": 2.5},
			"results": map[string]any{
				"channels": []map[string]any{
					{"alternatives": []map[string]any{
						{"transcript": "hello world", "confidence": 0.97},
					}},
				},
			},
		})
	}))
	defer srv.Close()

	d := NewDeepgram("dk", srv.URL)
	tr, err := d.Transcribe(context.Background(), "audio/wav", []byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, "hello world", tr.Text)
	assert.InDelta(t, 0.97, tr.Confidence, 1e-9)
	assert.Equal(t, int64(2500), tr.DurationMs)
}

func TestDeepgramEmptyResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"results": map[string]any{"channels": []any{}}})
	}))
	defer srv.Close()

	d := NewDeepgram("dk", srv.URL)
	_, err := d.Transcribe(context.Background(), "audio/wav", nil)
	assert.ErrorContains(t, err, "empty transcription")
}

func TestCrawl4AIScrape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/md", r.URL.Path)
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "https://example.com/post", req["url"])
		json.NewEncoder(w).Encode(map[string]any{"markdown": "# Title\n\nBody.", "success": true})
	}))
	defer srv.Close()

	c := NewCrawl4AI(srv.URL)
	md, err := c.Scrape(context.Background(), "https://example.com/post")
	require.NoError(t, err)
	assert.Contains(t, md, "# Title")
}

func TestCrawl4AIEmptyPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"markdown": "", "success": true})
	}))
	defer srv.Close()

	c := NewCrawl4AI(srv.URL)
	_, err := c.Scrape(context.Background(), "https://example.com")
	assert.ErrorContains(t, err, "empty page")
}

func TestZeroxJoinsPages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "application/pdf", req["mimeType"])
		assert.Equal(t, "gpt-4o-mini", req["model"])
		json.NewEncoder(w).Encode(map[string]any{
			"pages": []map[string]string{{"content": "page one"}, {"content": "page two"}},
		})
	}))
	defer srv.Close()

	z := NewZerox(srv.URL, "gpt-4o-mini")
	text, err := z.Parse(context.Background(), "application/pdf", []byte("%PDF"))
	require.NoError(t, err)
	assert.Equal(t, "page one\n\npage two", text)
}

type stubOCR struct {
	name       string
	configured bool
	text       string
	err        error
	calls      int
}

func (s *stubOCR) Configured() bool { return s.configured }
func (s *stubOCR) Name() string     { return s.name }
func (s *stubOCR) ExtractText(ctx context.Context, mimeType string, data []byte) (string, error) {
	s.calls++
	return s.text, s.err
}

func TestTieredOCRFallsThrough(t *testing.T) {
	broken := &stubOCR{name: "vision", configured: true, err: errors.New("model offline")}
	working := &stubOCR{name: "local", configured: true, text: "RECEIPT TOTAL 12.50"}

	ocr := NewTieredOCR(broken, working)
	text, err := ocr.ExtractText(context.Background(), "image/png", []byte{0x89})
	require.NoError(t, err)
	assert.Equal(t, "RECEIPT TOTAL 12.50", text)
	assert.Equal(t, 1, broken.calls)
	assert.Equal(t, 1, working.calls)
}

func TestTieredOCRSkipsUnconfigured(t *testing.T) {
	skipped := &stubOCR{name: "vision", configured: false, text: "never"}
	working := &stubOCR{name: "local", configured: true, text: "hello"}

	ocr := NewTieredOCR(skipped, working)
	text, err := ocr.ExtractText(context.Background(), "image/png", nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
	assert.Zero(t, skipped.calls)
}

func TestTieredOCRAllEmpty(t *testing.T) {
	ocr := NewTieredOCR(&stubOCR{name: "local", configured: true})
	_, err := ocr.ExtractText(context.Background(), "image/png", nil)
	assert.ErrorIs(t, err, ErrNoTextFound)
	assert.False(t, NewTieredOCR().Configured())
}

func TestTurnstileVerify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "secret-1", r.Form.Get("secret"))
		assert.Equal(t, "tok", r.Form.Get("response"))
		assert.Equal(t, "1.2.3.4", r.Form.Get("remoteip"))
		json.NewEncoder(w).Encode(map[string]any{"success": true})
	}))
	defer srv.Close()

	v := NewTurnstile("secret-1", srv.URL)
	assert.NoError(t, v.Verify(context.Background(), "tok", "1.2.3.4"))
}

func TestTurnstileRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"success":     false,
			"error-codes": []string{"invalid-input-response"},
		})
	}))
	defer srv.Close()

	v := NewTurnstile("secret-1", srv.URL)
	err := v.Verify(context.Background(), "bad-tok", "")
	require.ErrorIs(t, err, ErrBotCheckFailed)
	assert.Contains(t, err.Error(), "invalid-input-response")
}

func TestTurnstileMissingToken(t *testing.T) {
	v := NewTurnstile("secret-1", "http://unused.invalid")
	assert.ErrorIs(t, v.Verify(context.Background(), "", ""), ErrBotCheckFailed)
}

func TestTurnstileUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	v := NewTurnstile("secret-1", srv.URL)
	assert.ErrorIs(t, v.Verify(context.Background(), "tok", ""), ErrBotCheckUnavailable)
}
