package middleware

import (
	"bytes"
	"net/http"

	"github.com/plinthworks/plinth/internal/guardrails"
	"github.com/plinthworks/plinth/pkg/contracts"
)

// ScanResponses buffers the handler's successful JSON output and runs the
// guardrail scan over it before release. A failed scan replaces the response
// with a 422 carrying the findings; the original payload never leaves the
// process.
func ScanResponses(scanner *guardrails.Service, emitter contracts.EventEmitter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &bufferingWriter{header: make(http.Header), status: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.status < 200 || rec.status >= 300 {
				rec.flushTo(w)
				return
			}

			result := scanner.Scan(r.Context(), rec.body.String())
			if result.Passed {
				rec.flushTo(w)
				return
			}

			if emitter != nil {
				emitter.Emit("guardrail.blocked", map[string]any{
					"path":     r.URL.Path,
					"findings": len(result.Findings),
				})
			}
			WriteError(w, http.StatusUnprocessableEntity, CodeGuardrailBlocked, "response blocked by output guardrails", map[string]any{
				"findings": result.Findings,
			})
		})
	}
}

// bufferingWriter captures the full response so it can be inspected or
// replaced after the handler returns.
type bufferingWriter struct {
	header http.Header
	body   bytes.Buffer
	status int
}

func (b *bufferingWriter) Header() http.Header { return b.header }

func (b *bufferingWriter) WriteHeader(status int) { b.status = status }

func (b *bufferingWriter) Write(p []byte) (int, error) { return b.body.Write(p) }

func (b *bufferingWriter) flushTo(w http.ResponseWriter) {
	for k, vals := range b.header {
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(b.status)
	w.Write(b.body.Bytes())
}
