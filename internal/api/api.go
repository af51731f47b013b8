// Package api exposes the platform over JSON/HTTP. The router applies the
// request governor around every route group; handlers translate between the
// wire payloads and the service layer and map errors onto the taxonomy.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/plinthworks/plinth/internal/api/middleware"
	"github.com/plinthworks/plinth/internal/budget"
	"github.com/plinthworks/plinth/internal/genlog"
	"github.com/plinthworks/plinth/internal/guardrails"
	"github.com/plinthworks/plinth/internal/ingest"
	"github.com/plinthworks/plinth/internal/jobs"
	"github.com/plinthworks/plinth/internal/prefs"
	"github.com/plinthworks/plinth/internal/prompts"
	"github.com/plinthworks/plinth/internal/providers"
	"github.com/plinthworks/plinth/internal/store"
	"github.com/plinthworks/plinth/internal/vectorsearch"
	"github.com/plinthworks/plinth/pkg/contracts"
)

// maxUploadBytes caps binary document and audio uploads.
const maxUploadBytes = 32 << 20

// HealthProbes are the reachability checks behind /api/health. Nil probes
// report as unconfigured rather than unhealthy.
type HealthProbes struct {
	Database func(ctx context.Context) error
	Redis    func(ctx context.Context) error
	LiteLLM  func(ctx context.Context) error
}

// API carries every dependency the handlers need.
type API struct {
	Store     store.Store
	Pipeline  *ingest.Pipeline
	Search    *vectorsearch.Service
	Prompts   *prompts.Service
	Genlog    *genlog.Service
	Prefs     *prefs.Service
	Guard     *guardrails.Service
	Queue     jobs.Queue
	Ledger    *budget.CostLedger
	Governor  *middleware.Governor
	Gate      *providers.Gate
	Probes    HealthProbes
	StartedAt func() float64 // uptime seconds

	Memory      contracts.MemoryProvider
	Tools       contracts.ToolProvider
	FineTune    contracts.FineTuneProvider
	Transcriber contracts.TranscriptionProvider

	// ReloadAPIKeys re-reads the API key set from its source of truth.
	ReloadAPIKeys func() int
}

// decode reads a JSON request body into dst, rejecting unknown junk sizes.
func decode(r *http.Request, dst any) error {
	defer io.Copy(io.Discard, r.Body)
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst); err != nil {
		return fmt.Errorf("invalid json body: %w", err)
	}
	return nil
}

// respondGate maps an availability-policy error: open mode answers 200 with
// enabled=false, strict mode surfaces 503.
func respondGate(w http.ResponseWriter, err error) {
	if errors.Is(err, providers.ErrDisabled) {
		middleware.WriteJSON(w, http.StatusOK, map[string]any{"enabled": false, "reason": err.Error()})
		return
	}
	middleware.RespondError(w, err)
}

// badRequest writes a validation error.
func badRequest(w http.ResponseWriter, message string) {
	middleware.WriteError(w, http.StatusBadRequest, middleware.CodeValidation, message, nil)
}
