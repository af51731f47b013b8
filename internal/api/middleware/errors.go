package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/plinthworks/plinth/internal/auth"
	"github.com/plinthworks/plinth/internal/budget"
	"github.com/plinthworks/plinth/internal/genlog"
	"github.com/plinthworks/plinth/internal/ingest"
	"github.com/plinthworks/plinth/internal/jobs"
	"github.com/plinthworks/plinth/internal/prompts"
	"github.com/plinthworks/plinth/internal/providers"
	"github.com/plinthworks/plinth/internal/store"
	"github.com/plinthworks/plinth/internal/vectorsearch"
)

// Error codes of the handler-visible taxonomy.
const (
	CodeAuthMissing      = "auth_missing"
	CodeAuthInvalid      = "auth_invalid"
	CodeAuthzDenied      = "authorization_denied"
	CodeBotFailed        = "bot_verification_failed"
	CodeValidation       = "validation"
	CodeNotFound         = "not_found"
	CodeBudgetTokens     = "budget_exceeded_tokens"
	CodeBudgetCost       = "budget_exceeded_cost"
	CodeGuardrailBlocked = "guardrail_blocked"
	CodeProviderOff      = "provider_unavailable"
	CodeUnsupportedType  = "unsupported_type"
	CodeUpstreamFailure  = "upstream_failure"
	CodeInternal         = "internal_error"
)

// WriteJSON writes one JSON response.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			log.Error().Err(err).Msg("encode response")
		}
	}
}

// WriteError writes one taxonomy error. extra fields are merged into the
// body next to error/message.
func WriteError(w http.ResponseWriter, status int, code, message string, extra map[string]any) {
	body := map[string]any{"error": code, "message": message}
	for k, v := range extra {
		body[k] = v
	}
	WriteJSON(w, status, body)
}

// RespondError maps an application error onto the taxonomy and writes it.
// Unrecognized errors log and reduce to a generic 500.
func RespondError(w http.ResponseWriter, err error) {
	var exceeded *budget.ExceededError
	if errors.As(err, &exceeded) {
		WriteError(w, http.StatusTooManyRequests, CodeBudgetTokens, "daily token budget exceeded", map[string]any{
			"budget": exceeded.Snapshot,
		})
		return
	}

	switch {
	case errors.Is(err, auth.ErrMissingCredentials):
		WriteError(w, http.StatusUnauthorized, CodeAuthMissing, err.Error(), nil)
	case errors.Is(err, auth.ErrInvalidCredentials):
		WriteError(w, http.StatusUnauthorized, CodeAuthInvalid, err.Error(), nil)
	case errors.Is(err, auth.ErrAdminRequired):
		WriteError(w, http.StatusForbidden, CodeAuthzDenied, err.Error(), nil)
	case errors.Is(err, providers.ErrBotCheckFailed):
		WriteError(w, http.StatusForbidden, CodeBotFailed, err.Error(), nil)

	case errors.Is(err, budget.ErrTokenBudgetExceeded):
		WriteError(w, http.StatusTooManyRequests, CodeBudgetTokens, err.Error(), nil)
	case errors.Is(err, budget.ErrCostLimitExceeded):
		WriteError(w, http.StatusTooManyRequests, CodeBudgetCost, err.Error(), nil)

	case errors.Is(err, store.ErrNotFound):
		WriteError(w, http.StatusNotFound, CodeNotFound, err.Error(), nil)

	case errors.Is(err, ingest.ErrUnsupportedType):
		WriteError(w, http.StatusUnprocessableEntity, CodeUnsupportedType, err.Error(), nil)

	case errors.Is(err, providers.ErrNotConfigured),
		errors.Is(err, providers.ErrProviderUnavailable),
		errors.Is(err, providers.ErrBotCheckUnavailable),
		errors.Is(err, jobs.ErrQueueUnavailable):
		WriteError(w, http.StatusServiceUnavailable, CodeProviderOff, err.Error(), nil)

	case errors.Is(err, ingest.ErrEmptyContent),
		errors.Is(err, vectorsearch.ErrModelIDRequired),
		errors.Is(err, vectorsearch.ErrEmptyQuery),
		errors.Is(err, prompts.ErrAllocationExceeded),
		errors.Is(err, prompts.ErrInvalidPct),
		errors.Is(err, prompts.ErrQualityGate),
		errors.Is(err, prompts.ErrAtTop),
		errors.Is(err, prompts.ErrEmptyContent),
		errors.Is(err, genlog.ErrEmptyFeedback),
		errors.Is(err, genlog.ErrInvalidFeedback),
		errors.Is(err, genlog.ErrInvalidThumbs),
		errors.Is(err, genlog.ErrInvalidOutcome):
		WriteError(w, http.StatusBadRequest, CodeValidation, err.Error(), nil)

	default:
		log.Error().Err(err).Msg("unhandled request error")
		WriteError(w, http.StatusInternalServerError, CodeInternal, "internal error", nil)
	}
}
