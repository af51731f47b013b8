// Package middleware implements the request governor: tier resolution,
// authentication, IDOR scoping, bot verification, budget gates, and the
// output guardrail wrapper. Order is fixed; every LLM-touching route passes
// the full chain.
package middleware

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/plinthworks/plinth/internal/auth"
	"github.com/plinthworks/plinth/internal/budget"
	"github.com/plinthworks/plinth/internal/providers"
	"github.com/plinthworks/plinth/pkg/contracts"
)

// maxEstimateBody caps how much of a request body the budget gate reads for
// its token estimate.
const maxEstimateBody = 1 << 20

// Governor bundles the policy dependencies of the request chain.
type Governor struct {
	Tiers   *auth.TierTable
	Auth    *auth.Authenticator
	Bot     contracts.BotVerifier
	Tokens  *budget.TokenBudget
	Ledger  *budget.CostLedger
	Emitter contracts.EventEmitter

	// Production tightens bot verification to fail-closed.
	Production bool
}

// Authenticate resolves the route tier and verifies credentials, storing the
// caller identity in context. 401/403 are terminal here.
func (g *Governor) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tier := g.Tiers.Resolve(r.Method, r.URL.Path)

		uc, err := g.Auth.Authenticate(credentialsFrom(r), tier)
		if err != nil {
			RespondError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), uc)))
	})
}

// credentialsFrom pulls the credential headers plus the caller-asserted
// identity hint.
func credentialsFrom(r *http.Request) auth.Credentials {
	creds := auth.Credentials{
		APIKey:       r.Header.Get("x-api-key"),
		AdminKey:     r.Header.Get("x-admin-key"),
		HintedUserID: r.URL.Query().Get("userId"),
	}
	if h := r.Header.Get("Authorization"); len(h) > 7 && h[:7] == "Bearer " {
		creds.Bearer = h[7:]
	}
	return creds
}

// ScopeUser rejects user-tier requests whose addressed userId differs from
// the authenticated identity. Admins and fail-open mode skip the check.
func (g *Governor) ScopeUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uc := UserFrom(r.Context())
		if uc == nil || uc.Admin || uc.Tier != auth.TierUser || g.Auth.FailOpen() {
			next.ServeHTTP(w, r)
			return
		}

		for _, addressed := range addressedUserIDs(r) {
			if addressed != "" && addressed != uc.UserID {
				log.Warn().Str("authenticated", uc.UserID).Str("addressed", addressed).
					Str("path", r.URL.Path).Msg("cross-user access rejected")
				WriteError(w, http.StatusForbidden, CodeAuthzDenied, "cannot access another user's resources", nil)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// addressedUserIDs collects every userId the request names: the chi route
// param and the query parameter.
func addressedUserIDs(r *http.Request) []string {
	ids := []string{r.URL.Query().Get("userId")}
	if rc := chi.RouteContext(r.Context()); rc != nil {
		ids = append(ids, rc.URLParam("userId"))
	}
	return ids
}

// VerifyBot checks the anti-bot challenge token on chat-facing routes.
// Development fails open on a missing verifier or transport trouble;
// production fails closed on both.
func (g *Governor) VerifyBot(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		configured := false
		if av, ok := g.Bot.(contracts.Availability); ok {
			configured = av.Configured()
		}
		if !configured {
			if g.Production {
				WriteError(w, http.StatusForbidden, CodeBotFailed, "bot verification not configured", nil)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		err := g.Bot.Verify(r.Context(), r.Header.Get("x-turnstile-token"), r.RemoteAddr)
		if err == nil {
			next.ServeHTTP(w, r)
			return
		}
		if errors.Is(err, providers.ErrBotCheckUnavailable) && !g.Production {
			log.Warn().Err(err).Msg("bot verifier unreachable, failing open")
			next.ServeHTTP(w, r)
			return
		}
		RespondError(w, err)
	})
}

// GateBudget enforces the per-user token budget and the process cost cap
// before the handler runs. The token estimate is ceil(bodyChars/4).
func (g *Governor) GateBudget(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uc := UserFrom(r.Context())
		userID := "anonymous"
		if uc != nil {
			userID = uc.UserID
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxEstimateBody))
		if err != nil {
			WriteError(w, http.StatusBadRequest, CodeValidation, "unreadable request body", nil)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		if err := g.Ledger.EnsureBudget(); err != nil {
			g.emit("budget.denied", map[string]any{"userId": userID, "kind": "cost"})
			RespondError(w, err)
			return
		}

		snap, err := g.Tokens.Check(r.Context(), userID, budget.EstimateTokens(string(body)))
		if err != nil {
			RespondError(w, err)
			return
		}
		if !snap.Allowed {
			g.emit("budget.denied", map[string]any{
				"userId": userID, "kind": "tokens", "remaining": snap.Remaining,
			})
			RespondError(w, &budget.ExceededError{Snapshot: snap})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (g *Governor) emit(event string, fields map[string]any) {
	if g.Emitter != nil {
		g.Emitter.Emit(event, fields)
	}
}
