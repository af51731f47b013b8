package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/plinthworks/plinth/internal/api/middleware"
)

// requestTimeout is the per-request deadline propagated to downstream calls.
const requestTimeout = 30 * time.Second

// Router builds the full route surface with the governor chain applied.
// allowedOrigins and production feed the CORS policy.
func (a *API) Router(allowedOrigins []string, production bool) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(requestTimeout))
	r.Use(middleware.RequestLogger)
	r.Use(middleware.CORSPolicy(allowedOrigins, production))

	scan := middleware.ScanResponses(a.Guard, a.Governor.Emitter)

	// Identity scoping runs twice where a route names a userId in its path:
	// the mux-level pass covers query-addressed identities, and the
	// route-level pass sees the path params, which only exist after the
	// route has matched.
	scope := a.Governor.ScopeUser

	r.Route("/api", func(r chi.Router) {
		r.Use(a.Governor.Authenticate)
		r.Use(scope)

		r.Get("/health", a.handleHealth)

		r.Route("/prompts", func(r chi.Router) {
			r.Post("/", a.handleCreatePrompt)
			r.Get("/{name}/active", a.handleActivePrompt)
			r.Get("/{name}/versions", a.handleListPromptVersions)
			r.Post("/{name}/promote", a.handlePromotePrompt)
			r.Post("/{name}/decide", a.handleDecidePrompt)
			r.Patch("/{id}/traffic", a.handleSetTraffic)
			r.Patch("/{id}/eval", a.handleSetEvalScore)
		})

		r.Group(func(r chi.Router) {
			r.Use(a.Governor.GateBudget)

			r.Post("/documents", a.handleIngestText)
			r.Post("/documents/upload", a.handleUploadDocument)
			r.Post("/ingest", a.handleIngest)
			r.Post("/embeddings", a.handleIngestText)
			r.With(scan).Post("/transcribe", a.handleTranscribe)
		})

		r.Get("/documents", a.handleListDocuments)
		r.Get("/documents/{id}", a.handleGetDocument)

		r.With(scan).Get("/embeddings/search", a.handleSearch)

		r.Route("/generations", func(r chi.Router) {
			r.With(a.Governor.VerifyBot, a.Governor.GateBudget).Post("/", a.handleLogGeneration)
			r.Get("/", a.handleListGenerations)
			r.Get("/stats", a.handleGenerationStats)
		})

		r.Patch("/feedback/{generationId}", a.handleAttachFeedback)
		r.Post("/feedback/{generationId}/outcome", a.handleRecordOutcome)

		r.Route("/preferences", func(r chi.Router) {
			r.Post("/infer-all", a.handleInferAll)
			r.With(scope).Get("/{userId}", a.handleListPreferences)
			r.With(scope).Post("/{userId}/infer", a.handleInferUser)
			r.With(scope).Get("/{userId}/{key}", a.handleGetPreference)
			r.With(scope).Post("/{userId}/{key}", a.handleSetPreference)
			r.With(scope).Patch("/{userId}/{key}", a.handleSetPreference)
			r.With(scope).Delete("/{userId}/{key}", a.handleDeletePreference)
		})

		r.Route("/fewshot", func(r chi.Router) {
			r.Get("/", a.handleListFewShot)
			r.Post("/curate", a.handleCurateFewShot)
		})

		r.Route("/memory", func(r chi.Router) {
			r.Post("/", a.handleMemoryAdd)
			r.Get("/search", a.handleMemorySearch)
			r.With(scope).Get("/{userId}", a.handleMemoryGetAll)
			r.Delete("/{id}", a.handleMemoryDelete)
		})

		r.Route("/composio", func(r chi.Router) {
			r.Get("/actions", a.handleToolActions)
			r.Post("/execute", a.handleToolExecute)
		})

		r.Route("/openpipe", func(r chi.Router) {
			r.Post("/log", a.handleFineTuneLog)
			r.Post("/finetune", a.handleFineTuneTrigger)
			r.Get("/finetune/{jobId}", a.handleFineTuneStatus)
		})

		r.Get("/costs", a.handleCosts)
		r.Post("/costs/reset", a.handleCostsReset)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/reload-keys", a.handleReloadKeys)
			r.Get("/dead-letters", a.handleDeadLetters)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusNotFound, middleware.CodeNotFound, "route not found", nil)
	})

	return r
}
