package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/plinthworks/plinth/internal/api/middleware"
	"github.com/plinthworks/plinth/internal/genlog"
	"github.com/plinthworks/plinth/pkg/models"
)

func (a *API) handleLogGeneration(w http.ResponseWriter, r *http.Request) {
	var req genlog.LogRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	if req.UserID == "" {
		req.UserID = requestUserID(r)
	}

	gen, err := a.Genlog.Log(r.Context(), req)
	if err != nil {
		middleware.RespondError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, gen)
}

func (a *API) handleListGenerations(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		userID = requestUserID(r)
	}

	gens, err := a.Genlog.List(r.Context(), userID, queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	if err != nil {
		middleware.RespondError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"generations": gens})
}

func (a *API) handleGenerationStats(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		userID = requestUserID(r)
	}

	stats, err := a.Genlog.Stats(r.Context(), userID, queryInt(r, "days", 30))
	if err != nil {
		middleware.RespondError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, stats)
}

func (a *API) handleAttachFeedback(w http.ResponseWriter, r *http.Request) {
	var fb models.FeedbackUpdate
	if err := decode(r, &fb); err != nil {
		badRequest(w, err.Error())
		return
	}

	gen, err := a.Genlog.AttachFeedback(r.Context(), chi.URLParam(r, "generationId"), fb)
	if err != nil {
		middleware.RespondError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, gen)
}

type outcomeRequest struct {
	OutcomeType models.OutcomeType `json:"outcomeType"`
	Value       float64            `json:"value"`
}

func (a *API) handleRecordOutcome(w http.ResponseWriter, r *http.Request) {
	var req outcomeRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	outcome, err := a.Genlog.RecordOutcome(r.Context(), chi.URLParam(r, "generationId"), requestUserID(r), req.OutcomeType, req.Value)
	if err != nil {
		middleware.RespondError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, outcome)
}

type curateRequest struct {
	GenerationID string `json:"generationId"`
	InputText    string `json:"inputText"`
	OutputText   string `json:"outputText"`
}

func (a *API) handleCurateFewShot(w http.ResponseWriter, r *http.Request) {
	var req curateRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	if req.GenerationID == "" {
		badRequest(w, "generationId is required")
		return
	}

	entry, err := a.Genlog.CurateFewShot(r.Context(), req.GenerationID, req.InputText, req.OutputText)
	if err != nil {
		middleware.RespondError(w, err)
		return
	}
	if entry == nil {
		// Generation exists but does not qualify (not accepted, or below the
		// quality floor).
		middleware.WriteJSON(w, http.StatusOK, map[string]any{"curated": false})
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, entry)
}

func (a *API) handleListFewShot(w http.ResponseWriter, r *http.Request) {
	entries, err := a.Genlog.ListFewShot(r.Context(), r.URL.Query().Get("taskType"), r.URL.Query().Get("includeInactive") != "true")
	if err != nil {
		middleware.RespondError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
