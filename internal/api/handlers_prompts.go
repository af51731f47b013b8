package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/plinthworks/plinth/internal/api/middleware"
	"github.com/plinthworks/plinth/internal/prompts"
	"github.com/plinthworks/plinth/internal/store"
	"github.com/plinthworks/plinth/pkg/models"
)

type createPromptRequest struct {
	PromptName string `json:"prompt_name"`
	Content    string `json:"content"`
	Author     string `json:"author"`
}

func (a *API) handleCreatePrompt(w http.ResponseWriter, r *http.Request) {
	var req createPromptRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	if req.PromptName == "" || req.Content == "" || req.Author == "" {
		badRequest(w, "prompt_name, content, and author are required")
		return
	}

	version, err := a.Prompts.Create(r.Context(), req.PromptName, req.Content, req.Author)
	if err != nil {
		middleware.RespondError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, version)
}

func (a *API) handleActivePrompt(w http.ResponseWriter, r *http.Request) {
	uc := middleware.UserFrom(r.Context())
	userID := r.URL.Query().Get("userId")
	if userID == "" && uc != nil {
		userID = uc.UserID
	}

	active, err := a.Prompts.GetActive(r.Context(), chi.URLParam(r, "name"), userID)
	if err != nil {
		middleware.RespondError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, active)
}

func (a *API) handleListPromptVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := a.Prompts.List(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		middleware.RespondError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"versions": versions})
}

type trafficRequest struct {
	ActivePct *int `json:"active_pct"`
}

func (a *API) handleSetTraffic(w http.ResponseWriter, r *http.Request) {
	var req trafficRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	if req.ActivePct == nil {
		badRequest(w, "active_pct is required")
		return
	}

	version, err := a.Prompts.SetTraffic(r.Context(), chi.URLParam(r, "id"), *req.ActivePct)
	if err != nil {
		middleware.RespondError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, version)
}

type evalScoreRequest struct {
	Score *float64 `json:"score"`
}

func (a *API) handleSetEvalScore(w http.ResponseWriter, r *http.Request) {
	var req evalScoreRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	if req.Score == nil {
		badRequest(w, "score is required")
		return
	}
	if err := a.Prompts.SetEvalScore(r.Context(), chi.URLParam(r, "id"), *req.Score); err != nil {
		middleware.RespondError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"updated": true})
}

type promoteRequest struct {
	VersionID string `json:"version_id,omitempty"`
}

// resolvePromoteTarget picks the version a by-name promotion applies to:
// an explicit version_id wins, else the leading version (highest allocation,
// newest version breaking ties).
func (a *API) resolvePromoteTarget(r *http.Request, versionID string) (*models.PromptVersion, error) {
	if versionID != "" {
		return a.Prompts.Get(r.Context(), versionID)
	}

	versions, err := a.Prompts.List(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, store.ErrNotFound
	}

	target := versions[len(versions)-1]
	for _, v := range versions {
		if v.ActivePct > target.ActivePct {
			target = v
		}
	}
	return &target, nil
}

func (a *API) handlePromotePrompt(w http.ResponseWriter, r *http.Request) {
	var req promoteRequest
	if r.ContentLength > 0 {
		if err := decode(r, &req); err != nil {
			badRequest(w, err.Error())
			return
		}
	}

	target, err := a.resolvePromoteTarget(r, req.VersionID)
	if err != nil {
		middleware.RespondError(w, err)
		return
	}

	result, err := a.Prompts.Promote(r.Context(), target.ID)
	if err != nil {
		middleware.RespondError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, result)
}

type decideRequest struct {
	VersionID  string                      `json:"version_id,omitempty"`
	Metrics    models.PromotionMetrics     `json:"metrics"`
	Thresholds *models.PromotionThresholds `json:"thresholds,omitempty"`
	Apply      bool                        `json:"apply"`
}

// handleDecidePrompt runs the automated promotion decision over live quality
// signals, optionally applying the verdict.
func (a *API) handleDecidePrompt(w http.ResponseWriter, r *http.Request) {
	var req decideRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	target, err := a.resolvePromoteTarget(r, req.VersionID)
	if err != nil {
		middleware.RespondError(w, err)
		return
	}

	th := prompts.DefaultThresholds
	if req.Thresholds != nil {
		th = *req.Thresholds
	}
	decision := prompts.Decide(req.Metrics, target, th)

	if req.Apply {
		switch decision.Action {
		case models.DecisionPromote:
			if _, err := a.Prompts.Promote(r.Context(), target.ID); err != nil {
				middleware.RespondError(w, err)
				return
			}
		case models.DecisionRollback:
			if _, err := a.Prompts.SetTraffic(r.Context(), target.ID, 0); err != nil {
				middleware.RespondError(w, err)
				return
			}
		}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"versionId": target.ID,
		"decision":  decision,
		"applied":   req.Apply && decision.Action != models.DecisionHold,
	})
}
