package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/plinthworks/plinth/internal/api/middleware"
)

func (a *API) handleListPreferences(w http.ResponseWriter, r *http.Request) {
	prefs, err := a.Prefs.List(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		middleware.RespondError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"preferences": prefs})
}

func (a *API) handleGetPreference(w http.ResponseWriter, r *http.Request) {
	pref, err := a.Prefs.Get(r.Context(), chi.URLParam(r, "userId"), chi.URLParam(r, "key"))
	if err != nil {
		middleware.RespondError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, pref)
}

type preferenceRequest struct {
	Value json.RawMessage `json:"value"`
}

func (a *API) handleSetPreference(w http.ResponseWriter, r *http.Request) {
	var req preferenceRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	if len(req.Value) == 0 {
		badRequest(w, "value is required")
		return
	}

	pref, err := a.Prefs.SetExplicit(r.Context(), chi.URLParam(r, "userId"), chi.URLParam(r, "key"), req.Value)
	if err != nil {
		middleware.RespondError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, pref)
}

func (a *API) handleDeletePreference(w http.ResponseWriter, r *http.Request) {
	if err := a.Prefs.Delete(r.Context(), chi.URLParam(r, "userId"), chi.URLParam(r, "key")); err != nil {
		middleware.RespondError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (a *API) handleInferUser(w http.ResponseWriter, r *http.Request) {
	report, err := a.Prefs.InferUser(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		middleware.RespondError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, report)
}

func (a *API) handleInferAll(w http.ResponseWriter, r *http.Request) {
	reports, err := a.Prefs.InferAll(r.Context())
	if err != nil {
		middleware.RespondError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"reports": reports})
}
