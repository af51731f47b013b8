package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/plinthworks/plinth/internal/api/middleware"
)

type memoryAddRequest struct {
	UserID   string         `json:"userId"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (a *API) handleMemoryAdd(w http.ResponseWriter, r *http.Request) {
	if err := a.Gate.Check(a.Memory); err != nil {
		respondGate(w, err)
		return
	}

	var req memoryAddRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	if req.Content == "" {
		badRequest(w, "content is required")
		return
	}
	if req.UserID == "" {
		req.UserID = requestUserID(r)
	}

	entry, err := a.Memory.Add(r.Context(), req.UserID, req.Content, req.Metadata)
	if err != nil {
		middleware.RespondError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, entry)
}

func (a *API) handleMemorySearch(w http.ResponseWriter, r *http.Request) {
	if err := a.Gate.Check(a.Memory); err != nil {
		respondGate(w, err)
		return
	}

	q := r.URL.Query()
	query := q.Get("q")
	if query == "" {
		badRequest(w, "q is required")
		return
	}
	userID := q.Get("userId")
	if userID == "" {
		userID = requestUserID(r)
	}

	entries, err := a.Memory.Search(r.Context(), userID, query, queryInt(r, "limit", 10))
	if err != nil {
		middleware.RespondError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"memories": entries})
}

func (a *API) handleMemoryGetAll(w http.ResponseWriter, r *http.Request) {
	if err := a.Gate.Check(a.Memory); err != nil {
		respondGate(w, err)
		return
	}

	entries, err := a.Memory.GetAll(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		middleware.RespondError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"memories": entries})
}

func (a *API) handleMemoryDelete(w http.ResponseWriter, r *http.Request) {
	if err := a.Gate.Check(a.Memory); err != nil {
		respondGate(w, err)
		return
	}

	if err := a.Memory.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		middleware.RespondError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (a *API) handleToolActions(w http.ResponseWriter, r *http.Request) {
	if err := a.Gate.Check(a.Tools); err != nil {
		respondGate(w, err)
		return
	}

	actions, err := a.Tools.ListActions(r.Context())
	if err != nil {
		middleware.RespondError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"actions": actions})
}

type toolExecuteRequest struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params,omitempty"`
}

func (a *API) handleToolExecute(w http.ResponseWriter, r *http.Request) {
	if err := a.Gate.Check(a.Tools); err != nil {
		respondGate(w, err)
		return
	}

	var req toolExecuteRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	if req.Action == "" {
		badRequest(w, "action is required")
		return
	}

	out, err := a.Tools.Execute(r.Context(), req.Action, req.Params)
	if err != nil {
		middleware.RespondError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"result": out})
}

func (a *API) handleFineTuneLog(w http.ResponseWriter, r *http.Request) {
	if err := a.Gate.Check(a.FineTune); err != nil {
		respondGate(w, err)
		return
	}

	var payload map[string]any
	if err := decode(r, &payload); err != nil {
		badRequest(w, err.Error())
		return
	}

	if err := a.FineTune.LogCompletion(r.Context(), payload); err != nil {
		middleware.RespondError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"logged": true})
}

type fineTuneRequest struct {
	BaseModel string         `json:"baseModel"`
	Params    map[string]any `json:"params,omitempty"`
}

func (a *API) handleFineTuneTrigger(w http.ResponseWriter, r *http.Request) {
	if err := a.Gate.Check(a.FineTune); err != nil {
		respondGate(w, err)
		return
	}

	var req fineTuneRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	if req.BaseModel == "" {
		badRequest(w, "baseModel is required")
		return
	}

	job, err := a.FineTune.Trigger(r.Context(), req.BaseModel, req.Params)
	if err != nil {
		middleware.RespondError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, job)
}

func (a *API) handleFineTuneStatus(w http.ResponseWriter, r *http.Request) {
	if err := a.Gate.Check(a.FineTune); err != nil {
		respondGate(w, err)
		return
	}

	job, err := a.FineTune.Status(r.Context(), chi.URLParam(r, "jobId"))
	if err != nil {
		middleware.RespondError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, job)
}
