package api

import (
	"net/http"

	"github.com/plinthworks/plinth/internal/api/middleware"
)

// handleCosts reports the process cost ledger; ?view=observability switches
// to the latency/error-rate report.
func (a *API) handleCosts(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("view") == "observability" {
		middleware.WriteJSON(w, http.StatusOK, a.Ledger.Observability())
		return
	}
	middleware.WriteJSON(w, http.StatusOK, a.Ledger.Costs())
}

func (a *API) handleCostsReset(w http.ResponseWriter, r *http.Request) {
	a.Ledger.Reset()
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"reset": true})
}

func (a *API) handleReloadKeys(w http.ResponseWriter, r *http.Request) {
	if a.ReloadAPIKeys == nil {
		middleware.WriteJSON(w, http.StatusOK, map[string]any{"reloaded": 0})
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"reloaded": a.ReloadAPIKeys()})
}

func (a *API) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	dead, err := a.Queue.DeadLetters(r.Context(), queryInt(r, "limit", 100))
	if err != nil {
		middleware.RespondError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"deadLetters": dead})
}
