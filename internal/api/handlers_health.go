package api

import (
	"context"
	"net/http"

	"github.com/plinthworks/plinth/internal/api/middleware"
)

func probeStatus(ctx context.Context, probe func(ctx context.Context) error) string {
	if probe == nil {
		return "unconfigured"
	}
	if err := probe(ctx); err != nil {
		return "down"
	}
	return "up"
}

// handleHealth reports service reachability. Database loss degrades to 503;
// everything else only flips the status to degraded.
func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	services := map[string]string{
		"database": probeStatus(ctx, a.Probes.Database),
		"redis":    probeStatus(ctx, a.Probes.Redis),
		"litellm":  probeStatus(ctx, a.Probes.LiteLLM),
	}

	status := "ok"
	code := http.StatusOK
	for _, s := range services {
		if s == "down" {
			status = "degraded"
		}
	}
	if services["database"] == "down" {
		code = http.StatusServiceUnavailable
	}

	var uptime float64
	if a.StartedAt != nil {
		uptime = a.StartedAt()
	}

	middleware.WriteJSON(w, code, map[string]any{
		"status":        status,
		"uptimeSeconds": uptime,
		"services":      services,
	})
}
