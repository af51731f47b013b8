package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORSPolicy builds the cross-origin policy. A configured allow-list mirrors
// matching origins; development without one permits every origin; production
// without one sends no CORS headers at all.
func CORSPolicy(allowedOrigins []string, production bool) func(http.Handler) http.Handler {
	if len(allowedOrigins) == 0 {
		if production {
			return func(next http.Handler) http.Handler { return next }
		}
		allowedOrigins = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "x-api-key", "x-admin-key", "x-turnstile-token", "x-document-title"},
		AllowCredentials: false,
		MaxAge:           300,
	})
}
