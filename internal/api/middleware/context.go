package middleware

import (
	"context"

	"github.com/plinthworks/plinth/internal/auth"
)

type ctxKey int

const userCtxKey ctxKey = iota

// WithUser attaches the authenticated caller to the request context.
func WithUser(ctx context.Context, uc *auth.UserContext) context.Context {
	return context.WithValue(ctx, userCtxKey, uc)
}

// UserFrom returns the authenticated caller, or nil for requests that never
// passed the governor (tests, internal calls).
func UserFrom(ctx context.Context) *auth.UserContext {
	uc, _ := ctx.Value(userCtxKey).(*auth.UserContext)
	return uc
}
