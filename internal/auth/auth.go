// Package auth resolves route tiers and verifies caller credentials. Two
// credential sources exist: externally issued JWTs (Clerk, HS256) and static
// API keys. Admin routes additionally require the admin secret. When neither
// source is configured the layer runs fail-open for development, and the
// caller identity is taken on trust.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"
)

// Tier is the access level a route demands.
type Tier string

const (
	TierPublic Tier = "public"
	TierUser   Tier = "user"
	TierAdmin  Tier = "admin"
)

// Sentinel errors mapped at the handler boundary (401/403).
var (
	ErrMissingCredentials = errors.New("missing credentials")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAdminRequired      = errors.New("admin credentials required")
)

// Method constants for auditability of how the caller authenticated.
const (
	MethodJWT      = "jwt"
	MethodAPIKey   = "api_key"
	MethodAdminKey = "admin_key"
	MethodFailOpen = "fail_open"
	MethodNone     = "none"
)

// UserContext is the authenticated caller identity attached to the request.
type UserContext struct {
	UserID string
	Tier   Tier
	Method string
	Admin  bool
}

// Credentials carries the raw material extracted from request headers.
type Credentials struct {
	Bearer   string // Authorization: Bearer <token>
	APIKey   string // x-api-key
	AdminKey string // x-admin-key
	// HintedUserID is the caller-asserted identity (userId query or body
	// field). Trusted only in fail-open mode.
	HintedUserID string
}

// Authenticator validates credentials against the configured sources.
type Authenticator struct {
	clerkSecret []byte
	adminKey    string

	mu   sync.RWMutex
	keys map[string]struct{}
}

// NewAuthenticator builds the credential validator. Empty clerkSecret disables
// JWT verification; an empty key list disables API keys.
func NewAuthenticator(clerkSecret, adminKey string, apiKeys []string) *Authenticator {
	a := &Authenticator{
		adminKey: adminKey,
		keys:     make(map[string]struct{}, len(apiKeys)),
	}
	if clerkSecret != "" {
		a.clerkSecret = []byte(clerkSecret)
	}
	for _, k := range apiKeys {
		if k = strings.TrimSpace(k); k != "" {
			a.keys[k] = struct{}{}
		}
	}
	return a
}

// FailOpen reports whether neither credential source is configured. IDOR
// scoping is skipped in this mode.
func (a *Authenticator) FailOpen() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.clerkSecret == nil && len(a.keys) == 0
}

// ReloadKeys replaces the API key set. The admin reload hook calls this after
// rotating keys out-of-band.
func (a *Authenticator) ReloadKeys(apiKeys []string) int {
	next := make(map[string]struct{}, len(apiKeys))
	for _, k := range apiKeys {
		if k = strings.TrimSpace(k); k != "" {
			next[k] = struct{}{}
		}
	}
	a.mu.Lock()
	a.keys = next
	a.mu.Unlock()
	return len(next)
}

// Authenticate resolves the caller identity for a route of the given tier.
// Public routes always pass with a derived context. Bearer verification is
// tried before API keys; admin tiers require the admin secret on top.
func (a *Authenticator) Authenticate(creds Credentials, tier Tier) (*UserContext, error) {
	if tier == TierPublic {
		return &UserContext{UserID: anonymousID(creds), Tier: TierPublic, Method: MethodNone}, nil
	}

	if a.FailOpen() {
		uc := &UserContext{UserID: anonymousID(creds), Tier: tier, Method: MethodFailOpen, Admin: tier == TierAdmin}
		return uc, nil
	}

	uc, err := a.identify(creds)
	if err != nil {
		return nil, err
	}

	if tier == TierAdmin {
		if a.adminKey == "" || subtle.ConstantTimeCompare([]byte(creds.AdminKey), []byte(a.adminKey)) != 1 {
			return nil, ErrAdminRequired
		}
		uc.Admin = true
		uc.Method = MethodAdminKey
	}
	uc.Tier = tier
	return uc, nil
}

// identify resolves who the caller is, without tier checks.
func (a *Authenticator) identify(creds Credentials) (*UserContext, error) {
	if creds.Bearer != "" && a.clerkSecret != nil {
		sub, err := a.verifyJWT(creds.Bearer)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidCredentials, err)
		}
		return &UserContext{UserID: sub, Method: MethodJWT}, nil
	}

	if creds.APIKey != "" {
		if !a.validKey(creds.APIKey) {
			return nil, fmt.Errorf("%w: unknown api key", ErrInvalidCredentials)
		}
		return &UserContext{UserID: anonymousID(creds), Method: MethodAPIKey}, nil
	}

	return nil, ErrMissingCredentials
}

func (a *Authenticator) verifyJWT(raw string) (string, error) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.clerkSecret, nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", errors.New("invalid token claims")
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", errors.New("token missing sub claim")
	}
	return sub, nil
}

func (a *Authenticator) validKey(candidate string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for k := range a.keys {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(k)) == 1 {
			return true
		}
	}
	return false
}

// anonymousID is the identity used when nothing verifies who the caller is:
// public routes, API-key callers, and fail-open mode.
func anonymousID(creds Credentials) string {
	if creds.HintedUserID != "" {
		return creds.HintedUserID
	}
	return "anonymous"
}
