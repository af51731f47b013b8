package auth

import (
	"net/http"
	"strings"
)

// Rule maps a method+path prefix to a tier. An empty Method matches every
// method.
type Rule struct {
	Method string
	Prefix string
	Tier   Tier
}

// TierTable resolves the tier for a route. Rules are evaluated top to bottom,
// first match wins; unmatched /api/* routes default to user, everything else
// is public.
type TierTable struct {
	rules []Rule
}

// DefaultTierTable is the platform route policy.
func DefaultTierTable() *TierTable {
	return &TierTable{rules: []Rule{
		{http.MethodGet, "/api/health", TierPublic},
		{http.MethodGet, "/api/prompts", TierPublic},

		{"", "/api/admin/", TierAdmin},
		{http.MethodPost, "/api/documents/upload", TierAdmin},
		{http.MethodPost, "/api/costs/reset", TierAdmin},
		{http.MethodPost, "/api/prompts", TierAdmin},
		{http.MethodPatch, "/api/prompts/", TierAdmin},
		{http.MethodPost, "/api/preferences/infer-all", TierAdmin},
	}}
}

// NewTierTable builds a table from explicit rules, for tests and overrides.
func NewTierTable(rules []Rule) *TierTable {
	return &TierTable{rules: rules}
}

// Resolve returns the tier for one request route.
func (t *TierTable) Resolve(method, path string) Tier {
	for _, r := range t.rules {
		if r.Method != "" && r.Method != method {
			continue
		}
		if matchPrefix(path, r.Prefix) {
			return r.Tier
		}
	}
	if strings.HasPrefix(path, "/api/") {
		return TierUser
	}
	return TierPublic
}

// matchPrefix treats a trailing slash as a subtree match and anything else as
// an exact-or-subtree match on segment boundaries.
func matchPrefix(path, prefix string) bool {
	if strings.HasSuffix(prefix, "/") {
		return strings.HasPrefix(path, prefix)
	}
	if path == prefix {
		return true
	}
	return strings.HasPrefix(path, prefix+"/")
}
