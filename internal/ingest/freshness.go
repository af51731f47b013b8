package ingest

import "time"

// Freshness classification labels written by the freshness worker.
const (
	FreshnessFresh   = "fresh"
	FreshnessAging   = "aging"
	FreshnessStale   = "stale"
	FreshnessExpired = "expired"
)

// ComputeFreshnessMultiplier returns the ranking multiplier for a document:
// 0 when validUntil has passed, otherwise a staleness curve over the age
// since ingestion (1.0 under 30 days, 0.9 between 30 and 90, 0.8 beyond).
func ComputeFreshnessMultiplier(ingestedAt time.Time, validUntil *time.Time, now time.Time) float64 {
	if validUntil != nil && validUntil.Before(now) {
		return 0
	}
	age := now.Sub(ingestedAt)
	switch {
	case age < 30*24*time.Hour:
		return 1.0
	case age <= 90*24*time.Hour:
		return 0.9
	default:
		return 0.8
	}
}

// ClassifyFreshness maps the multiplier onto the status label the freshness
// worker persists.
func ClassifyFreshness(ingestedAt time.Time, validUntil *time.Time, now time.Time) string {
	switch ComputeFreshnessMultiplier(ingestedAt, validUntil, now) {
	case 0:
		return FreshnessExpired
	case 1.0:
		return FreshnessFresh
	case 0.9:
		return FreshnessAging
	default:
		return FreshnessStale
	}
}
