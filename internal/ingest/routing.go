package ingest

import "strings"

// Tier is the complexity class the heuristic router assigns to a request.
type Tier string

const (
	TierFast     Tier = "fast"
	TierBalanced Tier = "balanced"
	TierQuality  Tier = "quality"
)

// DefaultTierModels maps tiers to embedding model ids.
var DefaultTierModels = map[Tier]string{
	TierFast:     "text-embedding-3-small",
	TierBalanced: "text-embedding-3-small",
	TierQuality:  "text-embedding-3-large",
}

// task types biased toward a tier
var qualityTasks = map[string]bool{
	"legal": true, "analysis": true, "research": true, "summarization": true,
}

var fastTasks = map[string]bool{
	"chat": true, "autocomplete": true, "classification": true,
}

// keyword signals that push a request up to the quality tier
var qualityKeywords = []string{
	"contract", "regulation", "compliance", "diagnosis", "financial statement",
}

// RouteComplexity assigns a tier from heuristic signals: text length,
// task-type bias, and keyword hits. Scores accumulate; ties resolve to
// balanced.
func RouteComplexity(text, taskType string) Tier {
	score := 0

	switch {
	case len(text) > 4000:
		score += 2
	case len(text) < 500:
		score -= 1
	}

	if qualityTasks[taskType] {
		score += 2
	}
	if fastTasks[taskType] {
		score -= 2
	}

	lower := strings.ToLower(text)
	for _, kw := range qualityKeywords {
		if strings.Contains(lower, kw) {
			score++
			break
		}
	}

	switch {
	case score >= 2:
		return TierQuality
	case score <= -2:
		return TierFast
	default:
		return TierBalanced
	}
}
