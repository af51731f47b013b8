package prompts

import (
	"fmt"

	"github.com/plinthworks/plinth/pkg/models"
)

// DefaultThresholds drive the automated promotion decision when the caller
// does not override them.
var DefaultThresholds = models.PromotionThresholds{
	MinSamples:   50,
	PromoteAcc:   0.6,
	PromoteConv:  0.1,
	RollbackAcc:  0.3,
	RollbackConv: 0.02,
}

// Decide evaluates live quality signals for a candidate version and
// recommends hold, promote, or rollback. Checks run in a fixed order:
// sample floor, rollback (only for versions carrying traffic), ladder top,
// then promotion with the quality gate applied above 10%. Pure function; the
// caller applies the verdict through Promote or SetTraffic.
func Decide(metrics models.PromotionMetrics, candidate *models.PromptVersion, th models.PromotionThresholds) models.PromotionDecision {
	if th.MinSamples <= 0 {
		th = DefaultThresholds
	}

	d := models.PromotionDecision{
		Action:         models.DecisionHold,
		AcceptanceRate: metrics.AcceptanceRate,
		ConversionRate: metrics.ConversionRate,
		NextPct:        candidate.ActivePct,
	}

	if metrics.Samples < th.MinSamples {
		d.Reason = fmt.Sprintf("insufficient samples: %d of %d required", metrics.Samples, th.MinSamples)
		return d
	}

	// A version with no traffic has nothing to roll back.
	if candidate.ActivePct > 0 &&
		(metrics.AcceptanceRate < th.RollbackAcc || metrics.ConversionRate < th.RollbackConv) {
		d.Action = models.DecisionRollback
		d.NextPct = 0
		d.Reason = fmt.Sprintf("quality regression: acceptance %.2f, conversion %.3f", metrics.AcceptanceRate, metrics.ConversionRate)
		return d
	}

	next := NextLadderStep(candidate.ActivePct)
	if next < 0 {
		d.Reason = "already fully promoted"
		return d
	}

	if metrics.AcceptanceRate >= th.PromoteAcc && metrics.ConversionRate >= th.PromoteConv {
		if next > 10 && (candidate.EvalScore == nil || *candidate.EvalScore < models.PromotionQualityGate) {
			d.Reason = fmt.Sprintf("quality gate not met for %d%%: eval score below %.2f", next, models.PromotionQualityGate)
			return d
		}
		d.Action = models.DecisionPromote
		d.NextPct = next
		d.Reason = fmt.Sprintf("quality targets met: acceptance %.2f, conversion %.3f", metrics.AcceptanceRate, metrics.ConversionRate)
		return d
	}

	d.Reason = "metrics between rollback and promote thresholds"
	return d
}
