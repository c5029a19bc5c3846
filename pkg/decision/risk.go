// Package decision implements the risk-scoring and outcome-classification
// engine: a pure function of (KillReport, SIEMResult, history) plus a
// self-calibrating confidence threshold.
package decision

import (
	"math"

	"github.com/medic/arbiter/pkg/config"
	"github.com/medic/arbiter/pkg/models"
)

// fpHistoryScale is the divisor in min(1.0, fp/10.0); see spec §4.4.
const fpHistoryScale = 10.0

// ScoreInputs bundles everything the risk score needs beyond the kill
// report and SIEM enrichment: the engine never queries the store directly
// (see DESIGN.md on breaking the engine/store cycle).
type ScoreInputs struct {
	KillReport       models.KillReport
	SIEM             models.SIEMResult
	ModuleHistory    int // ReKilled+Failure count for the target module
	IsCriticalModule bool
}

// Score computes the weighted risk score in [0,1] from five factors (plus
// a reserved, zero-weighted sixth). The false-positive-history factor's
// direction is deliberately inverted: higher FP history lowers the
// factor's contribution to risk, per spec §4.4 and §9 ("Risk factor
// direction") — a module that has been falsely killed before is more
// likely to be falsely killed again, so resurrecting it is safer.
func Score(in ScoreInputs, weights config.RiskWeights) float64 {
	smithConfidence := in.KillReport.ConfidenceScore
	siemRisk := in.SIEM.RiskScore

	fp := float64(in.SIEM.FalsePositiveHistory + in.ModuleHistory)
	fpFactorValue := math.Min(1.0, fp/fpHistoryScale)
	fpHistoryFactor := 1 - fpFactorValue

	moduleCriticality := 0.3
	if in.IsCriticalModule {
		moduleCriticality = 1.0
	}

	severity := in.KillReport.Severity.Factor()

	score := weights.SmithConfidence*smithConfidence +
		weights.SIEMRisk*siemRisk +
		weights.FalsePositiveHistory*fpHistoryFactor +
		weights.ModuleCriticality*moduleCriticality +
		weights.Severity*severity

	return clampUnit(score)
}

// Confidence is independent of risk level: unambiguous (very low or very
// high) risk backed by strong evidence yields the highest confidence.
// distance is 0 at the midpoint (maximally ambiguous) and 1 at either
// extreme; evidence can only push confidence up from there, never down.
func Confidence(riskScore float64, evidence []string) float64 {
	boost := math.Min(0.2, 0.05*float64(len(evidence)))
	distance := math.Abs(0.5-riskScore) * 2
	return clampUnit(1 - (1-distance)*(1-boost))
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
