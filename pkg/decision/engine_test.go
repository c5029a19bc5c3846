package decision

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medic/arbiter/pkg/config"
	"github.com/medic/arbiter/pkg/models"
)

type fakeHistory struct {
	moduleHistory int
	moduleErr     error
	stats         *models.Statistics
	statsErr      error
}

func (f *fakeHistory) ModuleHistory(ctx context.Context, targetModule string, window time.Duration) (int, error) {
	return f.moduleHistory, f.moduleErr
}

func (f *fakeHistory) Statistics(ctx context.Context, window time.Duration) (*models.Statistics, error) {
	return f.stats, f.statsErr
}

func testConfig(mode config.Mode, autoApproveEnabled bool) *config.Config {
	return &config.Config{
		Mode: mode,
		Decision: config.DecisionConfig{
			AutoApprove: config.AutoApproveConfig{
				Enabled:       autoApproveEnabled,
				MaxRisk:       0.30,
				MinConfidence: 0.85,
			},
		},
		Risk: config.RiskConfig{
			Weights: defaultWeights(),
		},
	}
}

// lowRiskReport describes a kill with minimal signal on every factor:
// low confidence from the killer, low SIEM risk, and a long false-positive
// history, backed by enough evidence to max out the confidence boost. That
// combination is unambiguously low-risk (risk_score ~0.07) rather than
// merely below-midpoint, so it clears both the default auto_max and the
// default auto_min_conf bars.
func lowRiskReport() models.KillReport {
	return models.KillReport{
		KillID:          "k1",
		TargetModule:    "nginx-test",
		ConfidenceScore: 0.05,
		Severity:        models.SeverityInfo,
		Evidence:        []string{"e1", "e2", "e3", "e4"},
	}
}

func TestEngine_ObserverMode_AutoApprovesWithoutActing(t *testing.T) {
	cfg := testConfig(config.ModeObserver, false)
	eng := New(cfg, &fakeHistory{})

	d := eng.Decide(t.Context(), lowRiskReport(), models.SIEMResult{RiskScore: 0.05, FalsePositiveHistory: 10})

	assert.Equal(t, models.OutcomeApproveAuto, d.Outcome)
	assert.False(t, d.RequiresHumanReview)
}

func TestEngine_LiveMode_AutoApproveDisabled_FallsToPendingReview(t *testing.T) {
	cfg := testConfig(config.ModeLive, false)
	eng := New(cfg, &fakeHistory{})

	d := eng.Decide(t.Context(), lowRiskReport(), models.SIEMResult{RiskScore: 0.05, FalsePositiveHistory: 10})

	assert.Equal(t, models.OutcomePendingReview, d.Outcome)
	assert.True(t, d.RequiresHumanReview)
	assert.Equal(t, defaultPendingReviewTimeoutMinutes, d.TimeoutMinutes)
}

func TestEngine_LiveMode_AutoApproveEnabled_LowRiskApproves(t *testing.T) {
	cfg := testConfig(config.ModeLive, true)
	eng := New(cfg, &fakeHistory{})

	d := eng.Decide(t.Context(), lowRiskReport(), models.SIEMResult{RiskScore: 0.05, FalsePositiveHistory: 10})

	assert.Equal(t, models.OutcomeApproveAuto, d.Outcome)
}

func TestEngine_HighRiskAlwaysDenied(t *testing.T) {
	cfg := testConfig(config.ModeLive, true)
	cfg.CriticalModules = map[string]bool{"billing": true}
	eng := New(cfg, &fakeHistory{})

	kr := models.KillReport{
		KillID:          "k2",
		TargetModule:    "billing",
		ConfidenceScore: 0.99,
		Severity:        models.SeverityCritical,
	}
	d := eng.Decide(t.Context(), kr, models.SIEMResult{RiskScore: 0.9, FalsePositiveHistory: 0})

	assert.Equal(t, models.OutcomeDeny, d.Outcome)
	assert.True(t, d.RequiresHumanReview)
	assert.GreaterOrEqual(t, d.RiskScore, 0.9)
}

func TestEngine_CriticalModuleDeniedInMidRiskBand(t *testing.T) {
	cfg := testConfig(config.ModeLive, true)
	cfg.CriticalModules = map[string]bool{"billing": true}
	eng := New(cfg, &fakeHistory{})

	kr := models.KillReport{
		KillID:          "k3",
		TargetModule:    "billing",
		ConfidenceScore: 0.8,
		Severity:        models.SeverityHigh,
	}
	d := eng.Decide(t.Context(), kr, models.SIEMResult{RiskScore: 0.7, FalsePositiveHistory: 0})

	require.GreaterOrEqual(t, d.RiskScore, 0.6)
	require.Less(t, d.RiskScore, 0.9)
	assert.Equal(t, models.OutcomeDeny, d.Outcome)
}

func TestEngine_ModuleHistoryLookupFailureDefaultsToZero(t *testing.T) {
	cfg := testConfig(config.ModeObserver, false)
	eng := New(cfg, &fakeHistory{moduleErr: assertErr{}})

	d := eng.Decide(t.Context(), lowRiskReport(), models.SIEMResult{RiskScore: 0.05, FalsePositiveHistory: 10})

	assert.NotZero(t, d.DecisionID)
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
