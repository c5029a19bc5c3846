package decision

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/medic/arbiter/pkg/config"
	"github.com/medic/arbiter/pkg/models"
)

// OutcomeHistory is the engine's read-only view of the outcome store. It
// exists to break the engine/store cycle described in spec §9: the engine
// never writes, and holds only this narrow interface rather than a
// reference to the concrete store.
type OutcomeHistory interface {
	ModuleHistory(ctx context.Context, targetModule string, window time.Duration) (int, error)
	Statistics(ctx context.Context, window time.Duration) (*models.Statistics, error)
}

const (
	moduleHistoryWindow = 30 * 24 * time.Hour

	// defaultPendingReviewTimeoutMinutes is the validity window given to a
	// PendingReview decision before the pending queue expires it into an
	// Undetermined outcome (spec §4.7). Not a configuration key: the spec's
	// §6 config surface does not expose it, so it stays a fixed constant.
	defaultPendingReviewTimeoutMinutes = 30
)

// Engine scores and classifies kill reports. A single Engine instance is
// driven exclusively from the orchestrator's loop, so its mutable
// threshold field needs no lock despite being read on every decision and
// written once per calibration tick (spec §5, "Engine threshold").
type Engine struct {
	cfg     *config.Config
	history OutcomeHistory
	log     *slog.Logger

	mu             sync.Mutex
	autoMinConf    float64
	lastAccuracy   float64
	lastSampleSize int
}

// New constructs a decision engine seeded with the configured auto-approve
// confidence floor.
func New(cfg *config.Config, history OutcomeHistory) *Engine {
	return &Engine{
		cfg:         cfg,
		history:     history,
		log:         slog.With("component", "decision-engine"),
		autoMinConf: cfg.Decision.AutoApprove.MinConfidence,
	}
}

// LastCalibrationStats returns the accuracy and sample size observed by the
// most recent Calibrate call, for notification purposes. Zero values until
// the first calibration with a sufficient sample size has run.
func (e *Engine) LastCalibrationStats() (accuracy float64, sampleSize int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastAccuracy, e.lastSampleSize
}

// AutoMinConfidence returns the engine's current auto-approval confidence
// floor, as adjusted by calibration.
func (e *Engine) AutoMinConfidence() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.autoMinConf
}

// Decide scores kr against sr and classifies the result into a Decision.
// Scoring and classification never fail: missing inputs default to safe
// values, per spec §4.4 ("Failure semantics").
func (e *Engine) Decide(ctx context.Context, kr models.KillReport, sr models.SIEMResult) models.Decision {
	moduleHistory := 0
	if e.history != nil {
		if count, err := e.history.ModuleHistory(ctx, kr.TargetModule, moduleHistoryWindow); err != nil {
			e.log.Warn("module history lookup failed, defaulting to zero", "target_module", kr.TargetModule, "error", err)
		} else {
			moduleHistory = count
		}
	}

	isCritical := e.cfg.IsCriticalModule(kr.TargetModule)

	riskScore := Score(ScoreInputs{
		KillReport:       kr,
		SIEM:             sr,
		ModuleHistory:    moduleHistory,
		IsCriticalModule: isCritical,
	}, e.cfg.Risk.Weights)

	confidence := Confidence(riskScore, kr.Evidence)
	riskLevel := models.ClassifyRiskLevel(riskScore)

	outcome, reasoning, requiresReview := e.classify(riskScore, confidence, isCritical)

	decision := models.Decision{
		DecisionID:          uuid.NewString(),
		KillID:              kr.KillID,
		Outcome:             outcome,
		RiskLevel:           riskLevel,
		RiskScore:           riskScore,
		Confidence:          confidence,
		Reasoning:           reasoning,
		RequiresHumanReview: requiresReview,
		CreatedAt:           time.Now(),
	}
	if outcome == models.OutcomePendingReview {
		decision.TimeoutMinutes = defaultPendingReviewTimeoutMinutes
	}

	return decision
}

// classify applies the mode/auto-approve decision table from spec §4.4.
func (e *Engine) classify(riskScore, confidence float64, isCritical bool) (models.Outcome, []string, bool) {
	autoMax := e.cfg.Decision.AutoApprove.MaxRisk
	autoMinConf := e.AutoMinConfidence()

	meetsAutoBar := riskScore < autoMax && confidence >= autoMinConf

	switch {
	case e.cfg.Mode == config.ModeObserver && meetsAutoBar:
		return models.OutcomeApproveAuto, []string{
			fmt.Sprintf("observer mode: risk %.3f < %.3f and confidence %.3f >= %.3f", riskScore, autoMax, confidence, autoMinConf),
		}, false

	case e.cfg.Mode == config.ModeLive && e.cfg.Decision.AutoApprove.Enabled && meetsAutoBar:
		return models.OutcomeApproveAuto, []string{
			fmt.Sprintf("auto-approved: risk %.3f < %.3f and confidence %.3f >= %.3f", riskScore, autoMax, confidence, autoMinConf),
		}, false
	}

	// "Other cases" per spec §4.4, evaluated in live and observer mode alike
	// (observer mode simply never acts on the result).
	switch {
	case riskScore >= 0.9:
		return models.OutcomeDeny, []string{fmt.Sprintf("risk %.3f >= 0.9", riskScore)}, true

	case riskScore >= 0.6 && isCritical:
		return models.OutcomeDeny, []string{fmt.Sprintf("risk %.3f in [0.6,0.9) on a critical module", riskScore)}, true

	default:
		return models.OutcomePendingReview, []string{fmt.Sprintf("risk %.3f did not clear the auto-approve bar", riskScore)}, true
	}
}
