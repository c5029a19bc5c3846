// Package orchestrator drives the single-writer pipeline: enrich, decide,
// act, record, acknowledge.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/medic/arbiter/pkg/decision"
	"github.com/medic/arbiter/pkg/models"
	"github.com/medic/arbiter/pkg/resurrector"
	"github.com/medic/arbiter/pkg/stream"
)

// restartTimeout bounds a single resurrection attempt end-to-end, per
// spec §5 ("a per-call total timeout of 90 s").
const restartTimeout = 90 * time.Second

// dedupeWindow is how far back RecentByKillID looks before treating a
// redelivered kill_id as already handled.
const dedupeWindow = 24 * time.Hour

// expiryTickInterval drives the pending-queue sweep, per spec §4.7
// ("A background ticker (1 Hz)").
const expiryTickInterval = 1 * time.Second

// SIEMEnricher is the subset of the SIEM client the orchestrator needs.
type SIEMEnricher interface {
	Enrich(ctx context.Context, kr models.KillReport, deadline time.Duration) models.SIEMResult
}

// Store is the subset of the outcome store the orchestrator writes
// through and reads dedupe/pending state from.
type Store interface {
	Put(ctx context.Context, rec models.OutcomeRecord) error
	RecentByKillID(ctx context.Context, killID string, lookback time.Duration) (*models.OutcomeRecord, error)
}

// Resurrector is the subset of the resurrection executor the orchestrator
// invokes.
type Resurrector interface {
	Restart(ctx context.Context, targetModule string) resurrector.Outcome
}

// Notifier mirrors escalation-worthy decisions and calibration changes to
// an external channel. A nil Notifier is valid: every call site must be
// safe to invoke on a nil interface value backed by a nil *notify.Service.
type Notifier interface {
	NotifyDecision(ctx context.Context, d models.Decision, kr models.KillReport)
	NotifyCalibration(ctx context.Context, oldThreshold, newThreshold, accuracy float64, sampleSize int)
}

// Orchestrator is the single-threaded coordinator described in spec §4.7
// and §5: it never interleaves two kills, and only advances calibration
// on its own tick.
type Orchestrator struct {
	listener    stream.Listener
	siem        SIEMEnricher
	engine      *decision.Engine
	resurrector Resurrector
	store       Store
	notifier    Notifier
	mode        func() bool // reports whether the arbiter is in live mode

	calibrationInterval time.Duration
	calibrationWindow   time.Duration

	pending *pendingQueue
	log     *slog.Logger
}

// Config bundles the Orchestrator's dependencies and tuning knobs.
type Config struct {
	Listener            stream.Listener
	SIEM                SIEMEnricher
	Engine              *decision.Engine
	Resurrector         Resurrector
	Store               Store
	Notifier            Notifier
	IsLiveMode          func() bool
	CalibrationInterval time.Duration
	CalibrationWindow   time.Duration
}

// New constructs an Orchestrator from cfg.
func New(cfg Config) *Orchestrator {
	return &Orchestrator{
		listener:            cfg.Listener,
		siem:                cfg.SIEM,
		engine:              cfg.Engine,
		resurrector:         cfg.Resurrector,
		store:               cfg.Store,
		notifier:            cfg.Notifier,
		mode:                cfg.IsLiveMode,
		calibrationInterval: cfg.CalibrationInterval,
		calibrationWindow:   cfg.CalibrationWindow,
		pending:             newPendingQueue(),
		log:                 slog.With("component", "orchestrator"),
	}
}

// PendingCount reports the number of decisions currently awaiting manual
// approval, for the /health endpoint.
func (o *Orchestrator) PendingCount() int {
	return o.pending.len()
}

// Run drives the pipeline until ctx is canceled. It starts the pending-
// expiry ticker and the calibration ticker alongside the main message
// loop; none of them share state outside the pending queue's own mutex
// and the engine's own internal lock.
func (o *Orchestrator) Run(ctx context.Context) {
	go o.runExpiryTicker(ctx)
	go o.runCalibrationTicker(ctx)
	o.runMessageLoop(ctx)
}

func (o *Orchestrator) runMessageLoop(ctx context.Context) {
	messages := o.listener.Listen(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			o.processOne(ctx, msg)
		}
	}
}

// processOne implements the pseudocode in spec §4.7. Any error leaves the
// message un-acked; redelivery will retry it.
func (o *Orchestrator) processOne(ctx context.Context, msg stream.Message) {
	if msg.InvalidInput != nil {
		o.recordInvalidInput(ctx, msg)
		return
	}

	kr := msg.KillReport
	log := o.log.With("kill_id", kr.KillID, "target_module", kr.TargetModule)

	if existing, err := o.store.RecentByKillID(ctx, kr.KillID, dedupeWindow); err != nil {
		log.Error("dedupe lookup failed, processing anyway", "error", err)
	} else if existing != nil {
		log.Info("duplicate kill_id within dedupe window, acking without reprocessing")
		if err := o.listener.Ack(ctx, msg.ID); err != nil {
			log.Error("ack failed for duplicate message", "error", err)
		}
		return
	}

	siemResult := o.siem.Enrich(ctx, kr, 5*time.Second)
	d := o.engine.Decide(ctx, kr, siemResult)

	outcomeType := models.OutcomeTypeUndetermined
	var timeToHealthy, healthScore *float64

	switch {
	case d.Outcome == models.OutcomeApproveAuto && o.mode():
		restartCtx, cancel := context.WithTimeout(ctx, restartTimeout)
		result := o.resurrector.Restart(restartCtx, kr.TargetModule)
		cancel()
		outcomeType = mapResurrectionResult(result.Result)
		timeToHealthy = result.TimeToHealthy
		healthScore = result.HealthScoreAfter

	case d.Outcome == models.OutcomePendingReview:
		expiry := time.Now().Add(time.Duration(d.TimeoutMinutes) * time.Minute)
		if ok := o.pending.put(kr, d, expiry); !ok {
			log.Warn("pending queue at capacity, downgrading to deny")
			d.Outcome = models.OutcomeDeny
		}
	}

	if o.notifier != nil && d.Outcome != models.OutcomeApproveAuto {
		o.notifier.NotifyDecision(ctx, d, kr)
	}

	rec := models.OutcomeRecord{
		OutcomeID:            uuid.NewString(),
		DecisionID:           d.DecisionID,
		KillID:               kr.KillID,
		TargetModule:         kr.TargetModule,
		OutcomeType:          outcomeType,
		WasAutoApproved:      d.Outcome == models.OutcomeApproveAuto,
		OriginalRiskScore:    d.RiskScore,
		OriginalConfidence:   d.Confidence,
		TimeToHealthySeconds: timeToHealthy,
		HealthScoreAfter:     healthScore,
		RecordedAt:           time.Now(),
	}

	if err := o.store.Put(ctx, rec); err != nil {
		log.Error("failed to persist outcome, leaving message un-acked", "error", err)
		return
	}

	if err := o.listener.Ack(ctx, msg.ID); err != nil {
		log.Error("ack failed after durable write", "error", err)
	}
}

// recordInvalidInput writes a terminal Undetermined outcome for a stream
// entry that never became a usable KillReport, then acks it: per spec §4.1
// a validation failure at intake is never a pipeline error, so redelivery
// would only reproduce the same failure forever.
func (o *Orchestrator) recordInvalidInput(ctx context.Context, msg stream.Message) {
	killID := msg.InvalidInput.KillID
	if killID == "" {
		killID = msg.ID
	}
	log := o.log.With("stream_id", msg.ID, "kill_id", killID, "reason", "invalid_input")
	log.Warn("recording undetermined outcome for invalid stream input", "error", msg.InvalidInput.Err)

	rec := models.OutcomeRecord{
		OutcomeID:   uuid.NewString(),
		KillID:      killID,
		OutcomeType: models.OutcomeTypeUndetermined,
		RecordedAt:  time.Now(),
	}

	if err := o.store.Put(ctx, rec); err != nil {
		log.Error("failed to persist invalid-input outcome, leaving message un-acked", "error", err)
		return
	}

	if err := o.listener.Ack(ctx, msg.ID); err != nil {
		log.Error("ack failed after durable write", "error", err)
	}
}

func mapResurrectionResult(r resurrector.Result) models.OutcomeType {
	switch r {
	case resurrector.ResultSuccess:
		return models.OutcomeTypeSuccess
	case resurrector.ResultNotFound:
		return models.OutcomeTypeFailure
	case resurrector.ResultUnhealthy, resurrector.ResultTimeout:
		return models.OutcomeTypeRollback
	default:
		return models.OutcomeTypeUndetermined
	}
}

func (o *Orchestrator) runExpiryTicker(ctx context.Context) {
	ticker := time.NewTicker(expiryTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, e := range o.pending.expired(now) {
				o.recordExpired(ctx, e)
			}
		}
	}
}

func (o *Orchestrator) recordExpired(ctx context.Context, e pendingEntry) {
	rec := models.OutcomeRecord{
		OutcomeID:          uuid.NewString(),
		DecisionID:         e.decision.DecisionID,
		KillID:             e.killReport.KillID,
		TargetModule:       e.killReport.TargetModule,
		OutcomeType:        models.OutcomeTypeUndetermined,
		WasAutoApproved:    false,
		OriginalRiskScore:  e.decision.RiskScore,
		OriginalConfidence: e.decision.Confidence,
		RecordedAt:         time.Now(),
	}
	if err := o.store.Put(ctx, rec); err != nil {
		o.log.Error("failed to record expired pending review", "kill_id", e.killReport.KillID, "error", err)
	}
}

func (o *Orchestrator) runCalibrationTicker(ctx context.Context) {
	if o.calibrationInterval <= 0 {
		return
	}
	ticker := time.NewTicker(o.calibrationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			before := o.engine.AutoMinConfidence()
			if err := o.engine.Calibrate(ctx, o.calibrationWindow); err != nil {
				o.log.Error("calibration failed", "error", err)
				continue
			}
			after := o.engine.AutoMinConfidence()
			if after != before && o.notifier != nil {
				accuracy, sampleSize := o.engine.LastCalibrationStats()
				o.notifier.NotifyCalibration(ctx, before, after, accuracy, sampleSize)
			}
		}
	}
}

// ErrApprovalInFlight is returned by Approve when a concurrent approval
// request for the same kill_id is already executing a restart.
var ErrApprovalInFlight = errors.New("approval already in flight for this kill_id")

// Approve invokes the resurrector for a pending kill_id and records the
// outcome. found is false when no pending entry exists for killID (either
// never pending, already expired, or already approved); err is
// ErrApprovalInFlight when a concurrent request for the same kill_id is
// already executing.
func (o *Orchestrator) Approve(ctx context.Context, killID string) (outcome models.OutcomeType, found bool, err error) {
	entry, ok, conflict := o.pending.takeForApproval(killID)
	if conflict {
		return "", false, ErrApprovalInFlight
	}
	if !ok {
		return "", false, nil
	}
	defer o.pending.clearInFlight(killID)

	restartCtx, cancel := context.WithTimeout(ctx, restartTimeout)
	result := o.resurrector.Restart(restartCtx, entry.killReport.TargetModule)
	cancel()

	outcomeType := mapResurrectionResult(result.Result)
	rec := models.OutcomeRecord{
		OutcomeID:            uuid.NewString(),
		DecisionID:           entry.decision.DecisionID,
		KillID:               entry.killReport.KillID,
		TargetModule:         entry.killReport.TargetModule,
		OutcomeType:          outcomeType,
		WasAutoApproved:      false,
		OriginalRiskScore:    entry.decision.RiskScore,
		OriginalConfidence:   entry.decision.Confidence,
		TimeToHealthySeconds: result.TimeToHealthy,
		HealthScoreAfter:     result.HealthScoreAfter,
		RecordedAt:           time.Now(),
	}

	if err := o.store.Put(ctx, rec); err != nil {
		return "", true, err
	}

	return outcomeType, true, nil
}
