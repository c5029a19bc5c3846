package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medic/arbiter/pkg/config"
	"github.com/medic/arbiter/pkg/decision"
	"github.com/medic/arbiter/pkg/models"
	"github.com/medic/arbiter/pkg/resurrector"
	"github.com/medic/arbiter/pkg/stream"
)

type fakeListener struct {
	mu       sync.Mutex
	messages chan stream.Message
	acked    []string
}

func newFakeListener() *fakeListener {
	return &fakeListener{messages: make(chan stream.Message, 16)}
}

func (f *fakeListener) Listen(ctx context.Context) <-chan stream.Message { return f.messages }

func (f *fakeListener) Ack(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, id)
	return nil
}

func (f *fakeListener) Close() error { return nil }

func (f *fakeListener) ackedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.acked))
	copy(out, f.acked)
	return out
}

// fakeSIEM returns NoOpSIEMResult unless byKillID has an entry for the
// report's kill_id, letting a single orchestrator exercise distinct
// enrichment outcomes for distinct kill reports in the same test.
type fakeSIEM struct {
	byKillID map[string]models.SIEMResult
}

func (f fakeSIEM) Enrich(ctx context.Context, kr models.KillReport, deadline time.Duration) models.SIEMResult {
	if r, ok := f.byKillID[kr.KillID]; ok {
		return r
	}
	return models.NoOpSIEMResult()
}

type fakeResurrector struct {
	result resurrector.Outcome
	calls  int
	mu     sync.Mutex
}

func (f *fakeResurrector) Restart(ctx context.Context, targetModule string) resurrector.Outcome {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.result
}

type blockingResurrector struct {
	release chan struct{}
	result  resurrector.Outcome
}

func (b *blockingResurrector) Restart(ctx context.Context, targetModule string) resurrector.Outcome {
	<-b.release
	return b.result
}

func (f *fakeResurrector) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeStore struct {
	mu      sync.Mutex
	records []models.OutcomeRecord
	recent  map[string]*models.OutcomeRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{recent: make(map[string]*models.OutcomeRecord)}
}

func (f *fakeStore) Put(ctx context.Context, rec models.OutcomeRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	f.recent[rec.KillID] = &rec
	return nil
}

func (f *fakeStore) RecentByKillID(ctx context.Context, killID string, lookback time.Duration) (*models.OutcomeRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recent[killID], nil
}

func (f *fakeStore) recordCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

func testEngine(mode config.Mode, criticalModules ...string) *decision.Engine {
	critical := make(map[string]bool, len(criticalModules))
	for _, m := range criticalModules {
		critical[m] = true
	}
	cfg := &config.Config{
		Mode: mode,
		Decision: config.DecisionConfig{
			AutoApprove: config.AutoApproveConfig{Enabled: true, MaxRisk: 0.30, MinConfidence: 0.85},
		},
		Risk: config.RiskConfig{Weights: config.RiskWeights{
			SmithConfidence: 0.30, SIEMRisk: 0.25, FalsePositiveHistory: 0.20,
			ModuleCriticality: 0.15, Severity: 0.10,
		}},
		CriticalModules: critical,
	}
	return decision.New(cfg, nil)
}

// lowRiskKillReport describes a kill with minimal signal on every factor,
// matched by lowRiskSIEM: together they score well under the default
// auto_max and clear auto_min_conf, an unambiguous (not just below-midpoint)
// low-risk case.
func lowRiskKillReport(id string) models.KillReport {
	return models.KillReport{
		KillID:          id,
		TargetModule:    "nginx-test",
		ConfidenceScore: 0.05,
		Severity:        models.SeverityInfo,
		Evidence:        []string{"e1", "e2", "e3", "e4"},
	}
}

func lowRiskSIEM() models.SIEMResult {
	return models.SIEMResult{RiskScore: 0.05, FalsePositiveHistory: 10}
}

func TestOrchestrator_AutoApprovedRestartRecordsSuccessAndAcks(t *testing.T) {
	listener := newFakeListener()
	st := newFakeStore()
	one := 1.0
	resur := &fakeResurrector{result: resurrector.Outcome{Result: resurrector.ResultSuccess, TimeToHealthy: &one, HealthScoreAfter: &one}}

	o := New(Config{
		Listener:    listener,
		SIEM:        fakeSIEM{byKillID: map[string]models.SIEMResult{"k1": lowRiskSIEM()}},
		Engine:      testEngine(config.ModeLive),
		Resurrector: resur,
		Store:       st,
		IsLiveMode:  func() bool { return true },
	})

	ctx, cancel := context.WithCancel(t.Context())
	listener.messages <- stream.Message{ID: "m1", KillReport: lowRiskKillReport("k1")}

	go o.Run(ctx)
	require.Eventually(t, func() bool { return st.recordCount() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	assert.Equal(t, 1, resur.callCount())
	assert.Equal(t, models.OutcomeTypeSuccess, st.records[0].OutcomeType)
	assert.True(t, st.records[0].WasAutoApproved)
	assert.Contains(t, listener.ackedIDs(), "m1")
}

func TestOrchestrator_DenyNeverInvokesResurrector(t *testing.T) {
	listener := newFakeListener()
	st := newFakeStore()
	resur := &fakeResurrector{result: resurrector.Outcome{Result: resurrector.ResultSuccess}}

	o := New(Config{
		Listener:    listener,
		SIEM:        fakeSIEM{},
		Engine:      testEngine(config.ModeLive),
		Resurrector: resur,
		Store:       st,
		IsLiveMode:  func() bool { return true },
	})

	ctx, cancel := context.WithCancel(t.Context())
	highRisk := models.KillReport{
		KillID:          "k2",
		TargetModule:    "billing",
		ConfidenceScore: 0.99,
		Severity:        models.SeverityCritical,
	}
	listener.messages <- stream.Message{ID: "m2", KillReport: highRisk}

	go o.Run(ctx)
	require.Eventually(t, func() bool { return st.recordCount() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	assert.Equal(t, 0, resur.callCount())
	assert.Equal(t, models.OutcomeTypeUndetermined, st.records[0].OutcomeType)
}

func TestOrchestrator_InvalidInputRecordsUndeterminedAndAcks(t *testing.T) {
	listener := newFakeListener()
	st := newFakeStore()
	resur := &fakeResurrector{result: resurrector.Outcome{Result: resurrector.ResultSuccess}}

	o := New(Config{
		Listener:    listener,
		SIEM:        fakeSIEM{},
		Engine:      testEngine(config.ModeLive),
		Resurrector: resur,
		Store:       st,
		IsLiveMode:  func() bool { return true },
	})

	ctx, cancel := context.WithCancel(t.Context())
	listener.messages <- stream.Message{
		ID:           "bad-1",
		InvalidInput: &stream.InvalidInput{KillID: "k-unparsed", Err: assertErr{}},
	}

	go o.Run(ctx)
	require.Eventually(t, func() bool { return st.recordCount() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	assert.Equal(t, 0, resur.callCount())
	assert.Equal(t, models.OutcomeTypeUndetermined, st.records[0].OutcomeType)
	assert.Equal(t, "k-unparsed", st.records[0].KillID)
	assert.Contains(t, listener.ackedIDs(), "bad-1")
}

func TestOrchestrator_InvalidInputWithoutKillIDFallsBackToStreamID(t *testing.T) {
	listener := newFakeListener()
	st := newFakeStore()

	o := New(Config{
		Listener:    listener,
		SIEM:        fakeSIEM{},
		Engine:      testEngine(config.ModeLive),
		Resurrector: &fakeResurrector{},
		Store:       st,
		IsLiveMode:  func() bool { return true },
	})

	ctx, cancel := context.WithCancel(t.Context())
	listener.messages <- stream.Message{ID: "bad-2", InvalidInput: &stream.InvalidInput{Err: assertErr{}}}

	go o.Run(ctx)
	require.Eventually(t, func() bool { return st.recordCount() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	assert.Equal(t, "bad-2", st.records[0].KillID)
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }

func TestOrchestrator_DuplicateKillIDIsAckedWithoutReprocessing(t *testing.T) {
	listener := newFakeListener()
	st := newFakeStore()
	existing := models.OutcomeRecord{KillID: "k1", OutcomeType: models.OutcomeTypeSuccess, RecordedAt: time.Now()}
	st.recent["k1"] = &existing
	resur := &fakeResurrector{result: resurrector.Outcome{Result: resurrector.ResultSuccess}}

	o := New(Config{
		Listener:    listener,
		SIEM:        fakeSIEM{},
		Engine:      testEngine(config.ModeLive),
		Resurrector: resur,
		Store:       st,
		IsLiveMode:  func() bool { return true },
	})

	ctx, cancel := context.WithCancel(t.Context())
	listener.messages <- stream.Message{ID: "m1", KillReport: lowRiskKillReport("k1")}

	go o.Run(ctx)
	require.Eventually(t, func() bool { return len(listener.ackedIDs()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	assert.Equal(t, 0, resur.callCount())
	assert.Equal(t, 0, st.recordCount(), "no new record should be written for a duplicate")
}

func TestOrchestrator_ApproveInvokesResurrectorAndRemovesFromPendingQueue(t *testing.T) {
	listener := newFakeListener()
	st := newFakeStore()
	one := 1.0
	resur := &fakeResurrector{result: resurrector.Outcome{Result: resurrector.ResultSuccess, TimeToHealthy: &one, HealthScoreAfter: &one}}

	o := New(Config{
		Listener:    listener,
		SIEM:        fakeSIEM{},
		Engine:      testEngine(config.ModeLive),
		Resurrector: resur,
		Store:       st,
		IsLiveMode:  func() bool { return true },
	})

	o.pending.put(lowRiskKillReport("k3"), models.Decision{DecisionID: "d3", Outcome: models.OutcomePendingReview}, time.Now().Add(time.Minute))

	outcome, found, err := o.Approve(t.Context(), "k3")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, models.OutcomeTypeSuccess, outcome)
	assert.Equal(t, 0, o.PendingCount())

	_, found, err = o.Approve(t.Context(), "k3")
	require.NoError(t, err)
	assert.False(t, found, "second approval of the same kill_id must report not-found")
}

type fakeNotifier struct {
	mu               sync.Mutex
	decisionCalls    []models.Outcome
	calibrationCalls int
}

func (f *fakeNotifier) NotifyDecision(ctx context.Context, d models.Decision, kr models.KillReport) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decisionCalls = append(f.decisionCalls, d.Outcome)
}

func (f *fakeNotifier) NotifyCalibration(ctx context.Context, oldThreshold, newThreshold, accuracy float64, sampleSize int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calibrationCalls++
}

func (f *fakeNotifier) decisionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.decisionCalls)
}

func TestOrchestrator_DenyNotifiesButAutoApproveDoesNot(t *testing.T) {
	listener := newFakeListener()
	st := newFakeStore()
	notifier := &fakeNotifier{}
	one := 1.0

	o := New(Config{
		Listener: listener,
		SIEM: fakeSIEM{byKillID: map[string]models.SIEMResult{
			"auto-1": lowRiskSIEM(),
			"deny-1": {RiskScore: 0.9, FalsePositiveHistory: 0},
		}},
		Engine:      testEngine(config.ModeLive, "billing"),
		Resurrector: &fakeResurrector{result: resurrector.Outcome{Result: resurrector.ResultSuccess, TimeToHealthy: &one, HealthScoreAfter: &one}},
		Store:       st,
		Notifier:    notifier,
		IsLiveMode:  func() bool { return true },
	})

	ctx, cancel := context.WithCancel(t.Context())
	listener.messages <- stream.Message{ID: "m1", KillReport: lowRiskKillReport("auto-1")}
	highRisk := models.KillReport{KillID: "deny-1", TargetModule: "billing", ConfidenceScore: 0.99, Severity: models.SeverityCritical}
	listener.messages <- stream.Message{ID: "m2", KillReport: highRisk}

	go o.Run(ctx)
	require.Eventually(t, func() bool { return st.recordCount() == 2 }, time.Second, 5*time.Millisecond)
	cancel()

	require.Equal(t, 1, notifier.decisionCount())
	assert.Equal(t, models.OutcomeDeny, notifier.decisionCalls[0])
}

func TestOrchestrator_ConcurrentApproveReturnsInFlightConflict(t *testing.T) {
	listener := newFakeListener()
	st := newFakeStore()
	blocker := &blockingResurrector{release: make(chan struct{}), result: resurrector.Outcome{Result: resurrector.ResultSuccess}}

	o := New(Config{
		Listener:    listener,
		SIEM:        fakeSIEM{},
		Engine:      testEngine(config.ModeLive),
		Resurrector: blocker,
		Store:       st,
		IsLiveMode:  func() bool { return true },
	})

	o.pending.put(lowRiskKillReport("k5"), models.Decision{DecisionID: "d5", Outcome: models.OutcomePendingReview}, time.Now().Add(time.Minute))

	done := make(chan struct{})
	go func() {
		_, found, err := o.Approve(t.Context(), "k5")
		require.NoError(t, err)
		assert.True(t, found)
		close(done)
	}()

	require.Eventually(t, func() bool { return o.pending.isInFlight("k5") }, time.Second, time.Millisecond)

	_, found, err := o.Approve(t.Context(), "k5")
	assert.False(t, found)
	assert.ErrorIs(t, err, ErrApprovalInFlight)

	close(blocker.release)
	<-done
}

func TestOrchestrator_PendingExpiryWritesUndetermined(t *testing.T) {
	listener := newFakeListener()
	st := newFakeStore()

	o := New(Config{
		Listener:    listener,
		SIEM:        fakeSIEM{},
		Engine:      testEngine(config.ModeLive),
		Resurrector: &fakeResurrector{},
		Store:       st,
		IsLiveMode:  func() bool { return true },
	})

	o.pending.put(lowRiskKillReport("k4"), models.Decision{DecisionID: "d4", Outcome: models.OutcomePendingReview}, time.Now().Add(-time.Second))

	ctx, cancel := context.WithCancel(t.Context())
	go o.runExpiryTicker(ctx)

	require.Eventually(t, func() bool { return st.recordCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()

	assert.Equal(t, models.OutcomeTypeUndetermined, st.records[0].OutcomeType)
	assert.Equal(t, 0, o.PendingCount())
}
