// Package resurrector restarts a killed container and verifies it recovers,
// rolling back when it does not.
package resurrector

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Result is the outcome of a restart attempt.
type Result string

const (
	ResultSuccess   Result = "success"
	ResultNotFound  Result = "not_found"
	ResultUnhealthy Result = "unhealthy"
	ResultTimeout   Result = "timeout"
)

// Outcome bundles the restart result with the measurements the orchestrator
// needs to build an OutcomeRecord.
type Outcome struct {
	Result           Result
	TimeToHealthy    *float64
	HealthScoreAfter *float64
}

// Backend abstracts the container runtime so Resurrector can be exercised
// against Docker or a dry-run stub without changing call sites.
type Backend interface {
	// Lookup resolves a container name to a runtime-specific handle.
	// Returns a non-nil error when no container matches targetModule.
	Lookup(ctx context.Context, targetModule string) (containerID string, err error)

	// Restart issues a restart with the given stop timeout.
	Restart(ctx context.Context, containerID string, stopTimeout time.Duration) error

	// Health reports whether the container is currently healthy. ok is
	// false while the verdict is still pending (e.g. a container with no
	// health spec hasn't yet cleared its grace period); once ok is true,
	// healthy and running are final for this poll.
	Health(ctx context.Context, containerID string) (healthy, running, ok bool, err error)

	// Stop rolls the container back with the given timeout.
	Stop(ctx context.Context, containerID string, timeout time.Duration) error
}

const (
	stopTimeout       = 30 * time.Second
	rollbackTimeout   = 10 * time.Second
	healthPollEvery   = 1 * time.Second
	noHealthSpecGrace = 2 * time.Second
)

// Resurrector restarts containers and polls them back to health.
type Resurrector struct {
	backend       Backend
	maxRetries    int
	healthTimeout time.Duration
	dryRun        bool
	log           *slog.Logger
}

// New constructs a Resurrector against backend, retrying restart up to
// maxRetries times and polling health for up to healthTimeout.
func New(backend Backend, maxRetries int, healthTimeout time.Duration) *Resurrector {
	return &Resurrector{
		backend:       backend,
		maxRetries:    maxRetries,
		healthTimeout: healthTimeout,
		log:           slog.With("component", "resurrector"),
	}
}

// NewDryRun constructs a Resurrector that never calls a container runtime:
// every restart logs its intent and reports Success with a zero
// time_to_healthy, per spec §4.5.
func NewDryRun() *Resurrector {
	return &Resurrector{
		dryRun: true,
		log:    slog.With("component", "resurrector-dryrun"),
	}
}

// Restart implements the state machine from spec §4.5: lookup, restart with
// retry, poll for healthy, rollback on failure.
func (r *Resurrector) Restart(ctx context.Context, targetModule string) Outcome {
	if r.dryRun {
		r.log.Info("dry-run restart", "target_module", targetModule)
		zero := 0.0
		score := 1.0
		return Outcome{Result: ResultSuccess, TimeToHealthy: &zero, HealthScoreAfter: &score}
	}

	containerID, err := r.backend.Lookup(ctx, targetModule)
	if err != nil {
		r.log.Warn("resurrection target not found", "target_module", targetModule, "error", err)
		return Outcome{Result: ResultNotFound}
	}

	if err := r.restartWithRetry(ctx, containerID); err != nil {
		r.log.Error("restart failed after retries", "target_module", targetModule, "error", err)
		r.rollback(ctx, containerID, targetModule)
		return Outcome{Result: ResultUnhealthy}
	}

	start := time.Now()
	healthy, timedOut := r.pollHealth(ctx, containerID)
	if healthy {
		elapsed := time.Since(start).Seconds()
		score := 1.0
		return Outcome{Result: ResultSuccess, TimeToHealthy: &elapsed, HealthScoreAfter: &score}
	}

	r.rollback(ctx, containerID, targetModule)
	if timedOut {
		return Outcome{Result: ResultTimeout}
	}
	return Outcome{Result: ResultUnhealthy}
}

// restartWithRetry retries transient runtime errors up to maxRetries times.
// NotFound is surfaced by Lookup, never reaches here, so every error
// observed in this loop is eligible for retry per spec §4.5.
func (r *Resurrector) restartWithRetry(ctx context.Context, containerID string) error {
	attempt := 0
	op := func() error {
		attempt++
		err := r.backend.Restart(ctx, containerID, stopTimeout)
		if err != nil {
			r.log.Warn("restart attempt failed", "container_id", containerID, "attempt", attempt, "error", err)
		}
		return err
	}

	eb := backoff.NewExponentialBackOff(backoff.WithInitialInterval(100 * time.Millisecond))
	bo := backoff.WithMaxRetries(eb, uint64(r.maxRetries))
	return backoff.Retry(op, backoff.WithContext(bo, ctx))
}

// pollHealth polls at 1 Hz until healthy, the container exits, or the
// configured timeout elapses.
func (r *Resurrector) pollHealth(ctx context.Context, containerID string) (healthy, timedOut bool) {
	deadline := time.Now().Add(r.healthTimeout)
	ticker := time.NewTicker(healthPollEvery)
	defer ticker.Stop()

	for {
		hc, running, ok, err := r.backend.Health(ctx, containerID)
		if err != nil {
			r.log.Warn("health check errored", "container_id", containerID, "error", err)
		} else if ok && hc {
			return true, false
		} else if ok && !hc && !running {
			return false, false
		}
		// else: verdict still pending (grace period, or health spec reports
		// "starting"); keep polling.

		if time.Now().After(deadline) {
			return false, true
		}

		select {
		case <-ctx.Done():
			return false, false
		case <-ticker.C:
		}
	}
}

func (r *Resurrector) rollback(ctx context.Context, containerID, targetModule string) {
	if err := r.backend.Stop(ctx, containerID, rollbackTimeout); err != nil {
		r.log.Error("rollback failed", "target_module", targetModule, "container_id", containerID, "error", err)
	}
}
