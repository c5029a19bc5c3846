package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/medic/arbiter/pkg/models"
)

// allowed field names are hardcoded below; target_module and outcome_type
// values are always parameter-bound, never interpolated.

// Put durably appends an outcome record. Per spec §4.2 the write MUST be
// durable before the caller acknowledges the originating stream message.
func (s *Store) Put(ctx context.Context, rec models.OutcomeRecord) error {
	const q = `
		INSERT INTO outcome_records (
			outcome_id, decision_id, kill_id, target_module, outcome_type,
			was_auto_approved, original_risk_score, original_confidence,
			time_to_healthy_seconds, health_score_after, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, q,
			rec.OutcomeID, rec.DecisionID, rec.KillID, rec.TargetModule, rec.OutcomeType,
			rec.WasAutoApproved, rec.OriginalRiskScore, rec.OriginalConfidence,
			nullableFloat(rec.TimeToHealthySeconds), nullableFloat(rec.HealthScoreAfter), rec.RecordedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to put outcome record: %w", err)
		}
		return nil
	})
}

// ListRecent returns the most recent limit outcome records, newest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]models.OutcomeRecord, error) {
	const q = `
		SELECT outcome_id, decision_id, kill_id, target_module, outcome_type,
		       was_auto_approved, original_risk_score, original_confidence,
		       time_to_healthy_seconds, health_score_after, recorded_at
		FROM outcome_records
		ORDER BY recorded_at DESC
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent outcome records: %w", err)
	}
	defer rows.Close()

	return scanOutcomeRecords(rows)
}

// ModuleHistory counts ReKilled and Failure outcomes for a module within a
// rolling window, used by the risk engine's false-positive-history factor.
func (s *Store) ModuleHistory(ctx context.Context, targetModule string, window time.Duration) (int, error) {
	const q = `
		SELECT COUNT(*)
		FROM outcome_records
		WHERE target_module = $1
		  AND outcome_type IN ($2, $3)
		  AND recorded_at >= $4
	`
	cutoff := time.Now().Add(-window)
	var count int
	err := s.db.QueryRowContext(ctx, q, targetModule, models.OutcomeTypeReKilled, models.OutcomeTypeFailure, cutoff).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to compute module history: %w", err)
	}
	return count, nil
}

// RecentByKillID returns the most recent outcome record for a kill_id
// recorded within the lookback window, used for at-least-once dedupe at
// stream intake. A nil record with no error means no matching record.
func (s *Store) RecentByKillID(ctx context.Context, killID string, lookback time.Duration) (*models.OutcomeRecord, error) {
	const q = `
		SELECT outcome_id, decision_id, kill_id, target_module, outcome_type,
		       was_auto_approved, original_risk_score, original_confidence,
		       time_to_healthy_seconds, health_score_after, recorded_at
		FROM outcome_records
		WHERE kill_id = $1 AND recorded_at >= $2
		ORDER BY recorded_at DESC
		LIMIT 1
	`
	cutoff := time.Now().Add(-lookback)
	row := s.db.QueryRowContext(ctx, q, killID, cutoff)

	rec, err := scanOutcomeRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up outcome record by kill_id: %w", err)
	}
	return rec, nil
}

// Statistics aggregates outcome counts over a rolling window, including
// auto_approve_accuracy = count(Success AND was_auto_approved) /
// count(was_auto_approved), defined as zero when the denominator is zero.
func (s *Store) Statistics(ctx context.Context, window time.Duration) (*models.Statistics, error) {
	const countsQuery = `
		SELECT outcome_type, COUNT(*)
		FROM outcome_records
		WHERE recorded_at >= $1
		GROUP BY outcome_type
	`
	cutoff := time.Now().Add(-window)
	rows, err := s.db.QueryContext(ctx, countsQuery, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate outcome counts: %w", err)
	}

	counts := make(map[models.OutcomeType]int)
	for rows.Next() {
		var outcomeType models.OutcomeType
		var count int
		if err := rows.Scan(&outcomeType, &count); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan outcome count: %w", err)
		}
		counts[outcomeType] = count
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to iterate outcome counts: %w", err)
	}
	rows.Close()

	const accuracyQuery = `
		SELECT
			COUNT(*) FILTER (WHERE was_auto_approved) AS total_auto_approved,
			COUNT(*) FILTER (WHERE was_auto_approved AND outcome_type = $2) AS successful_auto_approved
		FROM outcome_records
		WHERE recorded_at >= $1
	`
	var totalAutoApproved, successfulAutoApproved int
	err = s.db.QueryRowContext(ctx, accuracyQuery, cutoff, models.OutcomeTypeSuccess).Scan(&totalAutoApproved, &successfulAutoApproved)
	if err != nil {
		return nil, fmt.Errorf("failed to compute auto-approve accuracy: %w", err)
	}

	var accuracy float64
	if totalAutoApproved > 0 {
		accuracy = float64(successfulAutoApproved) / float64(totalAutoApproved)
	}

	return &models.Statistics{
		WindowDays:          int(window.Hours() / 24),
		CountsByOutcomeType: counts,
		TotalAutoApproved:   totalAutoApproved,
		AutoApproveAccuracy: accuracy,
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOutcomeRecord(row rowScanner) (*models.OutcomeRecord, error) {
	var rec models.OutcomeRecord
	var timeToHealthy, healthScore sql.NullFloat64

	err := row.Scan(
		&rec.OutcomeID, &rec.DecisionID, &rec.KillID, &rec.TargetModule, &rec.OutcomeType,
		&rec.WasAutoApproved, &rec.OriginalRiskScore, &rec.OriginalConfidence,
		&timeToHealthy, &healthScore, &rec.RecordedAt,
	)
	if err != nil {
		return nil, err
	}

	if timeToHealthy.Valid {
		rec.TimeToHealthySeconds = &timeToHealthy.Float64
	}
	if healthScore.Valid {
		rec.HealthScoreAfter = &healthScore.Float64
	}

	return &rec, nil
}

func scanOutcomeRecords(rows *sql.Rows) ([]models.OutcomeRecord, error) {
	var records []models.OutcomeRecord
	for rows.Next() {
		rec, err := scanOutcomeRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outcome record: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

func nullableFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

// withRetry retries op with exponential backoff (base 50ms, max 5 attempts)
// on transient outcome-store errors, per spec §4.2.
func withRetry(ctx context.Context, op func() error) error {
	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(50*time.Millisecond),
	), 5)

	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if isTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(b, ctx))
}

// isTransient reports whether err represents a retryable condition on the
// outcome store backend: connection busy, serialization failure, or
// deadlock, as opposed to a constraint violation or programmer error.
func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", // serialization_failure
			"40P01", // deadlock_detected
			"53300", // too_many_connections
			"08006", // connection_failure
			"08003": // connection_does_not_exist
			return true
		}
		return false
	}
	return errors.Is(err, sql.ErrConnDone) || errors.Is(err, context.DeadlineExceeded)
}
