package store

import (
	"context"
	"time"
)

// HealthStatus reports outcome-store connectivity and connection pool
// statistics, surfaced by the HTTP /health endpoint.
type HealthStatus struct {
	Status          string        `json:"status"`
	ResponseTime    time.Duration `json:"response_time_ms"`
	OpenConnections int           `json:"open_connections"`
	InUse           int           `json:"in_use"`
	Idle            int           `json:"idle"`
}

// Health checks outcome-store connectivity and reports pool statistics.
func (s *Store) Health(ctx context.Context) (*HealthStatus, error) {
	start := time.Now()

	if err := s.db.PingContext(ctx); err != nil {
		return &HealthStatus{Status: "unhealthy", ResponseTime: time.Since(start)}, err
	}

	stats := s.db.Stats()
	return &HealthStatus{
		Status:          "healthy",
		ResponseTime:    time.Since(start),
		OpenConnections: stats.OpenConnections,
		InUse:           stats.InUse,
		Idle:            stats.Idle,
	}, nil
}
