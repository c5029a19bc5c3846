package api

import (
	"github.com/medic/arbiter/pkg/models"
	"github.com/medic/arbiter/pkg/store"
)

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status         string             `json:"status"`
	Version        string             `json:"version"`
	Mode           string             `json:"mode"`
	UptimeSeconds  float64            `json:"uptime_seconds"`
	PendingReviews int                `json:"pending_reviews"`
	Store          *store.HealthStatus `json:"store,omitempty"`
}

// StatsResponse is returned by GET /stats.
type StatsResponse struct {
	models.Statistics
	AutoMinConfidence float64 `json:"auto_min_conf"`
}

// ApproveResponse is returned by POST /approve/:kill_id.
type ApproveResponse struct {
	KillID      string             `json:"kill_id"`
	OutcomeType models.OutcomeType `json:"outcome_type"`
}
