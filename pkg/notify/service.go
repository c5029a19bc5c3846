package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/medic/arbiter/pkg/models"
)

// ServiceConfig holds the parameters needed to construct a Service.
type ServiceConfig struct {
	Token   string
	Channel string
}

// Service handles Slack notification delivery for escalation-worthy
// decisions. Nil-safe: all methods are no-ops when service is nil.
type Service struct {
	client *Client
	logger *slog.Logger
}

// NewService creates a new notification service. Returns nil if Token or
// Channel is empty, so a disabled configuration needs no special-casing
// at call sites.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Token == "" || cfg.Channel == "" {
		return nil
	}
	return &Service{
		client: NewClient(cfg.Token, cfg.Channel),
		logger: slog.Default().With("component", "notify-service"),
	}
}

// NewServiceWithClient creates a Service backed by a pre-built Client.
// Useful for testing with a mock API server.
func NewServiceWithClient(client *Client) *Service {
	return &Service{
		client: client,
		logger: slog.Default().With("component", "notify-service"),
	}
}

// NotifyDecision mirrors a Deny or PendingReview decision to Slack.
// Fail-open: errors are logged, never returned, since a notification
// failure must never block the orchestrator's pipeline.
func (s *Service) NotifyDecision(ctx context.Context, d models.Decision, kr models.KillReport) {
	if s == nil {
		return
	}
	if d.Outcome != models.OutcomeDeny && d.Outcome != models.OutcomePendingReview {
		return
	}

	blocks := BuildDecisionMessage(d, kr)
	if err := s.client.PostMessage(ctx, blocks, 5*time.Second); err != nil {
		s.logger.Error("failed to send decision notification",
			"kill_id", kr.KillID, "outcome", d.Outcome, "error", err)
	}
}

// NotifyCalibration mirrors a calibration threshold change to Slack.
func (s *Service) NotifyCalibration(ctx context.Context, oldThreshold, newThreshold, accuracy float64, sampleSize int) {
	if s == nil {
		return
	}

	blocks := BuildCalibrationMessage(oldThreshold, newThreshold, accuracy, sampleSize)
	if err := s.client.PostMessage(ctx, blocks, 5*time.Second); err != nil {
		s.logger.Error("failed to send calibration notification", "error", err)
	}
}
