package config

import (
	"fmt"
	"math"
	"net/url"
	"os"
)

const weightSumTolerance = 1e-6

// Validator validates configuration comprehensively with clear error messages.
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast - stops at the
// first error). Order follows dependency: stream and siem are leaf
// infrastructure, risk weights gate the decision engine, resurrection and
// calibration are independent, http/store/slack are outer surfaces.
func (v *Validator) ValidateAll() error {
	if err := v.validateMode(); err != nil {
		return fmt.Errorf("mode validation failed: %w", err)
	}
	if err := v.validateStream(); err != nil {
		return fmt.Errorf("stream validation failed: %w", err)
	}
	if err := v.validateSIEM(); err != nil {
		return fmt.Errorf("siem validation failed: %w", err)
	}
	if err := v.validateDecision(); err != nil {
		return fmt.Errorf("decision validation failed: %w", err)
	}
	if err := v.validateRisk(); err != nil {
		return fmt.Errorf("risk validation failed: %w", err)
	}
	if err := v.validateResurrection(); err != nil {
		return fmt.Errorf("resurrection validation failed: %w", err)
	}
	if err := v.validateCalibration(); err != nil {
		return fmt.Errorf("calibration validation failed: %w", err)
	}
	if err := v.validateHTTP(); err != nil {
		return fmt.Errorf("http validation failed: %w", err)
	}
	if err := v.validateStore(); err != nil {
		return fmt.Errorf("store validation failed: %w", err)
	}
	if err := v.validateSlack(); err != nil {
		return fmt.Errorf("slack validation failed: %w", err)
	}
	return nil
}

func (v *Validator) validateMode() error {
	if !v.cfg.Mode.Valid() {
		return NewValidationError("mode", "", fmt.Errorf("invalid mode: %q (want observer|live)", v.cfg.Mode))
	}
	return nil
}

func (v *Validator) validateStream() error {
	s := v.cfg.Stream
	switch s.Kind {
	case StreamKindDurable, StreamKindMock:
	default:
		return NewValidationError("stream", "kind", fmt.Errorf("invalid kind: %q (want durable|mock)", s.Kind))
	}

	if s.Kind == StreamKindDurable && s.Endpoint == "" {
		return NewValidationError("stream", "endpoint", ErrMissingRequiredField)
	}
	if s.Topic == "" {
		return NewValidationError("stream", "topic", ErrMissingRequiredField)
	}
	if s.ConsumerGroup == "" {
		return NewValidationError("stream", "consumer_group", ErrMissingRequiredField)
	}
	if s.ConsumerName == "" {
		return NewValidationError("stream", "consumer_name", ErrMissingRequiredField)
	}

	return nil
}

func (v *Validator) validateSIEM() error {
	s := v.cfg.SIEM
	if !s.Enabled {
		return nil
	}
	if s.BaseURL == "" {
		return NewValidationError("siem", "base_url", fmt.Errorf("required when siem.enabled is true"))
	}
	if _, err := url.Parse(s.BaseURL); err != nil {
		return NewValidationError("siem", "base_url", fmt.Errorf("not a valid URL: %w", err))
	}
	if s.Timeout <= 0 {
		return NewValidationError("siem", "timeout_ms", fmt.Errorf("must be positive, got %v", s.Timeout))
	}
	return nil
}

func (v *Validator) validateDecision() error {
	aa := v.cfg.Decision.AutoApprove
	if aa.MinConfidence < 0 || aa.MinConfidence > 1 {
		return NewValidationError("decision", "auto_approve.min_confidence", fmt.Errorf("must be in [0,1], got %v", aa.MinConfidence))
	}
	if aa.MaxRisk < 0 || aa.MaxRisk > 1 {
		return NewValidationError("decision", "auto_approve.max_risk", fmt.Errorf("must be in [0,1], got %v", aa.MaxRisk))
	}
	return nil
}

func (v *Validator) validateRisk() error {
	w := v.cfg.Risk.Weights
	sum := w.SmithConfidence + w.SIEMRisk + w.FalsePositiveHistory + w.ModuleCriticality + w.Severity + w.KillReason

	if math.Abs(sum-1.0) > weightSumTolerance {
		return NewValidationError("risk", "weights", fmt.Errorf("weights must sum to 1.0, got %v", sum))
	}

	for field, val := range map[string]float64{
		"smith_confidence":       w.SmithConfidence,
		"siem_risk":              w.SIEMRisk,
		"false_positive_history": w.FalsePositiveHistory,
		"module_criticality":     w.ModuleCriticality,
		"severity":               w.Severity,
		"kill_reason":            w.KillReason,
	} {
		if val < 0 {
			return NewValidationError("risk", "weights."+field, fmt.Errorf("must be non-negative, got %v", val))
		}
	}

	return nil
}

func (v *Validator) validateResurrection() error {
	r := v.cfg.Resurrection
	switch r.Executor {
	case ExecutorContainer, ExecutorDryRun:
	default:
		return NewValidationError("resurrection", "executor", fmt.Errorf("invalid executor: %q (want container|dry_run)", r.Executor))
	}
	if r.HealthCheckInterval <= 0 {
		return NewValidationError("resurrection", "health_check_interval_s", fmt.Errorf("must be positive"))
	}
	if r.HealthCheckTimeout <= 0 {
		return NewValidationError("resurrection", "health_check_timeout_s", fmt.Errorf("must be positive"))
	}
	if r.HealthCheckTimeout < r.HealthCheckInterval {
		return NewValidationError("resurrection", "health_check_timeout_s", fmt.Errorf("must be >= health_check_interval_s"))
	}
	if r.MaxRetryAttempts < 0 {
		return NewValidationError("resurrection", "max_retry_attempts", fmt.Errorf("must be non-negative"))
	}
	return nil
}

func (v *Validator) validateCalibration() error {
	c := v.cfg.Calibration
	if c.Interval <= 0 {
		return NewValidationError("calibration", "interval_hours", fmt.Errorf("must be positive"))
	}
	if c.Window <= 0 {
		return NewValidationError("calibration", "window_days", fmt.Errorf("must be positive"))
	}
	return nil
}

func (v *Validator) validateHTTP() error {
	if v.cfg.HTTP.Listen == "" {
		return NewValidationError("http", "listen", ErrMissingRequiredField)
	}
	return nil
}

func (v *Validator) validateStore() error {
	if v.cfg.Store.Path == "" {
		return NewValidationError("store", "path", ErrMissingRequiredField)
	}
	return nil
}

func (v *Validator) validateSlack() error {
	s := v.cfg.Slack
	if !s.Enabled {
		return nil
	}
	if s.Channel == "" {
		return NewValidationError("slack", "channel", fmt.Errorf("required when slack.enabled is true"))
	}
	if s.TokenEnv == "" {
		return NewValidationError("slack", "token_env", fmt.Errorf("required when slack.enabled is true"))
	}
	if token := os.Getenv(s.TokenEnv); token == "" {
		return NewValidationError("slack", "token_env", fmt.Errorf("environment variable %s is not set", s.TokenEnv))
	}
	return nil
}
