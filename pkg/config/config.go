// Package config loads and validates the arbiter's YAML configuration.
package config

import "time"

// Config is the fully-loaded, validated configuration for the arbiter.
// It is immutable after Initialize() returns.
type Config struct {
	configDir string

	Mode         Mode
	Stream       StreamConfig
	SIEM         SIEMConfig
	Decision     DecisionConfig
	Risk         RiskConfig
	Resurrection ResurrectionConfig
	Calibration  CalibrationConfig
	HTTP         HTTPConfig
	Store        StoreConfig
	Slack        SlackConfig

	CriticalModules map[string]bool
}

// Mode selects whether the engine acts on ApproveAuto decisions.
type Mode string

const (
	ModeObserver Mode = "observer"
	ModeLive     Mode = "live"
)

// Valid reports whether m is a recognized operating mode.
func (m Mode) Valid() bool {
	return m == ModeObserver || m == ModeLive
}

// StreamKind selects the stream listener implementation.
type StreamKind string

const (
	StreamKindDurable StreamKind = "durable"
	StreamKindMock    StreamKind = "mock"
)

// StreamConfig configures the inbound kill-report stream.
type StreamConfig struct {
	Kind          StreamKind `yaml:"kind"`
	Endpoint      string     `yaml:"endpoint"`
	Topic         string     `yaml:"topic"`
	ConsumerGroup string     `yaml:"consumer_group"`
	ConsumerName  string     `yaml:"consumer_name"`
}

// SIEMConfig configures the SIEM enrichment client.
type SIEMConfig struct {
	Enabled   bool          `yaml:"enabled"`
	BaseURL   string        `yaml:"base_url"`
	TimeoutMS int           `yaml:"timeout_ms"`
	Timeout   time.Duration `yaml:"-"`
}

// AutoApproveConfig configures the decision engine's auto-approval bar.
type AutoApproveConfig struct {
	Enabled       bool    `yaml:"enabled"`
	MinConfidence float64 `yaml:"min_confidence"`
	MaxRisk       float64 `yaml:"max_risk"`
}

// DecisionConfig groups decision-engine behavior knobs.
type DecisionConfig struct {
	AutoApprove AutoApproveConfig `yaml:"auto_approve"`
}

// RiskWeights are the five (plus one reserved) risk-factor weights.
// They MUST sum to 1.0 ± 1e-6; validated at startup.
type RiskWeights struct {
	SmithConfidence      float64 `yaml:"smith_confidence"`
	SIEMRisk             float64 `yaml:"siem_risk"`
	FalsePositiveHistory float64 `yaml:"false_positive_history"`
	ModuleCriticality    float64 `yaml:"module_criticality"`
	Severity             float64 `yaml:"severity"`
	// KillReason is reserved for future activation (see DESIGN.md open
	// question). Defaults to 0 and is excluded from the scoring sum.
	KillReason float64 `yaml:"kill_reason"`
}

// RiskConfig groups risk-scoring configuration.
type RiskConfig struct {
	Weights RiskWeights `yaml:"weights"`
}

// ResurrectionExecutorKind selects the resurrection executor implementation.
type ResurrectionExecutorKind string

const (
	ExecutorContainer ResurrectionExecutorKind = "container"
	ExecutorDryRun    ResurrectionExecutorKind = "dry_run"
)

// ResurrectionConfig configures the resurrector.
type ResurrectionConfig struct {
	Executor             ResurrectionExecutorKind `yaml:"executor"`
	HealthCheckIntervalS int                      `yaml:"health_check_interval_s"`
	HealthCheckTimeoutS  int                      `yaml:"health_check_timeout_s"`
	MaxRetryAttempts     int                      `yaml:"max_retry_attempts"`
	HealthCheckInterval  time.Duration            `yaml:"-"`
	HealthCheckTimeout   time.Duration            `yaml:"-"`
}

// CalibrationConfig configures the self-calibration loop.
type CalibrationConfig struct {
	IntervalHours int           `yaml:"interval_hours"`
	WindowDays    int           `yaml:"window_days"`
	Interval      time.Duration `yaml:"-"`
	Window        time.Duration `yaml:"-"`
}

// HTTPConfig configures the HTTP surface.
type HTTPConfig struct {
	Listen string `yaml:"listen"`
}

// StoreConfig configures the outcome store.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// SlackConfig configures optional Slack escalation notifications.
// Not part of spec.md's core; an additive observability supplement
// grounded on the teacher's pkg/slack.
type SlackConfig struct {
	Enabled  bool   `yaml:"enabled"`
	TokenEnv string `yaml:"token_env"`
	Channel  string `yaml:"channel"`
}

// ConfigDir returns the directory the configuration was loaded from.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// IsCriticalModule reports whether name is in the configured critical set.
func (c *Config) IsCriticalModule(name string) bool {
	return c.CriticalModules[name]
}
