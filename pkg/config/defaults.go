package config

import "time"

// YAMLConfig mirrors the on-disk medic.yaml structure (see spec.md §6).
type YAMLConfig struct {
	Mode            string           `yaml:"mode"`
	Stream          StreamYAML       `yaml:"stream"`
	SIEM            SIEMYAML         `yaml:"siem"`
	Decision        DecisionYAML     `yaml:"decision"`
	Risk            RiskYAML         `yaml:"risk"`
	Resurrection    ResurrectionYAML `yaml:"resurrection"`
	CriticalModules []string         `yaml:"critical_modules"`
	Calibration     CalibrationYAML  `yaml:"calibration"`
	HTTP            HTTPConfig       `yaml:"http"`
	Store           StoreConfig      `yaml:"store"`
	Slack           SlackConfig      `yaml:"slack"`
}

// StreamYAML mirrors StreamConfig for YAML decode.
type StreamYAML struct {
	Kind          string `yaml:"kind"`
	Endpoint      string `yaml:"endpoint"`
	Topic         string `yaml:"topic"`
	ConsumerGroup string `yaml:"consumer_group"`
	ConsumerName  string `yaml:"consumer_name"`
}

// SIEMYAML mirrors SIEMConfig for YAML decode.
type SIEMYAML struct {
	Enabled   bool   `yaml:"enabled"`
	BaseURL   string `yaml:"base_url"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

// DecisionYAML mirrors DecisionConfig for YAML decode.
type DecisionYAML struct {
	AutoApprove AutoApproveConfig `yaml:"auto_approve"`
}

// RiskYAML mirrors RiskConfig for YAML decode.
type RiskYAML struct {
	Weights RiskWeights `yaml:"weights"`
}

// ResurrectionYAML mirrors ResurrectionConfig for YAML decode.
type ResurrectionYAML struct {
	Executor             string `yaml:"executor"`
	HealthCheckIntervalS int    `yaml:"health_check_interval_s"`
	HealthCheckTimeoutS  int    `yaml:"health_check_timeout_s"`
	MaxRetryAttempts     int    `yaml:"max_retry_attempts"`
}

// CalibrationYAML mirrors CalibrationConfig for YAML decode.
type CalibrationYAML struct {
	IntervalHours int `yaml:"interval_hours"`
	WindowDays    int `yaml:"window_days"`
}

// DefaultYAMLConfig returns the built-in defaults, overridden by whatever
// the on-disk file supplies. Mirrors the teacher's DefaultQueueConfig /
// DefaultRetentionConfig "safe baseline" pattern.
func DefaultYAMLConfig() *YAMLConfig {
	return &YAMLConfig{
		Mode: string(ModeObserver),
		Stream: StreamYAML{
			Kind:          string(StreamKindDurable),
			Topic:         "kill-events",
			ConsumerGroup: "medic",
			ConsumerName:  "medic-1",
		},
		SIEM: SIEMYAML{
			Enabled:   false,
			TimeoutMS: 5000,
		},
		Decision: DecisionYAML{
			AutoApprove: AutoApproveConfig{
				Enabled:       false,
				MinConfidence: 0.85,
				MaxRisk:       0.30,
			},
		},
		Risk: RiskYAML{
			Weights: RiskWeights{
				SmithConfidence:      0.30,
				SIEMRisk:             0.25,
				FalsePositiveHistory: 0.20,
				ModuleCriticality:    0.15,
				Severity:             0.10,
				KillReason:           0.0,
			},
		},
		Resurrection: ResurrectionYAML{
			Executor:             string(ExecutorDryRun),
			HealthCheckIntervalS: 1,
			HealthCheckTimeoutS:  60,
			MaxRetryAttempts:     2,
		},
		Calibration: CalibrationYAML{
			IntervalHours: 24,
			WindowDays:    30,
		},
		HTTP: HTTPConfig{
			Listen: "0.0.0.0:8000",
		},
		Store: StoreConfig{
			Path: "data/outcomes.db",
		},
	}
}

// resolveDurations derives the time.Duration fields from their YAML integer
// counterparts. Called once after merge, before validation.
func resolveDurations(cfg *Config, y *YAMLConfig) {
	cfg.SIEM.Timeout = time.Duration(y.SIEM.TimeoutMS) * time.Millisecond
	cfg.Resurrection.HealthCheckInterval = time.Duration(y.Resurrection.HealthCheckIntervalS) * time.Second
	cfg.Resurrection.HealthCheckTimeout = time.Duration(y.Resurrection.HealthCheckTimeoutS) * time.Second
	cfg.Calibration.Interval = time.Duration(y.Calibration.IntervalHours) * time.Hour
	cfg.Calibration.Window = time.Duration(y.Calibration.WindowDays) * 24 * time.Hour
}
