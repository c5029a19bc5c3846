package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const configFileName = "medic.yaml"

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load medic.yaml from configDir
//  2. Expand environment variables
//  3. Parse YAML into a YAMLConfig
//  4. Merge onto built-in defaults
//  5. Resolve durations and the critical-module set
//  6. Validate all configuration
//  7. Return Config ready for use
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("configuration initialized successfully",
		"mode", cfg.Mode,
		"stream_kind", cfg.Stream.Kind,
		"critical_modules", len(cfg.CriticalModules))

	return cfg, nil
}

func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{configDir: configDir}

	user, err := loader.loadMedicYAML()
	if err != nil {
		return nil, NewLoadError(configFileName, err)
	}

	merged, err := mergeYAMLConfig(DefaultYAMLConfig(), user)
	if err != nil {
		return nil, NewLoadError(configFileName, err)
	}

	mode := Mode(merged.Mode)

	criticalModules := make(map[string]bool, len(merged.CriticalModules))
	for _, name := range merged.CriticalModules {
		criticalModules[name] = true
	}

	cfg := &Config{
		configDir: configDir,
		Mode:      mode,
		Stream: StreamConfig{
			Kind:          StreamKind(merged.Stream.Kind),
			Endpoint:      merged.Stream.Endpoint,
			Topic:         merged.Stream.Topic,
			ConsumerGroup: merged.Stream.ConsumerGroup,
			ConsumerName:  merged.Stream.ConsumerName,
		},
		SIEM: SIEMConfig{
			Enabled:   merged.SIEM.Enabled,
			BaseURL:   merged.SIEM.BaseURL,
			TimeoutMS: merged.SIEM.TimeoutMS,
		},
		Decision: DecisionConfig{
			AutoApprove: merged.Decision.AutoApprove,
		},
		Risk: RiskConfig{
			Weights: merged.Risk.Weights,
		},
		Resurrection: ResurrectionConfig{
			Executor:             ResurrectionExecutorKind(merged.Resurrection.Executor),
			HealthCheckIntervalS: merged.Resurrection.HealthCheckIntervalS,
			HealthCheckTimeoutS:  merged.Resurrection.HealthCheckTimeoutS,
			MaxRetryAttempts:     merged.Resurrection.MaxRetryAttempts,
		},
		Calibration: CalibrationConfig{
			IntervalHours: merged.Calibration.IntervalHours,
			WindowDays:    merged.Calibration.WindowDays,
		},
		HTTP:            merged.HTTP,
		Store:           merged.Store,
		Slack:           merged.Slack,
		CriticalModules: criticalModules,
	}

	resolveDurations(cfg, merged)

	return cfg, nil
}

// validate performs comprehensive validation on loaded configuration.
func validate(cfg *Config) error {
	validator := NewValidator(cfg)
	return validator.ValidateAll()
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

func (l *configLoader) loadMedicYAML() (*YAMLConfig, error) {
	var cfg YAMLConfig
	if err := l.loadYAML(configFileName, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
