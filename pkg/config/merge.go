package config

import (
	"fmt"

	"dario.cat/mergo"
)

// mergeYAMLConfig merges a user-supplied configuration onto the built-in
// defaults. Non-zero fields in user override the corresponding default
// field; zero-valued fields are left at their default.
func mergeYAMLConfig(defaults, user *YAMLConfig) (*YAMLConfig, error) {
	merged := *defaults
	if err := mergo.Merge(&merged, user, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge configuration: %w", err)
	}
	return &merged, nil
}
