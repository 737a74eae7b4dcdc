package config

import (
	"fmt"

	"dario.cat/mergo"
)

// mergeWithDefaults overlays user onto a fresh copy of the built-in
// defaults: any zero-valued field in user keeps the default, any
// non-zero field overrides it. Maps (Providers, CostTable) are merged
// key-by-key rather than replaced wholesale, so a user who only
// overrides "openai" still inherits the "local" and "anthropic"
// entries.
func mergeWithDefaults(user *Config) (*Config, error) {
	merged := DefaultConfig()
	if err := mergo.Merge(merged, user, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("config: merge defaults: %w", err)
	}
	return merged, nil
}
