package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// configFileName is the single YAML file Load reads from configDir.
const configFileName = "bmlibrarian.yaml"

// Load reads bmlibrarian.yaml from configDir, expands environment
// variables, merges it over the built-in defaults, resolves any
// per-agent model left unset to llm.default_model, validates the
// result, and returns a ready-to-use Config.
//
// A missing file is not an error: Load returns DefaultConfig()
// unmodified so the application can start against a bare local Ollama
// endpoint with no YAML file at all.
func Load(configDir string) (*Config, error) {
	user, err := loadYAML(configDir)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := DefaultConfig()
			cfg.configDir = configDir
			if verr := NewValidator(cfg).ValidateAll(); verr != nil {
				return nil, verr
			}
			return cfg, nil
		}
		return nil, NewLoadError(configFileName, err)
	}

	cfg, err := mergeWithDefaults(user)
	if err != nil {
		return nil, NewLoadError(configFileName, err)
	}
	cfg.configDir = configDir

	resolveAgentModels(cfg)

	if err := NewValidator(cfg).ValidateAll(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadYAML(configDir string) (*Config, error) {
	path := filepath.Join(configDir, configFileName)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	data = ExpandEnv(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return &cfg, nil
}

// resolveAgentModels fills in any agents.<name>.model left blank in the
// YAML with llm.default_model, so operators only need to override the
// model for the agents that should diverge from the default.
func resolveAgentModels(cfg *Config) {
	agents := []*AgentConfig{
		&cfg.Agents.QueryAgent,
		&cfg.Agents.ScoringAgent,
		&cfg.Agents.CitationAgent,
		&cfg.Agents.ReportingAgent,
		&cfg.Agents.CounterfactualAgent,
		&cfg.Agents.VerdictAgent,
	}
	for _, a := range agents {
		if a.Model == "" {
			a.Model = cfg.LLM.DefaultModel
		}
	}
}
