// Package config loads BMLibrarian's hierarchical configuration: queue,
// orchestrator, llm, agents.<agent-type>, and search sections, from a
// YAML file with environment-variable expansion and built-in defaults
// merged underneath whatever the user supplies.
package config

// Config is the umbrella configuration object returned by Load. It
// covers every section named in spec.md §6's Configuration table.
type Config struct {
	configDir string

	Queue        QueueConfig        `yaml:"queue"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	LLM          LLMConfig          `yaml:"llm"`
	Agents       AgentsConfig       `yaml:"agents"`
	Search       SearchConfig       `yaml:"search"`
}

// ConfigDir returns the directory this Config was loaded from, or the
// empty string for a programmatically built Config.
func (c *Config) ConfigDir() string { return c.configDir }

// OrchestratorConfig controls the worker pool's shape and polling
// behaviour (spec.md §6).
type OrchestratorConfig struct {
	MaxWorkers        int `yaml:"max_workers"`
	PollingIntervalMs int `yaml:"polling_interval_ms"`
	PollJitterMs      int `yaml:"poll_jitter_ms"`
}

// ProviderConfig names one LLM provider's connection details.
type ProviderConfig struct {
	BaseURL   string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"`
}

// CostEntry is one model's per-1000-token price pair, keyed by model name
// or prefix in LLMConfig.CostTable (SPEC_FULL.md §3 item 2: longest-prefix
// match is resolved at wiring time by llm.CostTable, not here).
type CostEntry struct {
	PromptPer1K     float64 `yaml:"prompt_per_1k"`
	CompletionPer1K float64 `yaml:"completion_per_1k"`
}

// LLMConfig configures the LLMGateway: default/fallback model selection,
// per-call deadline, the provider registry, and the cost table.
type LLMConfig struct {
	DefaultProvider       string                    `yaml:"default_provider"`
	DefaultModel          string                    `yaml:"default_model"`
	FallbackModel         string                    `yaml:"fallback_model"`
	PerCallTimeoutSeconds int                       `yaml:"per_call_timeout_seconds"`
	Providers             map[string]ProviderConfig `yaml:"providers"`
	CostTable             map[string]CostEntry      `yaml:"cost_table"`
}

// AgentConfig carries one specialized agent's tunables. Not every field
// applies to every agent type; AgentsConfig documents which fields each
// named agent reads.
type AgentConfig struct {
	Model              string  `yaml:"model"`
	Temperature        float64 `yaml:"temperature"`
	TopP               float64 `yaml:"top_p"`
	MaxTokens          int     `yaml:"max_tokens"`
	DefaultThreshold   float64 `yaml:"default_threshold"`
	MinRelevance       float64 `yaml:"min_relevance"`
	MinCitations       int     `yaml:"min_citations"`
	MinRationaleLength int     `yaml:"min_rationale_length"`
}

// AgentsConfig binds one AgentConfig per specialized agent type named in
// spec.md §4.3 and §6.
type AgentsConfig struct {
	QueryAgent          AgentConfig `yaml:"query_agent"`
	ScoringAgent        AgentConfig `yaml:"scoring_agent"`
	CitationAgent       AgentConfig `yaml:"citation_agent"`
	ReportingAgent      AgentConfig `yaml:"reporting_agent"`
	CounterfactualAgent AgentConfig `yaml:"counterfactual_agent"`
	VerdictAgent        AgentConfig `yaml:"verdict_agent"`
}

// SearchConfig parameterizes the IterativeSearchDriver's default budgets.
type SearchConfig struct {
	MinRelevant    int     `yaml:"min_relevant"`
	ScoreThreshold float64 `yaml:"score_threshold"`
	MaxRetry       int     `yaml:"max_retry"`
	BatchSize      int     `yaml:"batch_size"`
}
