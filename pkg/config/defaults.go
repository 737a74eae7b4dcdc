package config

// DefaultConfig returns the built-in configuration merged underneath
// whatever a user supplies in bmlibrarian.yaml. Every section named in
// Config has a usable zero-network default so the application starts
// with only a local Ollama endpoint configured.
func DefaultConfig() *Config {
	return &Config{
		Queue: QueueConfig{
			Path:              "./data/bmlibrarian.db",
			StaleLeaseSeconds: 0, // 0 => 10x orchestrator poll interval, resolved at wiring time
			CleanupAgeHours:   168,
		},
		Orchestrator: OrchestratorConfig{
			MaxWorkers:        4,
			PollingIntervalMs: 500,
			PollJitterMs:      250,
		},
		LLM: LLMConfig{
			DefaultProvider:       "local",
			DefaultModel:          "llama3.1:8b",
			FallbackModel:         "openai:gpt-4o-mini",
			PerCallTimeoutSeconds: 120,
			Providers: map[string]ProviderConfig{
				"local": {
					BaseURL: "http://localhost:11434",
				},
				"openai": {
					BaseURL:   "https://api.openai.com/v1",
					APIKeyEnv: "OPENAI_API_KEY",
				},
				"anthropic": {
					BaseURL:   "https://api.anthropic.com/v1",
					APIKeyEnv: "ANTHROPIC_API_KEY",
				},
			},
			CostTable: map[string]CostEntry{
				"gpt-4o":      {PromptPer1K: 0.0025, CompletionPer1K: 0.01},
				"gpt-4o-mini": {PromptPer1K: 0.00015, CompletionPer1K: 0.0006},
				"claude-3":    {PromptPer1K: 0.003, CompletionPer1K: 0.015},
			},
		},
		Agents: AgentsConfig{
			QueryAgent: AgentConfig{
				Temperature: 0.3,
				TopP:        0.9,
				MaxTokens:   1024,
			},
			ScoringAgent: AgentConfig{
				Temperature:      0.0,
				TopP:             1.0,
				MaxTokens:        256,
				DefaultThreshold: 2.5,
			},
			CitationAgent: AgentConfig{
				Temperature:  0.1,
				TopP:         0.9,
				MaxTokens:    1024,
				MinRelevance: 0.3,
			},
			ReportingAgent: AgentConfig{
				Temperature:  0.4,
				TopP:         0.9,
				MaxTokens:    4096,
				MinCitations: 1,
			},
			CounterfactualAgent: AgentConfig{
				Temperature: 0.3,
				TopP:        0.9,
				MaxTokens:   1024,
			},
			VerdictAgent: AgentConfig{
				Temperature:        0.0,
				TopP:               1.0,
				MaxTokens:          1024,
				MinRationaleLength: 20,
			},
		},
		Search: SearchConfig{
			MinRelevant:    5,
			ScoreThreshold: 2.5,
			MaxRetry:       5,
			BatchSize:      10,
		},
	}
}
