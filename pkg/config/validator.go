package config

import "fmt"

// Validator validates a merged Config comprehensively with clear,
// section-scoped error messages.
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll validates every section in dependency order: queue before
// orchestrator (workers claim from the queue), llm before agents (agents
// reference llm.default_model), then search. Fails fast at the first
// error.
func (v *Validator) ValidateAll() error {
	if err := v.validateQueue(); err != nil {
		return fmt.Errorf("queue validation failed: %w", err)
	}
	if err := v.validateOrchestrator(); err != nil {
		return fmt.Errorf("orchestrator validation failed: %w", err)
	}
	if err := v.validateLLM(); err != nil {
		return fmt.Errorf("llm validation failed: %w", err)
	}
	if err := v.validateAgents(); err != nil {
		return fmt.Errorf("agent validation failed: %w", err)
	}
	if err := v.validateSearch(); err != nil {
		return fmt.Errorf("search validation failed: %w", err)
	}
	return nil
}

func (v *Validator) validateQueue() error {
	q := v.cfg.Queue
	if q.Path == "" {
		return NewValidationError("queue", "path", ErrMissingRequiredField)
	}
	if q.StaleLeaseSeconds < 0 {
		return NewValidationError("queue", "stale_lease_seconds", ErrInvalidValue)
	}
	if q.CleanupAgeHours <= 0 {
		return NewValidationError("queue", "cleanup_age_hours", ErrInvalidValue)
	}
	return nil
}

func (v *Validator) validateOrchestrator() error {
	o := v.cfg.Orchestrator
	if o.MaxWorkers <= 0 {
		return NewValidationError("orchestrator", "max_workers", ErrInvalidValue)
	}
	if o.PollingIntervalMs <= 0 {
		return NewValidationError("orchestrator", "polling_interval_ms", ErrInvalidValue)
	}
	if o.PollJitterMs < 0 {
		return NewValidationError("orchestrator", "poll_jitter_ms", ErrInvalidValue)
	}
	return nil
}

func (v *Validator) validateLLM() error {
	l := v.cfg.LLM
	if l.DefaultProvider == "" {
		return NewValidationError("llm", "default_provider", ErrMissingRequiredField)
	}
	if l.DefaultModel == "" {
		return NewValidationError("llm", "default_model", ErrMissingRequiredField)
	}
	if l.PerCallTimeoutSeconds <= 0 {
		return NewValidationError("llm", "per_call_timeout_seconds", ErrInvalidValue)
	}
	if _, ok := l.Providers[l.DefaultProvider]; !ok {
		return NewValidationError("llm", "default_provider", fmt.Errorf("%w: provider %q not configured under llm.providers", ErrInvalidValue, l.DefaultProvider))
	}
	for name, p := range l.Providers {
		if p.BaseURL == "" {
			return NewValidationError(fmt.Sprintf("llm.providers.%s", name), "base_url", ErrMissingRequiredField)
		}
	}
	return nil
}

func (v *Validator) validateAgents() error {
	agents := map[string]AgentConfig{
		"query_agent":          v.cfg.Agents.QueryAgent,
		"scoring_agent":        v.cfg.Agents.ScoringAgent,
		"citation_agent":       v.cfg.Agents.CitationAgent,
		"reporting_agent":      v.cfg.Agents.ReportingAgent,
		"counterfactual_agent": v.cfg.Agents.CounterfactualAgent,
		"verdict_agent":        v.cfg.Agents.VerdictAgent,
	}
	for name, a := range agents {
		section := "agents." + name
		if a.MaxTokens <= 0 {
			return NewValidationError(section, "max_tokens", ErrInvalidValue)
		}
		if a.Temperature < 0 || a.Temperature > 2 {
			return NewValidationError(section, "temperature", ErrInvalidValue)
		}
		if a.TopP <= 0 || a.TopP > 1 {
			return NewValidationError(section, "top_p", ErrInvalidValue)
		}
	}
	return nil
}

func (v *Validator) validateSearch() error {
	s := v.cfg.Search
	if s.MinRelevant <= 0 {
		return NewValidationError("search", "min_relevant", ErrInvalidValue)
	}
	if s.MaxRetry <= 0 {
		return NewValidationError("search", "max_retry", ErrInvalidValue)
	}
	if s.BatchSize <= 0 {
		return NewValidationError("search", "batch_size", ErrInvalidValue)
	}
	if s.ScoreThreshold < 0 {
		return NewValidationError("search", "score_threshold", ErrInvalidValue)
	}
	return nil
}
