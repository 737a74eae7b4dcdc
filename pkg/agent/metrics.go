package agent

import (
	"sync"
	"time"
)

// PerformanceMetrics accumulates per-agent usage and timing statistics,
// guarded by a mutex rather than lock-free atomics: an agent issues at
// most a handful of LLM calls per invocation, so contention on the
// accumulator is never the bottleneck.
type PerformanceMetrics struct {
	mu sync.Mutex

	requestCount    int
	retryCount      int
	promptTokens    int
	completionTokens int
	modelEvalTime   time.Duration
	wallTime        time.Duration
	startedAt       time.Time
	running         bool
}

// MetricsSnapshot is a point-in-time copy of PerformanceMetrics, safe to
// read without holding any lock.
type MetricsSnapshot struct {
	RequestCount           int
	RetryCount             int
	PromptTokens           int
	CompletionTokens       int
	TotalTokens            int
	ModelEvalTime          time.Duration
	WallTime               time.Duration
	TokensPerSecond        float64
	AverageTokensPerRequest float64
}

// Start marks the beginning of a timed window. Calling Start while
// already running resets the window's start time.
func (m *PerformanceMetrics) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startedAt = time.Now()
	m.running = true
}

// Stop ends the timed window, folding the elapsed wall time into the
// accumulator. Stop on a non-running accumulator is a no-op.
func (m *PerformanceMetrics) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.wallTime += time.Since(m.startedAt)
	m.running = false
}

// RecordCall folds one LLM call's usage into the accumulator.
func (m *PerformanceMetrics) RecordCall(promptTokens, completionTokens int, modelEvalTime time.Duration, retries int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount++
	m.retryCount += retries
	m.promptTokens += promptTokens
	m.completionTokens += completionTokens
	m.modelEvalTime += modelEvalTime
}

// Reset clears all accumulated values.
func (m *PerformanceMetrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	*m = PerformanceMetrics{}
}

// Snapshot returns a consistent, derived-field-computed copy.
func (m *PerformanceMetrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	wallTime := m.wallTime
	if m.running {
		wallTime += time.Since(m.startedAt)
	}

	total := m.promptTokens + m.completionTokens
	snap := MetricsSnapshot{
		RequestCount:     m.requestCount,
		RetryCount:       m.retryCount,
		PromptTokens:     m.promptTokens,
		CompletionTokens: m.completionTokens,
		TotalTokens:      total,
		ModelEvalTime:    m.modelEvalTime,
		WallTime:         wallTime,
	}
	if m.modelEvalTime > 0 {
		snap.TokensPerSecond = float64(m.completionTokens) / m.modelEvalTime.Seconds()
	}
	if m.requestCount > 0 {
		snap.AverageTokensPerRequest = float64(total) / float64(m.requestCount)
	}
	return snap
}
