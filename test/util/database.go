// Package util provides test utilities shared across package test suites.
package util

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bmlibrarian/bmlibrarian-core/pkg/queue"
)

// SetupTestQueue opens an isolated SQLite-backed TaskQueue for a single
// test: a fresh temp-file database under t.TempDir(), closed
// automatically via t.Cleanup. Each test gets its own file, so tests
// never share queue state even when run in parallel.
func SetupTestQueue(t *testing.T, opts ...func(*queue.Config)) *queue.TaskQueue {
	t.Helper()

	cfg := queue.DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "queue.db")
	cfg.StaleLeaseAfter = 5 * time.Minute
	cfg.CleanupAge = 7 * 24 * time.Hour

	for _, opt := range opts {
		opt(&cfg)
	}

	q, err := queue.Open(cfg)
	require.NoError(t, err)

	t.Cleanup(func() { _ = q.Close() })

	return q
}

// WithStaleLeaseAfter overrides the stale-lease horizon for tests that
// exercise RecoverStaleLeases without waiting out the real default.
func WithStaleLeaseAfter(d time.Duration) func(*queue.Config) {
	return func(cfg *queue.Config) { cfg.StaleLeaseAfter = d }
}
