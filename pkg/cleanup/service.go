// Package cleanup periodically purges terminal-state tasks from the
// durable queue and recovers stale leases left behind by crashed
// workers.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/bmlibrarian/bmlibrarian-core/pkg/queue"
)

// Config controls the cleanup loop's interval and what Cleanup/
// RecoverStaleLeases are called with each tick.
type Config struct {
	// Interval is how often the loop runs.
	Interval time.Duration

	// MaxAge is the terminal-task retention horizon passed to
	// TaskQueue.Cleanup.
	MaxAge time.Duration
}

// Service periodically enforces queue retention: deletes terminal tasks
// past MaxAge and reclaims leases abandoned by crashed workers. Safe to
// run from a single process only — the queue itself is single-host.
type Service struct {
	cfg   Config
	queue *queue.TaskQueue

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a cleanup service bound to the given queue.
func NewService(cfg Config, q *queue.TaskQueue) *Service {
	return &Service{cfg: cfg, queue: q}
}

// Start launches the background cleanup loop. Calling Start twice
// without an intervening Stop is a no-op.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("cleanup service started",
		"interval", s.cfg.Interval,
		"max_age", s.cfg.MaxAge)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	slog.Info("cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.recoverStaleLeases(ctx)
	s.cleanupOldTasks(ctx)
}

func (s *Service) recoverStaleLeases(ctx context.Context) {
	recovered, failed, err := s.queue.RecoverStaleLeases(ctx)
	if err != nil {
		slog.Error("cleanup: recover stale leases failed", "error", err)
		return
	}
	if recovered > 0 || failed > 0 {
		slog.Info("cleanup: recovered stale leases", "requeued", recovered, "failed", failed)
	}
}

func (s *Service) cleanupOldTasks(ctx context.Context) {
	count, err := s.queue.Cleanup(ctx, s.cfg.MaxAge)
	if err != nil {
		slog.Error("cleanup: task cleanup failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("cleanup: deleted old tasks", "count", count)
	}
}
