// Package orchestrator owns a pool of worker goroutines that drain a
// TaskQueue and dispatch claimed tasks to registered agent handlers,
// surfacing lifecycle progress through an event bus.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bmlibrarian/bmlibrarian-core/pkg/events"
	"github.com/bmlibrarian/bmlibrarian-core/pkg/queue"
	"github.com/bmlibrarian/bmlibrarian-core/pkg/task"
	"github.com/cenkalti/backoff/v4"
	"github.com/dustin/go-humanize"
)

// Config controls the worker pool's shape and polling behaviour.
type Config struct {
	// WorkerCount is the number of polling goroutines. Defaults to 4.
	WorkerCount int

	// TaskTimeout bounds how long a single handler invocation may run
	// before its context is cancelled. Zero means no per-task timeout.
	TaskTimeout time.Duration

	// PollMaxInterval caps the exponential backoff applied between
	// claim attempts once the queue is observed empty.
	PollMaxInterval time.Duration
}

// DefaultConfig returns the orchestrator's default worker pool shape.
func DefaultConfig() Config {
	return Config{
		WorkerCount:     4,
		TaskTimeout:     10 * time.Minute,
		PollMaxInterval: 5 * time.Second,
	}
}

// Orchestrator dispatches claimed tasks to registered agent handlers.
type Orchestrator struct {
	cfg      Config
	q        *queue.TaskQueue
	bus      *events.Bus
	registry *registry

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	stopped bool
	wg      sync.WaitGroup

	cancellations sync.Map // int64 task id -> context.CancelFunc
	killed        sync.Map // int64 task id -> struct{}, set by a forced shutdown

	startedAt time.Time
}

// New constructs an Orchestrator bound to q, publishing lifecycle events to
// bus. bus may be nil, in which case events are dropped.
func New(q *queue.TaskQueue, bus *events.Bus, cfg Config) *Orchestrator {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = DefaultConfig().WorkerCount
	}
	if cfg.PollMaxInterval <= 0 {
		cfg.PollMaxInterval = DefaultConfig().PollMaxInterval
	}
	return &Orchestrator{
		cfg:      cfg,
		q:        q,
		bus:      bus,
		registry: newRegistry(),
		stopCh:   make(chan struct{}),
	}
}

// RegisterAgent binds name to a set of invocable methods. Re-registration
// under an existing name replaces the binding.
func (o *Orchestrator) RegisterAgent(name string, handlers Handlers) {
	o.registry.register(name, handlers)
}

// AddProgressCallback registers an observer invoked on task enqueued,
// claimed, completed, failed, cancelled, worker started, worker stopped,
// and queue empty events. It returns a token usable with RemoveProgressCallback.
func (o *Orchestrator) AddProgressCallback(cb events.Subscriber) int {
	if o.bus == nil {
		return 0
	}
	return o.bus.Subscribe(cb)
}

// RemoveProgressCallback unregisters a previously added callback.
func (o *Orchestrator) RemoveProgressCallback(token int) {
	if o.bus == nil {
		return
	}
	o.bus.Unsubscribe(token)
}

// Start spawns the worker pool. It is an error to call Start twice on the
// same Orchestrator.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return ErrAlreadyStarted
	}
	o.started = true
	o.startedAt = time.Now()
	o.mu.Unlock()

	for i := 0; i < o.cfg.WorkerCount; i++ {
		id := fmt.Sprintf("worker-%d", i)
		o.wg.Add(1)
		go o.runWorker(ctx, id)
	}
	return nil
}

// Stop signals every worker to exit after finishing its current task, and
// blocks until all have done so. It is safe to call more than once.
func (o *Orchestrator) Stop() {
	o.shutdown(0)
}

// StopWithDeadline behaves like Stop, except that any task still running
// after killAfter is force-failed with a "shutdown" error and its context
// cancelled, so a stuck handler cannot block shutdown indefinitely.
func (o *Orchestrator) StopWithDeadline(killAfter time.Duration) {
	o.shutdown(killAfter)
}

func (o *Orchestrator) shutdown(killAfter time.Duration) {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	o.stopped = true
	close(o.stopCh)
	o.mu.Unlock()

	if killAfter <= 0 {
		o.wg.Wait()
		return
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(killAfter):
		o.killRunningTasks()
		<-done
	}
}

func (o *Orchestrator) killRunningTasks() {
	o.cancellations.Range(func(key, value any) bool {
		taskID := key.(int64)
		cancel := value.(context.CancelFunc)
		// Mark the task killed before cancelling its context: the handler
		// goroutine can only observe cancellation after this write, so it
		// reliably sees the marker and defers to this failure write
		// instead of racing to record its own.
		o.killed.Store(taskID, struct{}{})
		cancel()
		if err := o.q.Fail(context.Background(), taskID, shutdownCause); err != nil {
			slog.Warn("failed to mark killed task as failed", "task_id", taskID, "error", err)
		}
		o.publish(events.TaskFailed, "task killed by forced shutdown", map[string]any{
			"task_id": taskID, "error": shutdownCause,
		})
		return true
	})
}

// Submit enqueues a single task and returns its id. It is a thin wrapper
// over the queue's Enqueue.
func (o *Orchestrator) Submit(ctx context.Context, targetAgent, method string, data map[string]any, priority task.Priority, maxAttempts int) (int64, error) {
	id, err := o.q.Enqueue(ctx, targetAgent, method, data, priority, maxAttempts)
	if err != nil {
		return 0, err
	}
	o.publish(events.TaskEnqueued, "task enqueued", map[string]any{
		"task_id": id, "target_agent": targetAgent, "method": method,
	})
	return id, nil
}

// TaskSpec describes one task for SubmitBatch.
type TaskSpec struct {
	TargetAgent string
	Method      string
	Data        map[string]any
	Priority    task.Priority
	MaxAttempts int
}

// SubmitBatch enqueues every spec in order, returning their ids. If any
// enqueue fails, the ids enqueued so far are still returned alongside the
// error.
func (o *Orchestrator) SubmitBatch(ctx context.Context, specs []TaskSpec) ([]int64, error) {
	ids := make([]int64, 0, len(specs))
	for _, s := range specs {
		id, err := o.Submit(ctx, s.TargetAgent, s.Method, s.Data, s.Priority, s.MaxAttempts)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Wait blocks until every named task reaches a terminal status or timeout
// elapses, whichever comes first. It always returns whatever terminal
// tasks are known, even when it also returns ErrWaitTimeout.
func (o *Orchestrator) Wait(ctx context.Context, taskIDs []int64, timeout time.Duration) (map[int64]*task.Task, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	results := make(map[int64]*task.Task, len(taskIDs))
	pending := make(map[int64]bool, len(taskIDs))
	for _, id := range taskIDs {
		pending[id] = true
	}

	poll := func() {
		for id := range pending {
			t, err := o.q.Get(ctx, id)
			if err != nil {
				continue
			}
			if t.Status.IsTerminal() {
				results[id] = t
				delete(pending, id)
			}
		}
	}

	poll()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for len(pending) > 0 {
		if !deadline.IsZero() && time.Now().After(deadline) {
			return results, ErrWaitTimeout
		}
		select {
		case <-ctx.Done():
			return results, ctx.Err()
		case <-ticker.C:
			poll()
		}
	}
	return results, nil
}

func (o *Orchestrator) runWorker(ctx context.Context, id string) {
	defer o.wg.Done()
	log := slog.With("worker_id", id)
	log.Info("worker started")
	o.publish(events.WorkerStarted, "worker started", map[string]any{"worker_id": id})

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 20 * time.Millisecond
	bo.MaxInterval = o.cfg.PollMaxInterval
	bo.MaxElapsedTime = 0

	for {
		select {
		case <-o.stopCh:
			log.Info("worker stopping")
			o.publish(events.WorkerStopped, "worker stopped", map[string]any{"worker_id": id})
			return
		case <-ctx.Done():
			log.Info("worker stopping on context cancellation")
			o.publish(events.WorkerStopped, "worker stopped", map[string]any{"worker_id": id})
			return
		default:
		}

		t, err := o.claimAny(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrNoTasksAvailable) {
				o.publish(events.QueueEmpty, "no matching tasks available", map[string]any{"worker_id": id})
				o.sleep(bo.NextBackOff())
				continue
			}
			log.Error("claim failed", "error", err)
			o.sleep(time.Second)
			continue
		}
		bo.Reset()
		o.process(ctx, id, t)
	}
}

// claimAny tries every registered agent name in turn, returning the first
// claimed task. Workers have no ordering guarantee between agent names.
func (o *Orchestrator) claimAny(ctx context.Context) (*task.Task, error) {
	for _, name := range o.registry.names() {
		t, err := o.q.ClaimNext(ctx, name)
		if err == nil {
			return t, nil
		}
		if !errors.Is(err, queue.ErrNoTasksAvailable) {
			return nil, err
		}
	}
	return nil, queue.ErrNoTasksAvailable
}

func (o *Orchestrator) process(ctx context.Context, workerID string, t *task.Task) {
	log := slog.With("worker_id", workerID, "task_id", t.ID, "target_agent", t.TargetAgent, "method", t.Method)

	// The task may have been cancelled in the narrow window between the
	// claim write and this read; skip invocation rather than run a
	// cancelled task.
	if fresh, err := o.q.Get(context.Background(), t.ID); err == nil && fresh.Status == task.StatusCancelled {
		log.Info("skipping invocation of task cancelled during claim race")
		o.publish(events.TaskCancelled, "task cancelled before invocation", map[string]any{"task_id": t.ID})
		return
	}

	o.publish(events.TaskClaimed, "task claimed", map[string]any{
		"task_id": t.ID, "target_agent": t.TargetAgent, "method": t.Method,
	})

	handler, ok := o.registry.resolve(t.TargetAgent, t.Method)
	if !ok {
		o.fail(t.ID, ErrUnknownMethod.Error())
		return
	}

	taskCtx, cancel := o.taskContext(ctx)
	o.cancellations.Store(t.ID, cancel)
	defer func() {
		o.cancellations.Delete(t.ID)
		cancel()
	}()

	result, err := invokeSafely(handler, taskCtx, t.Data)
	if err != nil {
		if _, wasKilled := o.killed.LoadAndDelete(t.ID); wasKilled {
			log.Info("task already force-failed by shutdown, not overwriting")
			return
		}
		cause := err.Error()
		if errors.Is(taskCtx.Err(), context.DeadlineExceeded) {
			cause = "timeout"
		}
		log.Warn("task failed", "error", cause)
		o.fail(t.ID, cause)
		return
	}

	if err := o.q.Complete(context.Background(), t.ID, result); err != nil {
		log.Error("failed to record task completion", "error", err)
		return
	}
	o.publish(events.TaskCompleted, "task completed", map[string]any{"task_id": t.ID})
}

func (o *Orchestrator) taskContext(parent context.Context) (context.Context, context.CancelFunc) {
	if o.cfg.TaskTimeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, o.cfg.TaskTimeout)
}

func (o *Orchestrator) fail(taskID int64, cause string) {
	if err := o.q.Fail(context.Background(), taskID, cause); err != nil {
		slog.Error("failed to record task failure", "task_id", taskID, "error", err)
	}
	o.publish(events.TaskFailed, "task failed", map[string]any{"task_id": taskID, "error": cause})
}

func (o *Orchestrator) publish(typ events.Type, message string, data map[string]any) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(events.Event{Type: typ, Message: message, Data: data})
}

func (o *Orchestrator) sleep(d time.Duration) {
	select {
	case <-o.stopCh:
	case <-time.After(d):
	}
}

// Stats reports the queue's current status counts and a human-readable
// uptime, suitable for a health endpoint or periodic log line.
type Stats struct {
	QueueDepth map[task.Status]int
	Uptime     string
}

// Stats snapshots queue depth by status and formats the pool's uptime.
func (o *Orchestrator) Stats(ctx context.Context) (Stats, error) {
	depth, err := o.q.Stats(ctx, "")
	if err != nil {
		return Stats{}, err
	}

	o.mu.Lock()
	startedAt := o.startedAt
	o.mu.Unlock()

	uptime := "not started"
	if !startedAt.IsZero() {
		uptime = humanize.Time(startedAt)
	}
	return Stats{QueueDepth: depth, Uptime: uptime}, nil
}

// invokeSafely calls handler, converting a panic into an error so that a
// single misbehaving agent method cannot take down a worker goroutine.
// There is no mechanism to interrupt a running handler beyond cancelling
// its context; cooperative cancellation within a long operation is the
// handler's own responsibility.
func invokeSafely(handler Handler, ctx context.Context, data map[string]any) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("agent method panicked: %v", r)
		}
	}()
	return handler(ctx, data)
}
