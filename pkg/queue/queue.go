// Package queue implements a crash-safe, single-host, priority-ordered
// work queue backed by an embedded SQLite database. It is the sole owner
// of Task state; callers receive copies.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bmlibrarian/bmlibrarian-core/pkg/task"
)

// Config controls queue behaviour beyond the storage path.
type Config struct {
	// Path is the SQLite file path. ":memory:" opens an in-process,
	// non-durable database (used by tests).
	Path string

	// StaleLeaseAfter bounds how long a PROCESSING task may go without a
	// heartbeat before a recovery sweep reclaims it. Zero selects
	// DefaultConfig's five minutes; the queue itself knows nothing of the
	// orchestrator's poll interval.
	StaleLeaseAfter time.Duration

	// CleanupAge is the default age threshold used by periodic cleanup.
	CleanupAge time.Duration
}

// DefaultConfig returns sensible defaults for a standalone queue.
func DefaultConfig() Config {
	return Config{
		Path:            "./data/bmlibrarian.db",
		StaleLeaseAfter: 5 * time.Minute,
		CleanupAge:      7 * 24 * time.Hour,
	}
}

// TaskQueue is a durable, priority-ordered store of work items.
type TaskQueue struct {
	cfg   Config
	store *store
}

// Open creates (if necessary) and opens the queue database at cfg.Path,
// applying the embedded schema.
func Open(cfg Config) (*TaskQueue, error) {
	if cfg.Path == "" {
		cfg.Path = DefaultConfig().Path
	}
	if cfg.StaleLeaseAfter <= 0 {
		cfg.StaleLeaseAfter = DefaultConfig().StaleLeaseAfter
	}
	s, err := openStore(cfg.Path)
	if err != nil {
		return nil, wrapStorageErr("open", err)
	}
	return &TaskQueue{cfg: cfg, store: s}, nil
}

// Close releases the underlying database handle.
func (q *TaskQueue) Close() error {
	return q.store.close()
}

// Enqueue durably stores a new task and makes it immediately eligible for
// claim by a worker whose filter matches targetAgent. priority defaults to
// task.PriorityNormal and maxAttempts to 3 when given as zero values.
func (q *TaskQueue) Enqueue(ctx context.Context, targetAgent, method string, data map[string]any, priority task.Priority, maxAttempts int) (int64, error) {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if err := task.ValidateForEnqueue(targetAgent, method, maxAttempts); err != nil {
		return 0, err
	}

	payload, err := marshalData(data)
	if err != nil {
		return 0, err
	}

	now := timeToMs(time.Now())

	res, err := q.store.db.ExecContext(ctx, `
		INSERT INTO tasks (target_agent, method, data, priority, status, attempts, max_attempts, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?)`,
		targetAgent, method, payload, int(priority), string(task.StatusPending), maxAttempts, now, now,
	)
	if err != nil {
		return 0, wrapStorageErr("enqueue", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, wrapStorageErr("enqueue", err)
	}
	return id, nil
}

// ClaimNext atomically selects and claims the highest-priority PENDING
// task whose target_agent matches, taking the oldest (created_at asc)
// among tasks of equal priority.
// Returns ErrNoTasksAvailable when nothing matches.
func (q *TaskQueue) ClaimNext(ctx context.Context, targetAgent string) (*task.Task, error) {
	tx, err := q.store.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapStorageErr("claim_next", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE target_agent = ? AND status = ?
		ORDER BY priority DESC, created_at ASC
		LIMIT 1`,
		targetAgent, string(task.StatusPending),
	)

	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoTasksAvailable
		}
		return nil, wrapStorageErr("claim_next", err)
	}

	now := timeToMs(time.Now())
	if _, err := tx.ExecContext(ctx, `
		UPDATE tasks SET status = ?, attempts = attempts + 1, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(task.StatusProcessing), now, t.ID, string(task.StatusPending),
	); err != nil {
		return nil, wrapStorageErr("claim_next", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, wrapStorageErr("claim_next", err)
	}

	t.Status = task.StatusProcessing
	t.Attempts++
	t.UpdatedAt = msToTime(now)
	return t, nil
}

// Complete terminally transitions a task to COMPLETED with the given
// result. It is a no-op (not an error) if the task has already reached a
// terminal state, so a race with cancel() resolves in the cancel's favour.
func (q *TaskQueue) Complete(ctx context.Context, taskID int64, result map[string]any) error {
	payload, err := marshalData(result)
	if err != nil {
		return err
	}
	return q.terminalUpdate(ctx, taskID, task.StatusCompleted, payload, "")
}

// Fail terminally transitions a task to FAILED with the given error text.
// Per the default policy, fail is terminal; retrying is an explicit
// re-enqueue performed by the orchestrator, not an implicit re-entry to
// PENDING from here.
func (q *TaskQueue) Fail(ctx context.Context, taskID int64, cause string) error {
	return q.terminalUpdate(ctx, taskID, task.StatusFailed, "", cause)
}

func (q *TaskQueue) terminalUpdate(ctx context.Context, taskID int64, newStatus task.Status, result, cause string) error {
	now := timeToMs(time.Now())

	var resultArg any
	if result != "" {
		resultArg = result
	}
	var errArg any
	if cause != "" {
		errArg = cause
	}

	res, err := q.store.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, result = ?, error = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		string(newStatus), resultArg, errArg, now, taskID, string(task.StatusProcessing), string(task.StatusPending),
	)
	if err != nil {
		return wrapStorageErr("terminal_update", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapStorageErr("terminal_update", err)
	}
	if n == 0 {
		// Either the task does not exist, or it already reached a terminal
		// state (e.g. a concurrent cancel won the race). Distinguish the two
		// only for the not-found case; an already-terminal task is a silent
		// no-op, matching the idempotent-terminal-state-wins rule.
		exists, existsErr := q.taskExists(ctx, taskID)
		if existsErr != nil {
			return existsErr
		}
		if !exists {
			return ErrTaskNotFound
		}
	}
	return nil
}

func (q *TaskQueue) taskExists(ctx context.Context, taskID int64) (bool, error) {
	var n int
	if err := q.store.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM tasks WHERE id = ?`, taskID).Scan(&n); err != nil {
		return false, wrapStorageErr("task_exists", err)
	}
	return n > 0, nil
}

// Cancel transitions a task from PENDING or PROCESSING to CANCELLED. It is
// idempotent: a task already in a terminal state is left unchanged and no
// error is returned, so a racing complete()/fail() call cannot resurrect a
// cancelled task.
func (q *TaskQueue) Cancel(ctx context.Context, taskID int64) error {
	now := timeToMs(time.Now())
	res, err := q.store.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, error = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		string(task.StatusCancelled), "cancelled", now, taskID, string(task.StatusPending), string(task.StatusProcessing),
	)
	if err != nil {
		return wrapStorageErr("cancel", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapStorageErr("cancel", err)
	}
	if n == 0 {
		exists, existsErr := q.taskExists(ctx, taskID)
		if existsErr != nil {
			return existsErr
		}
		if !exists {
			return ErrTaskNotFound
		}
	}
	return nil
}

// Requeue creates a fresh PENDING task from a terminal one (COMPLETED,
// FAILED, or CANCELLED), with attempts reset to zero and a back-reference
// to the original task id. This is the admin requeue operation alluded to
// but not specified in detail; see DESIGN.md.
func (q *TaskQueue) Requeue(ctx context.Context, taskID int64) (int64, error) {
	original, err := q.Get(ctx, taskID)
	if err != nil {
		return 0, err
	}
	if !original.Status.IsTerminal() {
		return 0, fmt.Errorf("%w: task %d is %s, not terminal", ErrInvalidTransition, taskID, original.Status)
	}

	data := make(map[string]any, len(original.Data)+1)
	for k, v := range original.Data {
		data[k] = v
	}
	data["requeued_from"] = taskID

	return q.Enqueue(ctx, original.TargetAgent, original.Method, data, original.Priority, original.MaxAttempts)
}

// Get fetches a task by id regardless of status.
func (q *TaskQueue) Get(ctx context.Context, taskID int64) (*task.Task, error) {
	row := q.store.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, taskID)
	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, wrapStorageErr("get", err)
	}
	return t, nil
}

// Stats returns a snapshot of task counts by status, optionally filtered
// by target agent. An empty targetAgent matches all agents.
func (q *TaskQueue) Stats(ctx context.Context, targetAgent string) (map[task.Status]int, error) {
	var rows *sql.Rows
	var err error
	if targetAgent == "" {
		rows, err = q.store.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM tasks GROUP BY status`)
	} else {
		rows, err = q.store.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM tasks WHERE target_agent = ? GROUP BY status`, targetAgent)
	}
	if err != nil {
		return nil, wrapStorageErr("stats", err)
	}
	defer rows.Close()

	out := map[task.Status]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, wrapStorageErr("stats", err)
		}
		out[task.Status(status)] = count
	}
	return out, rows.Err()
}

// Cleanup removes COMPLETED, FAILED, and CANCELLED tasks whose updated_at
// is at least the given age old, returning the number of rows removed.
func (q *TaskQueue) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	threshold := timeToMs(time.Now().Add(-olderThan))
	res, err := q.store.db.ExecContext(ctx, `
		DELETE FROM tasks
		WHERE status IN (?, ?, ?) AND updated_at <= ?`,
		string(task.StatusCompleted), string(task.StatusFailed), string(task.StatusCancelled), threshold,
	)
	if err != nil {
		return 0, wrapStorageErr("cleanup", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrapStorageErr("cleanup", err)
	}
	if n > 0 {
		slog.Info("queue cleanup removed terminal tasks", "count", n, "older_than", olderThan)
	}
	return n, nil
}

// RecoverStaleLeases sweeps PROCESSING tasks whose updated_at is older than
// the configured stale-lease horizon. Tasks with attempts < max_attempts go
// back to PENDING; the rest transition to FAILED with a lease-expired
// error. Intended to run once at startup and periodically thereafter.
func (q *TaskQueue) RecoverStaleLeases(ctx context.Context) (recovered, failed int, err error) {
	threshold := timeToMs(time.Now().Add(-q.cfg.StaleLeaseAfter))

	rows, qerr := q.store.db.QueryContext(ctx, `
		SELECT id, attempts, max_attempts FROM tasks
		WHERE status = ? AND updated_at < ?`,
		string(task.StatusProcessing), threshold,
	)
	if qerr != nil {
		return 0, 0, wrapStorageErr("recover_stale_leases", qerr)
	}

	type stale struct {
		id                       int64
		attempts, maxAttempts    int
	}
	var staleTasks []stale
	for rows.Next() {
		var s stale
		if err := rows.Scan(&s.id, &s.attempts, &s.maxAttempts); err != nil {
			rows.Close()
			return 0, 0, wrapStorageErr("recover_stale_leases", err)
		}
		staleTasks = append(staleTasks, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, 0, wrapStorageErr("recover_stale_leases", err)
	}

	now := timeToMs(time.Now())
	for _, s := range staleTasks {
		if s.attempts < s.maxAttempts {
			if _, err := q.store.db.ExecContext(ctx, `
				UPDATE tasks SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
				string(task.StatusPending), now, s.id, string(task.StatusProcessing),
			); err != nil {
				return recovered, failed, wrapStorageErr("recover_stale_leases", err)
			}
			recovered++
			slog.Warn("recovered stale-leased task to pending", "task_id", s.id)
		} else {
			if _, err := q.store.db.ExecContext(ctx, `
				UPDATE tasks SET status = ?, error = ?, updated_at = ? WHERE id = ? AND status = ?`,
				string(task.StatusFailed), "lease-expired", now, s.id, string(task.StatusProcessing),
			); err != nil {
				return recovered, failed, wrapStorageErr("recover_stale_leases", err)
			}
			failed++
			slog.Warn("stale-leased task exhausted attempts, marked failed", "task_id", s.id)
		}
	}

	return recovered, failed, nil
}
