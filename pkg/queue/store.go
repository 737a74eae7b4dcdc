package queue

import (
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bytedance/sonic"
	_ "modernc.org/sqlite"

	"github.com/bmlibrarian/bmlibrarian-core/pkg/task"
)

//go:embed schema.sql
var schemaSQL string

// store is the raw SQLite-backed persistence layer for tasks. It holds no
// queue-level policy (priority selection, retry rules); that lives in
// TaskQueue. A single *sql.DB connection is kept open at all times, capped
// to one connection, since SQLite serialises writers anyway and a single
// connection avoids SQLITE_BUSY churn under WAL.
type store struct {
	db *sql.DB
}

// openStore opens (creating if necessary) the SQLite file at path, enables
// WAL journalling and a busy timeout, and applies the embedded schema.
func openStore(path string) (*store, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("creating queue directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening queue database: %w", err)
	}

	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting synchronous mode: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &store{db: db}, nil
}

func (s *store) close() error {
	return s.db.Close()
}

func marshalData(data map[string]any) (string, error) {
	if data == nil {
		data = map[string]any{}
	}
	b, err := sonic.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshalling task payload: %w", err)
	}
	return string(b), nil
}

func unmarshalData(raw sql.NullString) (map[string]any, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var out map[string]any
	if err := sonic.UnmarshalString(raw.String, &out); err != nil {
		return nil, fmt.Errorf("unmarshalling task payload: %w", err)
	}
	return out, nil
}

// scanTask reads one row into a task.Task. Callers supply the *sql.Row or
// *sql.Rows already positioned at a matching column set:
// id, target_agent, method, data, priority, status, attempts, max_attempts,
// result, error, created_at, updated_at.
func scanTask(row interface {
	Scan(dest ...any) error
}) (*task.Task, error) {
	var t task.Task
	var data, result, errCol sql.NullString
	var priority int
	var status string
	var createdAt, updatedAt int64

	if err := row.Scan(
		&t.ID, &t.TargetAgent, &t.Method, &data, &priority, &status,
		&t.Attempts, &t.MaxAttempts, &result, &errCol, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	t.Priority = task.Priority(priority)
	t.Status = task.Status(status)
	t.CreatedAt = msToTime(createdAt)
	t.UpdatedAt = msToTime(updatedAt)

	dataMap, err := unmarshalData(data)
	if err != nil {
		return nil, err
	}
	t.Data = dataMap

	resultMap, err := unmarshalData(result)
	if err != nil {
		return nil, err
	}
	t.Result = resultMap

	if errCol.Valid {
		t.Error = errCol.String
	}

	return &t, nil
}

const taskColumns = `id, target_agent, method, data, priority, status,
	attempts, max_attempts, result, error, created_at, updated_at`
