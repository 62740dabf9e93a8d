package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq" // postgres driver
	"go.uber.org/zap"

	"github.com/agentmesh/agentmesh/a2a"
	"github.com/agentmesh/agentmesh/server"
)

var _ server.TaskStore = (*PostgresTaskStore)(nil)

// PostgresTaskStore implements server.TaskStore on PostgreSQL. Tasks are
// stored as JSONB rows keyed by task id.
type PostgresTaskStore struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewPostgresTaskStore connects to the database and ensures the schema.
func NewPostgresTaskStore(ctx context.Context, dsn string, logger *zap.Logger) (*PostgresTaskStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	store := &PostgresTaskStore{logger: logger.Named("postgres-store"), db: db}
	if err := store.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresTaskStore) ensureSchema(ctx context.Context) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS tasks (
			id         TEXT PRIMARY KEY,
			context_id TEXT NOT NULL,
			state      TEXT NOT NULL,
			record     JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create tasks table: %w", err)
	}
	return nil
}

// Close closes the database pool.
func (s *PostgresTaskStore) Close() error {
	return s.db.Close()
}

// Save upserts the task row.
func (s *PostgresTaskStore) Save(ctx context.Context, task *a2a.Task) error {
	record, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	const query = `
		INSERT INTO tasks (id, context_id, state, record, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (id) DO UPDATE
		SET context_id = $2, state = $3, record = $4, updated_at = now()`
	if _, err := s.db.ExecContext(ctx, query, task.ID, task.ContextID, string(task.Status.State), record); err != nil {
		return fmt.Errorf("failed to save task %s: %w", task.ID, err)
	}
	return nil
}

// Load retrieves one task, or TaskNotFound.
func (s *PostgresTaskStore) Load(ctx context.Context, taskID string) (*a2a.Task, error) {
	var record []byte
	err := s.db.QueryRowContext(ctx, `SELECT record FROM tasks WHERE id = $1`, taskID).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, a2a.NewTaskNotFoundError(taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load task %s: %w", taskID, err)
	}
	var task a2a.Task
	if err := json.Unmarshal(record, &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task %s: %w", taskID, err)
	}
	return &task, nil
}

// Delete removes one task, or returns TaskNotFound.
func (s *PostgresTaskStore) Delete(ctx context.Context, taskID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, taskID)
	if err != nil {
		return fmt.Errorf("failed to delete task %s: %w", taskID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return a2a.NewTaskNotFoundError(taskID)
	}
	return nil
}

// List returns all stored tasks.
func (s *PostgresTaskStore) List(ctx context.Context) ([]*a2a.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT record FROM tasks ORDER BY updated_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*a2a.Task
	for rows.Next() {
		var record []byte
		if err := rows.Scan(&record); err != nil {
			return nil, err
		}
		var task a2a.Task
		if err := json.Unmarshal(record, &task); err != nil {
			return nil, err
		}
		tasks = append(tasks, &task)
	}
	return tasks, rows.Err()
}
