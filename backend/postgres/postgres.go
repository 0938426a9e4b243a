// Package postgres provides a Store backed by a hosted Postgres table.
// Rows are scoped to their owner through a user_id column and the database
// assigns numeric task ids, so client ids are replaced on create.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"focuslist/backend"
)

// DefaultTable is the table used when none is configured
const DefaultTable = "todos"

const backendName = "postgres"

// Config holds connection settings
type Config struct {
	URL   string
	Table string
}

// Backend implements backend.Store on Postgres
type Backend struct {
	pool  *pgxpool.Pool
	table string // sanitized identifier
}

// New connects to the database and ensures the table exists
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("postgres url is required")
	}

	pool, err := pgxpool.New(ctx, cfg.URL)
	if err != nil {
		return nil, wrapError("connect", err)
	}

	b := newWithPool(pool, cfg.Table)
	if err := b.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return b, nil
}

func newWithPool(pool *pgxpool.Pool, table string) *Backend {
	if table == "" {
		table = DefaultTable
	}
	return &Backend{pool: pool, table: pgx.Identifier{table}.Sanitize()}
}

// EnsureSchema creates the task table and its owner index
func (b *Backend) EnsureSchema(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
			user_id TEXT NOT NULL,
			text TEXT NOT NULL,
			completed BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, b.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (user_id, created_at)`,
			pgx.Identifier{indexName(b.table)}.Sanitize(), b.table),
	}

	for _, stmt := range statements {
		if _, err := b.pool.Exec(ctx, stmt); err != nil {
			return wrapError("schema", err)
		}
	}
	return nil
}

// Close closes the connection pool
func (b *Backend) Close() error {
	b.pool.Close()
	return nil
}

// =============================================================================
// Task Operations
// =============================================================================

// List returns the owner's tasks, oldest first
func (b *Backend) List(ctx context.Context, owner string) ([]backend.Task, error) {
	query := fmt.Sprintf(`SELECT id, text, completed, created_at FROM %s
		WHERE user_id = $1
		ORDER BY created_at ASC, id ASC`, b.table)

	rows, err := b.pool.Query(ctx, query, owner)
	if err != nil {
		return nil, wrapError("list", err)
	}

	tasks, err := pgx.CollectRows(rows, scanTask)
	if err != nil {
		return nil, wrapError("list", err)
	}
	if tasks == nil {
		tasks = []backend.Task{}
	}
	return tasks, nil
}

// Create inserts a row for owner and returns it with the database id
func (b *Backend) Create(ctx context.Context, owner string, draft backend.Task) (*backend.Task, error) {
	query := fmt.Sprintf(`INSERT INTO %s (user_id, text, completed)
		VALUES ($1, $2, false)
		RETURNING id, text, completed, created_at`, b.table)

	rows, err := b.pool.Query(ctx, query, owner, draft.Text)
	if err != nil {
		return nil, wrapError("create", err)
	}

	task, err := pgx.CollectExactlyOneRow(rows, scanTask)
	if err != nil {
		return nil, wrapError("create", err)
	}
	return &task, nil
}

// SetCompleted updates the completion flag of ref.Owner's row with ref.ID
func (b *Backend) SetCompleted(ctx context.Context, ref backend.TaskRef, completed bool) error {
	id, err := parseID("update", ref.ID)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`UPDATE %s SET completed = $1 WHERE id = $2 AND user_id = $3`, b.table)
	tag, err := b.pool.Exec(ctx, query, completed, id, ref.Owner)
	if err != nil {
		return wrapError("update", err)
	}
	if tag.RowsAffected() == 0 {
		return &backend.RemoteError{Backend: backendName, Op: "update", Message: "task not found"}
	}
	return nil
}

// Remove deletes ref.Owner's row with ref.ID
func (b *Backend) Remove(ctx context.Context, ref backend.TaskRef) error {
	id, err := parseID("delete", ref.ID)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1 AND user_id = $2`, b.table)
	tag, err := b.pool.Exec(ctx, query, id, ref.Owner)
	if err != nil {
		return wrapError("delete", err)
	}
	if tag.RowsAffected() == 0 {
		return &backend.RemoteError{Backend: backendName, Op: "delete", Message: "task not found"}
	}
	return nil
}

// =============================================================================
// Helpers
// =============================================================================

func scanTask(row pgx.CollectableRow) (backend.Task, error) {
	var (
		id        int64
		task      backend.Task
		createdAt time.Time
	)
	if err := row.Scan(&id, &task.Text, &task.Completed, &createdAt); err != nil {
		return backend.Task{}, err
	}
	task.ID = strconv.FormatInt(id, 10)
	task.Created = backend.FormatCreated(createdAt.Local())
	return task, nil
}

func parseID(op, id string) (int64, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, &backend.RemoteError{Backend: backendName, Op: op, Message: fmt.Sprintf("invalid task id %q", id), Err: err}
	}
	return n, nil
}

// indexName derives the owner index name from a sanitized table identifier
func indexName(sanitized string) string {
	name := sanitized
	if len(name) >= 2 && name[0] == '"' && name[len(name)-1] == '"' {
		name = name[1 : len(name)-1]
	}
	return name + "_user_id_idx"
}

// wrapError converts driver errors into RemoteError, keeping the server
// message for database errors
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &backend.RemoteError{Backend: backendName, Op: op, Message: pgErr.Message, Err: err}
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return &backend.RemoteError{Backend: backendName, Op: op, Message: "task not found", Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &backend.RemoteError{Backend: backendName, Op: op, Message: "request timed out", Err: err}
	}
	return backend.NewRemoteError(backendName, op, err)
}

// Verify interface compliance at compile time
var _ backend.Store = (*Backend)(nil)
