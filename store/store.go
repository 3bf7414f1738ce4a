package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/lib/pq"
)

// ErrFinished is returned by Claim when the task is already in a terminal
// status. Workers receiving it must treat the job as done and ack.
var ErrFinished = errors.New("task already finished")

var ErrNotFound = errors.New("task not found")

// Repository is the narrow persistence interface the rest of the system
// depends on. All mutating operations refresh updated_at and run in a
// single transaction.
type Repository interface {
	Create(ctx context.Context, sourceFile string, sourceSize int64) (*Task, error)
	// Claim atomically moves the task from {pending, processing} to
	// processing. Returns ErrFinished if the task is already terminal.
	Claim(ctx context.Context, id int64) (*Task, error)
	MarkCompleted(ctx context.Context, id int64, outputFile string, outputSize int64) error
	MarkFailed(ctx context.Context, id int64, errorMessage string) error
	Get(ctx context.Context, id int64) (*Task, error)
	List(ctx context.Context, statuses []TaskStatus, limit, offset int) ([]*Task, error)
}

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Open connects to the database with bounded retries so a worker starting
// alongside the database does not crash-loop.
func Open(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	backOff := backoff.NewExponentialBackOff()
	backOff.InitialInterval = 500 * time.Millisecond
	backOff.MaxInterval = 5 * time.Second
	err = backoff.Retry(db.Ping, backoff.WithMaxRetries(backOff, 10))
	if err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}
	return db, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id            BIGSERIAL PRIMARY KEY,
	source_file   VARCHAR(1024) NOT NULL,
	source_size   BIGINT NOT NULL DEFAULT 0,
	output_file   VARCHAR(1024),
	output_size   BIGINT,
	status        VARCHAR(16) NOT NULL DEFAULT 'pending',
	error_message TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS tasks_created_at_idx ON tasks (created_at DESC);
CREATE INDEX IF NOT EXISTS tasks_status_idx ON tasks (status);
`

func EnsureSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schema)
	return err
}

const taskColumns = "id, source_file, source_size, output_file, output_size, status, error_message, created_at, updated_at"

func scanTask(row interface{ Scan(...any) error }) (*Task, error) {
	var t Task
	err := row.Scan(&t.ID, &t.SourceFile, &t.SourceSize, &t.OutputFile, &t.OutputSize, &t.Status, &t.ErrorMessage, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *PostgresRepository) Create(ctx context.Context, sourceFile string, sourceSize int64) (*Task, error) {
	row := r.db.QueryRowContext(ctx,
		`INSERT INTO tasks (source_file, source_size, status) VALUES ($1, $2, $3) RETURNING `+taskColumns,
		sourceFile, sourceSize, TaskStatusPending,
	)
	t, err := scanTask(row)
	if err != nil {
		return nil, fmt.Errorf("error inserting task: %w", err)
	}
	return t, nil
}

func (r *PostgresRepository) Claim(ctx context.Context, id int64) (*Task, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("error starting claim transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`UPDATE tasks SET status = $1, updated_at = now()
		 WHERE id = $2 AND status IN ($3, $4)
		 RETURNING `+taskColumns,
		TaskStatusProcessing, id, TaskStatusPending, TaskStatusProcessing,
	)
	t, err := scanTask(row)
	if err == nil {
		return t, tx.Commit()
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("error claiming task %d: %w", id, err)
	}

	// No row moved: the task is either terminal or missing.
	var status TaskStatus
	err = tx.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error reading task %d status: %w", id, err)
	}
	if status.IsTerminal() {
		return nil, ErrFinished
	}
	return nil, fmt.Errorf("task %d in unexpected status %q", id, status)
}

func (r *PostgresRepository) MarkCompleted(ctx context.Context, id int64, outputFile string, outputSize int64) error {
	return r.transition(ctx, id, TaskStatusCompleted,
		`UPDATE tasks SET status = $1, output_file = $2, output_size = $3, updated_at = now()
		 WHERE id = $4 AND status = $5`,
		TaskStatusCompleted, outputFile, outputSize, id, TaskStatusProcessing,
	)
}

func (r *PostgresRepository) MarkFailed(ctx context.Context, id int64, errorMessage string) error {
	return r.transition(ctx, id, TaskStatusFailed,
		`UPDATE tasks SET status = $1, error_message = $2, updated_at = now()
		 WHERE id = $3 AND status = $4`,
		TaskStatusFailed, errorMessage, id, TaskStatusProcessing,
	)
}

func (r *PostgresRepository) transition(ctx context.Context, id int64, to TaskStatus, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("error moving task %d to %s: %w", id, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error moving task %d to %s: %w", id, to, err)
	}
	if n == 0 {
		return fmt.Errorf("task %d not in processing, refusing transition to %s", id, to)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id int64) (*Task, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error reading task %d: %w", id, err)
	}
	return t, nil
}

func (r *PostgresRepository) List(ctx context.Context, statuses []TaskStatus, limit, offset int) ([]*Task, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + taskColumns + ` FROM tasks`
	args := []any{}
	if len(statuses) > 0 {
		strs := make([]string, len(statuses))
		for i, s := range statuses {
			strs[i] = string(s)
		}
		query += ` WHERE status = ANY($1)`
		args = append(args, pq.Array(strs))
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error listing tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning task row: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
