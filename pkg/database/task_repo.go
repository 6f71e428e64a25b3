package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sniper-hq/sniper/pkg/models"
	"github.com/sniper-hq/sniper/pkg/services"
)

// TaskRepo is the PostgreSQL implementation of services.TaskRepository.
// Result and logs are stored as JSONB; updates are conditional on the status
// the caller last observed.
type TaskRepo struct {
	pool *pgxpool.Pool
}

// NewTaskRepo creates a task repository over the given pool.
func NewTaskRepo(pool *pgxpool.Pool) *TaskRepo {
	return &TaskRepo{pool: pool}
}

const taskColumns = `task_id, source, source_id, task_type, status, progress,
	result, error, logs, timeout_seconds, created_at, started_at, completed_at`

// Insert persists a new task row.
func (r *TaskRepo) Insert(ctx context.Context, task *models.Task) error {
	resultJSON, logsJSON, err := marshalTaskJSON(task)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		task.ID, task.Source, task.SourceID, task.TaskType, string(task.Status),
		task.Progress, resultJSON, task.Error, logsJSON, task.TimeoutSeconds,
		task.CreatedAt, task.StartedAt, task.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert task %s: %w", task.ID, err)
	}
	return nil
}

// Get loads a task by id, or services.ErrNotFound.
func (r *TaskRepo) Get(ctx context.Context, id string) (*models.Task, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE task_id = $1`, id)
	task, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, services.ErrNotFound
	}
	return task, err
}

// Update rewrites the mutable columns iff the row's status still equals
// expectStatus. A status mismatch surfaces as ErrConcurrentModification so
// the orchestrator and the timeout sweeper cannot both win the same
// transition.
func (r *TaskRepo) Update(ctx context.Context, task *models.Task, expectStatus models.TaskStatus) error {
	resultJSON, logsJSON, err := marshalTaskJSON(task)
	if err != nil {
		return err
	}
	ct, err := r.pool.Exec(ctx, `
		UPDATE tasks
		SET status = $1, progress = $2, result = $3, error = $4, logs = $5,
		    started_at = $6, completed_at = $7
		WHERE task_id = $8 AND status = $9`,
		string(task.Status), task.Progress, resultJSON, task.Error, logsJSON,
		task.StartedAt, task.CompletedAt, task.ID, string(expectStatus),
	)
	if err != nil {
		return fmt.Errorf("update task %s: %w", task.ID, err)
	}
	if ct.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tasks WHERE task_id = $1)`, task.ID).Scan(&exists); err != nil {
			return fmt.Errorf("update task %s: %w", task.ID, err)
		}
		if !exists {
			return services.ErrNotFound
		}
		return services.ErrConcurrentModification
	}
	return nil
}

// List returns tasks matching the filter, newest first.
func (r *TaskRepo) List(ctx context.Context, filter models.TaskFilter) ([]*models.Task, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.SourceID != "" {
		where = append(where, "source_id = "+arg(filter.SourceID))
	}
	if filter.Status != "" {
		where = append(where, "status = "+arg(filter.Status))
	}
	if filter.TaskType != "" {
		where = append(where, "task_type = "+arg(filter.TaskType))
	}

	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []*models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	var (
		task       models.Task
		status     string
		resultJSON []byte
		logsJSON   []byte
	)
	err := row.Scan(
		&task.ID, &task.Source, &task.SourceID, &task.TaskType, &status,
		&task.Progress, &resultJSON, &task.Error, &logsJSON,
		&task.TimeoutSeconds, &task.CreatedAt, &task.StartedAt, &task.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	task.Status = models.TaskStatus(status)

	if len(resultJSON) > 0 {
		if err := json.Unmarshal(resultJSON, &task.Result); err != nil {
			return nil, fmt.Errorf("decode task %s result: %w", task.ID, err)
		}
	}
	task.Logs = []models.StepLog{}
	if len(logsJSON) > 0 {
		if err := json.Unmarshal(logsJSON, &task.Logs); err != nil {
			return nil, fmt.Errorf("decode task %s logs: %w", task.ID, err)
		}
	}
	return &task, nil
}

func marshalTaskJSON(task *models.Task) (resultJSON, logsJSON []byte, err error) {
	if task.Result != nil {
		resultJSON, err = json.Marshal(task.Result)
		if err != nil {
			return nil, nil, fmt.Errorf("encode task %s result: %w", task.ID, err)
		}
	}
	logs := task.Logs
	if logs == nil {
		logs = []models.StepLog{}
	}
	logsJSON, err = json.Marshal(logs)
	if err != nil {
		return nil, nil, fmt.Errorf("encode task %s logs: %w", task.ID, err)
	}
	return resultJSON, logsJSON, nil
}
