package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tasklink/backend/internal/models"
)

type TaskRepo struct {
	pool *pgxpool.Pool
}

func NewTaskRepo(pool *pgxpool.Pool) *TaskRepo {
	return &TaskRepo{pool: pool}
}

const taskColumns = `id, poster_id, executor_id, title, description, category, budget, service_tier, status, auto_approve_at, created_at, updated_at`

func (r *TaskRepo) CreateTx(ctx context.Context, tx pgx.Tx, t *models.Task) error {
	return tx.QueryRow(ctx, `
		INSERT INTO tasks (id, poster_id, executor_id, title, description, category, budget, service_tier, status, auto_approve_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`, t.ID, t.PosterID, t.ExecutorID, t.Title, t.Description, t.Category, t.Budget, t.ServiceTier, t.Status, t.AutoApproveAt).Scan(&t.CreatedAt, &t.UpdatedAt)
}

func (r *TaskRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	return scanTask(r.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
}

// GetByIDForUpdate locks the task row; this is the serialization boundary
// for all mutating lifecycle actions against the task.
func (r *TaskRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Task, error) {
	return scanTask(tx.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1 FOR UPDATE`, id))
}

// UpdateTx writes status, executor, and auto-approve. Budget is immutable
// after creation and deliberately absent from the statement.
func (r *TaskRepo) UpdateTx(ctx context.Context, tx pgx.Tx, t *models.Task) error {
	_, err := tx.Exec(ctx, `
		UPDATE tasks SET executor_id = $2, status = $3, auto_approve_at = $4, updated_at = now()
		WHERE id = $1
	`, t.ID, t.ExecutorID, t.Status, t.AutoApproveAt)
	return err
}

func (r *TaskRepo) List(ctx context.Context) ([]*models.Task, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

func (r *TaskRepo) ListByPosterID(ctx context.Context, posterID uuid.UUID) ([]*models.Task, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+taskColumns+` FROM tasks WHERE poster_id = $1 ORDER BY created_at DESC`, posterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

func (r *TaskRepo) ListByExecutorID(ctx context.Context, executorID uuid.UUID) ([]*models.Task, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+taskColumns+` FROM tasks WHERE executor_id = $1 ORDER BY created_at DESC`, executorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

func (r *TaskRepo) ListByStatus(ctx context.Context, status string) ([]*models.Task, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+taskColumns+` FROM tasks WHERE status = $1 ORDER BY created_at DESC`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

func scanTask(row pgx.Row) (*models.Task, error) {
	var t models.Task
	err := row.Scan(&t.ID, &t.PosterID, &t.ExecutorID, &t.Title, &t.Description, &t.Category, &t.Budget, &t.ServiceTier, &t.Status, &t.AutoApproveAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func collectTasks(rows pgx.Rows) ([]*models.Task, error) {
	var list []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}
