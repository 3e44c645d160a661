package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tasklink/backend/internal/models"
)

// TransactionRepo is the append-only ledger. idempotency_key carries a
// unique index; a duplicate insert aborts the enclosing transaction before
// any balance change can commit.
type TransactionRepo struct {
	pool *pgxpool.Pool
}

func NewTransactionRepo(pool *pgxpool.Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

const txColumns = `id, user_id, target_user_id, task_id, type, amount, fee, description, status, idempotency_key, created_at`

func (r *TransactionRepo) CreateTx(ctx context.Context, tx pgx.Tx, t *models.Transaction) error {
	return tx.QueryRow(ctx, `
		INSERT INTO transactions (id, user_id, target_user_id, task_id, type, amount, fee, description, status, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at
	`, t.ID, t.UserID, t.TargetUserID, t.TaskID, t.Type, t.Amount, t.Fee, t.Description, t.Status, t.IdempotencyKey).Scan(&t.CreatedAt)
}

// GetByIdempotencyKeyTx returns the committed entry for key inside the
// caller's transaction, or pgx.ErrNoRows. The deposit path uses it to dedupe
// gateway callbacks.
func (r *TransactionRepo) GetByIdempotencyKeyTx(ctx context.Context, tx pgx.Tx, key string) (*models.Transaction, error) {
	return scanTransaction(tx.QueryRow(ctx, `SELECT `+txColumns+` FROM transactions WHERE idempotency_key = $1`, key))
}

// ListByUserID returns the user's entries in chronological order.
func (r *TransactionRepo) ListByUserID(ctx context.Context, userID uuid.UUID) ([]*models.Transaction, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+txColumns+` FROM transactions WHERE user_id = $1 ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}

// ListByTaskID returns every ledger entry attributed to a task.
func (r *TransactionRepo) ListByTaskID(ctx context.Context, taskID uuid.UUID) ([]*models.Transaction, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+txColumns+` FROM transactions WHERE task_id = $1 ORDER BY created_at ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}

func scanTransaction(row pgx.Row) (*models.Transaction, error) {
	var t models.Transaction
	err := row.Scan(&t.ID, &t.UserID, &t.TargetUserID, &t.TaskID, &t.Type, &t.Amount, &t.Fee, &t.Description, &t.Status, &t.IdempotencyKey, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
