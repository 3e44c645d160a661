package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tasklink/backend/internal/models"
	"github.com/tasklink/backend/internal/services"
)

type AccountRepo struct {
	pool *pgxpool.Pool
}

func NewAccountRepo(pool *pgxpool.Pool) *AccountRepo {
	return &AccountRepo{pool: pool}
}

func (r *AccountRepo) Create(ctx context.Context, a *models.Account) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO accounts (id, email, name, college, password_hash, role, available_balance, escrow_balance, tasks_completed, rating)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`, a.ID, a.Email, a.Name, a.College, a.PasswordHash, a.Role, a.AvailableBalance, a.EscrowBalance, a.TasksCompleted, a.Rating).Scan(&a.CreatedAt, &a.UpdatedAt)
}

func (r *AccountRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	return scanAccount(r.pool.QueryRow(ctx, `
		SELECT id, email, name, college, password_hash, role, available_balance, escrow_balance, tasks_completed, rating, created_at, updated_at
		FROM accounts WHERE id = $1
	`, id))
}

func (r *AccountRepo) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	return scanAccount(r.pool.QueryRow(ctx, `
		SELECT id, email, name, college, password_hash, role, available_balance, escrow_balance, tasks_completed, rating, created_at, updated_at
		FROM accounts WHERE email = $1
	`, email))
}

// GetByIDForUpdate locks the account row for update. Call within a transaction.
func (r *AccountRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Account, error) {
	return scanAccount(tx.QueryRow(ctx, `
		SELECT id, email, name, college, password_hash, role, available_balance, escrow_balance, tasks_completed, rating, created_at, updated_at
		FROM accounts WHERE id = $1 FOR UPDATE
	`, id))
}

// ApplyDeltaTx adds the delta to the locked account's balances. The WHERE
// guard refuses any mutation that would drive a balance negative; zero rows
// affected surfaces as a concurrency conflict because the engine validated
// the same balances under the row lock.
func (r *AccountRepo) ApplyDeltaTx(ctx context.Context, tx pgx.Tx, d services.AccountDelta) error {
	tag, err := tx.Exec(ctx, `
		UPDATE accounts
		SET available_balance = available_balance + $2,
		    escrow_balance = escrow_balance + $3,
		    tasks_completed = tasks_completed + $4,
		    updated_at = now()
		WHERE id = $1
		  AND available_balance + $2 >= 0
		  AND escrow_balance + $3 >= 0
	`, d.UserID, d.Available, d.Escrow, d.TasksCompleted)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return services.ErrConcurrencyConflict
	}
	return nil
}

func scanAccount(row pgx.Row) (*models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ID, &a.Email, &a.Name, &a.College, &a.PasswordHash, &a.Role, &a.AvailableBalance, &a.EscrowBalance, &a.TasksCompleted, &a.Rating, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
