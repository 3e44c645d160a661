package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tasklink/backend/internal/models"
)

type OfferRepo struct {
	pool *pgxpool.Pool
}

func NewOfferRepo(pool *pgxpool.Pool) *OfferRepo {
	return &OfferRepo{pool: pool}
}

const offerColumns = `id, task_id, user_id, price, message, status, match_score, created_at`

func (r *OfferRepo) CreateTx(ctx context.Context, tx pgx.Tx, o *models.Offer) error {
	return tx.QueryRow(ctx, `
		INSERT INTO offers (id, task_id, user_id, price, message, status, match_score)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, o.ID, o.TaskID, o.UserID, o.Price, o.Message, o.Status, o.MatchScore).Scan(&o.CreatedAt)
}

func (r *OfferRepo) GetByIDTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Offer, error) {
	return scanOffer(tx.QueryRow(ctx, `SELECT `+offerColumns+` FROM offers WHERE id = $1`, id))
}

func (r *OfferRepo) UpdateStatusTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string) error {
	_, err := tx.Exec(ctx, `UPDATE offers SET status = $2 WHERE id = $1`, id, status)
	return err
}

// AcceptExclusiveTx marks one offer ACCEPTED and every PENDING sibling on
// the same task REJECTED, atomically with the task's own transition.
func (r *OfferRepo) AcceptExclusiveTx(ctx context.Context, tx pgx.Tx, taskID, offerID uuid.UUID) error {
	if _, err := tx.Exec(ctx, `
		UPDATE offers SET status = $1 WHERE id = $2 AND task_id = $3
	`, models.OfferStatusAccepted, offerID, taskID); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, `
		UPDATE offers SET status = $1 WHERE task_id = $2 AND id <> $3 AND status = $4
	`, models.OfferStatusRejected, taskID, offerID, models.OfferStatusPending)
	return err
}

// ListByTaskID returns offers in submission order.
func (r *OfferRepo) ListByTaskID(ctx context.Context, taskID uuid.UUID) ([]*models.Offer, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+offerColumns+` FROM offers WHERE task_id = $1 ORDER BY created_at ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, o)
	}
	return list, rows.Err()
}

func scanOffer(row pgx.Row) (*models.Offer, error) {
	var o models.Offer
	err := row.Scan(&o.ID, &o.TaskID, &o.UserID, &o.Price, &o.Message, &o.Status, &o.MatchScore, &o.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}
