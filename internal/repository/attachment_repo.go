package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tasklink/backend/internal/models"
)

type AttachmentRepo struct {
	pool *pgxpool.Pool
}

func NewAttachmentRepo(pool *pgxpool.Pool) *AttachmentRepo {
	return &AttachmentRepo{pool: pool}
}

func (r *AttachmentRepo) Create(ctx context.Context, a *models.Attachment) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO attachments (id, task_id, name, url, kind, stage)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, a.ID, a.TaskID, a.Name, a.URL, a.Kind, a.Stage).Scan(&a.CreatedAt)
}

// HasFinalProofTx answers the submit-for-completion guard inside the
// lifecycle transaction.
func (r *AttachmentRepo) HasFinalProofTx(ctx context.Context, tx pgx.Tx, taskID uuid.UUID) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM attachments WHERE task_id = $1 AND stage = $2)
	`, taskID, models.ProofStageFinal).Scan(&exists)
	return exists, err
}

func (r *AttachmentRepo) ListByTaskID(ctx context.Context, taskID uuid.UUID) ([]*models.Attachment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, task_id, name, url, kind, stage, created_at
		FROM attachments WHERE task_id = $1 ORDER BY created_at ASC
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Attachment
	for rows.Next() {
		var a models.Attachment
		if err := rows.Scan(&a.ID, &a.TaskID, &a.Name, &a.URL, &a.Kind, &a.Stage, &a.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &a)
	}
	return list, rows.Err()
}
