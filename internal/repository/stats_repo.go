package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// StatsRepo serves the admin reporting aggregates.
type StatsRepo struct {
	pool *pgxpool.Pool
}

func NewStatsRepo(pool *pgxpool.Pool) *StatsRepo {
	return &StatsRepo{pool: pool}
}

func (r *StatsRepo) TaskCountsByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// PlatformTotals returns money currently held in escrow and commission
// collected across all payouts.
func (r *StatsRepo) PlatformTotals(ctx context.Context) (int64, int64, error) {
	var escrow, fees int64
	err := r.pool.QueryRow(ctx, `
		SELECT
			(SELECT COALESCE(SUM(escrow_balance), 0) FROM accounts),
			(SELECT COALESCE(SUM(fee), 0) FROM transactions WHERE fee IS NOT NULL)
	`).Scan(&escrow, &fees)
	return escrow, fees, err
}
