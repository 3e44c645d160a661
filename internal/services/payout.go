package services

import "github.com/tasklink/backend/internal/models"

// DefaultCommissionBps is the platform commission in basis points (5%),
// applied only on successful delivery, never on refunds.
const DefaultCommissionBps = 500

// Tier multipliers in percent, applied once at task creation.
const (
	tierStandardPct  = 100
	tierUrgentPct    = 150
	tierOvernightPct = 200
)

// PayoutCalculator computes the platform fee and net payout for a gross
// budget. All amounts are minor currency units; rounding is half-up on
// integers so repeated calls cannot accumulate float drift.
type PayoutCalculator struct {
	CommissionBps int64
}

// NewPayoutCalculator returns a calculator at the default commission rate.
func NewPayoutCalculator() PayoutCalculator {
	return PayoutCalculator{CommissionBps: DefaultCommissionBps}
}

// Compute returns the fee and net payout for budget.
// fee = round-half-up(budget * bps / 10000), net = budget - fee.
func (c PayoutCalculator) Compute(budget int64) (fee, net int64) {
	fee = roundHalfUp(budget*c.CommissionBps, 10000)
	return fee, budget - fee
}

// TierBudget applies the service-tier multiplier to a base budget,
// round-half-up. Unknown tiers fall back to standard.
func TierBudget(base int64, tier string) int64 {
	pct := int64(tierStandardPct)
	switch tier {
	case models.TierUrgent:
		pct = tierUrgentPct
	case models.TierOvernight:
		pct = tierOvernightPct
	}
	return roundHalfUp(base*pct, 100)
}

// roundHalfUp divides num by den rounding half away from zero.
// num is assumed non-negative (budgets are validated > 0 upstream).
func roundHalfUp(num, den int64) int64 {
	return (num + den/2) / den
}
