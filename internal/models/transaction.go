package models

import (
	"time"

	"github.com/google/uuid"
)

// Transaction type enum. The ledger is append-only and balances are
// reconstructible from it.
const (
	TxTypeDeposit           = "DEPOSIT"
	TxTypeWithdrawal        = "WITHDRAWAL"
	TxTypeEscrowLock        = "ESCROW_LOCK"
	TxTypePaymentRelease    = "PAYMENT_RELEASE"
	TxTypeRefund            = "REFUND"
	TxTypeDisputeResolution = "DISPUTE_RESOLUTION"
)

const (
	TxStatusSuccess = "SUCCESS"
	TxStatusPending = "PENDING"
	TxStatusFailed  = "FAILED"
)

// Transaction is a ledger entry. A given IdempotencyKey commits at most one
// effect, no matter how many times the operation is retried.
type Transaction struct {
	ID             uuid.UUID  `json:"id"`
	UserID         uuid.UUID  `json:"user_id"`
	TargetUserID   *uuid.UUID `json:"target_user_id,omitempty"`
	TaskID         *uuid.UUID `json:"task_id,omitempty"`
	Type           string     `json:"type"`
	Amount         int64      `json:"amount"`
	Fee            *int64     `json:"fee,omitempty"`
	Description    string     `json:"description"`
	Status         string     `json:"status"`
	IdempotencyKey string     `json:"idempotency_key"`
	CreatedAt      time.Time  `json:"created_at"`
}
