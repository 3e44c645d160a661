// Package ledger is the wallet path: external deposits reported by the
// payment gateway, user withdrawals, and transaction history. Escrow
// movements are owned by the lifecycle controller, not this package.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tasklink/backend/internal/models"
	"github.com/tasklink/backend/internal/services"
)

// InstantWithdrawalFeeBps is the 2% fee on instant withdrawals.
const InstantWithdrawalFeeBps = 200

// AccountStore is the minimal account interface for wallet operations.
type AccountStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Account, error)
	ApplyDeltaTx(ctx context.Context, tx pgx.Tx, d services.AccountDelta) error
}

// TransactionStore is the append-only ledger interface for wallet operations.
type TransactionStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, t *models.Transaction) error
	GetByIdempotencyKeyTx(ctx context.Context, tx pgx.Tx, key string) (*models.Transaction, error)
	ListByUserID(ctx context.Context, userID uuid.UUID) ([]*models.Transaction, error)
}

type Service struct {
	Pool   services.TxBeginner
	Accts  AccountStore
	Ledger TransactionStore
	Logger *slog.Logger
}

func NewService(pool services.TxBeginner, accounts AccountStore, ledger TransactionStore, logger *slog.Logger) *Service {
	return &Service{Pool: pool, Accts: accounts, Ledger: ledger, Logger: logger}
}

// Deposit credits a gateway-confirmed deposit. externalRef is the gateway's
// reference and serves as the idempotency key: a replayed callback returns
// the original entry with no second credit.
func (s *Service) Deposit(ctx context.Context, userID uuid.UUID, amount int64, externalRef, method string) (*models.Transaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: deposit amount must be positive", services.ErrInvalidState)
	}
	key := "DEPOSIT:" + externalRef

	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", services.ErrStorage, err)
	}
	defer tx.Rollback(ctx)

	if _, err := s.Accts.GetByIDForUpdate(ctx, tx, userID); err != nil {
		return nil, fmt.Errorf("%w: %v", services.ErrStorage, err)
	}
	existing, err := s.Ledger.GetByIdempotencyKeyTx(ctx, tx, key)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %v", services.ErrStorage, err)
	}
	if existing != nil {
		s.Logger.Info("duplicate deposit callback ignored", "external_ref", externalRef, "user_id", userID)
		return existing, nil
	}

	if err := s.Accts.ApplyDeltaTx(ctx, tx, services.AccountDelta{UserID: userID, Available: amount}); err != nil {
		return nil, err
	}
	entry := &models.Transaction{
		ID:             uuid.New(),
		UserID:         userID,
		Type:           models.TxTypeDeposit,
		Amount:         amount,
		Description:    "Added via " + method,
		Status:         models.TxStatusSuccess,
		IdempotencyKey: key,
	}
	if err := s.Ledger.CreateTx(ctx, tx, entry); err != nil {
		return nil, fmt.Errorf("%w: %v", services.ErrStorage, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", services.ErrStorage, err)
	}
	return entry, nil
}

// Withdraw debits the user's available balance. Instant withdrawals carry a
// 2% fee (round-half-up); standard withdrawals are free.
func (s *Service) Withdraw(ctx context.Context, userID uuid.UUID, amount int64, method string, instant bool) (*models.Transaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: withdrawal amount must be positive", services.ErrInvalidState)
	}

	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", services.ErrStorage, err)
	}
	defer tx.Rollback(ctx)

	acc, err := s.Accts.GetByIDForUpdate(ctx, tx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", services.ErrStorage, err)
	}
	if acc.AvailableBalance < amount {
		return nil, services.ErrInsufficientFunds
	}

	desc := "Withdrawal to " + method
	var fee *int64
	if instant {
		f := instantFee(amount)
		fee = &f
		desc += " (Instant)"
	}
	if err := s.Accts.ApplyDeltaTx(ctx, tx, services.AccountDelta{UserID: userID, Available: -amount}); err != nil {
		return nil, err
	}
	entry := &models.Transaction{
		ID:             uuid.New(),
		UserID:         userID,
		Type:           models.TxTypeWithdrawal,
		Amount:         amount,
		Fee:            fee,
		Description:    desc,
		Status:         models.TxStatusSuccess,
		IdempotencyKey: "WITHDRAWAL:" + uuid.NewString(),
	}
	if err := s.Ledger.CreateTx(ctx, tx, entry); err != nil {
		return nil, fmt.Errorf("%w: %v", services.ErrStorage, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", services.ErrStorage, err)
	}
	return entry, nil
}

// GetAccount returns the account's current balances.
func (s *Service) GetAccount(ctx context.Context, userID uuid.UUID) (*models.Account, error) {
	return s.Accts.GetByID(ctx, userID)
}

// ListTransactions returns the user's ledger entries, chronological.
func (s *Service) ListTransactions(ctx context.Context, userID uuid.UUID) ([]*models.Transaction, error) {
	return s.Ledger.ListByUserID(ctx, userID)
}

func instantFee(amount int64) int64 {
	return (amount*InstantWithdrawalFeeBps + 5000) / 10000
}
