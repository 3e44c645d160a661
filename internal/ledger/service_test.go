package ledger

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tasklink/backend/internal/models"
	"github.com/tasklink/backend/internal/services"
)

// noopTx satisfies pgx.Tx for services that only thread the handle through.
type noopTx struct{ pgx.Tx }

func (noopTx) Commit(context.Context) error   { return nil }
func (noopTx) Rollback(context.Context) error { return nil }

type mockPool struct{}

func (mockPool) Begin(context.Context) (pgx.Tx, error) { return noopTx{}, nil }

type fakeWallet struct {
	accounts map[uuid.UUID]*models.Account
	entries  []*models.Transaction
	byKey    map[string]*models.Transaction
}

func newFakeWallet() *fakeWallet {
	return &fakeWallet{
		accounts: make(map[uuid.UUID]*models.Account),
		byKey:    make(map[string]*models.Transaction),
	}
}

func (f *fakeWallet) GetByID(_ context.Context, id uuid.UUID) (*models.Account, error) {
	acc, ok := f.accounts[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return acc, nil
}

func (f *fakeWallet) GetByIDForUpdate(_ context.Context, _ pgx.Tx, id uuid.UUID) (*models.Account, error) {
	acc, ok := f.accounts[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return acc, nil
}

func (f *fakeWallet) ApplyDeltaTx(_ context.Context, _ pgx.Tx, d services.AccountDelta) error {
	acc, ok := f.accounts[d.UserID]
	if !ok {
		return pgx.ErrNoRows
	}
	if acc.AvailableBalance+d.Available < 0 || acc.EscrowBalance+d.Escrow < 0 {
		return services.ErrConcurrencyConflict
	}
	acc.AvailableBalance += d.Available
	acc.EscrowBalance += d.Escrow
	return nil
}

func (f *fakeWallet) CreateTx(_ context.Context, _ pgx.Tx, t *models.Transaction) error {
	if _, dup := f.byKey[t.IdempotencyKey]; dup {
		return services.ErrConcurrencyConflict
	}
	f.entries = append(f.entries, t)
	f.byKey[t.IdempotencyKey] = t
	return nil
}

func (f *fakeWallet) GetByIdempotencyKeyTx(_ context.Context, _ pgx.Tx, key string) (*models.Transaction, error) {
	t, ok := f.byKey[key]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return t, nil
}

func (f *fakeWallet) ListByUserID(_ context.Context, userID uuid.UUID) ([]*models.Transaction, error) {
	var out []*models.Transaction
	for _, t := range f.entries {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

func newTestService(t *testing.T) (*Service, *fakeWallet) {
	t.Helper()
	store := newFakeWallet()
	svc := NewService(mockPool{}, store, store, slog.Default())
	return svc, store
}

func seedAccount(store *fakeWallet, available int64) uuid.UUID {
	id := uuid.New()
	store.accounts[id] = &models.Account{ID: id, AvailableBalance: available}
	return id
}

func TestDepositCreditsOnce(t *testing.T) {
	svc, store := newTestService(t)
	user := seedAccount(store, 0)

	first, err := svc.Deposit(context.Background(), user, 10000, "upi-tx-991", "UPI")
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if first.Type != models.TxTypeDeposit || first.Amount != 10000 {
		t.Errorf("unexpected entry: %+v", first)
	}
	if got := store.accounts[user].AvailableBalance; got != 10000 {
		t.Errorf("available after deposit = %d, want 10000", got)
	}

	// Gateway replays the same callback. Same entry back, no second credit.
	replay, err := svc.Deposit(context.Background(), user, 10000, "upi-tx-991", "UPI")
	if err != nil {
		t.Fatalf("replayed deposit: %v", err)
	}
	if replay.ID != first.ID {
		t.Errorf("replay returned a new entry %s, want original %s", replay.ID, first.ID)
	}
	if got := store.accounts[user].AvailableBalance; got != 10000 {
		t.Errorf("available after replay = %d, want 10000", got)
	}
	if len(store.entries) != 1 {
		t.Errorf("ledger entries = %d, want 1", len(store.entries))
	}
}

func TestDepositRejectsNonPositive(t *testing.T) {
	svc, store := newTestService(t)
	user := seedAccount(store, 0)

	if _, err := svc.Deposit(context.Background(), user, 0, "upi-tx-0", "UPI"); !errors.Is(err, services.ErrInvalidState) {
		t.Errorf("zero deposit: want ErrInvalidState, got %v", err)
	}
	if _, err := svc.Deposit(context.Background(), user, -50, "upi-tx-neg", "UPI"); !errors.Is(err, services.ErrInvalidState) {
		t.Errorf("negative deposit: want ErrInvalidState, got %v", err)
	}
}

func TestWithdrawInsufficientFunds(t *testing.T) {
	svc, store := newTestService(t)
	user := seedAccount(store, 4999)

	if _, err := svc.Withdraw(context.Background(), user, 5000, "BANK", false); !errors.Is(err, services.ErrInsufficientFunds) {
		t.Fatalf("want ErrInsufficientFunds, got %v", err)
	}
	if got := store.accounts[user].AvailableBalance; got != 4999 {
		t.Errorf("balance changed on failed withdrawal: %d", got)
	}
	if len(store.entries) != 0 {
		t.Errorf("ledger entries = %d, want 0", len(store.entries))
	}
}

func TestWithdrawStandardHasNoFee(t *testing.T) {
	svc, store := newTestService(t)
	user := seedAccount(store, 10000)

	entry, err := svc.Withdraw(context.Background(), user, 6000, "BANK", false)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if entry.Fee != nil {
		t.Errorf("standard withdrawal carried fee %d", *entry.Fee)
	}
	if got := store.accounts[user].AvailableBalance; got != 4000 {
		t.Errorf("available = %d, want 4000", got)
	}
}

func TestWithdrawInstantFee(t *testing.T) {
	svc, store := newTestService(t)
	user := seedAccount(store, 10000)

	entry, err := svc.Withdraw(context.Background(), user, 10000, "UPI", true)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if entry.Fee == nil || *entry.Fee != 200 {
		t.Fatalf("instant fee = %v, want 200", entry.Fee)
	}
	if got := store.accounts[user].AvailableBalance; got != 0 {
		t.Errorf("available = %d, want 0", got)
	}
}

func TestInstantFeeRoundsHalfUp(t *testing.T) {
	cases := []struct{ amount, want int64 }{
		{10000, 200},
		{25, 1},  // 0.5 rounds up
		{24, 0},  // 0.48 rounds down
		{101, 2}, // 2.02 rounds down to 2
		{99, 2},  // 1.98 rounds up
	}
	for _, c := range cases {
		if got := instantFee(c.amount); got != c.want {
			t.Errorf("instantFee(%d) = %d, want %d", c.amount, got, c.want)
		}
	}
}
