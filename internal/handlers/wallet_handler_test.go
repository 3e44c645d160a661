package handlers

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/tasklink/backend/internal/models"
	"github.com/tasklink/backend/internal/services"
)

type fakeWallet struct {
	account   *models.Account
	deposits  map[string]*models.Transaction
	withdrawn *models.Transaction
	wdErr     error
}

func (f *fakeWallet) Deposit(_ context.Context, userID uuid.UUID, amount int64, externalRef, method string) (*models.Transaction, error) {
	if existing, ok := f.deposits[externalRef]; ok {
		return existing, nil
	}
	txn := &models.Transaction{ID: uuid.New(), UserID: userID, Type: models.TxTypeDeposit, Amount: amount, IdempotencyKey: "DEPOSIT:" + externalRef}
	f.deposits[externalRef] = txn
	return txn, nil
}

func (f *fakeWallet) Withdraw(_ context.Context, userID uuid.UUID, amount int64, _ string, _ bool) (*models.Transaction, error) {
	if f.wdErr != nil {
		return nil, f.wdErr
	}
	f.withdrawn = &models.Transaction{ID: uuid.New(), UserID: userID, Type: models.TxTypeWithdrawal, Amount: amount}
	return f.withdrawn, nil
}

func (f *fakeWallet) GetAccount(_ context.Context, _ uuid.UUID) (*models.Account, error) {
	return f.account, nil
}

func (f *fakeWallet) ListTransactions(_ context.Context, _ uuid.UUID) ([]*models.Transaction, error) {
	return nil, nil
}

func newWalletHandler(t *testing.T) (*WalletHandler, *fakeWallet) {
	t.Helper()
	v, err := services.NewValidator()
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	fw := &fakeWallet{deposits: make(map[string]*models.Transaction)}
	h := &WalletHandler{Wallet: fw, Validator: v, GatewaySecret: "gw-secret", Logger: slog.Default()}
	return h, fw
}

func callbackBody(userID uuid.UUID, ref string) string {
	return `{"user_id":"` + userID.String() + `","amount":10000,"external_reference":"` + ref + `","method":"UPI"}`
}

func TestDepositCallback(t *testing.T) {
	h, _ := newWalletHandler(t)
	user := uuid.New()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/callback", bytes.NewBufferString(callbackBody(user, "upi-1")))
	req.Header.Set("X-Gateway-Signature", "gw-secret")
	rec := httptest.NewRecorder()

	h.DepositCallback(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
}

func TestDepositCallbackBadSignature(t *testing.T) {
	h, fw := newWalletHandler(t)
	user := uuid.New()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/callback", bytes.NewBufferString(callbackBody(user, "upi-1")))
	req.Header.Set("X-Gateway-Signature", "wrong")
	rec := httptest.NewRecorder()

	h.DepositCallback(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	if len(fw.deposits) != 0 {
		t.Error("deposit applied despite bad signature")
	}
}

func TestDepositCallbackSchemaViolation(t *testing.T) {
	h, fw := newWalletHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/callback", bytes.NewBufferString(`{"amount":10000}`))
	req.Header.Set("X-Gateway-Signature", "gw-secret")
	rec := httptest.NewRecorder()

	h.DepositCallback(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", rec.Code)
	}
	if len(fw.deposits) != 0 {
		t.Error("deposit applied despite invalid payload")
	}
}

func TestDepositCallbackReplay(t *testing.T) {
	h, fw := newWalletHandler(t)
	user := uuid.New()

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/callback", bytes.NewBufferString(callbackBody(user, "upi-dup")))
		req.Header.Set("X-Gateway-Signature", "gw-secret")
		rec := httptest.NewRecorder()
		h.DepositCallback(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("attempt %d: status = %d", i, rec.Code)
		}
	}
	if len(fw.deposits) != 1 {
		t.Errorf("deposits = %d, want 1", len(fw.deposits))
	}
}

func TestWithdrawEndpoint(t *testing.T) {
	h, fw := newWalletHandler(t)
	acc := student()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/wallet/withdraw", bytes.NewBufferString(`{"amount":6000,"method":"BANK"}`))
	req = injectAccount(req, acc)
	rec := httptest.NewRecorder()

	h.Withdraw(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	if fw.withdrawn == nil || fw.withdrawn.Amount != 6000 {
		t.Errorf("withdrawal not forwarded: %+v", fw.withdrawn)
	}
}

func TestWithdrawInsufficient(t *testing.T) {
	h, fw := newWalletHandler(t)
	fw.wdErr = services.ErrInsufficientFunds

	req := httptest.NewRequest(http.MethodPost, "/api/v1/wallet/withdraw", bytes.NewBufferString(`{"amount":6000}`))
	req = injectAccount(req, student())
	rec := httptest.NewRecorder()

	h.Withdraw(rec, req)

	if rec.Code != http.StatusPaymentRequired {
		t.Errorf("status = %d, want 402", rec.Code)
	}
}

func TestGetWallet(t *testing.T) {
	h, fw := newWalletHandler(t)
	acc := student()
	fw.account = &models.Account{ID: acc.ID, AvailableBalance: 7500, EscrowBalance: 2500}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/wallet", nil)
	req = injectAccount(req, acc)
	rec := httptest.NewRecorder()

	h.GetWallet(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{`"available_balance":7500`, `"escrow_balance":2500`} {
		if !bytes.Contains([]byte(body), []byte(want)) {
			t.Errorf("response missing %s: %s", want, body)
		}
	}
}
