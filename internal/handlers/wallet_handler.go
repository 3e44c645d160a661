package handlers

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/tasklink/backend/internal/middleware"
	"github.com/tasklink/backend/internal/models"
	"github.com/tasklink/backend/internal/services"
)

// Wallet is the slice of the ledger service the handler needs.
type Wallet interface {
	Deposit(ctx context.Context, userID uuid.UUID, amount int64, externalRef, method string) (*models.Transaction, error)
	Withdraw(ctx context.Context, userID uuid.UUID, amount int64, method string, instant bool) (*models.Transaction, error)
	GetAccount(ctx context.Context, userID uuid.UUID) (*models.Account, error)
	ListTransactions(ctx context.Context, userID uuid.UUID) ([]*models.Transaction, error)
}

// WalletHandler serves /api/v1/wallet and the payment gateway callback.
type WalletHandler struct {
	Wallet    Wallet
	Validator *services.Validator
	// GatewaySecret authenticates the payment provider callback. Set from
	// PAYMENT_WEBHOOK_SECRET.
	GatewaySecret string
	Logger        *slog.Logger
}

// GetWallet handles GET /api/v1/wallet.
func (h *WalletHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	fresh, err := h.Wallet.GetAccount(r.Context(), acc.ID)
	if err != nil {
		h.Logger.Error("get wallet", "user_id", acc.ID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":           fresh.ID,
		"available_balance": fresh.AvailableBalance,
		"escrow_balance":    fresh.EscrowBalance,
	})
}

// ListTransactions handles GET /api/v1/wallet/transactions.
func (h *WalletHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	list, err := h.Wallet.ListTransactions(r.Context(), acc.ID)
	if err != nil {
		h.Logger.Error("list transactions", "user_id", acc.ID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []*models.Transaction{}
	}
	writeJSON(w, http.StatusOK, list)
}

type withdrawRequest struct {
	Amount  int64  `json:"amount"`
	Method  string `json:"method"`
	Instant bool   `json:"instant"`
}

// Withdraw handles POST /api/v1/wallet/withdraw.
func (h *WalletHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.Amount <= 0 {
		http.Error(w, `{"error":"amount must be > 0"}`, http.StatusBadRequest)
		return
	}
	txn, err := h.Wallet.Withdraw(r.Context(), acc.ID, req.Amount, req.Method, req.Instant)
	if err != nil {
		if errors.Is(err, services.ErrInsufficientFunds) {
			writeJSON(w, http.StatusPaymentRequired, map[string]string{"error": err.Error()})
			return
		}
		h.Logger.Error("withdraw", "user_id", acc.ID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, txn)
}

type depositCallbackRequest struct {
	UserID            string `json:"user_id"`
	Amount            int64  `json:"amount"`
	ExternalReference string `json:"external_reference"`
	Method            string `json:"method"`
}

// DepositCallback handles POST /api/v1/payments/callback from the payment
// gateway. The gateway retries until it gets a 2xx, so replays of the same
// external reference return the original transaction.
func (h *WalletHandler) DepositCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	sig := r.Header.Get("X-Gateway-Signature")
	if h.GatewaySecret == "" || subtle.ConstantTimeCompare([]byte(sig), []byte(h.GatewaySecret)) != 1 {
		http.Error(w, `{"error":"invalid signature"}`, http.StatusUnauthorized)
		return
	}

	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if err := h.Validator.ValidateDepositCallback(generic); err != nil {
		if errors.Is(err, services.ErrValidation) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
			return
		}
		h.Logger.Error("validate deposit callback", "error", err)
		http.Error(w, `{"error":"validation failed"}`, http.StatusBadRequest)
		return
	}

	var req depositCallbackRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		http.Error(w, `{"error":"invalid user_id"}`, http.StatusBadRequest)
		return
	}

	txn, err := h.Wallet.Deposit(r.Context(), userID, req.Amount, req.ExternalReference, req.Method)
	if err != nil {
		h.Logger.Error("deposit callback", "user_id", userID, "ref", req.ExternalReference, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, txn)
}
