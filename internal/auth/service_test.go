package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"

	"github.com/tasklink/backend/internal/models"
	"github.com/tasklink/backend/internal/services"
)

type fakeAccountStore struct {
	byEmail map[string]*models.Account
}

func newFakeAccountStore() *fakeAccountStore {
	return &fakeAccountStore{byEmail: make(map[string]*models.Account)}
}

func (f *fakeAccountStore) Create(_ context.Context, a *models.Account) error {
	if _, exists := f.byEmail[a.Email]; exists {
		return services.ErrConcurrencyConflict
	}
	cp := *a
	f.byEmail[a.Email] = &cp
	return nil
}

func (f *fakeAccountStore) GetByEmail(_ context.Context, email string) (*models.Account, error) {
	acc, ok := f.byEmail[email]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return acc, nil
}

func TestRegisterLoginRoundtrip(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newFakeAccountStore())

	acc, err := svc.Register(ctx, "priya@campus.edu", "hunter22", "Priya", "IIT Delhi")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if acc.Role != models.RoleStudent {
		t.Errorf("role = %s, want STUDENT", acc.Role)
	}
	if acc.AvailableBalance != 0 || acc.EscrowBalance != 0 {
		t.Errorf("new account has non-zero balances: %d/%d", acc.AvailableBalance, acc.EscrowBalance)
	}
	if acc.PasswordHash == "hunter22" {
		t.Error("password stored in plaintext")
	}

	token, logged, err := svc.Login(ctx, "priya@campus.edu", "hunter22")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if logged.ID != acc.ID {
		t.Errorf("login returned account %s, want %s", logged.ID, acc.ID)
	}

	userID, role, err := svc.ValidateToken(ctx, token)
	if err != nil {
		t.Fatalf("validate token: %v", err)
	}
	if userID != acc.ID || role != models.RoleStudent {
		t.Errorf("token claims = %s/%s, want %s/STUDENT", userID, role, acc.ID)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newFakeAccountStore())

	if _, err := svc.Register(ctx, "priya@campus.edu", "hunter22", "Priya", ""); err != nil {
		t.Fatalf("first register: %v", err)
	}
	_, err := svc.Register(ctx, "priya@campus.edu", "other", "Imposter", "")
	if !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("want ErrDuplicateEmail, got %v", err)
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newFakeAccountStore())

	if _, _, err := svc.Login(ctx, "nobody@campus.edu", "x"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown email: want ErrInvalidCredentials, got %v", err)
	}

	if _, err := svc.Register(ctx, "priya@campus.edu", "hunter22", "Priya", ""); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, _, err := svc.Login(ctx, "priya@campus.edu", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password: want ErrInvalidCredentials, got %v", err)
	}
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	svc := NewService(newFakeAccountStore())
	if _, _, err := svc.ValidateToken(context.Background(), "not-a-jwt"); err == nil {
		t.Error("garbage token accepted")
	}
}
