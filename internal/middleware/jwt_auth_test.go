package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/tasklink/backend/internal/models"
)

type fakeValidator struct {
	userID uuid.UUID
	role   string
	err    error
}

func (f fakeValidator) ValidateToken(_ context.Context, token string) (uuid.UUID, string, error) {
	if f.err != nil {
		return uuid.Nil, "", f.err
	}
	return f.userID, f.role, nil
}

type fakeLookup struct {
	accounts map[uuid.UUID]*models.Account
}

func (f fakeLookup) GetByID(_ context.Context, id uuid.UUID) (*models.Account, error) {
	acc, ok := f.accounts[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return acc, nil
}

func echoAccount(t *testing.T, got **models.Account) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got = AccountFromCtx(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestJWTAuthLoadsAccount(t *testing.T) {
	acc := &models.Account{ID: uuid.New(), Role: models.RoleStudent}
	mw := JWTAuth(
		fakeValidator{userID: acc.ID, role: acc.Role},
		fakeLookup{accounts: map[uuid.UUID]*models.Account{acc.ID: acc}},
	)

	var got *models.Account
	req := httptest.NewRequest(http.MethodGet, "/api/v1/wallet", nil)
	req.Header.Set("Authorization", "Bearer some.jwt.token")
	rec := httptest.NewRecorder()

	mw(echoAccount(t, &got)).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got == nil || got.ID != acc.ID {
		t.Errorf("context account = %+v, want %s", got, acc.ID)
	}
}

func TestJWTAuthRejects(t *testing.T) {
	acc := &models.Account{ID: uuid.New(), Role: models.RoleStudent}
	lookup := fakeLookup{accounts: map[uuid.UUID]*models.Account{acc.ID: acc}}

	cases := []struct {
		name      string
		validator fakeValidator
		header    string
	}{
		{"missing header", fakeValidator{userID: acc.ID}, ""},
		{"not bearer", fakeValidator{userID: acc.ID}, "Basic abc"},
		{"bad token", fakeValidator{err: errors.New("expired")}, "Bearer some.jwt.token"},
		{"unknown account", fakeValidator{userID: uuid.New()}, "Bearer some.jwt.token"},
	}
	for _, c := range cases {
		var got *models.Account
		req := httptest.NewRequest(http.MethodGet, "/api/v1/wallet", nil)
		if c.header != "" {
			req.Header.Set("Authorization", c.header)
		}
		rec := httptest.NewRecorder()

		JWTAuth(c.validator, lookup)(echoAccount(t, &got)).ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, want 401", c.name, rec.Code)
		}
		if got != nil {
			t.Errorf("%s: handler reached", c.name)
		}
	}
}

func TestRequireAdmin(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/stats", nil)
	req = req.WithContext(WithAccount(req.Context(), &models.Account{ID: uuid.New(), Role: models.RoleAdmin}))
	rec := httptest.NewRecorder()
	RequireAdmin(next).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("admin: status = %d, want 200", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/admin/stats", nil)
	req = req.WithContext(WithAccount(req.Context(), &models.Account{ID: uuid.New(), Role: models.RoleStudent}))
	rec = httptest.NewRecorder()
	RequireAdmin(next).ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("student: status = %d, want 403", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/admin/stats", nil)
	rec = httptest.NewRecorder()
	RequireAdmin(next).ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous: status = %d, want 401", rec.Code)
	}
}
