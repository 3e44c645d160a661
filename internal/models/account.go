package models

import (
	"time"

	"github.com/google/uuid"
)

// Account roles. Admins resolve disputes; everything else is a student account.
const (
	RoleStudent = "STUDENT"
	RoleAdmin   = "ADMIN"
)

// AutoReleaseActorID is the synthetic actor the scheduler acts as when it
// releases payment after the auto-approve window expires.
var AutoReleaseActorID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

// Account is one per user. Balances are in minor currency units (paise) and
// are mutated only through escrow engine deltas, never assigned directly
// from caller-supplied values.
type Account struct {
	ID               uuid.UUID `json:"id"`
	Email            string    `json:"email"`
	Name             string    `json:"name"`
	College          string    `json:"college"`
	PasswordHash     string    `json:"-"`
	Role             string    `json:"role"`
	AvailableBalance int64     `json:"available_balance"`
	EscrowBalance    int64     `json:"escrow_balance"`
	TasksCompleted   int       `json:"tasks_completed"`
	Rating           float32   `json:"rating"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// IsAdmin reports whether the account can perform admin-only actions.
func (a *Account) IsAdmin() bool { return a.Role == RoleAdmin }
