package models

import (
	"time"

	"github.com/google/uuid"
)

// Task status enum. OPEN -> ASSIGNED -> IN_PROGRESS -> COMPLETED -> PAID is
// the happy path; CANCELLED is reachable from OPEN/ASSIGNED, DISPUTED from
// IN_PROGRESS/COMPLETED. PAID and CANCELLED are terminal.
const (
	TaskStatusOpen       = "OPEN"
	TaskStatusAssigned   = "ASSIGNED"
	TaskStatusInProgress = "IN_PROGRESS"
	TaskStatusCompleted  = "COMPLETED"
	TaskStatusPaid       = "PAID"
	TaskStatusCancelled  = "CANCELLED"
	TaskStatusDisputed   = "DISPUTED"
)

// Service tiers scale the base budget once, at creation.
const (
	TierStandard  = "STANDARD"
	TierUrgent    = "URGENT"
	TierOvernight = "OVERNIGHT"
)

// IsTerminal reports whether no further transitions are accepted from status.
func IsTerminal(status string) bool {
	return status == TaskStatusPaid || status == TaskStatusCancelled
}

type Task struct {
	ID            uuid.UUID  `json:"id"`
	PosterID      uuid.UUID  `json:"poster_id"`
	ExecutorID    *uuid.UUID `json:"executor_id,omitempty"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	Category      string     `json:"category"`
	Budget        int64      `json:"budget"` // minor units, immutable after creation
	ServiceTier   string     `json:"service_tier"`
	Status        string     `json:"status"`
	AutoApproveAt *time.Time `json:"auto_approve_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}
