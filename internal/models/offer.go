package models

import (
	"time"

	"github.com/google/uuid"
)

// Offer status enum. At most one offer per task may be ACCEPTED; acceptance
// rejects all siblings atomically.
const (
	OfferStatusPending  = "PENDING"
	OfferStatusAccepted = "ACCEPTED"
	OfferStatusRejected = "REJECTED"
)

type Offer struct {
	ID         uuid.UUID `json:"id"`
	TaskID     uuid.UUID `json:"task_id"`
	UserID     uuid.UUID `json:"user_id"`
	Price      int64     `json:"price"` // advisory; the escrowed budget is what pays out
	Message    string    `json:"message"`
	Status     string    `json:"status"`
	MatchScore *float32  `json:"match_score,omitempty"` // advisory, not load-bearing
	CreatedAt  time.Time `json:"created_at"`
}
