package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	NotifyInfo    = "INFO"
	NotifySuccess = "SUCCESS"
	NotifyWarning = "WARNING"
	NotifyError   = "ERROR"
)

type Notification struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Link      string    `json:"link,omitempty"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}
