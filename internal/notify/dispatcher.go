// Package notify persists in-app notifications. Delivery is best effort; a
// failed insert is logged and never fails the operation that triggered it.
package notify

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/tasklink/backend/internal/models"
)

type Store interface {
	Create(ctx context.Context, n *models.Notification) error
	ListByUserID(ctx context.Context, userID uuid.UUID) ([]*models.Notification, error)
	MarkAllRead(ctx context.Context, userID uuid.UUID) error
}

type Dispatcher struct {
	store Store
	log   *slog.Logger
}

func NewDispatcher(store Store, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{store: store, log: log}
}

func (d *Dispatcher) Notify(ctx context.Context, userID uuid.UUID, kind, title, message, link string) {
	n := &models.Notification{
		ID:      uuid.New(),
		UserID:  userID,
		Type:    kind,
		Title:   title,
		Message: message,
		Link:    link,
	}
	if err := d.store.Create(ctx, n); err != nil {
		d.log.Error("notification insert failed", "user_id", userID, "title", title, "error", err)
		return
	}
	d.log.Info("notification sent", "user_id", userID, "type", kind, "title", title)
}

func (d *Dispatcher) List(ctx context.Context, userID uuid.UUID) ([]*models.Notification, error) {
	return d.store.ListByUserID(ctx, userID)
}

func (d *Dispatcher) MarkAllRead(ctx context.Context, userID uuid.UUID) error {
	return d.store.MarkAllRead(ctx, userID)
}
