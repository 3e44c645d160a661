package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/tasklink/backend/internal/models"
)

// OfferService manages the offers attached to an open task. Acceptance is a
// lifecycle action (it carries task-state and multi-offer side effects) and
// lives on the controller, not here.
type OfferService struct {
	Pool     TxBeginner
	Tasks    TaskStore
	Offers   OfferStore
	Accounts AccountStore
	Notifier Notifier
	Logger   *slog.Logger
}

func NewOfferService(pool TxBeginner, tasks TaskStore, offers OfferStore, accounts AccountStore, notifier Notifier, logger *slog.Logger) *OfferService {
	return &OfferService{Pool: pool, Tasks: tasks, Offers: offers, Accounts: accounts, Notifier: notifier, Logger: logger}
}

// SubmitOffer appends a PENDING offer to an OPEN task. Posters cannot offer
// on their own tasks.
func (s *OfferService) SubmitOffer(ctx context.Context, taskID, userID uuid.UUID, price int64, message string) (*models.Offer, error) {
	if price <= 0 {
		return nil, fmt.Errorf("%w: price must be positive", ErrInvalidState)
	}

	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return nil, translateStorageErr(err)
	}
	defer tx.Rollback(ctx)

	task, err := s.Tasks.GetByIDForUpdate(ctx, tx, taskID)
	if err != nil {
		return nil, translateStorageErr(err)
	}
	if models.IsTerminal(task.Status) {
		return nil, ErrTerminalState
	}
	if task.Status != models.TaskStatusOpen {
		return nil, fmt.Errorf("%w: offers require OPEN, task is %s", ErrInvalidState, task.Status)
	}
	if userID == task.PosterID {
		return nil, fmt.Errorf("%w: cannot offer on own task", ErrUnauthorized)
	}

	offeror, err := s.Accounts.GetByIDForUpdate(ctx, tx, userID)
	if err != nil {
		return nil, translateStorageErr(err)
	}
	score := matchScore(offeror, price, task.Budget)

	offer := &models.Offer{
		ID:         uuid.New(),
		TaskID:     taskID,
		UserID:     userID,
		Price:      price,
		Message:    message,
		Status:     models.OfferStatusPending,
		MatchScore: &score,
	}
	if err := s.Offers.CreateTx(ctx, tx, offer); err != nil {
		return nil, translateStorageErr(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, translateStorageErr(err)
	}

	if s.Notifier != nil {
		s.Notifier.Notify(ctx, task.PosterID, models.NotifyInfo, "New Offer",
			fmt.Sprintf("You received an offer on %q.", task.Title), "/tasks/"+taskID.String())
	}
	return offer, nil
}

// RejectOffer sets a single PENDING offer to REJECTED. No cascading effect.
// Only the task's poster may reject.
func (s *OfferService) RejectOffer(ctx context.Context, taskID, offerID, actorID uuid.UUID) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return translateStorageErr(err)
	}
	defer tx.Rollback(ctx)

	task, err := s.Tasks.GetByIDForUpdate(ctx, tx, taskID)
	if err != nil {
		return translateStorageErr(err)
	}
	if actorID != task.PosterID {
		return ErrUnauthorized
	}
	offer, err := s.Offers.GetByIDTx(ctx, tx, offerID)
	if err != nil {
		return translateStorageErr(err)
	}
	if offer.TaskID != taskID {
		return fmt.Errorf("%w: offer does not belong to task", ErrInvalidState)
	}
	if offer.Status != models.OfferStatusPending {
		return fmt.Errorf("%w: offer is %s, want PENDING", ErrInvalidState, offer.Status)
	}
	if err := s.Offers.UpdateStatusTx(ctx, tx, offerID, models.OfferStatusRejected); err != nil {
		return translateStorageErr(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return translateStorageErr(err)
	}

	if s.Notifier != nil {
		s.Notifier.Notify(ctx, offer.UserID, models.NotifyInfo, "Offer Declined",
			fmt.Sprintf("Your offer on %q was declined.", task.Title), "/tasks/"+taskID.String())
	}
	return nil
}

// ListOffers returns a task's offers in submission order.
func (s *OfferService) ListOffers(ctx context.Context, taskID uuid.UUID) ([]*models.Offer, error) {
	offers, err := s.Offers.ListByTaskID(ctx, taskID)
	if err != nil {
		return nil, translateStorageErr(err)
	}
	return offers, nil
}
