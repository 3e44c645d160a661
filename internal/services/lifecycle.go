package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tasklink/backend/internal/models"
)

// TxBeginner abstracts transaction creation so tests and the in-memory
// backend don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// AccountStore is the minimal account storage interface for the controller.
// GetByIDForUpdate must lock the row for the remainder of the transaction.
type AccountStore interface {
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Account, error)
	// ApplyDeltaTx adds the delta to the account's balances, refusing any
	// mutation that would drive a balance negative.
	ApplyDeltaTx(ctx context.Context, tx pgx.Tx, d AccountDelta) error
}

// TaskStore is the minimal task storage interface for the controller.
type TaskStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, t *models.Task) error
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Task, error)
	UpdateTx(ctx context.Context, tx pgx.Tx, t *models.Task) error
}

// OfferStore is the offer storage interface shared by the controller and the
// offer subsystem.
type OfferStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, o *models.Offer) error
	GetByIDTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Offer, error)
	UpdateStatusTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string) error
	// AcceptExclusiveTx marks the given offer ACCEPTED and every sibling on
	// the same task REJECTED, in one statement scope.
	AcceptExclusiveTx(ctx context.Context, tx pgx.Tx, taskID, offerID uuid.UUID) error
	ListByTaskID(ctx context.Context, taskID uuid.UUID) ([]*models.Offer, error)
}

// LedgerStore appends transaction log entries. Appends must fail with a
// unique violation when the idempotency key was already committed.
type LedgerStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, t *models.Transaction) error
}

// ProofStore answers the submit-for-completion guard.
type ProofStore interface {
	HasFinalProofTx(ctx context.Context, tx pgx.Tx, taskID uuid.UUID) (bool, error)
}

// Notifier delivers a message to a user. Fire-and-forget: failures are
// logged by the implementation and never fail the ledger operation.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, kind, title, message, link string)
}

// ScheduleAutoReleaseTxFunc enqueues the auto-release job within the given
// transaction. Provided by main as a closure over river.Client.InsertTx.
type ScheduleAutoReleaseTxFunc func(ctx context.Context, tx pgx.Tx, taskID uuid.UUID, at time.Time) error

// TransitionOpts carries the action-specific inputs of a lifecycle call.
type TransitionOpts struct {
	ActorRole  string
	OfferID    uuid.UUID  // accept-offer
	Resolution Resolution // resolve-dispute
}

// CreateTaskInput is the funding request for a new task. BaseBudget is in
// minor units; the tier multiplier is applied exactly once, here.
type CreateTaskInput struct {
	Title       string
	Description string
	Category    string
	BaseBudget  int64
	ServiceTier string
}

// LifecycleController performs each lifecycle action as a single logical
// unit: load under locks, compute via the engine, write atomically.
type LifecycleController struct {
	Pool     TxBeginner
	Engine   *EscrowEngine
	Accounts AccountStore
	Tasks    TaskStore
	Offers   OfferStore
	Ledger   LedgerStore
	Proofs   ProofStore
	Notifier Notifier
	// ScheduleAutoRelease may be nil when no scheduler is wired (demo mode).
	ScheduleAutoRelease ScheduleAutoReleaseTxFunc
	Logger              *slog.Logger

	now func() time.Time
}

// NewLifecycleController wires the controller. notifier may be nil.
func NewLifecycleController(
	pool TxBeginner,
	engine *EscrowEngine,
	accounts AccountStore,
	tasks TaskStore,
	offers OfferStore,
	ledger LedgerStore,
	proofs ProofStore,
	notifier Notifier,
	logger *slog.Logger,
) *LifecycleController {
	return &LifecycleController{
		Pool:     pool,
		Engine:   engine,
		Accounts: accounts,
		Tasks:    tasks,
		Offers:   offers,
		Ledger:   ledger,
		Proofs:   proofs,
		Notifier: notifier,
		Logger:   logger,
		now:      time.Now,
	}
}

// IdempotencyKey derives the stable key for a balance-mutating action on a
// task. Replays of the same key commit at most one effect.
func IdempotencyKey(taskID uuid.UUID, action Action) string {
	return fmt.Sprintf("%s:%s", taskID, action)
}

// CreateFundedTask creates a task and locks its budget into the poster's
// escrow, atomically. Returns ErrInsufficientFunds when the poster cannot
// cover the tier-adjusted budget.
func (c *LifecycleController) CreateFundedTask(ctx context.Context, posterID uuid.UUID, in CreateTaskInput) (*models.Task, error) {
	if in.BaseBudget <= 0 {
		return nil, fmt.Errorf("%w: budget must be positive", ErrInvalidState)
	}
	task := &models.Task{
		ID:          uuid.New(),
		PosterID:    posterID,
		Title:       in.Title,
		Description: in.Description,
		Category:    in.Category,
		Budget:      TierBudget(in.BaseBudget, in.ServiceTier),
		ServiceTier: in.ServiceTier,
	}

	err := c.withRetry(ctx, func(ctx context.Context) error {
		tx, err := c.Pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		poster, err := c.Accounts.GetByIDForUpdate(ctx, tx, posterID)
		if err != nil {
			return err
		}
		tr, err := c.Engine.ComputeTransition(TransitionRequest{
			Task:    task,
			Action:  ActionFund,
			ActorID: posterID,
			Poster:  poster,
			Now:     c.now(),
		})
		if err != nil {
			return err
		}
		task.Status = tr.NextStatus
		if err := c.Tasks.CreateTx(ctx, tx, task); err != nil {
			return err
		}
		if err := c.applyTransition(ctx, tx, task.ID, ActionFund, tr); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
	if err != nil {
		return nil, err
	}

	c.notify(ctx, posterID, models.NotifySuccess, "Task Posted",
		fmt.Sprintf("%q is live. Budget locked in escrow.", task.Title), "/tasks/"+task.ID.String())
	return task, nil
}

// Transition performs one lifecycle action against an existing task and
// returns the updated task. Guard failures surface as typed errors;
// transient storage failures are retried once under idempotency protection.
func (c *LifecycleController) Transition(ctx context.Context, taskID uuid.UUID, action Action, actorID uuid.UUID, opts TransitionOpts) (*models.Task, error) {
	var task *models.Task
	err := c.withRetry(ctx, func(ctx context.Context) error {
		var err error
		task, err = c.transitionOnce(ctx, taskID, action, actorID, opts)
		return err
	})
	if err != nil {
		return nil, err
	}
	c.notifyTransition(ctx, task, action)
	return task, nil
}

// AcceptOffer assigns the task to the offering executor and rejects all
// sibling offers atomically with the acceptance.
func (c *LifecycleController) AcceptOffer(ctx context.Context, taskID, offerID, actorID uuid.UUID) (*models.Task, error) {
	return c.Transition(ctx, taskID, ActionAcceptOffer, actorID, TransitionOpts{OfferID: offerID})
}

func (c *LifecycleController) transitionOnce(ctx context.Context, taskID uuid.UUID, action Action, actorID uuid.UUID, opts TransitionOpts) (*models.Task, error) {
	tx, err := c.Pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// The task row lock is the serialization boundary for all mutating
	// actions against this task.
	task, err := c.Tasks.GetByIDForUpdate(ctx, tx, taskID)
	if err != nil {
		return nil, err
	}

	req := TransitionRequest{
		Task:       task,
		Action:     action,
		ActorID:    actorID,
		ActorRole:  opts.ActorRole,
		Resolution: opts.Resolution,
		Now:        c.now(),
	}

	// Lock the involved accounts in ascending UUID order to avoid deadlock.
	ids := []uuid.UUID{task.PosterID}
	if task.ExecutorID != nil {
		ids = append(ids, *task.ExecutorID)
	}
	accounts, err := c.lockAccounts(ctx, tx, ids)
	if err != nil {
		return nil, err
	}
	req.Poster = accounts[task.PosterID]
	if task.ExecutorID != nil {
		req.Executor = accounts[*task.ExecutorID]
	}

	switch action {
	case ActionAcceptOffer:
		offer, err := c.Offers.GetByIDTx(ctx, tx, opts.OfferID)
		if err != nil {
			return nil, err
		}
		req.Offer = offer
	case ActionSubmitCompletion:
		has, err := c.Proofs.HasFinalProofTx(ctx, tx, taskID)
		if err != nil {
			return nil, err
		}
		req.HasFinalProof = has
	}

	tr, err := c.Engine.ComputeTransition(req)
	if err != nil {
		return nil, err
	}

	if action == ActionAcceptOffer {
		if err := c.Offers.AcceptExclusiveTx(ctx, tx, taskID, opts.OfferID); err != nil {
			return nil, err
		}
	}

	task.Status = tr.NextStatus
	if tr.ExecutorID != nil {
		task.ExecutorID = tr.ExecutorID
	}
	if tr.AutoApproveAt != nil {
		task.AutoApproveAt = tr.AutoApproveAt
	}
	if err := c.Tasks.UpdateTx(ctx, tx, task); err != nil {
		return nil, err
	}
	if err := c.applyTransition(ctx, tx, task.ID, action, tr); err != nil {
		return nil, err
	}

	if action == ActionSubmitCompletion && c.ScheduleAutoRelease != nil && tr.AutoApproveAt != nil {
		if err := c.ScheduleAutoRelease(ctx, tx, taskID, *tr.AutoApproveAt); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return task, nil
}

// applyTransition writes the engine's deltas and ledger entries. The
// idempotency key's unique index is the last line of defense: a duplicate
// insert aborts the whole transaction before any balance change commits.
func (c *LifecycleController) applyTransition(ctx context.Context, tx pgx.Tx, taskID uuid.UUID, action Action, tr *Transition) error {
	for _, d := range tr.Deltas {
		if err := c.Accounts.ApplyDeltaTx(ctx, tx, d); err != nil {
			return err
		}
	}
	key := IdempotencyKey(taskID, action)
	for _, e := range tr.Entries {
		if err := c.Ledger.CreateTx(ctx, tx, &models.Transaction{
			ID:             uuid.New(),
			UserID:         e.UserID,
			TargetUserID:   e.TargetUserID,
			TaskID:         &taskID,
			Type:           e.Type,
			Amount:         e.Amount,
			Fee:            e.Fee,
			Description:    e.Description,
			Status:         models.TxStatusSuccess,
			IdempotencyKey: key,
		}); err != nil {
			return err
		}
	}
	return nil
}

// lockAccounts loads the given accounts FOR UPDATE in ascending UUID order.
func (c *LifecycleController) lockAccounts(ctx context.Context, tx pgx.Tx, ids []uuid.UUID) (map[uuid.UUID]*models.Account, error) {
	ordered := append([]uuid.UUID(nil), ids...)
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && ordered[j].String() < ordered[j-1].String(); j-- {
			ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
		}
	}
	out := make(map[uuid.UUID]*models.Account, len(ordered))
	for _, id := range ordered {
		if _, ok := out[id]; ok {
			continue
		}
		acc, err := c.Accounts.GetByIDForUpdate(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		out[id] = acc
	}
	return out, nil
}

// withRetry runs op, retrying exactly once on a transient failure. Guard
// failures from the taxonomy are never retried; the idempotency key makes
// the retry safe when the first attempt committed but reported failure.
func (c *LifecycleController) withRetry(ctx context.Context, op func(ctx context.Context) error) error {
	err := op(ctx)
	if err == nil || !retryable(err) {
		return translateStorageErr(err)
	}
	if c.Logger != nil {
		c.Logger.Warn("transient failure, retrying once", "error", err)
	}
	if err := op(ctx); err != nil {
		return translateStorageErr(err)
	}
	return nil
}

func retryable(err error) bool {
	switch {
	case errors.Is(err, ErrInsufficientFunds),
		errors.Is(err, ErrInvalidState),
		errors.Is(err, ErrTerminalState),
		errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrProofRequired):
		return false
	}
	return true
}

// translateStorageErr folds raw storage failures into the taxonomy. Unique
// violations on the idempotency key mean the effect already committed.
func translateStorageErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrInsufficientFunds),
		errors.Is(err, ErrInvalidState),
		errors.Is(err, ErrTerminalState),
		errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrProofRequired),
		errors.Is(err, ErrConcurrencyConflict):
		return err
	case errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("%w: record not found", ErrInvalidState)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrConcurrencyConflict
	}
	return fmt.Errorf("%w: %v", ErrStorage, err)
}

func (c *LifecycleController) notify(ctx context.Context, userID uuid.UUID, kind, title, message, link string) {
	if c.Notifier == nil || userID == uuid.Nil {
		return
	}
	c.Notifier.Notify(ctx, userID, kind, title, message, link)
}

// notifyTransition informs the counterparty after a committed transition.
func (c *LifecycleController) notifyTransition(ctx context.Context, task *models.Task, action Action) {
	link := "/tasks/" + task.ID.String()
	switch action {
	case ActionAcceptOffer:
		if task.ExecutorID != nil {
			c.notify(ctx, *task.ExecutorID, models.NotifySuccess, "Offer Accepted",
				fmt.Sprintf("Your offer for %q was accepted. Please start work.", task.Title), link)
		}
	case ActionStartWork:
		c.notify(ctx, task.PosterID, models.NotifyInfo, "Work Started",
			fmt.Sprintf("Executor started %q.", task.Title), link)
	case ActionSubmitCompletion:
		c.notify(ctx, task.PosterID, models.NotifySuccess, "Task Completed",
			fmt.Sprintf("Please review and release payment for %q.", task.Title), link)
	case ActionRelease, ActionResolveDispute:
		if task.Status == models.TaskStatusPaid && task.ExecutorID != nil {
			c.notify(ctx, *task.ExecutorID, models.NotifySuccess, "Payment Received",
				fmt.Sprintf("Payout for %q added to your wallet.", task.Title), link)
		}
		if task.Status == models.TaskStatusCancelled {
			c.notify(ctx, task.PosterID, models.NotifyInfo, "Funds Refunded",
				fmt.Sprintf("The budget for %q has been returned to your wallet.", task.Title), link)
		}
	case ActionCancel:
		c.notify(ctx, task.PosterID, models.NotifyInfo, "Funds Refunded",
			fmt.Sprintf("The budget for %q has been returned to your wallet.", task.Title), link)
	case ActionRaiseDispute:
		c.notify(ctx, task.PosterID, models.NotifyWarning, "Dispute Raised",
			fmt.Sprintf("%q is under dispute. Funds stay in escrow until resolution.", task.Title), link)
	}
}
