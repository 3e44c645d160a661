package services

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tasklink/backend/internal/models"
)

func engineFixture(status string) (req TransitionRequest, poster, executor *models.Account) {
	posterID := uuid.New()
	executorID := uuid.New()
	poster = &models.Account{ID: posterID, AvailableBalance: 100000}
	executor = &models.Account{ID: executorID}
	task := &models.Task{
		ID:       uuid.New(),
		PosterID: posterID,
		Title:    "Print lab report",
		Budget:   10000,
		Status:   status,
	}
	if status != models.TaskStatusOpen {
		task.ExecutorID = &executorID
	}
	req = TransitionRequest{
		Task:     task,
		Poster:   poster,
		Executor: executor,
		Now:      time.Now(),
	}
	return req, poster, executor
}

func TestFund(t *testing.T) {
	engine := NewEscrowEngine()

	req, poster, _ := engineFixture(models.TaskStatusOpen)
	req.Action = ActionFund
	req.ActorID = req.Task.PosterID

	tr, err := engine.ComputeTransition(req)
	if err != nil {
		t.Fatalf("fund: %v", err)
	}
	if tr.NextStatus != models.TaskStatusOpen {
		t.Errorf("next status = %s, want OPEN", tr.NextStatus)
	}
	if len(tr.Deltas) != 1 || tr.Deltas[0].Available != -10000 || tr.Deltas[0].Escrow != 10000 {
		t.Errorf("unexpected deltas: %+v", tr.Deltas)
	}
	if len(tr.Entries) != 1 || tr.Entries[0].Type != models.TxTypeEscrowLock {
		t.Errorf("unexpected entries: %+v", tr.Entries)
	}

	// Exact balance funds; one unit short does not.
	poster.AvailableBalance = 10000
	if _, err := engine.ComputeTransition(req); err != nil {
		t.Errorf("exact balance should fund: %v", err)
	}
	poster.AvailableBalance = 9999
	if _, err := engine.ComputeTransition(req); !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("want ErrInsufficientFunds, got %v", err)
	}

	// Only the poster funds.
	req.Poster.AvailableBalance = 100000
	req.ActorID = uuid.New()
	if _, err := engine.ComputeTransition(req); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("want ErrUnauthorized, got %v", err)
	}
}

func TestAcceptOffer(t *testing.T) {
	engine := NewEscrowEngine()

	req, _, executor := engineFixture(models.TaskStatusOpen)
	offer := &models.Offer{
		ID:     uuid.New(),
		TaskID: req.Task.ID,
		UserID: executor.ID,
		Price:  9000,
		Status: models.OfferStatusPending,
	}
	req.Action = ActionAcceptOffer
	req.ActorID = req.Task.PosterID
	req.Offer = offer

	tr, err := engine.ComputeTransition(req)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if tr.NextStatus != models.TaskStatusAssigned {
		t.Errorf("next status = %s, want ASSIGNED", tr.NextStatus)
	}
	if tr.ExecutorID == nil || *tr.ExecutorID != executor.ID {
		t.Errorf("executor id = %v, want %s", tr.ExecutorID, executor.ID)
	}
	// Assignment moves no money. The offer price is advisory; the escrowed
	// budget is what pays out.
	if len(tr.Deltas) != 0 || len(tr.Entries) != 0 {
		t.Errorf("accept must not move money: deltas=%+v entries=%+v", tr.Deltas, tr.Entries)
	}

	// Only the poster accepts.
	req.ActorID = executor.ID
	if _, err := engine.ComputeTransition(req); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("want ErrUnauthorized, got %v", err)
	}

	// A decided offer cannot be accepted again.
	req.ActorID = req.Task.PosterID
	offer.Status = models.OfferStatusRejected
	if _, err := engine.ComputeTransition(req); !errors.Is(err, ErrInvalidState) {
		t.Errorf("want ErrInvalidState, got %v", err)
	}

	// Offer from another task.
	offer.Status = models.OfferStatusPending
	offer.TaskID = uuid.New()
	if _, err := engine.ComputeTransition(req); !errors.Is(err, ErrInvalidState) {
		t.Errorf("want ErrInvalidState for foreign offer, got %v", err)
	}
}

func TestSubmitCompletionRequiresProof(t *testing.T) {
	engine := NewEscrowEngine()

	req, _, executor := engineFixture(models.TaskStatusInProgress)
	req.Action = ActionSubmitCompletion
	req.ActorID = executor.ID

	if _, err := engine.ComputeTransition(req); !errors.Is(err, ErrProofRequired) {
		t.Fatalf("want ErrProofRequired, got %v", err)
	}

	req.HasFinalProof = true
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	req.Now = now
	tr, err := engine.ComputeTransition(req)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if tr.NextStatus != models.TaskStatusCompleted {
		t.Errorf("next status = %s, want COMPLETED", tr.NextStatus)
	}
	if tr.AutoApproveAt == nil || !tr.AutoApproveAt.Equal(now.Add(72*time.Hour)) {
		t.Errorf("auto approve at = %v, want now+72h", tr.AutoApproveAt)
	}
}

func TestReleasePayout(t *testing.T) {
	engine := NewEscrowEngine()

	req, _, executor := engineFixture(models.TaskStatusCompleted)
	req.Action = ActionRelease
	req.ActorID = req.Task.PosterID

	tr, err := engine.ComputeTransition(req)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if tr.NextStatus != models.TaskStatusPaid {
		t.Errorf("next status = %s, want PAID", tr.NextStatus)
	}
	// 5% of 10000.
	assertPayout(t, tr, req.Task.PosterID, executor.ID, 10000, 500)

	// The auto-release system actor may release; nobody else.
	req.ActorID = models.AutoReleaseActorID
	if _, err := engine.ComputeTransition(req); err != nil {
		t.Errorf("auto-release actor: %v", err)
	}
	req.ActorID = executor.ID
	if _, err := engine.ComputeTransition(req); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("want ErrUnauthorized for executor release, got %v", err)
	}
}

func TestCancelRefund(t *testing.T) {
	engine := NewEscrowEngine()

	for _, status := range []string{models.TaskStatusOpen, models.TaskStatusAssigned} {
		req, _, _ := engineFixture(status)
		req.Action = ActionCancel
		req.ActorID = req.Task.PosterID

		tr, err := engine.ComputeTransition(req)
		if err != nil {
			t.Fatalf("cancel from %s: %v", status, err)
		}
		if tr.NextStatus != models.TaskStatusCancelled {
			t.Errorf("next status = %s, want CANCELLED", tr.NextStatus)
		}
		// Full refund, no fee.
		if len(tr.Deltas) != 1 || tr.Deltas[0].Available != 10000 || tr.Deltas[0].Escrow != -10000 {
			t.Errorf("unexpected refund deltas: %+v", tr.Deltas)
		}
		if tr.Entries[0].Fee != nil {
			t.Error("refund must not carry a fee")
		}
	}

	// The executor cannot cancel.
	req, _, executor := engineFixture(models.TaskStatusAssigned)
	req.Action = ActionCancel
	req.ActorID = executor.ID
	if _, err := engine.ComputeTransition(req); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("want ErrUnauthorized, got %v", err)
	}
}

func TestDisputeResolution(t *testing.T) {
	engine := NewEscrowEngine()

	// Either party may raise, from IN_PROGRESS or COMPLETED.
	for _, status := range []string{models.TaskStatusInProgress, models.TaskStatusCompleted} {
		req, _, executor := engineFixture(status)
		req.Action = ActionRaiseDispute
		for _, actor := range []uuid.UUID{req.Task.PosterID, executor.ID} {
			req.ActorID = actor
			tr, err := engine.ComputeTransition(req)
			if err != nil {
				t.Fatalf("dispute from %s by %s: %v", status, actor, err)
			}
			if tr.NextStatus != models.TaskStatusDisputed {
				t.Errorf("next status = %s, want DISPUTED", tr.NextStatus)
			}
			if len(tr.Deltas) != 0 {
				t.Error("raising a dispute must freeze funds, not move them")
			}
		}
		// Third parties may not.
		req.ActorID = uuid.New()
		if _, err := engine.ComputeTransition(req); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("want ErrUnauthorized, got %v", err)
		}
	}

	// Resolution is admin only.
	req, _, executor := engineFixture(models.TaskStatusDisputed)
	req.Action = ActionResolveDispute
	req.ActorID = uuid.New()
	req.Resolution = ResolutionPayExecutor
	if _, err := engine.ComputeTransition(req); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized for non-admin, got %v", err)
	}

	req.ActorRole = models.RoleAdmin
	tr, err := engine.ComputeTransition(req)
	if err != nil {
		t.Fatalf("resolve pay executor: %v", err)
	}
	if tr.NextStatus != models.TaskStatusPaid {
		t.Errorf("next status = %s, want PAID", tr.NextStatus)
	}
	// Commission applies on the pay-executor branch, same as a release.
	assertPayout(t, tr, req.Task.PosterID, executor.ID, 10000, 500)

	req.Resolution = ResolutionRefundPoster
	tr, err = engine.ComputeTransition(req)
	if err != nil {
		t.Fatalf("resolve refund poster: %v", err)
	}
	if tr.NextStatus != models.TaskStatusCancelled {
		t.Errorf("next status = %s, want CANCELLED", tr.NextStatus)
	}
	if tr.Entries[0].Fee != nil {
		t.Error("dispute refund must not carry a fee")
	}

	req.Resolution = "SPLIT"
	if _, err := engine.ComputeTransition(req); !errors.Is(err, ErrInvalidState) {
		t.Errorf("want ErrInvalidState for unknown resolution, got %v", err)
	}
}

// TestStateMachineClosure enumerates every (status, action) pair and checks
// that exactly the documented edges are allowed. Terminal statuses allow
// nothing.
func TestStateMachineClosure(t *testing.T) {
	engine := NewEscrowEngine()

	statuses := []string{
		models.TaskStatusOpen,
		models.TaskStatusAssigned,
		models.TaskStatusInProgress,
		models.TaskStatusCompleted,
		models.TaskStatusPaid,
		models.TaskStatusCancelled,
		models.TaskStatusDisputed,
	}
	actions := []Action{
		ActionAcceptOffer,
		ActionStartWork,
		ActionSubmitCompletion,
		ActionRelease,
		ActionCancel,
		ActionRaiseDispute,
		ActionResolveDispute,
	}
	allowed := map[string]map[Action]bool{
		models.TaskStatusOpen:       {ActionAcceptOffer: true, ActionCancel: true},
		models.TaskStatusAssigned:   {ActionStartWork: true, ActionCancel: true},
		models.TaskStatusInProgress: {ActionSubmitCompletion: true, ActionRaiseDispute: true},
		models.TaskStatusCompleted:  {ActionRelease: true, ActionRaiseDispute: true},
		models.TaskStatusPaid:       {},
		models.TaskStatusCancelled:  {},
		models.TaskStatusDisputed:   {ActionResolveDispute: true},
	}

	for _, status := range statuses {
		for _, action := range actions {
			req, _, executor := engineFixture(status)
			req.Action = action
			req.HasFinalProof = true
			req.Resolution = ResolutionPayExecutor
			req.ActorRole = models.RoleAdmin
			// Pick the actor the action is built for so only the state
			// guard is exercised.
			switch action {
			case ActionStartWork, ActionSubmitCompletion:
				req.ActorID = executor.ID
			default:
				req.ActorID = req.Task.PosterID
			}
			if action == ActionAcceptOffer {
				req.Offer = &models.Offer{
					ID:     uuid.New(),
					TaskID: req.Task.ID,
					UserID: executor.ID,
					Status: models.OfferStatusPending,
				}
			}

			_, err := engine.ComputeTransition(req)
			if allowed[status][action] {
				if err != nil {
					t.Errorf("%s + %s should be allowed, got %v", status, action, err)
				}
				continue
			}
			if err == nil {
				t.Errorf("%s + %s should be rejected", status, action)
				continue
			}
			if models.IsTerminal(status) && !errors.Is(err, ErrTerminalState) {
				t.Errorf("%s + %s: want ErrTerminalState, got %v", status, action, err)
			}
			if !models.IsTerminal(status) && !errors.Is(err, ErrInvalidState) {
				t.Errorf("%s + %s: want ErrInvalidState, got %v", status, action, err)
			}
		}
	}
}

// assertPayout checks the two payout deltas and the single ledger entry of a
// payout transition, and that value is conserved: escrow decreases by the
// budget, the executor gains budget minus fee.
func assertPayout(t *testing.T, tr *Transition, posterID, executorID uuid.UUID, budget, fee int64) {
	t.Helper()
	if len(tr.Deltas) != 2 {
		t.Fatalf("want 2 deltas, got %+v", tr.Deltas)
	}
	byUser := map[uuid.UUID]AccountDelta{}
	for _, d := range tr.Deltas {
		byUser[d.UserID] = d
	}
	if d := byUser[posterID]; d.Escrow != -budget || d.Available != 0 {
		t.Errorf("poster delta = %+v", d)
	}
	if d := byUser[executorID]; d.Available != budget-fee || d.TasksCompleted != 1 {
		t.Errorf("executor delta = %+v", d)
	}
	var moved int64
	for _, d := range tr.Deltas {
		moved += d.Available + d.Escrow
	}
	if moved != -fee {
		t.Errorf("conservation: total balance change %d, want -fee %d", moved, -fee)
	}
	if len(tr.Entries) != 1 {
		t.Fatalf("want 1 entry, got %+v", tr.Entries)
	}
	e := tr.Entries[0]
	if e.UserID != executorID || e.Amount != budget-fee || e.Fee == nil || *e.Fee != fee {
		t.Errorf("unexpected entry: %+v", e)
	}
}
