// Package memstore is the in-memory storage backend. It implements the same
// narrow store interfaces as the pgx repositories and is selected by
// dependency injection for tests and demo mode; business rules never fork on
// the backend.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tasklink/backend/internal/models"
	"github.com/tasklink/backend/internal/services"
)

// Store holds all state behind one mutex. Begin takes the mutex for the
// whole transaction, which gives the serialization that row locks give in
// Postgres; Rollback restores a snapshot so partial writes are never
// observable. Non-Tx methods take the mutex themselves and must not be
// called while a transaction is open.
type Store struct {
	mu sync.Mutex
	st state
}

type state struct {
	accounts      map[uuid.UUID]*models.Account
	tasks         map[uuid.UUID]*models.Task
	offers        map[uuid.UUID]*models.Offer
	offerOrder    []uuid.UUID // submission order
	transactions  []*models.Transaction
	byIdemKey     map[string]*models.Transaction
	attachments   map[uuid.UUID][]*models.Attachment
	notifications []*models.Notification
}

func New() *Store {
	return &Store{st: state{
		accounts:    make(map[uuid.UUID]*models.Account),
		tasks:       make(map[uuid.UUID]*models.Task),
		offers:      make(map[uuid.UUID]*models.Offer),
		byIdemKey:   make(map[string]*models.Transaction),
		attachments: make(map[uuid.UUID][]*models.Attachment),
	}}
}

func (s *Store) Accounts() *AccountStore       { return &AccountStore{s} }
func (s *Store) Tasks() *TaskStore             { return &TaskStore{s} }
func (s *Store) Offers() *OfferStore           { return &OfferStore{s} }
func (s *Store) Ledger() *LedgerStore          { return &LedgerStore{s} }
func (s *Store) Attachments() *AttachmentStore { return &AttachmentStore{s} }

func (s *Store) Notifications() *NotificationStore { return &NotificationStore{s} }

// Begin locks the store and snapshots it. The returned Tx satisfies pgx.Tx;
// only Commit and Rollback have effect.
func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	s.mu.Lock()
	return &memTx{s: s, snapshot: s.st.clone()}, nil
}

func (st *state) clone() *state {
	cp := &state{
		accounts:      make(map[uuid.UUID]*models.Account, len(st.accounts)),
		tasks:         make(map[uuid.UUID]*models.Task, len(st.tasks)),
		offers:        make(map[uuid.UUID]*models.Offer, len(st.offers)),
		offerOrder:    append([]uuid.UUID(nil), st.offerOrder...),
		transactions:  append([]*models.Transaction(nil), st.transactions...),
		byIdemKey:     make(map[string]*models.Transaction, len(st.byIdemKey)),
		attachments:   make(map[uuid.UUID][]*models.Attachment, len(st.attachments)),
		notifications: append([]*models.Notification(nil), st.notifications...),
	}
	for id, a := range st.accounts {
		c := *a
		cp.accounts[id] = &c
	}
	for id, t := range st.tasks {
		c := *t
		cp.tasks[id] = &c
	}
	for id, o := range st.offers {
		c := *o
		cp.offers[id] = &c
	}
	for k, t := range st.byIdemKey {
		cp.byIdemKey[k] = t
	}
	for id, atts := range st.attachments {
		cp.attachments[id] = append([]*models.Attachment(nil), atts...)
	}
	return cp
}

// --- accounts ---

type AccountStore struct{ s *Store }

// Create registers a new account (zero balances at registration).
func (a *AccountStore) Create(ctx context.Context, acc *models.Account) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	for _, existing := range a.s.st.accounts {
		if existing.Email == acc.Email {
			return services.ErrConcurrencyConflict
		}
	}
	cp := *acc
	a.s.st.accounts[acc.ID] = &cp
	return nil
}

func (a *AccountStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	return a.s.st.getAccount(id)
}

func (a *AccountStore) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	for _, acc := range a.s.st.accounts {
		if acc.Email == email {
			cp := *acc
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (a *AccountStore) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Account, error) {
	return a.s.st.getAccount(id)
}

func (a *AccountStore) ApplyDeltaTx(ctx context.Context, tx pgx.Tx, d services.AccountDelta) error {
	acc, ok := a.s.st.accounts[d.UserID]
	if !ok {
		return pgx.ErrNoRows
	}
	if acc.AvailableBalance+d.Available < 0 || acc.EscrowBalance+d.Escrow < 0 {
		return services.ErrConcurrencyConflict
	}
	acc.AvailableBalance += d.Available
	acc.EscrowBalance += d.Escrow
	acc.TasksCompleted += d.TasksCompleted
	return nil
}

func (st *state) getAccount(id uuid.UUID) (*models.Account, error) {
	acc, ok := st.accounts[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *acc
	return &cp, nil
}

// --- tasks ---

type TaskStore struct{ s *Store }

func (t *TaskStore) CreateTx(ctx context.Context, tx pgx.Tx, task *models.Task) error {
	if _, exists := t.s.st.tasks[task.ID]; exists {
		return services.ErrConcurrencyConflict
	}
	now := time.Now()
	task.CreatedAt = now
	task.UpdatedAt = now
	cp := *task
	t.s.st.tasks[task.ID] = &cp
	return nil
}

func (t *TaskStore) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Task, error) {
	task, ok := t.s.st.tasks[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *task
	return &cp, nil
}

func (t *TaskStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	task, ok := t.s.st.tasks[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *task
	return &cp, nil
}

func (t *TaskStore) UpdateTx(ctx context.Context, tx pgx.Tx, task *models.Task) error {
	prev, ok := t.s.st.tasks[task.ID]
	if !ok {
		return pgx.ErrNoRows
	}
	task.UpdatedAt = time.Now()
	cp := *task
	// Budget is immutable after creation, same as the SQL update.
	cp.Budget = prev.Budget
	t.s.st.tasks[task.ID] = &cp
	return nil
}

func (t *TaskStore) List(ctx context.Context) ([]*models.Task, error) {
	return t.listWhere(func(*models.Task) bool { return true })
}

func (t *TaskStore) ListByPosterID(ctx context.Context, posterID uuid.UUID) ([]*models.Task, error) {
	return t.listWhere(func(task *models.Task) bool { return task.PosterID == posterID })
}

func (t *TaskStore) ListByExecutorID(ctx context.Context, executorID uuid.UUID) ([]*models.Task, error) {
	return t.listWhere(func(task *models.Task) bool {
		return task.ExecutorID != nil && *task.ExecutorID == executorID
	})
}

func (t *TaskStore) ListByStatus(ctx context.Context, status string) ([]*models.Task, error) {
	return t.listWhere(func(task *models.Task) bool { return task.Status == status })
}

func (t *TaskStore) listWhere(keep func(*models.Task) bool) ([]*models.Task, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	var out []*models.Task
	for _, task := range t.s.st.tasks {
		if keep(task) {
			cp := *task
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// --- offers ---

type OfferStore struct{ s *Store }

func (o *OfferStore) CreateTx(ctx context.Context, tx pgx.Tx, offer *models.Offer) error {
	cp := *offer
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	o.s.st.offers[offer.ID] = &cp
	o.s.st.offerOrder = append(o.s.st.offerOrder, offer.ID)
	return nil
}

func (o *OfferStore) GetByIDTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Offer, error) {
	offer, ok := o.s.st.offers[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *offer
	return &cp, nil
}

func (o *OfferStore) UpdateStatusTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string) error {
	offer, ok := o.s.st.offers[id]
	if !ok {
		return pgx.ErrNoRows
	}
	offer.Status = status
	return nil
}

func (o *OfferStore) AcceptExclusiveTx(ctx context.Context, tx pgx.Tx, taskID, offerID uuid.UUID) error {
	for _, offer := range o.s.st.offers {
		if offer.TaskID != taskID {
			continue
		}
		switch {
		case offer.ID == offerID:
			offer.Status = models.OfferStatusAccepted
		case offer.Status == models.OfferStatusPending:
			offer.Status = models.OfferStatusRejected
		}
	}
	return nil
}

func (o *OfferStore) ListByTaskID(ctx context.Context, taskID uuid.UUID) ([]*models.Offer, error) {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	var out []*models.Offer
	for _, id := range o.s.st.offerOrder {
		if offer := o.s.st.offers[id]; offer != nil && offer.TaskID == taskID {
			cp := *offer
			out = append(out, &cp)
		}
	}
	return out, nil
}

// --- ledger ---

type LedgerStore struct{ s *Store }

func (l *LedgerStore) CreateTx(ctx context.Context, tx pgx.Tx, t *models.Transaction) error {
	if _, dup := l.s.st.byIdemKey[t.IdempotencyKey]; dup {
		return services.ErrConcurrencyConflict
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	cp := *t
	l.s.st.transactions = append(l.s.st.transactions, &cp)
	l.s.st.byIdemKey[t.IdempotencyKey] = &cp
	return nil
}

func (l *LedgerStore) GetByIdempotencyKeyTx(ctx context.Context, tx pgx.Tx, key string) (*models.Transaction, error) {
	t, ok := l.s.st.byIdemKey[key]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *t
	return &cp, nil
}

func (l *LedgerStore) ListByTaskID(ctx context.Context, taskID uuid.UUID) ([]*models.Transaction, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	var out []*models.Transaction
	for _, t := range l.s.st.transactions {
		if t.TaskID != nil && *t.TaskID == taskID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (l *LedgerStore) ListByUserID(ctx context.Context, userID uuid.UUID) ([]*models.Transaction, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	var out []*models.Transaction
	for _, t := range l.s.st.transactions {
		if t.UserID == userID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

// --- attachments ---

type AttachmentStore struct{ s *Store }

func (a *AttachmentStore) Create(ctx context.Context, att *models.Attachment) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	cp := *att
	a.s.st.attachments[att.TaskID] = append(a.s.st.attachments[att.TaskID], &cp)
	return nil
}

func (a *AttachmentStore) HasFinalProofTx(ctx context.Context, tx pgx.Tx, taskID uuid.UUID) (bool, error) {
	for _, att := range a.s.st.attachments[taskID] {
		if att.Stage == models.ProofStageFinal {
			return true, nil
		}
	}
	return false, nil
}

func (a *AttachmentStore) ListByTaskID(ctx context.Context, taskID uuid.UUID) ([]*models.Attachment, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	atts := a.s.st.attachments[taskID]
	out := make([]*models.Attachment, len(atts))
	for i, att := range atts {
		cp := *att
		out[i] = &cp
	}
	return out, nil
}

// --- stats ---

type StatsStore struct{ s *Store }

func (s *Store) Stats() *StatsStore { return &StatsStore{s} }

func (st *StatsStore) TaskCountsByStatus(ctx context.Context) (map[string]int64, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	counts := make(map[string]int64)
	for _, task := range st.s.st.tasks {
		counts[task.Status]++
	}
	return counts, nil
}

func (st *StatsStore) PlatformTotals(ctx context.Context) (int64, int64, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	var escrow, fees int64
	for _, acc := range st.s.st.accounts {
		escrow += acc.EscrowBalance
	}
	for _, t := range st.s.st.transactions {
		if t.Fee != nil {
			fees += *t.Fee
		}
	}
	return escrow, fees, nil
}

// --- notifications ---

type NotificationStore struct{ s *Store }

func (n *NotificationStore) Create(ctx context.Context, notif *models.Notification) error {
	n.s.mu.Lock()
	defer n.s.mu.Unlock()
	cp := *notif
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	n.s.st.notifications = append(n.s.st.notifications, &cp)
	return nil
}

func (n *NotificationStore) ListByUserID(ctx context.Context, userID uuid.UUID) ([]*models.Notification, error) {
	n.s.mu.Lock()
	defer n.s.mu.Unlock()
	var out []*models.Notification
	for i := len(n.s.st.notifications) - 1; i >= 0; i-- {
		if notif := n.s.st.notifications[i]; notif.UserID == userID {
			cp := *notif
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (n *NotificationStore) MarkAllRead(ctx context.Context, userID uuid.UUID) error {
	n.s.mu.Lock()
	defer n.s.mu.Unlock()
	for _, notif := range n.s.st.notifications {
		if notif.UserID == userID {
			notif.IsRead = true
		}
	}
	return nil
}
