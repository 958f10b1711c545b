// Package memory keeps every repository in process memory. It backs
// STORE_DRIVER=memory for local development and the service tests, and
// reproduces the conditional-update semantics of the MySQL repositories under
// a single mutex.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/digkill/WeddingAI/internal/models"
)

type Store struct {
	mu sync.Mutex

	users      map[string]*models.User
	txs        []models.CreditTransaction
	txKeys     map[string]struct{}
	jobs       map[string]*models.GenerationJob
	records    []models.Generation
	references []*models.ReferencePhoto
	promos     map[int64]*models.PromoCode
	plans      map[int64]*models.Plan
	payments   map[string]*models.Payment
	nextID     int64

	now func() time.Time
}

func New() *Store {
	return &Store{
		users:    make(map[string]*models.User),
		txKeys:   make(map[string]struct{}),
		jobs:     make(map[string]*models.GenerationJob),
		promos:   make(map[int64]*models.PromoCode),
		plans:    make(map[int64]*models.Plan),
		payments: make(map[string]*models.Payment),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Users() *Users                     { return &Users{s} }
func (s *Store) Credits() *Credits                 { return &Credits{s} }
func (s *Store) Jobs() *Jobs                       { return &Jobs{s} }
func (s *Store) Generations() *Generations         { return &Generations{s} }
func (s *Store) ReferencePhotos() *ReferencePhotos { return &ReferencePhotos{s} }
func (s *Store) Promos() *Promos                   { return &Promos{s} }
func (s *Store) Plans() *Plans                     { return &Plans{s} }
func (s *Store) Payments() *Payments               { return &Payments{s} }

// SetBalance seeds a user with a balance, bypassing the log. Tests only.
func (s *Store) SetBalance(userID string, balance int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		u = &models.User{ID: userID, CreatedAt: s.now(), UpdatedAt: s.now()}
		s.users[userID] = u
	}
	u.AICredits = balance
}

type Users struct{ s *Store }

func (r *Users) FindByID(_ context.Context, id string) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (r *Users) Create(_ context.Context, user *models.User) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.users[user.ID]; ok {
		return false, nil
	}
	now := r.s.now()
	r.s.users[user.ID] = &models.User{ID: user.ID, Email: user.Email, Name: user.Name, CreatedAt: now, UpdatedAt: now}
	return true, nil
}

func (r *Users) UpdateProfile(_ context.Context, userID, email, name string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if u, ok := r.s.users[userID]; ok {
		if email != "" {
			u.Email = email
		}
		if name != "" {
			u.Name = name
		}
		u.UpdatedAt = r.s.now()
	}
	return nil
}

type Credits struct{ s *Store }

func txKey(userID string, refType models.ReferenceType, refID string, txType models.TransactionType) string {
	return fmt.Sprintf("%s|%s|%s|%s", userID, refType, refID, txType)
}

func (r *Credits) Apply(_ context.Context, m models.CreditMutation) (int, error) {
	if m.Delta == 0 {
		return 0, models.ErrInvalidAmount
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.users[m.UserID]
	if !ok {
		return 0, models.ErrUserNotFound
	}
	if m.Delta < 0 && u.AICredits < -m.Delta {
		return u.AICredits, &models.InsufficientCreditsError{Balance: u.AICredits, Required: -m.Delta}
	}
	key := txKey(m.UserID, m.ReferenceType, m.ReferenceID, m.Type)
	if _, dup := r.s.txKeys[key]; dup {
		return 0, models.ErrAlreadyApplied
	}
	if m.TransactionID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return 0, fmt.Errorf("transaction id: %w", err)
		}
		m.TransactionID = id.String()
	}

	u.AICredits += m.Delta
	u.UpdatedAt = r.s.now()
	amount := m.Delta
	if amount < 0 {
		amount = -amount
	}
	r.s.txKeys[key] = struct{}{}
	r.s.txs = append(r.s.txs, models.CreditTransaction{
		ID:            m.TransactionID,
		UserID:        m.UserID,
		Type:          m.Type,
		Amount:        amount,
		BalanceAfter:  u.AICredits,
		ReferenceType: m.ReferenceType,
		ReferenceID:   m.ReferenceID,
		Description:   m.Description,
		CreatedAt:     r.s.now(),
	})
	return u.AICredits, nil
}

func (r *Credits) Balance(_ context.Context, userID string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[userID]
	if !ok {
		return 0, models.ErrUserNotFound
	}
	return u.AICredits, nil
}

func (r *Credits) ListTransactions(_ context.Context, userID string, limit int) ([]models.CreditTransaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.CreditTransaction
	for _, t := range r.s.txs {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	if limit <= 0 {
		return out, nil
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Transactions returns a copy of the whole log in commit order.
func (s *Store) Transactions() []models.CreditTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.CreditTransaction(nil), s.txs...)
}

// Records returns a copy of every stored generation attempt.
func (s *Store) Records() []models.Generation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Generation(nil), s.records...)
}

func sortJobsByUpdated(jobs []models.GenerationJob) {
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].UpdatedAt.Before(jobs[j].UpdatedAt) })
}
