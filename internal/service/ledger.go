package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/digkill/WeddingAI/internal/models"
)

// Reference ties a ledger mutation to the entity that caused it.
type Reference struct {
	Type        models.ReferenceType
	ID          string
	Description string
}

type BalanceStatus struct {
	HasCredits bool `json:"hasCredits"`
	Balance    int  `json:"balance"`
}

// ReconcileReport compares the stored balance with a replay of the log.
type ReconcileReport struct {
	UserID          string   `json:"userId"`
	StoredBalance   int      `json:"storedBalance"`
	ReplayedBalance int      `json:"replayedBalance"`
	Transactions    int      `json:"transactions"`
	Consistent      bool     `json:"consistent"`
	Mismatches      []string `json:"mismatches,omitempty"`
}

// Ledger is the only way balances change. Debits never drive a balance
// negative and every successful mutation leaves exactly one transaction row.
type Ledger interface {
	Deduct(ctx context.Context, userID string, amount int, ref Reference) (int, error)
	Refund(ctx context.Context, userID string, amount int, ref Reference) (int, error)
	Reserve(ctx context.Context, userID string, amount int, jobID string) (int, error)
	Release(ctx context.Context, userID string, amount int, jobID string) (int, error)
	Grant(ctx context.Context, userID string, amount int, txType models.TransactionType, ref Reference) (int, error)
	CheckBalance(ctx context.Context, userID string, loaded *models.User) (BalanceStatus, error)
	History(ctx context.Context, userID string, limit int) ([]models.CreditTransaction, error)
	Reconcile(ctx context.Context, userID string) (*ReconcileReport, error)
}

type CreditLedger struct {
	log   zerolog.Logger
	store CreditStore
}

func NewCreditLedger(log zerolog.Logger, store CreditStore) *CreditLedger {
	return &CreditLedger{log: log.With().Str("component", "ledger").Logger(), store: store}
}

func (l *CreditLedger) Deduct(ctx context.Context, userID string, amount int, ref Reference) (int, error) {
	return l.apply(ctx, userID, -amount, models.TxDeduct, ref)
}

func (l *CreditLedger) Refund(ctx context.Context, userID string, amount int, ref Reference) (int, error) {
	return l.apply(ctx, userID, amount, models.TxRefund, ref)
}

// Reserve debits the full cost of a batch job up front.
func (l *CreditLedger) Reserve(ctx context.Context, userID string, amount int, jobID string) (int, error) {
	return l.apply(ctx, userID, -amount, models.TxDeduct, Reference{
		Type:        models.RefJob,
		ID:          jobID,
		Description: fmt.Sprintf("reserve %d credits for batch job", amount),
	})
}

// Release returns the unused part of a reservation. A job can be released
// only once; a repeat returns models.ErrAlreadyApplied.
func (l *CreditLedger) Release(ctx context.Context, userID string, amount int, jobID string) (int, error) {
	return l.apply(ctx, userID, amount, models.TxRefund, Reference{
		Type:        models.RefJob,
		ID:          jobID,
		Description: fmt.Sprintf("release %d unused credits", amount),
	})
}

func (l *CreditLedger) Grant(ctx context.Context, userID string, amount int, txType models.TransactionType, ref Reference) (int, error) {
	if txType != models.TxPurchase && txType != models.TxBonus {
		return 0, fmt.Errorf("grant type %s: %w", txType, models.ErrInvalidAmount)
	}
	return l.apply(ctx, userID, amount, txType, ref)
}

func (l *CreditLedger) apply(ctx context.Context, userID string, delta int, txType models.TransactionType, ref Reference) (int, error) {
	if delta == 0 || (txType == models.TxDeduct) != (delta < 0) {
		return 0, models.ErrInvalidAmount
	}
	balance, err := l.store.Apply(ctx, models.CreditMutation{
		UserID:        userID,
		Delta:         delta,
		Type:          txType,
		ReferenceType: ref.Type,
		ReferenceID:   ref.ID,
		Description:   ref.Description,
	})
	if err != nil {
		if !errors.Is(err, models.ErrInsufficientCredits) && !errors.Is(err, models.ErrAlreadyApplied) {
			l.log.Error().Err(err).Str("user_id", userID).Str("type", string(txType)).
				Str("reference_type", string(ref.Type)).Str("reference_id", ref.ID).Msg("ledger mutation failed")
		}
		return balance, err
	}
	l.log.Debug().Str("user_id", userID).Int("delta", delta).Int("balance", balance).
		Str("type", string(txType)).Str("reference_id", ref.ID).Msg("ledger mutation applied")
	return balance, nil
}

// CheckBalance reports whether the user can afford at least one credit. With
// a loaded user no query is made.
func (l *CreditLedger) CheckBalance(ctx context.Context, userID string, loaded *models.User) (BalanceStatus, error) {
	if loaded != nil {
		return BalanceStatus{HasCredits: loaded.AICredits > 0, Balance: loaded.AICredits}, nil
	}
	balance, err := l.store.Balance(ctx, userID)
	if err != nil {
		return BalanceStatus{}, err
	}
	return BalanceStatus{HasCredits: balance > 0, Balance: balance}, nil
}

func (l *CreditLedger) History(ctx context.Context, userID string, limit int) ([]models.CreditTransaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return l.store.ListTransactions(ctx, userID, limit)
}

// Reconcile replays the user's log from a zero balance and checks every
// balance_after along the way as well as the final stored balance.
func (l *CreditLedger) Reconcile(ctx context.Context, userID string) (*ReconcileReport, error) {
	stored, err := l.store.Balance(ctx, userID)
	if err != nil {
		return nil, err
	}
	txs, err := l.store.ListTransactions(ctx, userID, 0)
	if err != nil {
		return nil, err
	}

	report := &ReconcileReport{UserID: userID, StoredBalance: stored, Transactions: len(txs)}
	running := 0
	for _, tx := range txs {
		running += tx.SignedAmount()
		if running != tx.BalanceAfter {
			report.Mismatches = append(report.Mismatches,
				fmt.Sprintf("transaction %s: replayed %d, recorded %d", tx.ID, running, tx.BalanceAfter))
		}
		if running < 0 {
			report.Mismatches = append(report.Mismatches, fmt.Sprintf("transaction %s: negative balance %d", tx.ID, running))
		}
	}
	report.ReplayedBalance = running
	if running != stored {
		report.Mismatches = append(report.Mismatches, fmt.Sprintf("stored balance %d, replayed %d", stored, running))
	}
	report.Consistent = len(report.Mismatches) == 0
	if !report.Consistent {
		l.log.Warn().Str("user_id", userID).Strs("mismatches", report.Mismatches).Msg("ledger out of balance")
	}
	return report, nil
}

// BypassLedger is the development mode ledger: every check passes and
// nothing is written.
type BypassLedger struct {
	Balance int
}

func NewBypassLedger(balance int) *BypassLedger {
	return &BypassLedger{Balance: balance}
}

func (b *BypassLedger) Deduct(context.Context, string, int, Reference) (int, error) {
	return b.Balance, nil
}

func (b *BypassLedger) Refund(context.Context, string, int, Reference) (int, error) {
	return b.Balance, nil
}

func (b *BypassLedger) Reserve(context.Context, string, int, string) (int, error) {
	return b.Balance, nil
}

func (b *BypassLedger) Release(context.Context, string, int, string) (int, error) {
	return b.Balance, nil
}

func (b *BypassLedger) Grant(context.Context, string, int, models.TransactionType, Reference) (int, error) {
	return b.Balance, nil
}

func (b *BypassLedger) CheckBalance(context.Context, string, *models.User) (BalanceStatus, error) {
	return BalanceStatus{HasCredits: true, Balance: b.Balance}, nil
}

func (b *BypassLedger) History(context.Context, string, int) ([]models.CreditTransaction, error) {
	return nil, nil
}

func (b *BypassLedger) Reconcile(_ context.Context, userID string) (*ReconcileReport, error) {
	return &ReconcileReport{UserID: userID, StoredBalance: b.Balance, ReplayedBalance: b.Balance, Consistent: true}, nil
}
