package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/digkill/WeddingAI/internal/models"
)

// CreditRepository owns the users.ai_credits column and the credit
// transaction log. Apply is the only statement path that changes a balance.
type CreditRepository struct {
	db *sql.DB
}

func NewCreditRepository(db *sql.DB) *CreditRepository {
	return &CreditRepository{db: db}
}

// Apply changes the balance by m.Delta and appends the matching transaction
// row in one database transaction. Debits are conditional on the balance
// covering the amount, so concurrent debits can never overdraw.
func (r *CreditRepository) Apply(ctx context.Context, m models.CreditMutation) (int, error) {
	if m.Delta == 0 {
		return 0, models.ErrInvalidAmount
	}
	if m.TransactionID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return 0, fmt.Errorf("transaction id: %w", err)
		}
		m.TransactionID = id.String()
	}

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("begin credit tx: %w", err)
	}
	defer tx.Rollback()

	var res sql.Result
	if m.Delta < 0 {
		const debit = `
UPDATE users SET ai_credits = ai_credits - ?, updated_at = NOW(6)
WHERE id = ? AND ai_credits >= ?`
		res, err = tx.ExecContext(ctx, debit, -m.Delta, m.UserID, -m.Delta)
	} else {
		const credit = `UPDATE users SET ai_credits = ai_credits + ?, updated_at = NOW(6) WHERE id = ?`
		res, err = tx.ExecContext(ctx, credit, m.Delta, m.UserID)
	}
	if err != nil {
		return 0, fmt.Errorf("update balance: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("balance rows affected: %w", err)
	}

	// The row is locked by the UPDATE above, so this read is the exact
	// post-mutation balance.
	var balance int
	if err := tx.QueryRowContext(ctx, `SELECT ai_credits FROM users WHERE id = ?`, m.UserID).Scan(&balance); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, models.ErrUserNotFound
		}
		return 0, fmt.Errorf("read balance: %w", err)
	}
	if affected == 0 {
		if m.Delta < 0 {
			return balance, &models.InsufficientCreditsError{Balance: balance, Required: -m.Delta}
		}
		return 0, models.ErrUserNotFound
	}

	amount := m.Delta
	if amount < 0 {
		amount = -amount
	}
	const insert = `
INSERT INTO credit_transactions (id, user_id, type, amount, balance_after, reference_type, reference_id, description)
VALUES (?, ?, ?, ?, ?, ?, ?, NULLIF(?, ''))`
	if _, err := tx.ExecContext(ctx, insert, m.TransactionID, m.UserID, m.Type, amount, balance, m.ReferenceType, m.ReferenceID, m.Description); err != nil {
		if isDuplicateKey(err) {
			return 0, models.ErrAlreadyApplied
		}
		return 0, fmt.Errorf("insert credit transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit credit tx: %w", err)
	}
	return balance, nil
}

func (r *CreditRepository) Balance(ctx context.Context, userID string) (int, error) {
	var balance int
	if err := r.db.QueryRowContext(ctx, `SELECT ai_credits FROM users WHERE id = ?`, userID).Scan(&balance); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, models.ErrUserNotFound
		}
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

// ListTransactions returns the user's log, newest first. A non-positive
// limit returns the whole log oldest first, which is the replay order.
func (r *CreditRepository) ListTransactions(ctx context.Context, userID string, limit int) ([]models.CreditTransaction, error) {
	query := `
SELECT id, user_id, type, amount, balance_after, reference_type, reference_id, COALESCE(description, ''), created_at
FROM credit_transactions WHERE user_id = ?`
	args := []any{userID}
	if limit > 0 {
		query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
		args = append(args, limit)
	} else {
		query += ` ORDER BY created_at ASC, id ASC`
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list credit transactions: %w", err)
	}
	defer rows.Close()

	var txs []models.CreditTransaction
	for rows.Next() {
		var t models.CreditTransaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Type, &t.Amount, &t.BalanceAfter, &t.ReferenceType, &t.ReferenceID, &t.Description, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan credit transaction: %w", err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}
