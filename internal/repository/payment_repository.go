package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/WeddingAI/internal/models"
)

// PaymentRepository records completed credit purchases. A provider charge id
// can be recorded only once.
type PaymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(ctx context.Context, payment *models.Payment) error {
	const query = `
INSERT INTO payments (user_id, plan_id, provider, provider_payment_charge_id, currency, amount, credits, status)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, payment.UserID, payment.PlanID, payment.Provider, payment.ProviderCharge, payment.Currency, payment.Amount, payment.Credits, payment.Status)
	if err != nil {
		if isDuplicateKey(err) {
			return models.ErrAlreadyApplied
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("payment last insert id: %w", err)
	}
	payment.ID = id
	return nil
}

func (r *PaymentRepository) UpdateStatus(ctx context.Context, paymentID int64, status string) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE payments SET status = ? WHERE id = ?`, status, paymentID); err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}
	return nil
}

func (r *PaymentRepository) FindByProviderCharge(ctx context.Context, provider, chargeID string) (*models.Payment, error) {
	const query = `
SELECT id, user_id, plan_id, provider, provider_payment_charge_id, currency, amount, credits, status, created_at
FROM payments WHERE provider = ? AND provider_payment_charge_id = ?`
	var (
		p      models.Payment
		planID sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx, query, provider, chargeID).
		Scan(&p.ID, &p.UserID, &planID, &p.Provider, &p.ProviderCharge, &p.Currency, &p.Amount, &p.Credits, &p.Status, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	if planID.Valid {
		p.PlanID = &planID.Int64
	}
	return &p, nil
}
