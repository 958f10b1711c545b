package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/digkill/WeddingAI/internal/models"
)

const PaymentSucceeded = "succeeded"

type PurchaseService struct {
	log      zerolog.Logger
	payments PaymentStore
	plans    *PlanService
	ledger   Ledger
}

type PurchaseInput struct {
	UserID   string `json:"userId" validate:"required"`
	PlanID   int64  `json:"planId" validate:"required"`
	Provider string `json:"provider" validate:"required"`
	ChargeID string `json:"chargeId" validate:"required"`
}

func NewPurchaseService(log zerolog.Logger, payments PaymentStore, plans *PlanService, ledger Ledger) *PurchaseService {
	return &PurchaseService{log: log, payments: payments, plans: plans, ledger: ledger}
}

// Record books a settled purchase of a plan. Replaying the same provider
// charge is harmless: the payment row and the ledger reference are both
// unique.
func (s *PurchaseService) Record(ctx context.Context, in PurchaseInput) (*models.Payment, int, error) {
	plan, err := s.plans.GetByID(ctx, in.PlanID)
	if err != nil {
		return nil, 0, err
	}

	planID := plan.ID
	payment := &models.Payment{
		UserID:         in.UserID,
		PlanID:         &planID,
		Provider:       in.Provider,
		ProviderCharge: in.ChargeID,
		Currency:       plan.Currency,
		Amount:         plan.PriceMinorUnits,
		Credits:        plan.Credits,
		Status:         "pending",
	}
	if err := s.payments.Create(ctx, payment); err != nil {
		if !errors.Is(err, models.ErrAlreadyApplied) {
			return nil, 0, fmt.Errorf("record payment: %w", err)
		}
		existing, findErr := s.payments.FindByProviderCharge(ctx, in.Provider, in.ChargeID)
		if findErr != nil {
			return nil, 0, findErr
		}
		if existing == nil {
			return nil, 0, fmt.Errorf("record payment: %w", err)
		}
		payment = existing
	}

	balance, err := s.ledger.Grant(ctx, payment.UserID, payment.Credits, models.TxPurchase, Reference{
		Type:        models.RefPayment,
		ID:          in.Provider + ":" + in.ChargeID,
		Description: fmt.Sprintf("purchase of %s", plan.Title),
	})
	if err != nil {
		if errors.Is(err, models.ErrAlreadyApplied) {
			return payment, 0, models.ErrAlreadyApplied
		}
		return nil, 0, fmt.Errorf("grant purchase credits: %w", err)
	}
	if err := s.payments.UpdateStatus(ctx, payment.ID, PaymentSucceeded); err != nil {
		s.log.Warn().Err(err).Int64("payment_id", payment.ID).Msg("failed to mark payment succeeded")
	}
	payment.Status = PaymentSucceeded

	s.log.Info().Str("user_id", payment.UserID).Int("credits", payment.Credits).Str("charge", in.ChargeID).Msg("purchase recorded")
	return payment, balance, nil
}
