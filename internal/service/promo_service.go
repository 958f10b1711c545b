package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/digkill/WeddingAI/internal/models"
	"github.com/digkill/WeddingAI/internal/repository"
)

var (
	ErrPromoInvalid         = errors.New("promo code invalid")
	ErrPromoExhausted       = errors.New("promo code exhausted")
	ErrPromoAlreadyRedeemed = errors.New("promo code already redeemed")
)

type PromoService struct {
	promos PromoStore
	ledger Ledger
}

func NewPromoService(promos PromoStore, ledger Ledger) *PromoService {
	return &PromoService{promos: promos, ledger: ledger}
}

// Apply redeems a code for the user. Each user can redeem a code once; the
// ledger reference enforces it.
func (s *PromoService) Apply(ctx context.Context, userID, code string) (int, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return 0, ErrPromoInvalid
	}
	promo, err := s.promos.GetByCode(ctx, code)
	if err != nil {
		return 0, fmt.Errorf("get promo: %w", err)
	}
	if promo == nil {
		return 0, ErrPromoInvalid
	}

	if err := s.promos.ClaimUse(ctx, promo.ID); err != nil {
		if errors.Is(err, repository.ErrPromoExhausted) {
			return 0, ErrPromoExhausted
		}
		return 0, err
	}

	balance, err := s.ledger.Grant(ctx, userID, promo.Credits, models.TxBonus, Reference{
		Type:        models.RefPromo,
		ID:          strconv.FormatInt(promo.ID, 10),
		Description: "promo " + promo.Code,
	})
	if err != nil {
		if retErr := s.promos.ReturnUse(context.WithoutCancel(ctx), promo.ID); retErr != nil {
			err = errors.Join(err, retErr)
		}
		if errors.Is(err, models.ErrAlreadyApplied) {
			return 0, ErrPromoAlreadyRedeemed
		}
		return 0, fmt.Errorf("grant promo credits: %w", err)
	}
	return balance, nil
}

func (s *PromoService) List(ctx context.Context) ([]models.PromoCode, error) {
	return s.promos.List(ctx)
}

type PromoInput struct {
	Code    string `json:"code" validate:"required,min=3,max=64"`
	Credits int    `json:"credits" validate:"required,min=1"`
	MaxUses int    `json:"maxUses" validate:"required,min=1"`
}

func (s *PromoService) Create(ctx context.Context, in PromoInput) (*models.PromoCode, error) {
	return s.promos.Create(ctx, &models.PromoCode{
		Code:    strings.ToUpper(strings.TrimSpace(in.Code)),
		Credits: in.Credits,
		MaxUses: in.MaxUses,
	})
}

func (s *PromoService) Update(ctx context.Context, id int64, in PromoInput) (*models.PromoCode, error) {
	existing, err := s.promos.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, ErrPromoInvalid
	}
	existing.Code = strings.ToUpper(strings.TrimSpace(in.Code))
	existing.Credits = in.Credits
	existing.MaxUses = in.MaxUses
	return s.promos.Update(ctx, existing)
}

func (s *PromoService) Delete(ctx context.Context, id int64) error {
	return s.promos.Delete(ctx, id)
}
