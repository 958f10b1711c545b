package service

import (
	"context"
	"errors"
	"strings"

	"github.com/digkill/WeddingAI/internal/models"
)

var ErrPlanNotFound = errors.New("plan not found")

type PlanService struct {
	repo            PlanStore
	defaultCurrency string
}

type CreatePlanInput struct {
	Title           string `json:"title" validate:"required"`
	Description     string `json:"description"`
	Currency        string `json:"currency"`
	PriceMinorUnits int    `json:"priceMinorUnits" validate:"required,min=1"`
	Credits         int    `json:"credits" validate:"required,min=1"`
	IsActive        *bool  `json:"isActive"`
}

type UpdatePlanInput struct {
	Title           *string `json:"title"`
	Description     *string `json:"description"`
	Currency        *string `json:"currency"`
	PriceMinorUnits *int    `json:"priceMinorUnits"`
	Credits         *int    `json:"credits"`
	IsActive        *bool   `json:"isActive"`
}

func NewPlanService(repo PlanStore, defaultCurrency string) *PlanService {
	if defaultCurrency == "" {
		defaultCurrency = "USD"
	}
	return &PlanService{repo: repo, defaultCurrency: defaultCurrency}
}

func (s *PlanService) List(ctx context.Context) ([]models.Plan, error) {
	return s.repo.List(ctx, false)
}

// ListActive returns the plans customers can buy.
func (s *PlanService) ListActive(ctx context.Context) ([]models.Plan, error) {
	return s.repo.List(ctx, true)
}

func (s *PlanService) Create(ctx context.Context, input CreatePlanInput) (*models.Plan, error) {
	if input.Currency == "" {
		input.Currency = s.defaultCurrency
	}
	isActive := true
	if input.IsActive != nil {
		isActive = *input.IsActive
	}
	plan := models.Plan{
		Title:           input.Title,
		Description:     input.Description,
		Currency:        strings.ToUpper(input.Currency),
		PriceMinorUnits: input.PriceMinorUnits,
		Credits:         input.Credits,
		IsActive:        isActive,
	}
	return s.repo.Create(ctx, &plan)
}

func (s *PlanService) Update(ctx context.Context, id int64, input UpdatePlanInput) (*models.Plan, error) {
	existing, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, ErrPlanNotFound
	}
	if input.Title != nil {
		existing.Title = *input.Title
	}
	if input.Description != nil {
		existing.Description = *input.Description
	}
	if input.Currency != nil && *input.Currency != "" {
		existing.Currency = strings.ToUpper(*input.Currency)
	}
	if input.PriceMinorUnits != nil && *input.PriceMinorUnits > 0 {
		existing.PriceMinorUnits = *input.PriceMinorUnits
	}
	if input.Credits != nil && *input.Credits > 0 {
		existing.Credits = *input.Credits
	}
	if input.IsActive != nil {
		existing.IsActive = *input.IsActive
	}
	return s.repo.Update(ctx, existing)
}

func (s *PlanService) Delete(ctx context.Context, id int64) error {
	return s.repo.Delete(ctx, id)
}

func (s *PlanService) GetByID(ctx context.Context, id int64) (*models.Plan, error) {
	plan, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, ErrPlanNotFound
	}
	return plan, nil
}
