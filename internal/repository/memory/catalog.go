package memory

import (
	"context"
	"sort"

	"github.com/digkill/WeddingAI/internal/models"
	"github.com/digkill/WeddingAI/internal/repository"
)

type Promos struct{ s *Store }

func (r *Promos) GetByCode(_ context.Context, code string) (*models.PromoCode, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.promos {
		if p.Code == code {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *Promos) GetByID(_ context.Context, id int64) (*models.PromoCode, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if p, ok := r.s.promos[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (r *Promos) List(_ context.Context) ([]models.PromoCode, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]models.PromoCode, 0, len(r.s.promos))
	for _, p := range r.s.promos {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r *Promos) Create(_ context.Context, promo *models.PromoCode) (*models.PromoCode, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.nextID++
	cp := *promo
	cp.ID = r.s.nextID
	cp.Uses = 0
	cp.CreatedAt = r.s.now()
	r.s.promos[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r *Promos) Update(_ context.Context, promo *models.PromoCode) (*models.PromoCode, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	existing, ok := r.s.promos[promo.ID]
	if !ok {
		return nil, nil
	}
	existing.Code, existing.Credits, existing.MaxUses, existing.Uses = promo.Code, promo.Credits, promo.MaxUses, promo.Uses
	cp := *existing
	return &cp, nil
}

func (r *Promos) Delete(_ context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.promos, id)
	return nil
}

func (r *Promos) ClaimUse(_ context.Context, promoID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.promos[promoID]
	if !ok || p.Uses >= p.MaxUses {
		return repository.ErrPromoExhausted
	}
	p.Uses++
	return nil
}

func (r *Promos) ReturnUse(_ context.Context, promoID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if p, ok := r.s.promos[promoID]; ok && p.Uses > 0 {
		p.Uses--
	}
	return nil
}

type Plans struct{ s *Store }

func (r *Plans) List(_ context.Context, activeOnly bool) ([]models.Plan, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Plan
	for _, p := range r.s.plans {
		if activeOnly && !p.IsActive {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PriceMinorUnits != out[j].PriceMinorUnits {
			return out[i].PriceMinorUnits < out[j].PriceMinorUnits
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *Plans) GetByID(_ context.Context, id int64) (*models.Plan, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if p, ok := r.s.plans[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (r *Plans) Create(_ context.Context, plan *models.Plan) (*models.Plan, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.nextID++
	cp := *plan
	cp.ID = r.s.nextID
	cp.CreatedAt, cp.UpdatedAt = r.s.now(), r.s.now()
	r.s.plans[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r *Plans) Update(_ context.Context, plan *models.Plan) (*models.Plan, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.plans[plan.ID]; !ok {
		return nil, nil
	}
	cp := *plan
	cp.UpdatedAt = r.s.now()
	r.s.plans[plan.ID] = &cp
	out := cp
	return &out, nil
}

func (r *Plans) Delete(_ context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if p, ok := r.s.plans[id]; ok {
		p.IsActive = false
	}
	return nil
}

type Payments struct{ s *Store }

func (r *Payments) Create(_ context.Context, payment *models.Payment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := payment.Provider + "|" + payment.ProviderCharge
	if _, dup := r.s.payments[key]; dup {
		return models.ErrAlreadyApplied
	}
	r.s.nextID++
	payment.ID = r.s.nextID
	payment.CreatedAt = r.s.now()
	cp := *payment
	r.s.payments[key] = &cp
	return nil
}

func (r *Payments) UpdateStatus(_ context.Context, paymentID int64, status string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.payments {
		if p.ID == paymentID {
			p.Status = status
		}
	}
	return nil
}

func (r *Payments) FindByProviderCharge(_ context.Context, provider, chargeID string) (*models.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if p, ok := r.s.payments[provider+"|"+chargeID]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}
