package memory

import (
	"context"
	"fmt"

	"github.com/digkill/WeddingAI/internal/models"
)

type Generations struct{ s *Store }

func (r *Generations) Insert(_ context.Context, g *models.Generation) error {
	if g.Status == models.GenerationFailed && g.CreditsUsed != 0 {
		return fmt.Errorf("failed generation %s cannot use credits", g.ID)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.records {
		if existing.ID == g.ID {
			return fmt.Errorf("insert generation: duplicate id %s", g.ID)
		}
	}
	cp := *g
	cp.CreatedAt = r.s.now()
	r.s.records = append(r.s.records, cp)
	return nil
}

func (r *Generations) List(_ context.Context, f models.GenerationFilter) ([]models.Generation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Generation
	for i := len(r.s.records) - 1; i >= 0; i-- {
		g := r.s.records[i]
		if g.UserID != f.UserID || (f.JobID != "" && g.JobID != f.JobID) || (f.AlbumID != "" && g.AlbumID != f.AlbumID) {
			continue
		}
		out = append(out, g)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

type ReferencePhotos struct{ s *Store }

func (r *ReferencePhotos) Activate(_ context.Context, photo *models.ReferencePhoto) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.references {
		if p.UserID == photo.UserID && p.Role == photo.Role {
			p.IsActive = false
		}
	}
	cp := *photo
	cp.IsActive = true
	cp.CreatedAt = r.s.now()
	r.s.references = append(r.s.references, &cp)
	photo.IsActive = true
	photo.CreatedAt = cp.CreatedAt
	return nil
}

func (r *ReferencePhotos) FindActive(_ context.Context, userID string, role models.Role) (*models.ReferencePhoto, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.references {
		if p.UserID == userID && p.Role == role && p.IsActive {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *ReferencePhotos) ListActive(_ context.Context, userID string) ([]models.ReferencePhoto, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.ReferencePhoto
	for _, p := range r.s.references {
		if p.UserID == userID && p.IsActive {
			out = append(out, *p)
		}
	}
	return out, nil
}
