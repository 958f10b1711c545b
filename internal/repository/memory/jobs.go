package memory

import (
	"context"
	"time"

	"github.com/digkill/WeddingAI/internal/models"
)

type Jobs struct{ s *Store }

func (r *Jobs) Create(_ context.Context, job *models.GenerationJob) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *job
	now := r.s.now()
	cp.CreatedAt, cp.UpdatedAt = now, now
	r.s.jobs[job.ID] = &cp
	job.CreatedAt, job.UpdatedAt = now, now
	return nil
}

func (r *Jobs) GetByID(_ context.Context, id string) (*models.GenerationJob, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	job, ok := r.s.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *job
	return &cp, nil
}

func (r *Jobs) MarkProcessing(_ context.Context, id string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	job, ok := r.s.jobs[id]
	if !ok || job.Status.Terminal() {
		return false, nil
	}
	job.Status = models.JobProcessing
	job.UpdatedAt = r.s.now()
	return true, nil
}

func (r *Jobs) IncrementCompleted(_ context.Context, id string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	job, ok := r.s.jobs[id]
	if !ok || job.Status != models.JobProcessing ||
		job.CompletedImages+job.FailedImages >= job.TotalImages || job.CreditsUsed >= job.CreditsReserved {
		return false, nil
	}
	job.CompletedImages++
	job.CreditsUsed++
	job.UpdatedAt = r.s.now()
	return true, nil
}

func (r *Jobs) IncrementFailed(_ context.Context, id string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	job, ok := r.s.jobs[id]
	if !ok || job.Status != models.JobProcessing || job.CompletedImages+job.FailedImages >= job.TotalImages {
		return false, nil
	}
	job.FailedImages++
	job.UpdatedAt = r.s.now()
	return true, nil
}

func (r *Jobs) Finalize(_ context.Context, id string, force bool) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	job, ok := r.s.jobs[id]
	if !ok {
		return false, nil
	}
	if force {
		if job.Status.Terminal() {
			return false, nil
		}
	} else if job.Status != models.JobProcessing || job.CompletedImages+job.FailedImages < job.TotalImages {
		return false, nil
	}
	now := r.s.now()
	job.Status = models.FinalJobStatus(job.CompletedImages, job.TotalImages)
	job.FailedImages = job.TotalImages - job.CompletedImages
	job.CompletedAt = &now
	job.UpdatedAt = now
	return true, nil
}

func (r *Jobs) ListStale(_ context.Context, before time.Time, limit int) ([]models.GenerationJob, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.GenerationJob
	for _, job := range r.s.jobs {
		if !job.Status.Terminal() && job.UpdatedAt.Before(before) {
			out = append(out, *job)
		}
	}
	sortJobsByUpdated(out)
	return capJobs(out, limit), nil
}

func (r *Jobs) ListUnreleased(_ context.Context, limit int) ([]models.GenerationJob, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.GenerationJob
	for _, job := range r.s.jobs {
		if !job.Status.Terminal() || job.Surplus() == 0 {
			continue
		}
		if _, released := r.s.txKeys[txKey(job.UserID, models.RefJob, job.ID, models.TxRefund)]; released {
			continue
		}
		out = append(out, *job)
	}
	sortJobsByUpdated(out)
	return capJobs(out, limit), nil
}

func (r *Jobs) ListByUser(_ context.Context, userID string, limit int) ([]models.GenerationJob, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.GenerationJob
	for _, job := range r.s.jobs {
		if job.UserID == userID {
			out = append(out, *job)
		}
	}
	sortJobsByUpdated(out)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return capJobs(out, limit), nil
}

func capJobs(jobs []models.GenerationJob, limit int) []models.GenerationJob {
	if limit > 0 && len(jobs) > limit {
		return jobs[:limit]
	}
	return jobs
}
