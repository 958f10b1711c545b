package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/digkill/WeddingAI/internal/kie"
	"github.com/digkill/WeddingAI/internal/models"
)

// Task is one image of a batch job.
type Task struct {
	Index int          `json:"index"`
	Style models.Style `json:"style"`
	Role  models.Role  `json:"role"`
}

// JobService runs batch generations. Credits for the whole batch are
// reserved up front; tasks consume them through the job counters and the
// unused rest is released once, when the job reaches a terminal status.
type JobService struct {
	log        zerolog.Logger
	validator  *RequestValidator
	ledger     Ledger
	jobs       JobStore
	records    GenerationStore
	references *ReferenceService
	provider   Generator
	mirror     *AssetMirror
}

func NewJobService(
	log zerolog.Logger,
	validator *RequestValidator,
	ledger Ledger,
	jobs JobStore,
	records GenerationStore,
	references *ReferenceService,
	provider Generator,
	mirror *AssetMirror,
) *JobService {
	return &JobService{
		log:        log.With().Str("component", "jobs").Logger(),
		validator:  validator,
		ledger:     ledger,
		jobs:       jobs,
		records:    records,
		references: references,
		provider:   provider,
		mirror:     mirror,
	}
}

// CreateJob validates the batch, reserves its credits and stores the job as
// PENDING. No job row exists when the reservation fails.
func (s *JobService) CreateJob(ctx context.Context, user *models.User, req BatchRequest) (*models.GenerationJob, error) {
	model, err := s.validator.ValidateBatch(req)
	if err != nil {
		return nil, err
	}
	refs, err := s.references.Resolve(ctx, user.ID, req.Roles)
	if err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("job id: %w", err)
	}
	job := &models.GenerationJob{
		ID:      id.String(),
		UserID:  user.ID,
		AlbumID: req.AlbumID,
		Mode:    models.JobModeBatch,
		Config: models.JobConfig{
			Styles:            req.Styles,
			Roles:             req.Roles,
			ModelID:           model.ID,
			ReferencePhotoIDs: make(map[models.Role]string, len(refs)),
			ReferenceURLs:     make(map[models.Role]string, len(refs)),
		},
		TotalImages:     req.TotalImages,
		CreditsReserved: req.TotalImages,
		Status:          models.JobPending,
	}
	for role, photo := range refs {
		job.Config.ReferencePhotoIDs[role] = photo.ID
		job.Config.ReferenceURLs[role] = photo.OriginalURL
	}

	if _, err := s.ledger.Reserve(ctx, user.ID, job.CreditsReserved, job.ID); err != nil {
		return nil, err
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		if _, relErr := s.ledger.Release(context.WithoutCancel(ctx), user.ID, job.CreditsReserved, job.ID); relErr != nil {
			s.log.Error().Err(relErr).Str("job_id", job.ID).Msg("failed to release reservation of unsaved job")
		}
		return nil, fmt.Errorf("create job: %w", err)
	}

	s.log.Info().Str("job_id", job.ID).Str("user_id", user.ID).Int("total_images", job.TotalImages).Msg("job created")
	return job, nil
}

// ExpandTasks turns a job into its task list: styles round-robin, a single
// role as is, several roles as one COUPLE image.
func (s *JobService) ExpandTasks(job *models.GenerationJob) ([]Task, error) {
	tasks, err := ExpandTasks(job)
	if err != nil {
		s.log.Error().Err(err).Str("job_id", job.ID).Int("total_images", job.TotalImages).Int("tasks", len(tasks)).Msg("task expansion inconsistent")
	}
	return tasks, err
}

func ExpandTasks(job *models.GenerationJob) ([]Task, error) {
	styles, roles := job.Config.Styles, job.Config.Roles
	var tasks []Task
	if len(styles) > 0 && len(roles) > 0 {
		role := roles[0]
		if len(roles) > 1 {
			role = models.RoleCouple
		}
		tasks = make([]Task, 0, job.TotalImages)
		for i := 0; i < job.TotalImages; i++ {
			tasks = append(tasks, Task{Index: i, Style: styles[i%len(styles)], Role: role})
		}
	}
	if len(tasks) != job.TotalImages || len(tasks) == 0 {
		return tasks, fmt.Errorf("%w: %d tasks for %d images", models.ErrTaskCountMismatch, len(tasks), job.TotalImages)
	}
	return tasks, nil
}

// RunTask generates one image of the job and reports it into the job
// counters. A provider failure is recorded, not returned; the error is
// reserved for failures to update the job itself. Tasks of a closed job are
// skipped without calling the provider.
func (s *JobService) RunTask(ctx context.Context, job *models.GenerationJob, task Task, emit Emitter) error {
	open, err := s.jobs.MarkProcessing(ctx, job.ID)
	if err != nil {
		return err
	}
	if !open {
		s.log.Debug().Str("job_id", job.ID).Int("task", task.Index).Msg("job closed, task skipped")
		return nil
	}

	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("task record id: %w", err)
	}
	urls := referenceURLs(job)
	record := &models.Generation{
		ID:      id.String(),
		UserID:  job.UserID,
		AlbumID: job.AlbumID,
		JobID:   job.ID,
		Style:   task.Style,
		Role:    task.Role,
		ModelID: job.Config.ModelID,
	}
	if len(urls) > 0 {
		record.OriginalURL = urls[0]
	}
	log := s.log.With().Str("job_id", job.ID).Int("task", task.Index).Logger()

	result, genErr := s.provider.Generate(ctx, kie.Request{
		ImageURLs: urls,
		Style:     task.Style,
		Role:      task.Role,
		ModelID:   job.Config.ModelID,
		Count:     1,
	})

	now := time.Now().UTC()
	record.CompletedAt = &now
	var counted bool
	if genErr != nil {
		log.Warn().Err(genErr).Msg("task generation failed")
		counted, err = s.jobs.IncrementFailed(ctx, job.ID)
		record.Status = models.GenerationFailed
		record.ErrorMessage = genErr.Error()
	} else {
		record.Cost = result.Cost
		record.ProviderJobID = result.ProviderJobID
		counted, err = s.jobs.IncrementCompleted(ctx, job.ID)
		if err == nil && counted {
			record.Status = models.GenerationCompleted
			record.CreditsUsed = 1
			record.GeneratedURLs = s.mirror.Mirror(ctx, job.UserID, result.URLs)
			for _, url := range record.GeneratedURLs {
				emit.emit(Event{Type: EventImage, Index: task.Index, URL: url})
			}
		} else {
			// No credit backs this image, so it is not delivered.
			record.Status = models.GenerationFailed
			record.ErrorMessage = models.ErrJobClosed.Error()
		}
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to update job counters")
	} else if !counted {
		log.Warn().Msg("task reported after job was closed")
	}

	if insErr := s.records.Insert(ctx, record); insErr != nil {
		log.Error().Err(insErr).Msg("failed to persist task record")
	}
	emit.emit(Event{Type: EventTask, Index: task.Index, Generation: record})

	if err != nil {
		return fmt.Errorf("report task %d of job %s: %w", task.Index, job.ID, err)
	}
	if _, err := s.tryComplete(ctx, job.ID, false); err != nil {
		return err
	}
	return nil
}

// tryComplete attempts the terminal transition. Only the caller that wins
// the transition releases the unused reservation.
func (s *JobService) tryComplete(ctx context.Context, jobID string, force bool) (*models.GenerationJob, error) {
	fired, err := s.jobs.Finalize(ctx, jobID, force)
	if err != nil {
		return nil, err
	}
	if !fired {
		return nil, nil
	}
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, models.ErrJobNotFound
	}
	s.log.Info().Str("job_id", job.ID).Str("status", string(job.Status)).
		Int("completed", job.CompletedImages).Int("failed", job.FailedImages).Msg("job finished")
	s.release(ctx, job)
	return job, nil
}

// release returns the unused part of a terminal job's reservation. A failed
// release is left to the recovery sweep.
func (s *JobService) release(ctx context.Context, job *models.GenerationJob) {
	surplus := job.Surplus()
	if surplus == 0 {
		return
	}
	balance, err := s.ledger.Release(ctx, job.UserID, surplus, job.ID)
	switch {
	case err == nil:
		s.log.Info().Str("job_id", job.ID).Int("released", surplus).Int("balance", balance).Msg("reservation released")
	case errors.Is(err, models.ErrAlreadyApplied):
	default:
		s.log.Error().Err(err).Str("job_id", job.ID).Int("surplus", surplus).Msg("release failed")
	}
}

// CompleteJob closes a job, counting tasks that never reported as failed. It
// is idempotent: a terminal job is returned unchanged. An empty userID skips
// the ownership check.
func (s *JobService) CompleteJob(ctx context.Context, userID, jobID string) (*models.GenerationJob, error) {
	job, err := s.Get(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return job, nil
	}
	if _, err := s.tryComplete(ctx, jobID, true); err != nil {
		return nil, err
	}
	return s.Get(ctx, userID, jobID)
}

func (s *JobService) Get(ctx context.Context, userID, jobID string) (*models.GenerationJob, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil || (userID != "" && job.UserID != userID) {
		return nil, models.ErrJobNotFound
	}
	return job, nil
}

func (s *JobService) List(ctx context.Context, userID string, limit int) ([]models.GenerationJob, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.jobs.ListByUser(ctx, userID, limit)
}

// SweepResult summarizes one recovery pass.
type SweepResult struct {
	Closed   int `json:"closed"`
	Released int `json:"released"`
}

// Sweep force-completes jobs idle since before and retries releases that
// did not go through.
func (s *JobService) Sweep(ctx context.Context, before time.Time, limit int) (SweepResult, error) {
	var res SweepResult
	stale, err := s.jobs.ListStale(ctx, before, limit)
	if err != nil {
		return res, fmt.Errorf("list stale jobs: %w", err)
	}
	for _, job := range stale {
		closed, err := s.tryComplete(ctx, job.ID, true)
		if err != nil {
			s.log.Error().Err(err).Str("job_id", job.ID).Msg("failed to close stale job")
			continue
		}
		if closed != nil {
			res.Closed++
		}
	}

	unreleased, err := s.jobs.ListUnreleased(ctx, limit)
	if err != nil {
		return res, fmt.Errorf("list unreleased jobs: %w", err)
	}
	for i := range unreleased {
		job := &unreleased[i]
		if _, err := s.ledger.Release(ctx, job.UserID, job.Surplus(), job.ID); err != nil {
			if !errors.Is(err, models.ErrAlreadyApplied) {
				s.log.Error().Err(err).Str("job_id", job.ID).Msg("release retry failed")
			}
			continue
		}
		res.Released++
	}
	return res, nil
}

func referenceURLs(job *models.GenerationJob) []string {
	urls := make([]string, 0, len(job.Config.Roles))
	for _, role := range job.Config.Roles {
		if u, ok := job.Config.ReferenceURLs[role]; ok && u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}
