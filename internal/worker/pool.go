// Package worker runs batch jobs on the server and recovers jobs that were
// abandoned mid-flight.
package worker

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/digkill/WeddingAI/internal/models"
	"github.com/digkill/WeddingAI/internal/service"
)

// JobRunner is the part of the job service the pool drives.
type JobRunner interface {
	ExpandTasks(job *models.GenerationJob) ([]service.Task, error)
	RunTask(ctx context.Context, job *models.GenerationJob, task service.Task, emit service.Emitter) error
	CompleteJob(ctx context.Context, userID, jobID string) (*models.GenerationJob, error)
}

// Pool executes the tasks of a job with bounded concurrency. Work submitted
// in the background is detached from any request and tracked until
// Shutdown.
type Pool struct {
	jobs        JobRunner
	concurrency int
	log         zerolog.Logger

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPool(jobs JobRunner, concurrency int, log zerolog.Logger) *Pool {
	if concurrency <= 0 {
		concurrency = 1
	}
	base, cancel := context.WithCancel(context.Background())
	return &Pool{
		jobs:        jobs,
		concurrency: concurrency,
		log:         log.With().Str("component", "pool").Logger(),
		base:        base,
		cancel:      cancel,
	}
}

// Run executes every task of job and then closes it. Tasks that could not
// report are counted as failed by the closing step.
func (p *Pool) Run(ctx context.Context, job *models.GenerationJob, emit service.Emitter) (*models.GenerationJob, error) {
	tasks, err := p.jobs.ExpandTasks(job)
	if err != nil {
		if _, cerr := p.jobs.CompleteJob(ctx, job.UserID, job.ID); cerr != nil {
			p.log.Error().Err(cerr).Str("job_id", job.ID).Msg("failed to close inconsistent job")
		}
		return nil, err
	}

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for _, task := range tasks {
		task := task
		g.Go(func() error {
			if err := p.jobs.RunTask(ctx, job, task, emit); err != nil {
				p.log.Error().Err(err).Str("job_id", job.ID).Int("task", task.Index).Msg("task failed to report")
			}
			return nil
		})
	}
	_ = g.Wait()

	return p.jobs.CompleteJob(ctx, job.UserID, job.ID)
}

// Execute runs job on behalf of a caller that waits for the result, such as
// a streaming request. The job is detached from the caller and tracked until
// Shutdown like submitted work.
func (p *Pool) Execute(job *models.GenerationJob, emit service.Emitter) (*models.GenerationJob, error) {
	p.wg.Add(1)
	defer p.wg.Done()
	return p.Run(p.base, job, emit)
}

// Submit runs job in the background.
func (p *Pool) Submit(job *models.GenerationJob) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if _, err := p.Run(p.base, job, nil); err != nil {
			p.log.Error().Err(err).Str("job_id", job.ID).Msg("background job failed")
		}
	}()
}

// Shutdown waits for background jobs. When ctx expires first the remaining
// work is cancelled and left to the sweeper.
func (p *Pool) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		return ctx.Err()
	}
}
