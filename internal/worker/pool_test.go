package worker

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/WeddingAI/internal/kie"
	"github.com/digkill/WeddingAI/internal/models"
	"github.com/digkill/WeddingAI/internal/repository/memory"
	"github.com/digkill/WeddingAI/internal/service"
)

var testLog = zerolog.New(io.Discard)

// flakyGenerator fails every task whose style is in fail and tracks peak
// parallelism.
type flakyGenerator struct {
	fail    map[models.Style]bool
	running atomic.Int32
	peak    atomic.Int32
}

func (g *flakyGenerator) Generate(ctx context.Context, req kie.Request) (*kie.Result, error) {
	return g.GenerateStream(ctx, req, nil)
}

func (g *flakyGenerator) GenerateStream(_ context.Context, req kie.Request, onImage func(int, string)) (*kie.Result, error) {
	n := g.running.Add(1)
	defer g.running.Add(-1)
	for {
		peak := g.peak.Load()
		if n <= peak || g.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	if g.fail[req.Style] {
		return nil, errors.New("generation rejected")
	}
	if onImage != nil {
		onImage(0, "https://kie/"+string(req.Style)+".png")
	}
	return &kie.Result{URLs: []string{"https://kie/" + string(req.Style) + ".png"}}, nil
}

func newJobService(t *testing.T, store *memory.Store, gen service.Generator) *service.JobService {
	t.Helper()
	require.NoError(t, store.ReferencePhotos().Activate(context.Background(), &models.ReferencePhoto{
		ID: "ref-1", UserID: "u1", Role: models.RoleBride, OriginalURL: "https://cdn/ref.png",
	}))
	validator := service.NewRequestValidator(0, 20)
	refs := service.NewReferenceService(testLog, validator, service.NewFaceGate(nil, testLog), nil, store.ReferencePhotos())
	return service.NewJobService(testLog, validator, service.NewCreditLedger(testLog, store.Credits()),
		store.Jobs(), store.Generations(), refs, gen, nil)
}

func TestPool_RunPartialJob(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	store.SetBalance("u1", 10)
	gen := &flakyGenerator{fail: map[models.Style]bool{models.StyleVintage: true}}
	jobs := newJobService(t, store, gen)

	job, err := jobs.CreateJob(ctx, &models.User{ID: "u1"}, service.BatchRequest{
		Styles:      []models.Style{models.StyleClassic, models.StyleModern, models.StyleVintage, models.StyleRomantic},
		Roles:       []models.Role{models.RoleBride},
		TotalImages: 4,
	})
	require.NoError(t, err)

	var (
		mu     sync.Mutex
		events []service.Event
	)
	pool := NewPool(jobs, 2, testLog)
	done, err := pool.Run(ctx, job, func(e service.Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})
	require.NoError(t, err)

	assert.Equal(t, models.JobPartial, done.Status)
	assert.Equal(t, 3, done.CompletedImages)
	assert.Equal(t, 1, done.FailedImages)
	assert.LessOrEqual(t, gen.peak.Load(), int32(2))

	balance, err := store.Credits().Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 7, balance)

	var taskEvents int
	for _, e := range events {
		if e.Type == service.EventTask {
			taskEvents++
		}
	}
	assert.Equal(t, 4, taskEvents)
}

func TestPool_SubmitAndShutdown(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	store.SetBalance("u1", 2)
	jobs := newJobService(t, store, &flakyGenerator{})

	job, err := jobs.CreateJob(ctx, &models.User{ID: "u1"}, service.BatchRequest{
		Styles:      []models.Style{models.StyleClassic},
		Roles:       []models.Role{models.RoleBride},
		TotalImages: 2,
	})
	require.NoError(t, err)

	pool := NewPool(jobs, 4, testLog)
	pool.Submit(job)

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, pool.Shutdown(shutdownCtx))

	got, err := jobs.Get(ctx, "u1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, got.Status)
	assert.Equal(t, 2, got.CreditsUsed)
}

func TestPool_ShutdownWaitsForExecutedJobs(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	store.SetBalance("u1", 2)
	jobs := newJobService(t, store, &flakyGenerator{})

	job, err := jobs.CreateJob(ctx, &models.User{ID: "u1"}, service.BatchRequest{
		Styles:      []models.Style{models.StyleClassic},
		Roles:       []models.Role{models.RoleBride},
		TotalImages: 2,
	})
	require.NoError(t, err)

	pool := NewPool(jobs, 1, testLog)
	started := make(chan struct{})
	var once sync.Once
	result := make(chan *models.GenerationJob, 1)
	go func() {
		done, err := pool.Execute(job, func(service.Event) { once.Do(func() { close(started) }) })
		assert.NoError(t, err)
		result <- done
	}()
	<-started

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, pool.Shutdown(shutdownCtx))

	got, err := jobs.Get(ctx, "u1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, got.Status)
	assert.Equal(t, models.JobCompleted, (<-result).Status)
}
