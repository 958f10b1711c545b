package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/digkill/WeddingAI/internal/kie"
	"github.com/digkill/WeddingAI/internal/models"
	"github.com/digkill/WeddingAI/internal/repository/memory"
)

type jobFixture struct {
	store    *memory.Store
	provider *MockGenerator
	service  *JobService
}

func newJobFixture(t *testing.T, balance int, roles ...models.Role) *jobFixture {
	t.Helper()
	ctx := context.Background()
	f := &jobFixture{store: memory.New(), provider: new(MockGenerator)}
	f.store.SetBalance("u1", balance)
	for _, role := range roles {
		require.NoError(t, f.store.ReferencePhotos().Activate(ctx, &models.ReferencePhoto{
			ID:          "ref-" + string(role),
			UserID:      "u1",
			Role:        role,
			OriginalURL: "https://cdn/ref/" + string(role) + ".png",
		}))
	}
	validator := NewRequestValidator(0, 20)
	refs := NewReferenceService(testLog, validator, NewFaceGate(nil, testLog), new(MockAssets), f.store.ReferencePhotos())
	f.service = NewJobService(testLog, validator, NewCreditLedger(testLog, f.store.Credits()),
		f.store.Jobs(), f.store.Generations(), refs, f.provider, nil)
	return f
}

func (f *jobFixture) balance(t *testing.T) int {
	t.Helper()
	b, err := f.store.Credits().Balance(context.Background(), "u1")
	require.NoError(t, err)
	return b
}

func (f *jobFixture) user() *models.User {
	return &models.User{ID: "u1"}
}

func fourStyles() BatchRequest {
	return BatchRequest{
		Styles:      []models.Style{models.StyleClassic, models.StyleModern, models.StyleVintage, models.StyleRomantic},
		Roles:       []models.Role{models.RoleBride},
		TotalImages: 4,
	}
}

func runAll(t *testing.T, f *jobFixture, job *models.GenerationJob) {
	t.Helper()
	tasks, err := f.service.ExpandTasks(job)
	require.NoError(t, err)
	for _, task := range tasks {
		require.NoError(t, f.service.RunTask(context.Background(), job, task, nil))
	}
}

func TestJobService_CreateJob(t *testing.T) {
	ctx := context.Background()

	t.Run("reserves the whole batch", func(t *testing.T) {
		f := newJobFixture(t, 10, models.RoleBride)

		job, err := f.service.CreateJob(ctx, f.user(), fourStyles())
		require.NoError(t, err)
		assert.Equal(t, models.JobPending, job.Status)
		assert.Equal(t, 4, job.CreditsReserved)
		assert.Equal(t, "ref-BRIDE", job.Config.ReferencePhotoIDs[models.RoleBride])
		assert.Equal(t, 6, f.balance(t))
	})

	t.Run("insufficient balance creates no job", func(t *testing.T) {
		f := newJobFixture(t, 3, models.RoleBride)

		_, err := f.service.CreateJob(ctx, f.user(), fourStyles())
		require.ErrorIs(t, err, models.ErrInsufficientCredits)
		jobs, err := f.service.List(ctx, "u1", 0)
		require.NoError(t, err)
		assert.Empty(t, jobs)
		assert.Equal(t, 3, f.balance(t))
	})

	t.Run("missing reference photo", func(t *testing.T) {
		f := newJobFixture(t, 10, models.RoleBride)
		req := fourStyles()
		req.Roles = []models.Role{models.RoleBride, models.RoleGroom}

		_, err := f.service.CreateJob(ctx, f.user(), req)
		require.ErrorIs(t, err, models.ErrReferencePhotoMissing)
		assert.Equal(t, 10, f.balance(t))
	})
}

func TestExpandTasks(t *testing.T) {
	job := &models.GenerationJob{
		TotalImages: 5,
		Config: models.JobConfig{
			Styles: []models.Style{models.StyleClassic, models.StyleModern},
			Roles:  []models.Role{models.RoleBride, models.RoleGroom},
		},
	}
	tasks, err := ExpandTasks(job)
	require.NoError(t, err)
	require.Len(t, tasks, 5)
	for i, task := range tasks {
		assert.Equal(t, i, task.Index)
		assert.Equal(t, models.RoleCouple, task.Role)
	}
	assert.Equal(t, models.StyleClassic, tasks[0].Style)
	assert.Equal(t, models.StyleModern, tasks[1].Style)
	assert.Equal(t, models.StyleClassic, tasks[4].Style)

	job.Config.Roles = []models.Role{models.RoleGroom}
	tasks, err = ExpandTasks(job)
	require.NoError(t, err)
	assert.Equal(t, models.RoleGroom, tasks[0].Role)

	job.Config.Styles = nil
	_, err = ExpandTasks(job)
	assert.ErrorIs(t, err, models.ErrTaskCountMismatch)
}

func TestJobService_PartialJobReleasesSurplus(t *testing.T) {
	f := newJobFixture(t, 10, models.RoleBride)
	f.provider.On("GenerateStream", mock.Anything, mock.MatchedBy(func(r kie.Request) bool { return r.Style == models.StyleVintage })).
		Return(nil, errors.New("content policy"))
	f.provider.On("GenerateStream", mock.Anything, mock.MatchedBy(func(r kie.Request) bool {
		return r.Style != models.StyleVintage && r.ImageURLs[0] == "https://cdn/ref/BRIDE.png"
	})).Return(&kie.Result{URLs: []string{"https://kie/ok.png"}}, nil)

	job, err := f.service.CreateJob(context.Background(), f.user(), fourStyles())
	require.NoError(t, err)
	assert.Equal(t, 6, f.balance(t))

	runAll(t, f, job)

	got, err := f.service.Get(context.Background(), "u1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobPartial, got.Status)
	assert.Equal(t, 3, got.CompletedImages)
	assert.Equal(t, 1, got.FailedImages)
	assert.Equal(t, 3, got.CreditsUsed)
	assert.Equal(t, 7, f.balance(t))

	var refunds int
	for _, tx := range f.store.Transactions() {
		if tx.Type == models.TxRefund {
			refunds++
			assert.Equal(t, 1, tx.Amount)
			assert.Equal(t, job.ID, tx.ReferenceID)
		}
	}
	assert.Equal(t, 1, refunds)

	var used int
	for _, r := range f.store.Records() {
		used += r.CreditsUsed
	}
	assert.Equal(t, got.CreditsUsed, used)
}

func TestJobService_AllTasksFail(t *testing.T) {
	f := newJobFixture(t, 4, models.RoleBride)
	f.provider.On("GenerateStream", mock.Anything, mock.Anything).Return(nil, errors.New("down"))

	job, err := f.service.CreateJob(context.Background(), f.user(), fourStyles())
	require.NoError(t, err)
	runAll(t, f, job)

	got, err := f.service.Get(context.Background(), "u1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, got.Status)
	assert.Equal(t, 4, f.balance(t))
}

func TestJobService_CompleteJobReleasesOnce(t *testing.T) {
	ctx := context.Background()
	f := newJobFixture(t, 10, models.RoleBride)
	f.provider.On("GenerateStream", mock.Anything, mock.Anything).Return(&kie.Result{URLs: []string{"https://kie/ok.png"}}, nil)

	job, err := f.service.CreateJob(ctx, f.user(), fourStyles())
	require.NoError(t, err)
	tasks, err := f.service.ExpandTasks(job)
	require.NoError(t, err)
	require.NoError(t, f.service.RunTask(ctx, job, tasks[0], nil))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := f.service.CompleteJob(ctx, "u1", job.ID)
			assert.NoError(t, err)
			assert.Equal(t, models.JobPartial, got.Status)
		}()
	}
	wg.Wait()

	assert.Equal(t, 9, f.balance(t))
	var refunds int
	for _, tx := range f.store.Transactions() {
		if tx.Type == models.TxRefund {
			refunds++
		}
	}
	assert.Equal(t, 1, refunds)

	// A task started after the close neither generates nor consumes.
	require.NoError(t, f.service.RunTask(ctx, job, tasks[1], nil))
	got, err := f.service.Get(ctx, "u1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CreditsUsed)
	assert.Equal(t, 9, f.balance(t))
	f.provider.AssertNumberOfCalls(t, "GenerateStream", 1)
}

func TestJobService_ClosedJobRunsNoTasks(t *testing.T) {
	ctx := context.Background()
	f := newJobFixture(t, 10, models.RoleBride)

	job, err := f.service.CreateJob(ctx, f.user(), fourStyles())
	require.NoError(t, err)
	assert.Equal(t, 6, f.balance(t))

	closed, err := f.service.CompleteJob(ctx, "u1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, closed.Status)
	assert.Equal(t, 10, f.balance(t))

	var events []Event
	tasks, err := f.service.ExpandTasks(job)
	require.NoError(t, err)
	for _, task := range tasks {
		require.NoError(t, f.service.RunTask(ctx, job, task, func(ev Event) { events = append(events, ev) }))
	}

	f.provider.AssertNotCalled(t, "GenerateStream", mock.Anything, mock.Anything)
	assert.Empty(t, f.store.Records())
	assert.Empty(t, events)
	assert.Equal(t, 10, f.balance(t))

	got, err := f.service.Get(ctx, "u1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, got.Status)
	assert.Equal(t, 0, got.CreditsUsed)
}

func TestJobService_ResultAfterCloseIsWithheld(t *testing.T) {
	ctx := context.Background()
	f := newJobFixture(t, 10, models.RoleBride)

	job, err := f.service.CreateJob(ctx, f.user(), fourStyles())
	require.NoError(t, err)
	tasks, err := f.service.ExpandTasks(job)
	require.NoError(t, err)

	// The job is closed while the provider is still working on the task.
	f.provider.On("GenerateStream", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			_, err := f.service.CompleteJob(ctx, "u1", job.ID)
			assert.NoError(t, err)
		}).
		Return(&kie.Result{URLs: []string{"https://kie/late.png"}}, nil).Once()

	var events []Event
	require.NoError(t, f.service.RunTask(ctx, job, tasks[0], func(ev Event) { events = append(events, ev) }))

	records := f.store.Records()
	require.Len(t, records, 1)
	assert.Equal(t, models.GenerationFailed, records[0].Status)
	assert.Empty(t, records[0].GeneratedURLs)
	assert.Equal(t, 0, records[0].CreditsUsed)
	assert.Equal(t, models.ErrJobClosed.Error(), records[0].ErrorMessage)

	require.Len(t, events, 1)
	assert.Equal(t, EventTask, events[0].Type)
	assert.Equal(t, 10, f.balance(t))
}

func TestJobService_GetHidesForeignJobs(t *testing.T) {
	ctx := context.Background()
	f := newJobFixture(t, 10, models.RoleBride)
	job, err := f.service.CreateJob(ctx, f.user(), fourStyles())
	require.NoError(t, err)

	_, err = f.service.Get(ctx, "someone-else", job.ID)
	assert.ErrorIs(t, err, models.ErrJobNotFound)
	_, err = f.service.CompleteJob(ctx, "someone-else", job.ID)
	assert.ErrorIs(t, err, models.ErrJobNotFound)
}

func TestJobService_Sweep(t *testing.T) {
	ctx := context.Background()
	f := newJobFixture(t, 10, models.RoleBride)

	job, err := f.service.CreateJob(ctx, f.user(), fourStyles())
	require.NoError(t, err)

	res, err := f.service.Sweep(ctx, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Closed)
	assert.Equal(t, 0, res.Released)

	got, err := f.service.Get(ctx, "u1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, got.Status)
	assert.Equal(t, 10, f.balance(t))

	res, err = f.service.Sweep(ctx, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, res)
}
