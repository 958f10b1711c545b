package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/digkill/WeddingAI/internal/service"
)

type MockJobSweeper struct {
	mock.Mock
}

func (m *MockJobSweeper) Sweep(ctx context.Context, before time.Time, limit int) (service.SweepResult, error) {
	args := m.Called(ctx, before, limit)
	return args.Get(0).(service.SweepResult), args.Error(1)
}

func TestSweeper_RunOnce(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("sweeps while holding the lock", func(t *testing.T) {
		db, rmock := redismock.NewClientMock()
		jobs := new(MockJobSweeper)
		s := NewSweeper(jobs, db, time.Minute, 30*time.Minute, testLog)
		s.now = func() time.Time { return now }

		rmock.ExpectSetNX(sweepLockKey, s.owner, time.Minute).SetVal(true)
		jobs.On("Sweep", mock.Anything, now.Add(-30*time.Minute), sweepBatch).Return(service.SweepResult{Closed: 2, Released: 1}, nil)

		res, ran, err := s.RunOnce(context.Background())
		require.NoError(t, err)
		assert.True(t, ran)
		assert.Equal(t, service.SweepResult{Closed: 2, Released: 1}, res)
		assert.NoError(t, rmock.ExpectationsWereMet())
		jobs.AssertExpectations(t)
	})

	t.Run("skips when another instance holds the lock", func(t *testing.T) {
		db, rmock := redismock.NewClientMock()
		jobs := new(MockJobSweeper)
		s := NewSweeper(jobs, db, time.Minute, 30*time.Minute, testLog)

		rmock.ExpectSetNX(sweepLockKey, s.owner, time.Minute).SetVal(false)

		_, ran, err := s.RunOnce(context.Background())
		require.NoError(t, err)
		assert.False(t, ran)
		jobs.AssertNotCalled(t, "Sweep", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("lock error is returned", func(t *testing.T) {
		db, rmock := redismock.NewClientMock()
		s := NewSweeper(new(MockJobSweeper), db, time.Minute, time.Minute, testLog)
		rmock.ExpectSetNX(sweepLockKey, s.owner, time.Minute).SetErr(errors.New("redis down"))

		_, ran, err := s.RunOnce(context.Background())
		assert.Error(t, err)
		assert.False(t, ran)
	})

	t.Run("without redis every instance sweeps", func(t *testing.T) {
		jobs := new(MockJobSweeper)
		jobs.On("Sweep", mock.Anything, mock.Anything, sweepBatch).Return(service.SweepResult{}, nil)
		s := NewSweeper(jobs, nil, time.Minute, time.Minute, testLog)

		_, ran, err := s.RunOnce(context.Background())
		require.NoError(t, err)
		assert.True(t, ran)
	})
}
