package repository

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobRepository_Finalize(t *testing.T) {
	ctx := context.Background()

	t.Run("waits for every task without force", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectExec(regexp.QuoteMeta("status = 'PROCESSING' AND completed_images + failed_images >= total_images")).
			WithArgs("job-1").
			WillReturnResult(sqlmock.NewResult(0, 0))

		fired, err := NewJobRepository(db).Finalize(ctx, "job-1", false)
		require.NoError(t, err)
		assert.False(t, fired)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("force closes pending and processing jobs", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectExec(regexp.QuoteMeta("status IN ('PENDING', 'PROCESSING')")).
			WithArgs("job-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		fired, err := NewJobRepository(db).Finalize(ctx, "job-1", true)
		require.NoError(t, err)
		assert.True(t, fired)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestJobRepository_MarkProcessing(t *testing.T) {
	ctx := context.Background()
	query := regexp.QuoteMeta("WHERE id = ? AND status IN ('PENDING', 'PROCESSING')")

	t.Run("open job", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectExec(query).WithArgs("job-1").WillReturnResult(sqlmock.NewResult(0, 1))

		open, err := NewJobRepository(db).MarkProcessing(ctx, "job-1")
		require.NoError(t, err)
		assert.True(t, open)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("terminal job", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectExec(query).WithArgs("job-1").WillReturnResult(sqlmock.NewResult(0, 0))

		open, err := NewJobRepository(db).MarkProcessing(ctx, "job-1")
		require.NoError(t, err)
		assert.False(t, open)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestJobRepository_IncrementCompletedIsGuarded(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("AND credits_used < credits_reserved")).
		WithArgs("job-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	counted, err := NewJobRepository(db).IncrementCompleted(context.Background(), "job-1")
	require.NoError(t, err)
	assert.False(t, counted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPromoRepository_ClaimUse(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewPromoRepository(db)

	claim := regexp.QuoteMeta("UPDATE promo_codes SET uses = uses + 1 WHERE id = ? AND uses < max_uses")
	mock.ExpectExec(claim).WithArgs(int64(7)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(claim).WithArgs(int64(7)).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.ClaimUse(context.Background(), 7))
	assert.ErrorIs(t, repo.ClaimUse(context.Background(), 7), ErrPromoExhausted)
	assert.NoError(t, mock.ExpectationsWereMet())
}
