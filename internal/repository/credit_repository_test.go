package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/WeddingAI/internal/models"
)

var (
	debitSQL   = regexp.QuoteMeta("UPDATE users SET ai_credits = ai_credits - ?")
	creditSQL  = regexp.QuoteMeta("UPDATE users SET ai_credits = ai_credits + ?")
	balanceSQL = regexp.QuoteMeta("SELECT ai_credits FROM users WHERE id = ?")
	insertSQL  = regexp.QuoteMeta("INSERT INTO credit_transactions")
)

func TestCreditRepository_Apply(t *testing.T) {
	ctx := context.Background()
	deduct := models.CreditMutation{
		UserID:        "u1",
		Delta:         -1,
		Type:          models.TxDeduct,
		ReferenceType: models.RefGeneration,
		ReferenceID:   "g1",
	}

	t.Run("debit writes balance and audit row in one transaction", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		repo := NewCreditRepository(db)

		mock.ExpectBegin()
		mock.ExpectExec(debitSQL).WithArgs(1, "u1", 1).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(balanceSQL).WithArgs("u1").WillReturnRows(sqlmock.NewRows([]string{"ai_credits"}).AddRow(4))
		mock.ExpectExec(insertSQL).
			WithArgs(sqlmock.AnyArg(), "u1", "DEDUCT", 1, 4, "GENERATION", "g1", "").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		balance, err := repo.Apply(ctx, deduct)
		require.NoError(t, err)
		assert.Equal(t, 4, balance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("debit beyond balance rolls back", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		repo := NewCreditRepository(db)

		mock.ExpectBegin()
		mock.ExpectExec(debitSQL).WithArgs(1, "u1", 1).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(balanceSQL).WithArgs("u1").WillReturnRows(sqlmock.NewRows([]string{"ai_credits"}).AddRow(0))
		mock.ExpectRollback()

		balance, err := repo.Apply(ctx, deduct)
		require.ErrorIs(t, err, models.ErrInsufficientCredits)
		var insufficient *models.InsufficientCreditsError
		require.True(t, errors.As(err, &insufficient))
		assert.Equal(t, 0, insufficient.Balance)
		assert.Equal(t, 0, balance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown user", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		repo := NewCreditRepository(db)

		mock.ExpectBegin()
		mock.ExpectExec(creditSQL).WithArgs(5, "ghost").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(balanceSQL).WithArgs("ghost").WillReturnRows(sqlmock.NewRows([]string{"ai_credits"}))
		mock.ExpectRollback()

		_, err = repo.Apply(ctx, models.CreditMutation{UserID: "ghost", Delta: 5, Type: models.TxBonus, ReferenceType: models.RefAdmin, ReferenceID: "x"})
		assert.ErrorIs(t, err, models.ErrUserNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate reference is reported and rolled back", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		repo := NewCreditRepository(db)

		mock.ExpectBegin()
		mock.ExpectExec(creditSQL).WithArgs(1, "u1").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(balanceSQL).WithArgs("u1").WillReturnRows(sqlmock.NewRows([]string{"ai_credits"}).AddRow(5))
		mock.ExpectExec(insertSQL).WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})
		mock.ExpectRollback()

		_, err = repo.Apply(ctx, models.CreditMutation{UserID: "u1", Delta: 1, Type: models.TxRefund, ReferenceType: models.RefGeneration, ReferenceID: "g1"})
		assert.ErrorIs(t, err, models.ErrAlreadyApplied)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("zero delta never touches the database", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		_, err = NewCreditRepository(db).Apply(ctx, models.CreditMutation{UserID: "u1"})
		assert.ErrorIs(t, err, models.ErrInvalidAmount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
