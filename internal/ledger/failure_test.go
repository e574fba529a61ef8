package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mastermobile/callexport/internal/core/model"
	"github.com/mastermobile/callexport/internal/support/exception"
)

func newMockRepository(t *testing.T) (Repository, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 mockDB,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	return NewRepository(db, time.Hour), mock
}

func TestGetRunWrapsDatabaseFailure(t *testing.T) {
	repo, mock := newMockRepository(t)
	mock.ExpectQuery("SELECT").WillReturnError(errors.New("connection reset by peer"))

	_, err := repo.GetRun(context.Background(), "run-1")
	require.Error(t, err)
	assert.Equal(t, exception.KindTransient, exception.KindOf(err))
	assert.Equal(t, "LEDGER_FAILURE", exception.CodeOf(err))
	assert.True(t, exception.IsRetryable(err))
}

func TestCreateRunWrapsKeyLookupFailure(t *testing.T) {
	repo, mock := newMockRepository(t)
	mock.ExpectQuery("SELECT").WillReturnError(errors.New("server closed the connection"))

	_, _, err := repo.CreateRun(context.Background(),
		model.NewPeriod(
			time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
		), "scheduler", model.RunOptions{}, "k1")
	require.Error(t, err)
	assert.Equal(t, "LEDGER_FAILURE", exception.CodeOf(err))
}
