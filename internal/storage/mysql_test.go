package storage

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func mockMySQL(t *testing.T) (*MySQL, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		DisableAutomaticPing: true,
		Logger:               gormlogger.Discard,
	})
	require.NoError(t, err)
	return NewMySQLWithDB(db, EventRouting{Enabled: false}, nil), mock
}

func TestMarkSelected(t *testing.T) {
	lockRead := "SELECT .+ FROM `candidates` WHERE email = \\? .*FOR UPDATE"

	t.Run("unknown email is not found", func(t *testing.T) {
		m, mock := mockMySQL(t)
		mock.ExpectBegin()
		mock.ExpectQuery(lockRead).
			WillReturnRows(sqlmock.NewRows([]string{"email", "selected"}))
		mock.ExpectRollback()

		err := m.MarkSelected(context.Background(), "ghost@example.com")
		assert.ErrorIs(t, err, ErrCandidateNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already selected commits without update", func(t *testing.T) {
		m, mock := mockMySQL(t)
		mock.ExpectBegin()
		mock.ExpectQuery(lockRead).
			WillReturnRows(sqlmock.NewRows([]string{"email", "selected"}).AddRow("a@example.com", true))
		mock.ExpectCommit()

		require.NoError(t, m.MarkSelected(context.Background(), "a@example.com"))
		// 未声明 UPDATE，多执行一条语句会直接返回错误
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("first selection updates the row", func(t *testing.T) {
		m, mock := mockMySQL(t)
		mock.ExpectBegin()
		mock.ExpectQuery(lockRead).
			WillReturnRows(sqlmock.NewRows([]string{"email", "selected"}).AddRow("b@example.com", false))
		mock.ExpectExec(regexp.QuoteMeta("UPDATE `candidates` SET `selected`=?")).
			WithArgs(true, sqlmock.AnyArg(), "b@example.com").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, m.MarkSelected(context.Background(), "b@example.com"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
