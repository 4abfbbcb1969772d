package database

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrate(t *testing.T) {
	ctx := context.Background()

	t.Run("AppliesEveryStatementInOneTransaction", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectBegin()
		for range schema {
			mock.ExpectExec("CREATE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
		}
		mock.ExpectCommit()

		require.NoError(t, Migrate(ctx, mock))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("RollsBackOnFailure", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectBegin()
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS providers").WillReturnResult(pgxmock.NewResult("CREATE", 0))
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS service_requests").WillReturnError(errors.New("permission denied"))
		mock.ExpectRollback()

		err = Migrate(ctx, mock)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "migration step 2")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
