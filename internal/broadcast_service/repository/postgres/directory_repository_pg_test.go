package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medping/golang_services/internal/broadcast_service/domain"
)

func TestPgProviderRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("ListActive", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()
		repo := NewPgProviderRepository(mock, discardLogger())

		mock.ExpectQuery(regexp.QuoteMeta("FROM providers WHERE is_active")).
			WillReturnRows(mock.NewRows([]string{"id", "name", "latitude", "longitude", "is_active"}).
				AddRow("p1", "Himal", 27.70, 85.32, true))

		got, err := repo.ListActive(ctx)
		require.NoError(t, err)
		assert.Equal(t, []domain.Provider{{ID: "p1", Name: "Himal", Location: domain.Coordinate{Lat: 27.70, Lng: 85.32}, Active: true}}, got)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Upsert", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()
		repo := NewPgProviderRepository(mock, discardLogger())

		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO providers")).
			WithArgs("p1", "Himal", 27.70, 85.32, true).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, repo.Upsert(ctx, &domain.Provider{ID: "p1", Name: "Himal", Location: domain.Coordinate{Lat: 27.70, Lng: 85.32}, Active: true}))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPgEndpointRepository(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	cols := []string{"id", "owner_key", "token", "platform", "is_active", "created_at", "updated_at"}

	t.Run("ListActive", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()
		repo := NewPgEndpointRepository(mock, discardLogger())

		mock.ExpectQuery(regexp.QuoteMeta("FROM delivery_endpoints WHERE owner_key = $1 AND is_active")).
			WithArgs("provider:p1").
			WillReturnRows(mock.NewRows(cols).
				AddRow("e1", "provider:p1", "dead-token", "android", true, at, at).
				AddRow("e2", "provider:p1", "live-token", "ios", true, at, at))

		got, err := repo.ListActive(ctx, domain.ProviderKey("p1"))
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, domain.ProviderKey("p1"), got[0].Owner)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("RegisterUpsertsOnToken", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()
		repo := NewPgEndpointRepository(mock, discardLogger())

		mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (token) DO UPDATE")).
			WithArgs("e1", "requester:u1", "tok", "android", at).
			WillReturnRows(mock.NewRows(cols).AddRow("e0", "requester:u1", "tok", "android", true, at.Add(-time.Hour), at))

		got, err := repo.Register(ctx, &domain.DeliveryEndpoint{ID: "e1", Owner: domain.RequesterKey("u1"), Token: "tok", Platform: "android", UpdatedAt: at})
		require.NoError(t, err)
		assert.Equal(t, "e0", got.ID, "existing row id is kept")
		assert.True(t, got.Active)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("DeactivateToken", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()
		repo := NewPgEndpointRepository(mock, discardLogger())

		mock.ExpectExec(regexp.QuoteMeta("UPDATE delivery_endpoints SET is_active = FALSE")).
			WithArgs("dead-token").
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		require.NoError(t, repo.DeactivateToken(ctx, "dead-token"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("DeactivateForeignEndpoint", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()
		repo := NewPgEndpointRepository(mock, discardLogger())

		mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND owner_key = $2")).
			WithArgs("e1", "provider:p2").
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		assert.ErrorIs(t, repo.Deactivate(ctx, domain.ProviderKey("p2"), "e1"), domain.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
