package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/medping/golang_services/internal/broadcast_service/domain"
)

type PgProviderRepository struct {
	db     DB
	logger *slog.Logger
}

func NewPgProviderRepository(db DB, logger *slog.Logger) *PgProviderRepository {
	return &PgProviderRepository{db: db, logger: logger.With("component", "provider_repository_pg")}
}

func (r *PgProviderRepository) ListActive(ctx context.Context) ([]domain.Provider, error) {
	rows, err := r.db.Query(ctx, `SELECT id, name, latitude, longitude, is_active FROM providers WHERE is_active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing active providers: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Provider, 0)
	for rows.Next() {
		var p domain.Provider
		if err := rows.Scan(&p.ID, &p.Name, &p.Location.Lat, &p.Location.Lng, &p.Active); err != nil {
			return nil, fmt.Errorf("scanning provider: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *PgProviderRepository) GetByID(ctx context.Context, id string) (*domain.Provider, error) {
	var p domain.Provider
	err := r.db.QueryRow(ctx, `SELECT id, name, latitude, longitude, is_active FROM providers WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.Location.Lat, &p.Location.Lng, &p.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("getting provider %s: %w", id, err)
	}
	return &p, nil
}

func (r *PgProviderRepository) Upsert(ctx context.Context, p *domain.Provider) error {
	_, err := r.db.Exec(ctx, `INSERT INTO providers (id, name, latitude, longitude, is_active, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude, is_active = EXCLUDED.is_active, updated_at = NOW()`,
		p.ID, p.Name, p.Location.Lat, p.Location.Lng, p.Active)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to upsert provider", "provider_id", p.ID, "error", err)
		return fmt.Errorf("upserting provider %s: %w", p.ID, err)
	}
	return nil
}

const endpointColumns = `id, owner_key, token, platform, is_active, created_at, updated_at`

type PgEndpointRepository struct {
	db     DB
	logger *slog.Logger
}

func NewPgEndpointRepository(db DB, logger *slog.Logger) *PgEndpointRepository {
	return &PgEndpointRepository{db: db, logger: logger.With("component", "endpoint_repository_pg")}
}

func scanEndpoint(row pgx.Row) (*domain.DeliveryEndpoint, error) {
	var (
		ep    domain.DeliveryEndpoint
		owner string
	)
	if err := row.Scan(&ep.ID, &owner, &ep.Token, &ep.Platform, &ep.Active, &ep.CreatedAt, &ep.UpdatedAt); err != nil {
		return nil, err
	}
	ep.Owner = domain.RecipientKey(owner)
	return &ep, nil
}

func (r *PgEndpointRepository) ListActive(ctx context.Context, owner domain.RecipientKey) ([]domain.DeliveryEndpoint, error) {
	rows, err := r.db.Query(ctx, `SELECT `+endpointColumns+` FROM delivery_endpoints WHERE owner_key = $1 AND is_active ORDER BY created_at`, string(owner))
	if err != nil {
		return nil, fmt.Errorf("listing endpoints of %s: %w", owner, err)
	}
	defer rows.Close()

	out := make([]domain.DeliveryEndpoint, 0)
	for rows.Next() {
		ep, err := scanEndpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning endpoint: %w", err)
		}
		out = append(out, *ep)
	}
	return out, rows.Err()
}

// Register upserts on the token so a device moving between accounts is rebound.
func (r *PgEndpointRepository) Register(ctx context.Context, ep *domain.DeliveryEndpoint) (*domain.DeliveryEndpoint, error) {
	id := ep.ID
	if id == "" {
		id = uuid.NewString()
	}
	at := ep.UpdatedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	stored, err := scanEndpoint(r.db.QueryRow(ctx, `INSERT INTO delivery_endpoints (`+endpointColumns+`)
		VALUES ($1, $2, $3, $4, TRUE, $5, $5)
		ON CONFLICT (token) DO UPDATE SET owner_key = EXCLUDED.owner_key, platform = EXCLUDED.platform,
			is_active = TRUE, updated_at = EXCLUDED.updated_at
		RETURNING `+endpointColumns,
		id, string(ep.Owner), ep.Token, ep.Platform, at))
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to register endpoint", "owner", ep.Owner, "error", err)
		return nil, fmt.Errorf("registering endpoint: %w", err)
	}
	return stored, nil
}

func (r *PgEndpointRepository) DeactivateToken(ctx context.Context, token string) error {
	_, err := r.db.Exec(ctx, `UPDATE delivery_endpoints SET is_active = FALSE, updated_at = NOW() WHERE token = $1 AND is_active`, token)
	if err != nil {
		return fmt.Errorf("deactivating endpoint token: %w", err)
	}
	return nil
}

func (r *PgEndpointRepository) Deactivate(ctx context.Context, owner domain.RecipientKey, id string) error {
	tag, err := r.db.Exec(ctx, `UPDATE delivery_endpoints SET is_active = FALSE, updated_at = NOW() WHERE id = $1 AND owner_key = $2`, id, string(owner))
	if err != nil {
		return fmt.Errorf("deactivating endpoint %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

var (
	_ domain.ProviderDirectory = (*PgProviderRepository)(nil)
	_ domain.EndpointDirectory = (*PgEndpointRepository)(nil)
)
