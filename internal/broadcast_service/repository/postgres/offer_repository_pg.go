package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/medping/golang_services/internal/broadcast_service/domain"
	"github.com/medping/golang_services/internal/platform/database"
)

const offerColumns = `id, request_id, provider_id, provider_name, kind, message, substitute_name, substitute_price, audio_ref, created_at`

type PgOfferRepository struct {
	db     DB
	logger *slog.Logger
}

func NewPgOfferRepository(db DB, logger *slog.Logger) *PgOfferRepository {
	return &PgOfferRepository{db: db, logger: logger.With("component", "offer_repository_pg")}
}

func scanOffer(row pgx.Row) (*domain.ProviderOffer, error) {
	var (
		o    domain.ProviderOffer
		kind string
	)
	err := row.Scan(&o.ID, &o.RequestID, &o.ProviderID, &o.ProviderName, &kind,
		&o.Payload.Message, &o.Payload.SubstituteName, &o.Payload.SubstitutePrice, &o.Payload.AudioRef,
		&o.CreatedAt)
	if err != nil {
		return nil, err
	}
	o.Kind = domain.OfferKind(kind)
	return &o, nil
}

// Create takes a FOR SHARE lock on the request row so a concurrent status
// UPDATE waits for this insert to commit, and a closed request is seen as closed.
// Offers from different providers share the lock and do not block each other.
func (r *PgOfferRepository) Create(ctx context.Context, offer *domain.ProviderOffer) error {
	return database.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		var status string
		err := tx.QueryRow(ctx, `SELECT status FROM service_requests WHERE id = $1 FOR SHARE`, offer.RequestID).Scan(&status)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrNotFound
			}
			return fmt.Errorf("locking service request %s: %w", offer.RequestID, err)
		}
		if domain.RequestStatus(status) != domain.StatusPending {
			return domain.ErrRequestClosed
		}

		_, err = tx.Exec(ctx, `INSERT INTO provider_offers (`+offerColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			offer.ID, offer.RequestID, offer.ProviderID, offer.ProviderName, string(offer.Kind),
			offer.Payload.Message, offer.Payload.SubstituteName, offer.Payload.SubstitutePrice, offer.Payload.AudioRef,
			offer.CreatedAt,
		)
		if err != nil {
			switch pgErrorCode(err) {
			case pgUniqueViolation:
				return domain.ErrDuplicateOffer
			case pgForeignKeyViolation:
				return domain.ErrNotFound
			}
			r.logger.ErrorContext(ctx, "Failed to insert provider offer", "request_id", offer.RequestID, "provider_id", offer.ProviderID, "error", err)
			return fmt.Errorf("inserting provider offer: %w", err)
		}
		return nil
	})
}

func (r *PgOfferRepository) GetByID(ctx context.Context, id string) (*domain.ProviderOffer, error) {
	o, err := scanOffer(r.db.QueryRow(ctx, `SELECT `+offerColumns+` FROM provider_offers WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("getting provider offer %s: %w", id, err)
	}
	return o, nil
}

func (r *PgOfferRepository) ListByRequest(ctx context.Context, requestID string) ([]domain.ProviderOffer, error) {
	rows, err := r.db.Query(ctx, `SELECT `+offerColumns+` FROM provider_offers WHERE request_id = $1 ORDER BY created_at, id`, requestID)
	if err != nil {
		return nil, fmt.Errorf("listing offers of %s: %w", requestID, err)
	}
	defer rows.Close()

	out := make([]domain.ProviderOffer, 0)
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning provider offer: %w", err)
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// StatsForProvider is one aggregate over the provider's offers, with the
// recipient-side counts as scalar subqueries.
func (r *PgOfferRepository) StatsForProvider(ctx context.Context, providerID string) (domain.ProviderStats, error) {
	var (
		st      domain.ProviderStats
		seconds float64
	)
	err := r.db.QueryRow(ctx, `SELECT
		(SELECT COUNT(*) FROM request_recipients WHERE provider_id = $1),
		(SELECT COUNT(*) FROM request_recipients rc
			JOIN provider_offers po ON po.request_id = rc.request_id AND po.provider_id = rc.provider_id
			WHERE rc.provider_id = $1),
		COUNT(*) FILTER (WHERE o.kind = 'ACCEPTED'),
		COUNT(*) FILTER (WHERE o.kind = 'REJECTED'),
		COUNT(*) FILTER (WHERE o.kind = 'SUBSTITUTE'),
		COUNT(*) FILTER (WHERE o.created_at >= sr.created_at),
		COALESCE(EXTRACT(EPOCH FROM SUM(o.created_at - sr.created_at) FILTER (WHERE o.created_at >= sr.created_at)), 0)::float8
		FROM provider_offers o
		JOIN service_requests sr ON sr.id = o.request_id
		WHERE o.provider_id = $1`,
		providerID,
	).Scan(&st.Notified, &st.Responded, &st.Accepted, &st.Rejected, &st.Substituted, &st.TimedOffers, &seconds)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to aggregate provider stats", "provider_id", providerID, "error", err)
		return domain.ProviderStats{}, fmt.Errorf("aggregating stats for %s: %w", providerID, err)
	}
	st.ResponseTime = time.Duration(seconds * float64(time.Second))
	return st, nil
}

var _ domain.OfferRepository = (*PgOfferRepository)(nil)
