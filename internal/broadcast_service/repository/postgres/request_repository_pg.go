package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/medping/golang_services/internal/broadcast_service/domain"
	"github.com/medping/golang_services/internal/platform/database"
)

const requestColumns = `id, requester_id, requester_name, latitude, longitude, radius_km, quantity, note, image_ref, status, assigned_provider_id, created_at, updated_at`

type PgRequestRepository struct {
	db     DB
	logger *slog.Logger
}

func NewPgRequestRepository(db DB, logger *slog.Logger) *PgRequestRepository {
	return &PgRequestRepository{db: db, logger: logger.With("component", "request_repository_pg")}
}

func scanRequest(row pgx.Row) (*domain.ServiceRequest, error) {
	var (
		req      domain.ServiceRequest
		status   string
		assigned sql.NullString
	)
	err := row.Scan(
		&req.ID, &req.RequesterID, &req.RequesterName,
		&req.Origin.Lat, &req.Origin.Lng, &req.RadiusKm,
		&req.Payload.Quantity, &req.Payload.Note, &req.Payload.ImageRef,
		&status, &assigned, &req.CreatedAt, &req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	req.Status = domain.RequestStatus(status)
	req.AssignedProviderID = assigned.String
	return &req, nil
}

// CreateWithRecipients inserts the request and its recipient set in one transaction.
func (r *PgRequestRepository) CreateWithRecipients(ctx context.Context, req *domain.ServiceRequest, recipients []domain.Recipient) error {
	return database.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO service_requests (`+requestColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			req.ID, req.RequesterID, req.RequesterName,
			req.Origin.Lat, req.Origin.Lng, req.RadiusKm,
			req.Payload.Quantity, req.Payload.Note, req.Payload.ImageRef,
			string(req.Status), nullString(req.AssignedProviderID), req.CreatedAt, req.UpdatedAt,
		)
		if err != nil {
			r.logger.ErrorContext(ctx, "Failed to insert service request", "request_id", req.ID, "error", err)
			return fmt.Errorf("inserting service request: %w", err)
		}
		if len(recipients) == 0 {
			return nil
		}

		providerIDs := make([]string, len(recipients))
		distances := make([]float64, len(recipients))
		for i, rc := range recipients {
			providerIDs[i] = rc.ProviderID
			distances[i] = rc.DistanceKm
		}
		_, err = tx.Exec(ctx, `INSERT INTO request_recipients (request_id, provider_id, distance_km)
			SELECT $1, p, d FROM unnest($2::text[], $3::float8[]) AS t(p, d)`,
			req.ID, providerIDs, distances,
		)
		if err != nil {
			r.logger.ErrorContext(ctx, "Failed to insert request recipients", "request_id", req.ID, "count", len(recipients), "error", err)
			return fmt.Errorf("inserting request recipients: %w", err)
		}
		return nil
	})
}

func (r *PgRequestRepository) GetByID(ctx context.Context, id string) (*domain.ServiceRequest, error) {
	req, err := scanRequest(r.db.QueryRow(ctx, `SELECT `+requestColumns+` FROM service_requests WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("getting service request %s: %w", id, err)
	}
	return req, nil
}

func (r *PgRequestRepository) ListByRequester(ctx context.Context, requesterID string, limit int) ([]domain.ServiceRequest, error) {
	return r.list(ctx, `SELECT `+requestColumns+` FROM service_requests
		WHERE requester_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`, requesterID, limit)
}

func (r *PgRequestRepository) ListPendingForProvider(ctx context.Context, providerID string, limit int) ([]domain.ServiceRequest, error) {
	return r.list(ctx, `SELECT sr.id, sr.requester_id, sr.requester_name, sr.latitude, sr.longitude, sr.radius_km, sr.quantity, sr.note, sr.image_ref, sr.status, sr.assigned_provider_id, sr.created_at, sr.updated_at
		FROM service_requests sr JOIN request_recipients rr ON rr.request_id = sr.id
		WHERE rr.provider_id = $1 AND sr.status = 'PENDING'
		ORDER BY sr.created_at DESC, sr.id DESC LIMIT $2`, providerID, limit)
}

func (r *PgRequestRepository) list(ctx context.Context, query string, args ...any) ([]domain.ServiceRequest, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing service requests: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ServiceRequest, 0)
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning service request: %w", err)
		}
		out = append(out, *req)
	}
	return out, rows.Err()
}

func (r *PgRequestRepository) Recipients(ctx context.Context, requestID string) ([]domain.Recipient, error) {
	rows, err := r.db.Query(ctx, `SELECT provider_id, distance_km FROM request_recipients WHERE request_id = $1 ORDER BY distance_km, provider_id`, requestID)
	if err != nil {
		return nil, fmt.Errorf("listing recipients of %s: %w", requestID, err)
	}
	defer rows.Close()

	out := make([]domain.Recipient, 0)
	for rows.Next() {
		var rc domain.Recipient
		if err := rows.Scan(&rc.ProviderID, &rc.DistanceKm); err != nil {
			return nil, fmt.Errorf("scanning recipient: %w", err)
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}

func (r *PgRequestRepository) IsRecipient(ctx context.Context, requestID, providerID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM request_recipients WHERE request_id = $1 AND provider_id = $2)`,
		requestID, providerID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking recipient: %w", err)
	}
	return exists, nil
}

// TransitionFromPending is a single conditional UPDATE. When no row changes, the
// current status is read back to tell a missing request from a closed one.
func (r *PgRequestRepository) TransitionFromPending(ctx context.Context, id string, to domain.RequestStatus, assignedProviderID string, at time.Time) (*domain.ServiceRequest, error) {
	if to == domain.StatusPending || (to == domain.StatusAccepted) != (assignedProviderID != "") {
		return nil, fmt.Errorf("transition to %s with provider %q: %w", to, assignedProviderID, domain.ErrInvalidInput)
	}

	req, err := scanRequest(r.db.QueryRow(ctx, `UPDATE service_requests
		SET status = $2, assigned_provider_id = $3, updated_at = $4
		WHERE id = $1 AND status = 'PENDING'
		RETURNING `+requestColumns,
		id, string(to), nullString(assignedProviderID), at,
	))
	if err == nil {
		return req, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		r.logger.ErrorContext(ctx, "Conditional status update failed", "request_id", id, "to", to, "error", err)
		return nil, fmt.Errorf("updating status of %s: %w", id, err)
	}

	var current string
	err = r.db.QueryRow(ctx, `SELECT status FROM service_requests WHERE id = $1`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("reading status of %s: %w", id, err)
	}
	r.logger.DebugContext(ctx, "Transition lost to an earlier one", "request_id", id, "current_status", current, "to", to)
	return nil, domain.ErrRequestClosed
}

var _ domain.RequestRepository = (*PgRequestRepository)(nil)

// CloseIfAllRejected locks the request row FOR UPDATE, which waits out every
// offer insert holding FOR SHARE. Under READ COMMITTED the tally that follows
// takes a fresh snapshot and so sees those offers.
func (r *PgRequestRepository) CloseIfAllRejected(ctx context.Context, id string, at time.Time) (*domain.ServiceRequest, bool, error) {
	var closed *domain.ServiceRequest
	err := database.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		var status string
		err := tx.QueryRow(ctx, `SELECT status FROM service_requests WHERE id = $1 FOR UPDATE`, id).Scan(&status)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrNotFound
			}
			return fmt.Errorf("locking service request %s: %w", id, err)
		}
		if domain.RequestStatus(status) != domain.StatusPending {
			return nil
		}

		var recipients, declined, open int
		err = tx.QueryRow(ctx, `SELECT
			(SELECT COUNT(*) FROM request_recipients WHERE request_id = $1),
			(SELECT COUNT(*) FROM request_recipients rc
				JOIN provider_offers o ON o.request_id = rc.request_id AND o.provider_id = rc.provider_id
				WHERE rc.request_id = $1 AND o.kind = 'REJECTED'),
			(SELECT COUNT(*) FROM provider_offers WHERE request_id = $1 AND kind <> 'REJECTED')`,
			id,
		).Scan(&recipients, &declined, &open)
		if err != nil {
			return fmt.Errorf("tallying offers of %s: %w", id, err)
		}
		if recipients == 0 || declined < recipients || open > 0 {
			return nil
		}

		closed, err = scanRequest(tx.QueryRow(ctx, `UPDATE service_requests
			SET status = 'REJECTED', updated_at = $2
			WHERE id = $1
			RETURNING `+requestColumns,
			id, at,
		))
		if err != nil {
			return fmt.Errorf("closing service request %s: %w", id, err)
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			r.logger.ErrorContext(ctx, "All-rejected close failed", "request_id", id, "error", err)
		}
		return nil, false, err
	}
	return closed, closed != nil, nil
}
