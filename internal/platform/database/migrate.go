package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Execer is the subset of pgx used by Migrate. *pgxpool.Pool and pgx.Tx satisfy it.
type Execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// schema is applied in order inside a single transaction. Every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS providers (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL DEFAULT '',
		latitude   DOUBLE PRECISION NOT NULL,
		longitude  DOUBLE PRECISION NOT NULL,
		is_active  BOOLEAN NOT NULL DEFAULT TRUE,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS service_requests (
		id                   TEXT PRIMARY KEY,
		requester_id         TEXT NOT NULL,
		requester_name       TEXT NOT NULL DEFAULT '',
		latitude             DOUBLE PRECISION NOT NULL,
		longitude            DOUBLE PRECISION NOT NULL,
		radius_km            DOUBLE PRECISION NOT NULL,
		quantity             INTEGER NOT NULL,
		note                 TEXT NOT NULL DEFAULT '',
		image_ref            TEXT NOT NULL DEFAULT '',
		status               TEXT NOT NULL DEFAULT 'PENDING',
		assigned_provider_id TEXT NULL,
		created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT service_requests_status_chk CHECK (status IN ('PENDING','ACCEPTED','REJECTED','CANCELLED'))
	)`,
	`CREATE INDEX IF NOT EXISTS idx_service_requests_requester ON service_requests (requester_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS request_recipients (
		request_id  TEXT NOT NULL REFERENCES service_requests(id) ON DELETE CASCADE,
		provider_id TEXT NOT NULL,
		distance_km DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (request_id, provider_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_request_recipients_provider ON request_recipients (provider_id)`,
	`CREATE TABLE IF NOT EXISTS provider_offers (
		id               TEXT PRIMARY KEY,
		request_id       TEXT NOT NULL REFERENCES service_requests(id) ON DELETE CASCADE,
		provider_id      TEXT NOT NULL,
		provider_name    TEXT NOT NULL DEFAULT '',
		kind             TEXT NOT NULL,
		message          TEXT NOT NULL DEFAULT '',
		substitute_name  TEXT NOT NULL DEFAULT '',
		substitute_price TEXT NOT NULL DEFAULT '',
		audio_ref        TEXT NOT NULL DEFAULT '',
		created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT provider_offers_request_provider_key UNIQUE (request_id, provider_id),
		CONSTRAINT provider_offers_kind_chk CHECK (kind IN ('ACCEPTED','SUBSTITUTE','REJECTED'))
	)`,
	`CREATE TABLE IF NOT EXISTS delivery_endpoints (
		id         TEXT PRIMARY KEY,
		owner_key  TEXT NOT NULL,
		token      TEXT NOT NULL UNIQUE,
		platform   TEXT NOT NULL,
		is_active  BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_delivery_endpoints_owner ON delivery_endpoints (owner_key) WHERE is_active`,
}

// WithTx runs fn inside a transaction, committing when fn returns nil and rolling
// back otherwise. Rollback is issued exactly once on the failure path.
func WithTx(ctx context.Context, db interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}, fn func(tx pgx.Tx) error) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return errors.Join(err, rbErr)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Migrate creates the broadcast tables if they do not exist.
func Migrate(ctx context.Context, db Execer) error {
	return WithTx(ctx, db, func(tx pgx.Tx) error {
		for i, stmt := range schema {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("migration step %d failed: %w", i+1, err)
			}
		}
		return nil
	})
}
