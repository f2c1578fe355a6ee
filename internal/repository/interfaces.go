package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nesthaus/riskengine/internal/domain"
)

// DBTX abstracts pgx.Tx and pgxpool.Pool so repositories work with both.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// SecurityEventRepository provides access to the security_events archive.
type SecurityEventRepository interface {
	// Insert archives an event. Redelivered events are ignored and reported
	// as not inserted.
	Insert(ctx context.Context, db DBTX, ev domain.SecurityEvent) (bool, error)

	// FindByID returns an archived event, or nil when absent.
	FindByID(ctx context.Context, db DBTX, id string) (*domain.SecurityEvent, error)

	// List returns archived events newest first, optionally for one session.
	List(ctx context.Context, db DBTX, sessionID string, limit int) ([]domain.SecurityEvent, error)

	// CountByType counts events per type since the given instant.
	CountByType(ctx context.Context, db DBTX, since time.Time) (map[domain.EventType]int, error)
}

// SecurityAlertRepository provides access to the security_alerts archive.
type SecurityAlertRepository interface {
	// Upsert stores the latest state of an alert.
	Upsert(ctx context.Context, db DBTX, a domain.SecurityAlert) error

	// ListOpen returns alerts that are neither resolved nor auto-resolved,
	// most recently seen first.
	ListOpen(ctx context.Context, db DBTX, limit int) ([]domain.SecurityAlert, error)
}
