package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/nesthaus/riskengine/internal/domain"
)

const maxArchiveLimit = domain.MaxEventQueryLimit

type securityEventRepo struct{}

// NewSecurityEventRepository returns a pgx-backed SecurityEventRepository.
func NewSecurityEventRepository() SecurityEventRepository {
	return &securityEventRepo{}
}

const eventColumns = `id, session_id, type, severity, source, description, metadata,
	       resolved, response_actions, occurred_at`

func (r *securityEventRepo) Insert(ctx context.Context, db DBTX, ev domain.SecurityEvent) (bool, error) {
	metadata := ev.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	actions := ev.ResponseActions
	if actions == nil {
		actions = []string{}
	}

	tag, err := db.Exec(ctx, `
		INSERT INTO security_events
		  (id, session_id, type, severity, source, description, metadata,
		   resolved, response_actions, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`,
		ev.ID,
		ev.SessionID,
		string(ev.Type),
		string(ev.Severity),
		ev.Source,
		ev.Description,
		metadata,
		ev.Resolved,
		actions,
		ev.Timestamp,
	)
	if err != nil {
		return false, fmt.Errorf("insert security event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *securityEventRepo) FindByID(ctx context.Context, db DBTX, id string) (*domain.SecurityEvent, error) {
	row := db.QueryRow(ctx, `SELECT `+eventColumns+` FROM security_events WHERE id = $1`, id)
	ev, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func (r *securityEventRepo) List(ctx context.Context, db DBTX, sessionID string, limit int) ([]domain.SecurityEvent, error) {
	if limit <= 0 || limit > maxArchiveLimit {
		limit = 100
	}

	var rows pgx.Rows
	var err error
	if sessionID != "" {
		rows, err = db.Query(ctx, `
			SELECT `+eventColumns+`
			FROM security_events
			WHERE session_id = $1
			ORDER BY occurred_at DESC, id DESC
			LIMIT $2`, sessionID, limit)
	} else {
		rows, err = db.Query(ctx, `
			SELECT `+eventColumns+`
			FROM security_events
			ORDER BY occurred_at DESC, id DESC
			LIMIT $1`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query security events: %w", err)
	}
	defer rows.Close()

	var events []domain.SecurityEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (r *securityEventRepo) CountByType(ctx context.Context, db DBTX, since time.Time) (map[domain.EventType]int, error) {
	rows, err := db.Query(ctx, `
		SELECT type, COUNT(*)
		FROM security_events
		WHERE occurred_at >= $1
		GROUP BY type`, since)
	if err != nil {
		return nil, fmt.Errorf("count security events: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.EventType]int)
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, fmt.Errorf("scan event count: %w", err)
		}
		counts[domain.EventType(t)] = n
	}
	return counts, rows.Err()
}

func scanEvent(row pgx.Row) (domain.SecurityEvent, error) {
	var ev domain.SecurityEvent
	var typ, sev string
	err := row.Scan(
		&ev.ID, &ev.SessionID, &typ, &sev, &ev.Source, &ev.Description, &ev.Metadata,
		&ev.Resolved, &ev.ResponseActions, &ev.Timestamp,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ev, err
		}
		return ev, fmt.Errorf("scan security event: %w", err)
	}
	ev.Type = domain.EventType(typ)
	ev.Severity = domain.Severity(sev)
	return ev, nil
}
