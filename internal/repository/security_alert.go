package repository

import (
	"context"
	"fmt"

	"github.com/nesthaus/riskengine/internal/domain"
)

type securityAlertRepo struct{}

// NewSecurityAlertRepository returns a pgx-backed SecurityAlertRepository.
func NewSecurityAlertRepository() SecurityAlertRepository {
	return &securityAlertRepo{}
}

// Upsert keeps the furthest state seen: counts and last_seen never move
// backwards when messages arrive out of order.
func (r *securityAlertRepo) Upsert(ctx context.Context, db DBTX, a domain.SecurityAlert) error {
	recs := a.RecommendedActions
	if recs == nil {
		recs = []string{}
	}
	_, err := db.Exec(ctx, `
		INSERT INTO security_alerts
		  (id, session_id, type, severity, title, message, first_seen, last_seen,
		   count, recommended_actions, resolved, auto_resolved)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
		  severity = EXCLUDED.severity,
		  message = EXCLUDED.message,
		  last_seen = GREATEST(security_alerts.last_seen, EXCLUDED.last_seen),
		  count = GREATEST(security_alerts.count, EXCLUDED.count),
		  recommended_actions = EXCLUDED.recommended_actions,
		  resolved = security_alerts.resolved OR EXCLUDED.resolved,
		  auto_resolved = security_alerts.auto_resolved OR EXCLUDED.auto_resolved,
		  updated_at = now()`,
		a.ID,
		a.SessionID,
		a.Type,
		string(a.Severity),
		a.Title,
		a.Message,
		a.Timestamp,
		a.LastSeen,
		a.Count,
		recs,
		a.Resolved,
		a.AutoResolved,
	)
	if err != nil {
		return fmt.Errorf("upsert security alert: %w", err)
	}
	return nil
}

func (r *securityAlertRepo) ListOpen(ctx context.Context, db DBTX, limit int) ([]domain.SecurityAlert, error) {
	if limit <= 0 || limit > maxArchiveLimit {
		limit = 100
	}
	rows, err := db.Query(ctx, `
		SELECT id, session_id, type, severity, title, message, first_seen, last_seen,
		       count, recommended_actions, resolved, auto_resolved
		FROM security_alerts
		WHERE NOT resolved AND NOT auto_resolved
		ORDER BY last_seen DESC, id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query security alerts: %w", err)
	}
	defer rows.Close()

	var alerts []domain.SecurityAlert
	for rows.Next() {
		var a domain.SecurityAlert
		var sev string
		if err := rows.Scan(
			&a.ID, &a.SessionID, &a.Type, &sev, &a.Title, &a.Message, &a.Timestamp, &a.LastSeen,
			&a.Count, &a.RecommendedActions, &a.Resolved, &a.AutoResolved,
		); err != nil {
			return nil, fmt.Errorf("scan security alert: %w", err)
		}
		a.Severity = domain.Severity(sev)
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}
