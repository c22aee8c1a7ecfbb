package postgres

import (
	"context"
	"database/sql"
	"fmt"

	audit "ticketd/pkg/platform/audit"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id            TEXT PRIMARY KEY,
	category      TEXT NOT NULL,
	action        TEXT NOT NULL,
	subject       TEXT NOT NULL DEFAULT '',
	client_id     TEXT NOT NULL DEFAULT '',
	service       TEXT NOT NULL DEFAULT '',
	grant_type    TEXT NOT NULL DEFAULT '',
	response_type TEXT NOT NULL DEFAULT '',
	decision      TEXT NOT NULL DEFAULT '',
	reason        TEXT NOT NULL DEFAULT '',
	ticket_id     TEXT NOT NULL DEFAULT '',
	request_id    TEXT NOT NULL DEFAULT '',
	client_ip     TEXT NOT NULL DEFAULT '',
	occurred_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS audit_events_subject_idx ON audit_events (subject, occurred_at);
`

// Store appends audit events to the audit_events table.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL audit store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the audit table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create audit schema: %w", err)
	}
	return nil
}

// Append inserts one event. Re-delivery of the same event id is a no-op.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	query := `
		INSERT INTO audit_events (
			id, category, action, subject, client_id, service, grant_type,
			response_type, decision, reason, ticket_id, request_id, client_ip, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		string(event.Category),
		event.Action,
		event.Subject,
		event.ClientID,
		event.Service,
		event.GrantType,
		event.ResponseType,
		event.Decision,
		event.Reason,
		event.TicketID,
		event.RequestID,
		event.ClientIP,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ListBySubject returns events about one principal, oldest first.
func (s *Store) ListBySubject(ctx context.Context, subject string) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, category, action, subject, client_id, service, grant_type,
			response_type, decision, reason, ticket_id, request_id, client_ip, occurred_at
		FROM audit_events
		WHERE subject = $1
		ORDER BY occurred_at ASC
	`, subject)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var e audit.Event
		var category string
		if err := rows.Scan(&e.ID, &category, &e.Action, &e.Subject, &e.ClientID, &e.Service,
			&e.GrantType, &e.ResponseType, &e.Decision, &e.Reason, &e.TicketID,
			&e.RequestID, &e.ClientIP, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.Category = audit.EventCategory(category)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
