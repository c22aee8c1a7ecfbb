// Package logsink writes audit events to a structured logger. It is the
// default sink when no durable audit backend is configured.
package logsink

import (
	"context"
	"log/slog"

	audit "ticketd/pkg/platform/audit"
)

type Store struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Store {
	return &Store{logger: logger.With("component", "audit")}
}

func (s *Store) Append(ctx context.Context, event audit.Event) error {
	level := slog.LevelInfo
	if event.Decision == audit.DecisionDeny {
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, event.Action,
		"event_id", event.ID,
		"category", string(event.Category),
		"subject", event.Subject,
		"client_id", event.ClientID,
		"service", event.Service,
		"grant_type", event.GrantType,
		"decision", event.Decision,
		"reason", event.Reason,
		"ticket_id", event.TicketID,
		"request_id", event.RequestID,
		"client_ip", event.ClientIP,
		"occurred_at", event.Timestamp,
	)
	return nil
}
