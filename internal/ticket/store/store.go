// Package store holds every ticket-like artifact behind one expiring registry.
//
// Error contract, shared by all backends:
//   - sentinel.ErrNotFound when no ticket has the id
//   - sentinel.ErrExpired when the ticket exists but its expiration policy has
//     elapsed or it was invalidated; expired tickets are never returned
//   - sentinel.ErrWrongKind from GetKind when the stored kind differs
//   - sentinel.ErrConflict when Add/AddAll would overwrite an existing id
//   - sentinel.ErrUnavailable (joined with the cause) for backend failures
//
// Every operation touching a single id is serialized against all other
// operations on that id. Nothing is promised about ordering across ids.
package store

import (
	"context"
	"errors"

	"ticketd/internal/ticket/models"
)

// Action tells Execute what to do with the ticket once fn returns.
type Action int

const (
	// ActionKeep leaves the stored ticket untouched.
	ActionKeep Action = iota
	// ActionSave persists the ticket as fn left it.
	ActionSave
	// ActionDelete removes the ticket.
	ActionDelete
)

// MutateFunc runs under the per-id lock with a private copy of the ticket. The
// returned action is applied even when err is non-nil, so a caller can both
// reject a request and retire the ticket in one step. Backends with optimistic
// concurrency may call fn more than once; it must not have side effects.
type MutateFunc func(t *models.Ticket) (Action, error)

// Store is the ticket registry contract.
type Store interface {
	// Add inserts a new ticket.
	Add(ctx context.Context, t *models.Ticket) error
	// AddAll inserts every ticket or none of them.
	AddAll(ctx context.Context, tickets ...*models.Ticket) error
	// Get returns a valid ticket by id.
	Get(ctx context.Context, id string) (*models.Ticket, error)
	// GetKind is Get plus a kind check.
	GetKind(ctx context.Context, id string, kind models.Kind) (*models.Ticket, error)
	// Replace overwrites the stored state of an existing, valid ticket.
	Replace(ctx context.Context, t *models.Ticket) error
	// Execute is an atomic read-modify-write of one ticket. It returns the
	// ticket as fn left it, and fn's error.
	Execute(ctx context.Context, id string, fn MutateFunc) (*models.Ticket, error)
	// Delete removes a ticket. Deleting an absent id is not an error.
	Delete(ctx context.Context, id string) error
	// DeleteWithDescendants removes a ticket and every ticket whose parent
	// chain leads to it, returning how many were removed.
	DeleteWithDescendants(ctx context.Context, id string) (int, error)
	// DeleteExpired purges tickets that are no longer valid.
	DeleteExpired(ctx context.Context) (int, error)
	// Count returns the number of valid tickets of kind.
	Count(ctx context.Context, kind models.Kind) (int, error)
}

// Consume validates a ticket with check and deletes it in the same atomic step.
// A failing check leaves the ticket in place.
func Consume(ctx context.Context, s Store, id string, check func(t *models.Ticket) error) (*models.Ticket, error) {
	return s.Execute(ctx, id, func(t *models.Ticket) (Action, error) {
		if check != nil {
			if err := check(t); err != nil {
				return ActionKeep, err
			}
		}
		return ActionDelete, nil
	})
}

var errNilTicket = errors.New("ticket is nil")

func validateNew(t *models.Ticket) error {
	if t == nil {
		return errNilTicket
	}
	if t.ID == "" {
		return errors.New("ticket id is required")
	}
	if t.Kind == "" {
		return errors.New("ticket kind is required")
	}
	return nil
}
