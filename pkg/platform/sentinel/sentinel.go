package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Ticket stores and other
// infrastructure layers return these (optionally wrapped) so services can
// translate them into domain errors.
//
// - ErrNotFound: ticket does not exist (never stored, deleted or consumed)
// - ErrExpired: ticket exists physically but its expiration policy has elapsed
// - ErrWrongKind: ticket exists but is not of the kind the caller asked for
// - ErrConflict: a ticket with the same id is already stored
// - ErrAlreadyUsed: single-use artifact was already consumed
// - ErrInvalidState: ticket is in the wrong state for the requested transition
// - ErrUnavailable: backing storage cannot be reached
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrExpired      = errors.New("expired")
	ErrWrongKind    = errors.New("wrong ticket kind")
	ErrConflict     = errors.New("conflict")
	ErrAlreadyUsed  = errors.New("already used")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)

// IsAbsent reports whether err means the ticket is logically absent:
// missing or expired.
func IsAbsent(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrExpired)
}
