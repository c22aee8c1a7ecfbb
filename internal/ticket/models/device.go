package models

import (
	"time"

	"ticketd/internal/authn"
)

// DeviceStatus is the state of a device authorization session.
type DeviceStatus string

const (
	DeviceStatusPending  DeviceStatus = "PENDING"
	DeviceStatusApproved DeviceStatus = "APPROVED"
	DeviceStatusDenied   DeviceStatus = "DENIED"
	DeviceStatusExpired  DeviceStatus = "EXPIRED"
)

// IsTerminal reports whether no further user decision can apply.
func (s DeviceStatus) IsTerminal() bool {
	return s != DeviceStatusPending
}

// CanTransitionTo allows PENDING -> {APPROVED, DENIED, EXPIRED} only.
func (s DeviceStatus) CanTransitionTo(next DeviceStatus) bool {
	return s == DeviceStatusPending && next != DeviceStatusPending
}

// DeviceData is the payload of a device code ticket.
type DeviceData struct {
	Status       DeviceStatus  `json:"status"`
	UserCode     string        `json:"user_code"`
	ClientID     string        `json:"client_id"`
	Service      string        `json:"service"`
	Scopes       []string      `json:"scopes,omitempty"`
	Interval     time.Duration `json:"interval"`
	LastPolledAt time.Time     `json:"last_polled_at,omitempty"`
	// Deadline ends the user's window to decide. The ticket itself lives a
	// little longer so a late poll can still be told the code expired.
	Deadline       time.Time             `json:"deadline"`
	DeviceName     string                `json:"device_name,omitempty"`
	Authentication *authn.Authentication `json:"authentication,omitempty"`
}

// Lapsed reports whether the decision window closed at now.
func (d *DeviceData) Lapsed(now time.Time) bool {
	return !d.Deadline.IsZero() && !now.Before(d.Deadline)
}

// PolledTooSoon reports whether a poll at now arrives inside the interval.
func (d *DeviceData) PolledTooSoon(now time.Time) bool {
	return !d.LastPolledAt.IsZero() && now.Sub(d.LastPolledAt) < d.Interval
}

// Transition moves the status forward, returning false when not allowed.
func (d *DeviceData) Transition(next DeviceStatus) bool {
	if !d.Status.CanTransitionTo(next) {
		return false
	}
	d.Status = next
	return true
}
