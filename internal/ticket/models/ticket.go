// Package models defines the ticket: the one expiring server-side artifact
// shape behind sessions, codes and tokens.
package models

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"ticketd/internal/authn"
)

// Kind identifies the ticket variant. It doubles as the id prefix.
type Kind string

const (
	KindGrantingTicket Kind = "TGT"
	KindAccessToken    Kind = "AT"
	KindRefreshToken   Kind = "RT"
	KindOAuthCode      Kind = "OC"
	KindDeviceCode     Kind = "ODC"
	KindDeviceUserCode Kind = "ODU"
)

var kinds = []Kind{
	KindGrantingTicket, KindAccessToken, KindRefreshToken,
	KindOAuthCode, KindDeviceCode, KindDeviceUserCode,
}

// Kinds lists every ticket kind.
func Kinds() []Kind {
	return slices.Clone(kinds)
}

func (k Kind) Prefix() string {
	return string(k) + "-"
}

// NewID returns a fresh id carrying the kind prefix.
func NewID(kind Kind) string {
	return kind.Prefix() + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// KindOf derives the kind from an id prefix. Unknown prefixes return "".
func KindOf(id string) Kind {
	prefix, _, ok := strings.Cut(id, "-")
	if !ok {
		return ""
	}
	for _, k := range kinds {
		if string(k) == prefix {
			return k
		}
	}
	return ""
}

// Ticket is the stored artifact. Exactly one payload pointer is set for the
// kinds that carry one.
type Ticket struct {
	ID          string           `json:"id"`
	Kind        Kind             `json:"kind"`
	CreatedAt   time.Time        `json:"created_at"`
	LastUsedAt  time.Time        `json:"last_used_at"`
	UseCount    int              `json:"use_count"`
	Expiration  ExpirationPolicy `json:"expiration"`
	ParentID    string           `json:"parent_id,omitempty"`
	Invalidated bool             `json:"invalidated,omitempty"`

	Token    *TokenData    `json:"token,omitempty"`
	Device   *DeviceData   `json:"device,omitempty"`
	UserCode *UserCodeData `json:"user_code,omitempty"`
}

// TokenData is the payload of granting tickets, OAuth codes, access tokens and
// refresh tokens.
type TokenData struct {
	Authentication authn.Authentication `json:"authentication"`
	Service        string               `json:"service"`
	ClientID       string               `json:"client_id"`
	GrantType      string               `json:"grant_type"`
	Scopes         []string             `json:"scopes,omitempty"`
	RedirectURI    string               `json:"redirect_uri,omitempty"`
}

// UserCodeData links a user-facing code to its device code ticket.
type UserCodeData struct {
	DeviceCodeID string `json:"device_code_id"`
}

// New builds a ticket of kind created at now.
func New(id string, kind Kind, now time.Time, policy ExpirationPolicy) *Ticket {
	return &Ticket{
		ID:         id,
		Kind:       kind,
		CreatedAt:  now,
		LastUsedAt: now,
		Expiration: policy,
	}
}

// ExpiresAt is the instant the ticket stops being valid. Zero means never.
func (t *Ticket) ExpiresAt() time.Time {
	return t.Expiration.ExpiresAt(t.CreatedAt, t.LastUsedAt)
}

// IsExpired reports whether the ticket is no longer valid at now. Once true it
// stays true: invalidation is sticky and deadlines only move forward while the
// ticket is still valid.
func (t *Ticket) IsExpired(now time.Time) bool {
	if t.Invalidated {
		return true
	}
	exp := t.ExpiresAt()
	return !exp.IsZero() && !now.Before(exp)
}

// IsValid is the negation of IsExpired.
func (t *Ticket) IsValid(now time.Time) bool {
	return !t.IsExpired(now)
}

// Touch records a use. Under a sliding policy this pushes the idle deadline.
func (t *Ticket) Touch(now time.Time) {
	if t.IsExpired(now) {
		return
	}
	t.LastUsedAt = now
	t.UseCount++
}

// Invalidate expires the ticket permanently.
func (t *Ticket) Invalidate() {
	t.Invalidated = true
}

// Principal returns the principal id the ticket was issued for, if any.
func (t *Ticket) Principal() string {
	switch {
	case t.Token != nil:
		return t.Token.Authentication.Principal.ID
	case t.Device != nil && t.Device.Authentication != nil:
		return t.Device.Authentication.Principal.ID
	}
	return ""
}

// Clone returns a deep copy. Stores hand out clones so callers never share
// state with the stored value.
func (t *Ticket) Clone() *Ticket {
	if t == nil {
		return nil
	}
	out := *t
	if t.Token != nil {
		tok := *t.Token
		tok.Authentication = t.Token.Authentication.Clone()
		tok.Scopes = slices.Clone(t.Token.Scopes)
		out.Token = &tok
	}
	if t.Device != nil {
		dev := *t.Device
		dev.Scopes = slices.Clone(t.Device.Scopes)
		if t.Device.Authentication != nil {
			a := t.Device.Authentication.Clone()
			dev.Authentication = &a
		}
		out.Device = &dev
	}
	if t.UserCode != nil {
		uc := *t.UserCode
		out.UserCode = &uc
	}
	return &out
}
