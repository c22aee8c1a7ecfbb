package models

import (
	"slices"
	"strings"
	"time"

	dErrors "ticketd/pkg/domain-errors"
)

type GrantType string

const (
	GrantAuthorizationCode GrantType = "authorization_code"
	GrantPassword          GrantType = "password"
	GrantClientCredentials GrantType = "client_credentials"
	GrantRefreshToken      GrantType = "refresh_token"
	// GrantNone tags the device flow's token step, which is driven by the
	// response type rather than a grant.
	GrantNone GrantType = "none"
)

func (g GrantType) IsValid() bool {
	switch g {
	case GrantAuthorizationCode, GrantPassword, GrantClientCredentials, GrantRefreshToken, GrantNone:
		return true
	}
	return false
}

// RequiresConfidentialClient is true for grants where the client acts on its own.
func (g GrantType) RequiresConfidentialClient() bool {
	return g == GrantClientCredentials
}

// PermitsRefresh reports whether tokens minted for this grant may come with a
// refresh token.
func (g GrantType) PermitsRefresh() bool {
	switch g {
	case GrantAuthorizationCode, GrantPassword, GrantNone:
		return true
	}
	return false
}

type ResponseType string

const (
	ResponseCode       ResponseType = "code"
	ResponseToken      ResponseType = "token"
	ResponseDeviceCode ResponseType = "device_code"
)

// RegisteredService is a client application record. It is owned by the
// registry and read-only to the grant pipeline.
//
// Invariants:
//   - ClientID is non-empty
//   - every AllowedGrants entry is a valid GrantType
//   - EndsAt, when set, is after StartsAt
type RegisteredService struct {
	ID                   string              `json:"id" yaml:"id"`
	Name                 string              `json:"name" yaml:"name"`
	ServiceURL           string              `json:"service" yaml:"service"`
	ClientID             string              `json:"client_id" yaml:"client_id"`
	ClientSecretHash     string              `json:"-" yaml:"client_secret_hash"`
	RedirectURIs         []string            `json:"redirect_uris" yaml:"redirect_uris"`
	AllowedGrants        []GrantType         `json:"allowed_grants" yaml:"allowed_grants"`
	AllowedResponseTypes []ResponseType      `json:"allowed_response_types" yaml:"allowed_response_types"`
	AllowedScopes        []string            `json:"allowed_scopes" yaml:"allowed_scopes"`
	GenerateRefreshToken bool                `json:"generate_refresh_token" yaml:"generate_refresh_token"`
	AccessStrategy       AccessStrategy      `json:"access_strategy" yaml:"access_strategy"`
	Attributes           map[string][]string `json:"attributes,omitempty" yaml:"attributes"`
}

// AccessStrategy holds the predicates the access policy gate evaluates.
type AccessStrategy struct {
	// Enabled is a pointer so an omitted field in YAML means enabled.
	Enabled            *bool               `json:"enabled,omitempty" yaml:"enabled"`
	StartsAt           time.Time           `json:"starts_at,omitempty" yaml:"starts_at"`
	EndsAt             time.Time           `json:"ends_at,omitempty" yaml:"ends_at"`
	RequiredAttributes map[string][]string `json:"required_attributes,omitempty" yaml:"required_attributes"`
}

func (a AccessStrategy) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

// InWindow reports whether now falls inside the optional start/end window.
func (a AccessStrategy) InWindow(now time.Time) bool {
	if !a.StartsAt.IsZero() && now.Before(a.StartsAt) {
		return false
	}
	if !a.EndsAt.IsZero() && !now.Before(a.EndsAt) {
		return false
	}
	return true
}

// Validate checks the invariants listed on RegisteredService.
func (s *RegisteredService) Validate() error {
	if strings.TrimSpace(s.ClientID) == "" {
		return dErrors.New(dErrors.CodeInvariantViolation, "client_id cannot be empty")
	}
	for _, g := range s.AllowedGrants {
		if !g.IsValid() {
			return dErrors.New(dErrors.CodeInvariantViolation, "invalid allowed_grant "+string(g))
		}
	}
	for _, g := range s.AllowedGrants {
		if g.RequiresConfidentialClient() && !s.IsConfidential() {
			return dErrors.New(dErrors.CodeInvariantViolation, "client_credentials requires a client secret")
		}
	}
	st := s.AccessStrategy
	if !st.StartsAt.IsZero() && !st.EndsAt.IsZero() && !st.EndsAt.After(st.StartsAt) {
		return dErrors.New(dErrors.CodeInvariantViolation, "access window ends before it starts")
	}
	return nil
}

// Confidential clients hold a secret; public ones cannot.
func (s *RegisteredService) IsConfidential() bool {
	return s.ClientSecretHash != ""
}

// AllowsGrant treats an empty list as allowing every grant.
func (s *RegisteredService) AllowsGrant(g GrantType) bool {
	return len(s.AllowedGrants) == 0 || slices.Contains(s.AllowedGrants, g)
}

// AllowsResponseType treats an empty list as allowing every response type.
func (s *RegisteredService) AllowsResponseType(r ResponseType) bool {
	return len(s.AllowedResponseTypes) == 0 || slices.Contains(s.AllowedResponseTypes, r)
}

// AllowsRedirectURI accepts any URI when none are registered.
func (s *RegisteredService) AllowsRedirectURI(uri string) bool {
	return len(s.RedirectURIs) == 0 || slices.Contains(s.RedirectURIs, uri)
}

// GrantScopes intersects the requested scopes with the allowed ones. With no
// allowed list every requested scope passes; an empty request gets the full
// allowed list.
func (s *RegisteredService) GrantScopes(requested []string) []string {
	if len(requested) == 0 {
		return slices.Clone(s.AllowedScopes)
	}
	if len(s.AllowedScopes) == 0 {
		return slices.Clone(requested)
	}
	out := make([]string, 0, len(requested))
	for _, r := range requested {
		if slices.Contains(s.AllowedScopes, r) {
			out = append(out, r)
		}
	}
	return out
}

// Target is the URL tokens are scoped to. It falls back to the client id for
// services registered without one.
func (s *RegisteredService) Target() string {
	if s.ServiceURL != "" {
		return s.ServiceURL
	}
	return s.ClientID
}
