package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	dErrors "ticketd/pkg/domain-errors"
)

func TestRegisteredService_Validate(t *testing.T) {
	disabled := false
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		name    string
		svc     RegisteredService
		wantErr bool
	}{
		{"minimal", RegisteredService{ClientID: "app"}, false},
		{"missing client id", RegisteredService{}, true},
		{"bad grant", RegisteredService{ClientID: "app", AllowedGrants: []GrantType{"implicit"}}, true},
		{"public client credentials", RegisteredService{ClientID: "app", AllowedGrants: []GrantType{GrantClientCredentials}}, true},
		{"inverted window", RegisteredService{ClientID: "app", AccessStrategy: AccessStrategy{StartsAt: start, EndsAt: start.Add(-time.Hour)}}, true},
		{"disabled is still valid", RegisteredService{ClientID: "app", AccessStrategy: AccessStrategy{Enabled: &disabled}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.svc.Validate()
			if tc.wantErr {
				assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestRegisteredService_Allows(t *testing.T) {
	open := RegisteredService{ClientID: "open"}
	assert.True(t, open.AllowsGrant(GrantPassword))
	assert.True(t, open.AllowsResponseType(ResponseDeviceCode))
	assert.True(t, open.AllowsRedirectURI("https://anything"))

	strict := RegisteredService{
		ClientID:             "strict",
		AllowedGrants:        []GrantType{GrantAuthorizationCode},
		AllowedResponseTypes: []ResponseType{ResponseCode},
		RedirectURIs:         []string{"https://app/cb"},
		AllowedScopes:        []string{"openid", "profile"},
	}
	assert.False(t, strict.AllowsGrant(GrantPassword))
	assert.False(t, strict.AllowsResponseType(ResponseDeviceCode))
	assert.False(t, strict.AllowsRedirectURI("https://evil/cb"))
	assert.Equal(t, []string{"openid"}, strict.GrantScopes([]string{"openid", "admin"}))
	assert.Equal(t, []string{"openid", "profile"}, strict.GrantScopes(nil))
}

func TestAccessStrategy(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	off := false

	assert.True(t, AccessStrategy{}.IsEnabled())
	assert.False(t, AccessStrategy{Enabled: &off}.IsEnabled())

	w := AccessStrategy{StartsAt: now, EndsAt: now.Add(time.Hour)}
	assert.False(t, w.InWindow(now.Add(-time.Second)))
	assert.True(t, w.InWindow(now))
	assert.False(t, w.InWindow(now.Add(time.Hour)))
}

func TestGrantType(t *testing.T) {
	assert.True(t, GrantNone.PermitsRefresh())
	assert.True(t, GrantPassword.PermitsRefresh())
	assert.False(t, GrantClientCredentials.PermitsRefresh())
	assert.False(t, GrantRefreshToken.PermitsRefresh())
	assert.True(t, GrantClientCredentials.RequiresConfidentialClient())
}
