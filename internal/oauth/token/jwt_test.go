package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticketd/internal/authn"
	tmodels "ticketd/internal/ticket/models"
	dErrors "ticketd/pkg/domain-errors"
)

var (
	jwtEncoder = NewJWTEncoder("test-signing-key", "https://sso.example.com")
	issuedAt   = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
)

func accessTicket(ttl time.Duration) *tmodels.Ticket {
	t := tmodels.New(tmodels.NewID(tmodels.KindAccessToken), tmodels.KindAccessToken, issuedAt, tmodels.Timeout(ttl))
	t.Token = &tmodels.TokenData{
		Authentication: authn.Authentication{Principal: authn.Principal{ID: "alice"}},
		Service:        "https://app.example.com",
		ClientID:       "app",
		GrantType:      "password",
		Scopes:         []string{"openid", "profile"},
	}
	return t
}

func Test_Encode(t *testing.T) {
	at := accessTicket(time.Hour)
	token, err := jwtEncoder.Encode(at)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := jwtEncoder.Validate(token, issuedAt.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, at.ID, claims.ID)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, "app", claims.ClientID)
	assert.Equal(t, "openid profile", claims.Scope)
	assert.Equal(t, []string{"https://app.example.com"}, []string(claims.Audience))
	assert.Equal(t, issuedAt.Add(time.Hour), claims.ExpiresAt.Time.UTC())

	id, err := jwtEncoder.TicketID(token, issuedAt)
	require.NoError(t, err)
	assert.Equal(t, at.ID, id)
}

func Test_Validate_InvalidToken(t *testing.T) {
	_, err := jwtEncoder.Validate("invalid-token-string", issuedAt)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidGrant))
}

func Test_Validate_ExpiredToken(t *testing.T) {
	token, err := jwtEncoder.Encode(accessTicket(time.Minute))
	require.NoError(t, err)

	_, err = jwtEncoder.Validate(token, issuedAt.Add(time.Hour))
	assert.True(t, dErrors.HasCode(err, dErrors.CodeExpiredToken))
}

func Test_Validate_WrongKeyOrIssuer(t *testing.T) {
	token, err := jwtEncoder.Encode(accessTicket(time.Hour))
	require.NoError(t, err)

	_, err = NewJWTEncoder("other-key", "https://sso.example.com").Validate(token, issuedAt)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidGrant))

	_, err = NewJWTEncoder("test-signing-key", "https://elsewhere").Validate(token, issuedAt)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidGrant))
}

func Test_Opaque(t *testing.T) {
	at := accessTicket(time.Hour)
	token, err := OpaqueEncoder{}.Encode(at)
	require.NoError(t, err)
	assert.Equal(t, at.ID, token)
}
