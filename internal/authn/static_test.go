package authn

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	dErrors "ticketd/pkg/domain-errors"
	"ticketd/pkg/requestcontext"
)

func hash(t *testing.T, pw string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func TestStaticAuthenticator(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), now)
	a := NewStaticAuthenticator(User{
		Username:     "alice",
		PasswordHash: hash(t, "s3cret"),
		Attributes:   map[string][]string{"memberOf": {"staff"}},
	})

	t.Run("valid credentials", func(t *testing.T) {
		auth, err := a.Authenticate(ctx, Credentials{Username: "Alice", Password: "s3cret"})
		require.NoError(t, err)
		assert.Equal(t, "alice", auth.Principal.ID)
		assert.Equal(t, []string{"staff"}, auth.Principal.Attribute("memberOf"))
		assert.Equal(t, now, auth.AuthenticatedAt)
		assert.False(t, auth.IsAnonymous())
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := a.Authenticate(ctx, Credentials{Username: "alice", Password: "nope"})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidGrant))
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := a.Authenticate(ctx, Credentials{Username: "mallory", Password: "x"})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidGrant))
	})

	t.Run("missing fields", func(t *testing.T) {
		_, err := a.Authenticate(ctx, Credentials{Username: "alice"})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidRequest))
	})
}

func TestAuthentication_Clone(t *testing.T) {
	orig := Authentication{Principal: Principal{ID: "bob", Attributes: map[string][]string{"a": {"1"}}}}
	c := orig.Clone()
	c.Principal.Attributes["a"][0] = "2"
	assert.Equal(t, "1", orig.Principal.Attributes["a"][0])
}

func TestAnonymous(t *testing.T) {
	assert.True(t, Anonymous(time.Now()).IsAnonymous())
	assert.False(t, ForClient("svc", time.Now()).IsAnonymous())
}
