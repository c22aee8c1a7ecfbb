package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasCode(t *testing.T) {
	t.Run("matches wrapped domain error", func(t *testing.T) {
		err := fmt.Errorf("outer: %w", New(CodeInvalidGrant, "refresh token expired"))
		assert.True(t, HasCode(err, CodeInvalidGrant))
		assert.False(t, HasCode(err, CodeAccessDenied))
	})

	t.Run("plain errors have no code", func(t *testing.T) {
		err := errors.New("boom")
		assert.False(t, HasCode(err, CodeInternal))
		assert.Equal(t, CodeInternal, CodeOf(err))
	})

	t.Run("wrap keeps the cause reachable", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := Wrap(cause, CodeUnavailable, "ticket store unavailable")
		assert.ErrorIs(t, err, cause)
		assert.Equal(t, "ticket store unavailable: connection refused", err.Error())
	})
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(New(CodeAuthorizationPending, "pending")))
	assert.True(t, Retryable(New(CodeSlowDown, "slow down")))
	assert.False(t, Retryable(New(CodeExpiredToken, "expired")))
	assert.False(t, Retryable(New(CodeAccessDenied, "denied")))
}

func TestToHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, ToHTTPStatus(CodeUnsupportedGrantType))
	assert.Equal(t, http.StatusUnauthorized, ToHTTPStatus(CodeInvalidClient))
	assert.Equal(t, http.StatusServiceUnavailable, ToHTTPStatus(CodeUnavailable))
	assert.Equal(t, http.StatusInternalServerError, ToHTTPStatus(CodeInternal))
}

func TestAs(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", New(CodeSlowDown, "poll slower"))
	de, ok := As(wrapped)
	if assert.True(t, ok) {
		assert.Equal(t, CodeSlowDown, de.Code)
	}
	_, ok = As(errors.New("plain"))
	assert.False(t, ok)
}
