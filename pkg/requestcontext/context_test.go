package requestcontext

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNow(t *testing.T) {
	t.Run("returns pinned time", func(t *testing.T) {
		fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		ctx := WithTime(context.Background(), fixed)
		assert.Equal(t, fixed, Now(ctx))
	})

	t.Run("falls back to wall clock", func(t *testing.T) {
		before := time.Now()
		got := Now(context.Background())
		assert.False(t, got.Before(before))
	})
}

func TestRequestMetadata(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithClientMetadata(ctx, "10.0.0.1", "curl/8.0")

	assert.Equal(t, "req-1", RequestID(ctx))
	assert.Equal(t, "10.0.0.1", ClientIP(ctx))
	assert.Equal(t, "curl/8.0", UserAgent(ctx))

	c, ok := ClientOf(ctx)
	assert.True(t, ok)
	assert.Equal(t, Client{IP: "10.0.0.1", UserAgent: "curl/8.0"}, c)

	_, ok = ClientOf(context.Background())
	assert.False(t, ok)
	assert.Empty(t, RequestID(context.Background()))
	assert.Empty(t, ClientIP(context.Background()))
}
