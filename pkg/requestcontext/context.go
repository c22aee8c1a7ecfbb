// Package requestcontext carries request-scoped values without net/http.
//
// Middleware sets them; the grant pipeline and the ticket stores read them so
// every expiry check of one token request uses the same instant:
//
//	now := requestcontext.Now(ctx)
//
// Tests pin the clock with WithTime.
package requestcontext

import (
	"context"
	"time"
)

type ctxKey int

const (
	clientKey ctxKey = iota
	requestIDKey
	requestTimeKey
)

// Client describes the caller of one HTTP request.
type Client struct {
	IP        string
	UserAgent string
}

// WithClientMetadata records the caller's address and User-Agent.
func WithClientMetadata(ctx context.Context, clientIP, userAgent string) context.Context {
	return context.WithValue(ctx, clientKey, Client{IP: clientIP, UserAgent: userAgent})
}

// ClientOf returns the caller recorded by WithClientMetadata, if any.
func ClientOf(ctx context.Context) (Client, bool) {
	c, ok := ctx.Value(clientKey).(Client)
	return c, ok
}

func ClientIP(ctx context.Context) string {
	c, _ := ClientOf(ctx)
	return c.IP
}

func UserAgent(ctx context.Context) string {
	c, _ := ClientOf(ctx)
	return c.UserAgent
}

func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// Now returns the instant pinned for this request, or the wall clock for
// background work (the cleaner, startup) that has none.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(requestTimeKey).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime pins the request clock.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, requestTimeKey, t)
}
