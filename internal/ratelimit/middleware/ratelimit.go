// Package middleware throttles OAuth endpoints per client IP. A Redis backed
// limiter is shared across replicas; when it keeps failing a circuit breaker
// moves checks to an in-process fallback until Redis recovers.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"ticketd/internal/platform/metrics"
	"ticketd/internal/ratelimit/models"
	"ticketd/pkg/platform/circuit"
	"ticketd/pkg/platform/httputil"
	"ticketd/pkg/requestcontext"
)

// Limiter is a sliding window bucket store.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.Result, error)
}

type Middleware struct {
	primary  Limiter
	fallback Limiter
	breaker  *circuit.Breaker
	limits   map[models.EndpointClass]models.Limit
	logger   *slog.Logger
	metrics  *metrics.Metrics
	disabled bool
}

type Option func(*Middleware)

// WithFallback sets the limiter used while the primary's circuit is open.
func WithFallback(l Limiter) Option {
	return func(m *Middleware) {
		m.fallback = l
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(m *Middleware) {
		m.breaker = b
	}
}

func WithLimit(class models.EndpointClass, limit models.Limit) Option {
	return func(m *Middleware) {
		m.limits[class] = limit
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Middleware) {
		m.logger = logger
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Middleware) {
		m.metrics = mt
	}
}

// WithDisabled turns every check into a pass-through.
func WithDisabled(disabled bool) Option {
	return func(m *Middleware) {
		m.disabled = disabled
	}
}

func New(primary Limiter, opts ...Option) *Middleware {
	m := &Middleware{
		primary: primary,
		breaker: circuit.New("ratelimit"),
		limits: map[models.EndpointClass]models.Limit{
			models.ClassToken:        {Requests: 120, Window: time.Minute},
			models.ClassDeviceVerify: {Requests: 10, Window: time.Minute},
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.disabled {
		m.logger.Info("rate limiting disabled")
	}
	return m
}

// RateLimit returns middleware enforcing the limit of class per client IP.
// Limiter errors fail open.
func (m *Middleware) RateLimit(class models.EndpointClass) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limit, ok := m.limits[class]
			if m.disabled || !ok || limit.Requests <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			ip := requestcontext.ClientIP(ctx)
			result, degraded, err := m.check(ctx, models.NewIPKey(class, ip), limit)
			if err != nil {
				m.logger.ErrorContext(ctx, "rate limit check failed", "error", err, "class", class)
				next.ServeHTTP(w, r)
				return
			}

			addHeaders(w, result)
			if degraded {
				w.Header().Set("X-RateLimit-Status", "degraded")
			}
			if !result.Allowed {
				if m.metrics != nil {
					m.metrics.IncRateLimited(string(class))
				}
				m.logger.InfoContext(ctx, "rate limit exceeded", "class", class, "client_ip", ip)
				writeExceeded(w, result)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// check consults the primary unless its circuit is open. The breaker only
// closes again after successful primary checks, so an open circuit still
// probes the primary and discards the answer.
func (m *Middleware) check(ctx context.Context, key string, limit models.Limit) (*models.Result, bool, error) {
	if m.fallback == nil {
		res, err := m.primary.Allow(ctx, key, limit.Requests, limit.Window)
		return res, false, err
	}

	res, err := m.primary.Allow(ctx, key, limit.Requests, limit.Window)
	if err != nil {
		useFallback, change := m.breaker.RecordFailure()
		if change.Opened {
			m.logger.WarnContext(ctx, "rate limiter circuit opened, using in-process fallback", "error", err)
		}
		if !useFallback {
			return nil, false, err
		}
		res, err = m.fallback.Allow(ctx, key, limit.Requests, limit.Window)
		return res, true, err
	}

	usePrimary, change := m.breaker.RecordSuccess()
	if change.Closed {
		m.logger.InfoContext(ctx, "rate limiter circuit closed")
	}
	if !usePrimary {
		res, err = m.fallback.Allow(ctx, key, limit.Requests, limit.Window)
		return res, true, err
	}
	return res, false, nil
}

func addHeaders(w http.ResponseWriter, result *models.Result) {
	if result == nil {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

func writeExceeded(w http.ResponseWriter, result *models.Result) {
	w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
	httputil.WriteJSON(w, http.StatusTooManyRequests, &models.ExceededResponse{
		Error:      "rate_limit_exceeded",
		Message:    "too many requests from this address, retry later",
		RetryAfter: result.RetryAfter,
	})
}
