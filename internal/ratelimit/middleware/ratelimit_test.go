package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"ticketd/internal/platform/metrics"
	"ticketd/internal/ratelimit/models"
	"ticketd/internal/ratelimit/store/bucket"
	"ticketd/pkg/platform/circuit"
	"ticketd/pkg/platform/middleware/metadata"
)

type brokenLimiter struct {
	calls int
	err   error
}

func (b *brokenLimiter) Allow(context.Context, string, int, time.Duration) (*models.Result, error) {
	b.calls++
	if b.err != nil {
		return nil, b.err
	}
	return &models.Result{Allowed: true, Limit: 1, Remaining: 1}, nil
}

type MiddlewareSuite struct {
	suite.Suite
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func TestMiddlewareSuite(t *testing.T) {
	suite.Run(t, new(MiddlewareSuite))
}

func (s *MiddlewareSuite) SetupTest() {
	s.metrics = metrics.NewWithRegistry(prometheus.NewRegistry())
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (s *MiddlewareSuite) serve(m *Middleware, class models.EndpointClass, ip string) *httptest.ResponseRecorder {
	h := metadata.ClientMetadata(m.RateLimit(class)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))
	req := httptest.NewRequest(http.MethodPost, "/oauth2/token", nil)
	req.Header.Set("X-Forwarded-For", ip)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func (s *MiddlewareSuite) TestLimitPerClientIP() {
	m := New(bucket.NewInMemoryBucketStore(),
		WithLimit(models.ClassDeviceVerify, models.Limit{Requests: 2, Window: time.Minute}),
		WithLogger(s.logger),
		WithMetrics(s.metrics),
	)

	for range 2 {
		w := s.serve(m, models.ClassDeviceVerify, "10.0.0.1")
		s.Equal(http.StatusNoContent, w.Code)
		s.Equal("2", w.Header().Get("X-RateLimit-Limit"))
	}

	w := s.serve(m, models.ClassDeviceVerify, "10.0.0.1")
	s.Equal(http.StatusTooManyRequests, w.Code)
	s.NotEmpty(w.Header().Get("Retry-After"))
	var body models.ExceededResponse
	s.Require().NoError(json.NewDecoder(w.Body).Decode(&body))
	s.Equal("rate_limit_exceeded", body.Error)
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.RateLimited.WithLabelValues("device_verify")))

	s.Equal(http.StatusNoContent, s.serve(m, models.ClassDeviceVerify, "10.0.0.2").Code)
	s.Equal(http.StatusNoContent, s.serve(m, models.ClassToken, "10.0.0.1").Code)
}

func (s *MiddlewareSuite) TestDisabledPassesThrough() {
	m := New(bucket.NewInMemoryBucketStore(),
		WithLimit(models.ClassToken, models.Limit{Requests: 1, Window: time.Minute}),
		WithDisabled(true),
		WithLogger(s.logger),
	)
	for range 3 {
		s.Equal(http.StatusNoContent, s.serve(m, models.ClassToken, "10.0.0.1").Code)
	}
}

func (s *MiddlewareSuite) TestPrimaryErrorsFailOpenWithoutFallback() {
	primary := &brokenLimiter{err: errors.New("redis down")}
	m := New(primary, WithLogger(s.logger))

	w := s.serve(m, models.ClassToken, "10.0.0.1")
	s.Equal(http.StatusNoContent, w.Code)
	s.Empty(w.Header().Get("X-RateLimit-Limit"))
}

func (s *MiddlewareSuite) TestOpenCircuitUsesFallback() {
	primary := &brokenLimiter{err: errors.New("redis down")}
	breaker := circuit.New("test", circuit.WithFailureThreshold(2), circuit.WithSuccessThreshold(1))
	m := New(primary,
		WithFallback(bucket.NewInMemoryBucketStore()),
		WithBreaker(breaker),
		WithLimit(models.ClassToken, models.Limit{Requests: 2, Window: time.Minute}),
		WithLogger(s.logger),
	)

	w := s.serve(m, models.ClassToken, "10.0.0.1")
	s.Equal(http.StatusNoContent, w.Code)
	s.Empty(w.Header().Get("X-RateLimit-Status"))
	s.False(breaker.IsOpen())

	w = s.serve(m, models.ClassToken, "10.0.0.1")
	s.Equal(http.StatusNoContent, w.Code)
	s.Equal("degraded", w.Header().Get("X-RateLimit-Status"))
	s.True(breaker.IsOpen())

	w = s.serve(m, models.ClassToken, "10.0.0.1")
	s.Equal(http.StatusNoContent, w.Code)
	w = s.serve(m, models.ClassToken, "10.0.0.1")
	s.Equal(http.StatusTooManyRequests, w.Code, "fallback enforces the limit while the circuit is open")

	primary.err = nil
	w = s.serve(m, models.ClassToken, "10.0.0.2")
	s.Equal(http.StatusNoContent, w.Code)
	s.False(breaker.IsOpen())
	s.Empty(w.Header().Get("X-RateLimit-Status"))
}
