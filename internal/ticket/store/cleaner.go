package store

import (
	"context"
	"log/slog"
	"time"

	"ticketd/internal/platform/metrics"
	audit "ticketd/pkg/platform/audit"
)

type Purger interface {
	DeleteExpired(ctx context.Context) (int, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, base audit.Event) error
}

// Cleaner purges expired tickets on an interval. Reads already treat expired
// tickets as absent; the cleaner only reclaims space.
type Cleaner struct {
	store          Purger
	interval       time.Duration
	logger         *slog.Logger
	metrics        *metrics.Metrics
	auditPublisher AuditPublisher
}

type CleanerOption func(*Cleaner)

func WithCleanerLogger(logger *slog.Logger) CleanerOption {
	return func(c *Cleaner) {
		c.logger = logger
	}
}

func WithCleanerMetrics(m *metrics.Metrics) CleanerOption {
	return func(c *Cleaner) {
		c.metrics = m
	}
}

func WithCleanerAuditPublisher(p AuditPublisher) CleanerOption {
	return func(c *Cleaner) {
		c.auditPublisher = p
	}
}

func NewCleaner(store Purger, interval time.Duration, opts ...CleanerOption) *Cleaner {
	if interval <= 0 {
		interval = time.Minute
	}
	c := &Cleaner{store: store, interval: interval, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run blocks until ctx is cancelled.
func (c *Cleaner) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single purge pass and returns the number removed.
func (c *Cleaner) RunOnce(ctx context.Context) int {
	n, err := c.store.DeleteExpired(ctx)
	if err != nil {
		c.logger.WarnContext(ctx, "ticket purge failed", "error", err)
		return 0
	}
	if n == 0 {
		return 0
	}
	c.logger.DebugContext(ctx, "expired tickets purged", "count", n)
	if c.metrics != nil {
		c.metrics.AddTicketsPurged(n)
	}
	if c.auditPublisher != nil {
		_ = c.auditPublisher.Emit(ctx, audit.Event{
			Action: string(audit.EventTicketsPurged),
			Reason: "expired",
		})
	}
	return n
}
