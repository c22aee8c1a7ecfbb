package store

import (
	"context"
	"time"

	"ticketd/internal/platform/metrics"
	"ticketd/internal/ticket/models"
)

// Instrumented records per-operation latency around another Store.
type Instrumented struct {
	next    Store
	metrics *metrics.Metrics
}

func NewInstrumented(next Store, m *metrics.Metrics) *Instrumented {
	return &Instrumented{next: next, metrics: m}
}

func (s *Instrumented) Add(ctx context.Context, t *models.Ticket) error {
	defer s.metrics.ObserveStoreOp("add", time.Now())
	return s.next.Add(ctx, t)
}

func (s *Instrumented) AddAll(ctx context.Context, tickets ...*models.Ticket) error {
	defer s.metrics.ObserveStoreOp("add_all", time.Now())
	return s.next.AddAll(ctx, tickets...)
}

func (s *Instrumented) Get(ctx context.Context, id string) (*models.Ticket, error) {
	defer s.metrics.ObserveStoreOp("get", time.Now())
	return s.next.Get(ctx, id)
}

func (s *Instrumented) GetKind(ctx context.Context, id string, kind models.Kind) (*models.Ticket, error) {
	defer s.metrics.ObserveStoreOp("get", time.Now())
	return s.next.GetKind(ctx, id, kind)
}

func (s *Instrumented) Replace(ctx context.Context, t *models.Ticket) error {
	defer s.metrics.ObserveStoreOp("replace", time.Now())
	return s.next.Replace(ctx, t)
}

func (s *Instrumented) Execute(ctx context.Context, id string, fn MutateFunc) (*models.Ticket, error) {
	defer s.metrics.ObserveStoreOp("execute", time.Now())
	return s.next.Execute(ctx, id, fn)
}

func (s *Instrumented) Delete(ctx context.Context, id string) error {
	defer s.metrics.ObserveStoreOp("delete", time.Now())
	return s.next.Delete(ctx, id)
}

func (s *Instrumented) DeleteWithDescendants(ctx context.Context, id string) (int, error) {
	defer s.metrics.ObserveStoreOp("delete_tree", time.Now())
	return s.next.DeleteWithDescendants(ctx, id)
}

func (s *Instrumented) DeleteExpired(ctx context.Context) (int, error) {
	defer s.metrics.ObserveStoreOp("delete_expired", time.Now())
	return s.next.DeleteExpired(ctx)
}

func (s *Instrumented) Count(ctx context.Context, kind models.Kind) (int, error) {
	defer s.metrics.ObserveStoreOp("count", time.Now())
	return s.next.Count(ctx, kind)
}
