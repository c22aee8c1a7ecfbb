// Package publisher forwards audit events to a Store. Emission is
// fire-and-forget for callers: in async mode a bounded buffer decouples the
// grant pipeline from sink latency and a full buffer drops the event rather
// than blocking a token request.
package publisher

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	audit "ticketd/pkg/platform/audit"
	"ticketd/pkg/requestcontext"
)

// Publisher emits audit events to a store, synchronously or through a buffer.
type Publisher struct {
	store   audit.Store
	logger  *slog.Logger
	buffer  chan audit.Event
	wg      sync.WaitGroup
	mu      sync.RWMutex // guards closed against sends racing Close
	closed  bool
	dropped atomic.Int64
}

type Option func(*Publisher)

// WithAsyncBuffer enables async mode with a buffer of the given size.
func WithAsyncBuffer(size int) Option {
	return func(p *Publisher) {
		if size > 0 {
			p.buffer = make(chan audit.Event, size)
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// NewPublisher creates a publisher. Without WithAsyncBuffer, Emit appends inline.
func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	if p.buffer != nil {
		p.wg.Add(1)
		go p.drain()
	}
	return p
}

// Emit stamps the event and hands it to the sink. Sink failures are logged,
// never returned: auditing must not change the outcome of a grant.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.Category == "" {
		event.Category = audit.AuditEvent(event.Action).Category()
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	if event.ClientIP == "" {
		event.ClientIP = requestcontext.ClientIP(ctx)
	}

	if p.buffer == nil {
		p.append(context.WithoutCancel(ctx), event)
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.dropped.Add(1)
		return nil
	}
	select {
	case p.buffer <- event:
	default:
		p.dropped.Add(1)
		p.logger.WarnContext(ctx, "audit buffer full, event dropped", "action", event.Action)
	}
	return nil
}

// Dropped returns how many events were discarded because the buffer was full.
func (p *Publisher) Dropped() int64 {
	return p.dropped.Load()
}

// Close stops accepting events and waits for the buffer to drain.
func (p *Publisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	if p.buffer != nil {
		close(p.buffer)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Publisher) drain() {
	defer p.wg.Done()
	for event := range p.buffer {
		p.append(context.Background(), event)
	}
}

func (p *Publisher) append(ctx context.Context, event audit.Event) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := p.store.Append(ctx, event); err != nil {
		p.logger.ErrorContext(ctx, "failed to persist audit event",
			"action", event.Action,
			"error", err,
		)
	}
}
