package policy

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"ticketd/internal/platform/metrics"
	audit "ticketd/pkg/platform/audit"
	"ticketd/pkg/requestcontext"
)

type AuditPublisher interface {
	Emit(ctx context.Context, base audit.Event) error
}

// Enforcer evaluates the gate and records every decision.
type Enforcer struct {
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
	tracer         trace.Tracer
}

type Option func(*Enforcer)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Enforcer) {
		e.logger = logger
	}
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(e *Enforcer) {
		e.auditPublisher = p
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Enforcer) {
		e.metrics = m
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Enforcer) {
		e.tracer = tp.Tracer("ticketd/policy")
	}
}

func NewEnforcer(opts ...Option) *Enforcer {
	e := &Enforcer{
		logger: slog.Default(),
		tracer: otel.GetTracerProvider().Tracer("ticketd/policy"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute evaluates ac at the request time and forwards the decision to the
// audit sink. A denial must end the request before any ticket is written.
func (e *Enforcer) Execute(ctx context.Context, ac AuditableContext) Result {
	ctx, span := e.tracer.Start(ctx, "policy.execute")
	defer span.End()

	result := Evaluate(ac, requestcontext.Now(ctx))
	span.SetAttributes(
		attribute.Bool("policy.allowed", result.Allowed),
		attribute.String("policy.reason", string(result.Reason)),
	)
	e.Record(ctx, ac, result)
	return result
}

// Record audits a decision made elsewhere with Evaluate, for callers that
// must evaluate inside a store transaction and report after it commits.
func (e *Enforcer) Record(ctx context.Context, ac AuditableContext, result Result) {
	decision, action := audit.DecisionAllow, audit.EventAccessGranted
	if !result.Allowed {
		decision, action = audit.DecisionDeny, audit.EventAccessDenied
		e.logger.InfoContext(ctx, "service access denied",
			"reason", string(result.Reason),
			"detail", result.Detail,
			"grant_type", string(ac.GrantType),
		)
	}
	if e.metrics != nil {
		e.metrics.IncPolicyDecision(decision, string(result.Reason))
	}
	if e.auditPublisher == nil {
		return
	}
	event := audit.Event{
		Action:       string(action),
		Service:      ac.Service,
		GrantType:    string(ac.GrantType),
		ResponseType: string(ac.ResponseType),
		Decision:     decision,
		Reason:       string(result.Reason),
	}
	if ac.RegisteredService != nil {
		event.ClientID = ac.RegisteredService.ClientID
	}
	if ac.Authentication != nil {
		event.Subject = ac.Authentication.Principal.ID
	}
	_ = e.auditPublisher.Emit(ctx, event)
}
