// Package grant turns raw token requests into validated issuance contexts.
// There is one Extractor per grant shape and a Dispatcher that picks one.
package grant

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"ticketd/internal/authn"
	"ticketd/internal/oauth/models"
	"ticketd/internal/policy"
	svcmodels "ticketd/internal/services/models"
	"ticketd/internal/services/secrets"
	"ticketd/internal/ticket/store"
	dErrors "ticketd/pkg/domain-errors"
	"ticketd/pkg/platform/sentinel"
)

// Extractor validates and shapes one kind of grant request.
type Extractor interface {
	// Supports must only look at request parameters.
	Supports(req models.Request) bool
	Extract(ctx context.Context, req models.Request) (models.IssuanceContext, error)
	GrantType() svcmodels.GrantType
	// ResponseType is empty for grants that imply none.
	ResponseType() svcmodels.ResponseType
}

type ServiceRegistry interface {
	FindByClientID(ctx context.Context, clientID string) (*svcmodels.RegisteredService, error)
}

type PolicyEnforcer interface {
	Execute(ctx context.Context, ac policy.AuditableContext) policy.Result
}

type Authenticator interface {
	Authenticate(ctx context.Context, creds authn.Credentials) (*authn.Authentication, error)
}

// Base holds what every extractor needs. Extractors embed it and only add
// the parameters they read.
type Base struct {
	services      ServiceRegistry
	enforcer      PolicyEnforcer
	tickets       store.Store
	authenticator Authenticator
	logger        *slog.Logger
	tracer        trace.Tracer
}

type Option func(*Base)

func WithTicketStore(s store.Store) Option {
	return func(b *Base) {
		b.tickets = s
	}
}

func WithAuthenticator(a Authenticator) Option {
	return func(b *Base) {
		b.authenticator = a
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(b *Base) {
		b.logger = logger
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(b *Base) {
		b.tracer = tp.Tracer("ticketd/grant")
	}
}

func NewBase(services ServiceRegistry, enforcer PolicyEnforcer, opts ...Option) *Base {
	b := &Base{
		services: services,
		enforcer: enforcer,
		logger:   slog.Default(),
		tracer:   otel.GetTracerProvider().Tracer("ticketd/grant"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AuthenticateClient resolves and authenticates the calling client for
// endpoints that are not grants, such as revocation and introspection.
func (b *Base) AuthenticateClient(ctx context.Context, req models.Request) (*svcmodels.RegisteredService, error) {
	return b.client(ctx, req)
}

// client resolves the registered service and authenticates the caller.
// Unknown or disabled clients are unauthorized_client; a confidential client
// that fails its secret check is invalid_client.
func (b *Base) client(ctx context.Context, req models.Request) (*svcmodels.RegisteredService, error) {
	clientID := req.ClientID()
	if clientID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidRequest, "client_id is required")
	}
	if param := req.Param(models.ParamClientID); param != "" && req.BasicUser != "" && param != req.BasicUser {
		return nil, dErrors.New(dErrors.CodeInvalidRequest, "client_id does not match the authenticated client")
	}

	svc, err := b.services.FindByClientID(ctx, clientID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeUnauthorizedClient, "unknown client")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "service registry unavailable")
	}
	if !svc.AccessStrategy.IsEnabled() {
		return nil, dErrors.New(dErrors.CodeUnauthorizedClient, "client is disabled")
	}

	if svc.IsConfidential() {
		if err := secrets.Verify(req.ClientSecret(), svc.ClientSecretHash); err != nil {
			if dErrors.HasCode(err, dErrors.CodeInvalidClient) {
				return nil, err
			}
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to verify client secret")
		}
	}
	return svc, nil
}

// service picks the URL tokens are scoped to. A requested service must sit
// under the registered one.
func (b *Base) service(req models.Request, svc *svcmodels.RegisteredService) (string, error) {
	requested := req.Param(models.ParamService)
	if requested == "" {
		return svc.Target(), nil
	}
	if svc.ServiceURL != "" && !strings.HasPrefix(requested, svc.ServiceURL) {
		return "", dErrors.New(dErrors.CodeInvalidRequest, "service does not match the registered service")
	}
	return requested, nil
}

// authorize runs the policy gate. Nothing may be written to the ticket store
// before it returns nil.
func (b *Base) authorize(ctx context.Context, p models.IssuanceParams) (models.IssuanceContext, error) {
	ic, err := models.NewIssuanceContext(p)
	if err != nil {
		return models.IssuanceContext{}, err
	}
	if res := b.enforcer.Execute(ctx, ic.AuditableContext()); !res.Allowed {
		return models.IssuanceContext{}, res.Err()
	}
	return ic, nil
}

func (b *Base) startSpan(ctx context.Context, grant svcmodels.GrantType) (context.Context, trace.Span) {
	return b.tracer.Start(ctx, "grant.extract", trace.WithAttributes(
		attribute.String("oauth.grant_type", string(grant)),
	))
}

// ticketError maps a ticket lookup failure onto invalid_grant, keeping
// backend outages distinguishable.
func ticketError(err error, what string) error {
	switch {
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "ticket registry unavailable")
	case errors.Is(err, sentinel.ErrExpired):
		return dErrors.New(dErrors.CodeInvalidGrant, what+" has expired")
	case errors.Is(err, sentinel.ErrNotFound), errors.Is(err, sentinel.ErrWrongKind):
		return dErrors.New(dErrors.CodeInvalidGrant, what+" is invalid")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load "+what)
	}
}
