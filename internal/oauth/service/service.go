// Package service is the OAuth façade: it strings dispatch, extraction, the
// device lifecycle and issuance together for one request and keeps transport
// concerns out of those pieces.
package service

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"ticketd/internal/authn"
	"ticketd/internal/oauth/grant"
	"ticketd/internal/oauth/models"
	"ticketd/internal/oauth/token"
	"ticketd/internal/platform/metrics"
	svcmodels "ticketd/internal/services/models"
	tmodels "ticketd/internal/ticket/models"
	dErrors "ticketd/pkg/domain-errors"
	audit "ticketd/pkg/platform/audit"
	"ticketd/pkg/requestcontext"
)

type Dispatcher interface {
	Select(req models.Request) (grant.Extractor, error)
}

type DeviceManager interface {
	Start(ctx context.Context, ic models.IssuanceContext, userAgent string) (*models.DeviceAuthorization, error)
	Redeem(ctx context.Context, ic models.IssuanceContext) (models.IssuanceContext, error)
	Lookup(ctx context.Context, userCode string) (*tmodels.DeviceData, error)
	Approve(ctx context.Context, userCode string, auth authn.Authentication) error
	Deny(ctx context.Context, userCode string, auth authn.Authentication) error
}

type TokenIssuer interface {
	Issue(ctx context.Context, ic models.IssuanceContext) (*models.TokenResponse, error)
	Introspect(ctx context.Context, token string) (*token.Introspection, error)
	Revoke(ctx context.Context, clientID, token string) (int, error)
}

type ClientAuthenticator interface {
	AuthenticateClient(ctx context.Context, req models.Request) (*svcmodels.RegisteredService, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, base audit.Event) error
}

type Service struct {
	dispatcher     Dispatcher
	devices        DeviceManager
	issuer         TokenIssuer
	clients        ClientAuthenticator
	authenticator  grant.Authenticator
	logger         *slog.Logger
	metrics        *metrics.Metrics
	auditPublisher AuditPublisher
	tracer         trace.Tracer
}

type Option func(*Service)

func WithClientAuthenticator(c ClientAuthenticator) Option {
	return func(s *Service) {
		s.clients = c
	}
}

// WithAuthenticator sets the user authenticator for device verification.
func WithAuthenticator(a grant.Authenticator) Option {
	return func(s *Service) {
		s.authenticator = a
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = p
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) {
		s.tracer = tp.Tracer("ticketd/oauth")
	}
}

func New(dispatcher Dispatcher, devices DeviceManager, issuer TokenIssuer, opts ...Option) *Service {
	s := &Service{
		dispatcher: dispatcher,
		devices:    devices,
		issuer:     issuer,
		logger:     slog.Default(),
		tracer:     otel.GetTracerProvider().Tracer("ticketd/oauth"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Token handles one token endpoint call. A response_type=device_code request
// without a code starts a device authorization and returns it in TokenResponse.Device;
// with a code it is a poll that only issues once the user approved.
func (s *Service) Token(ctx context.Context, req models.Request) (*models.TokenResponse, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "oauth.token")
	defer span.End()

	ext, err := s.dispatcher.Select(req)
	if err != nil {
		return nil, s.reject(ctx, req, "", err)
	}
	grantType := string(ext.GrantType())
	span.SetAttributes(
		attribute.String("oauth.grant_type", grantType),
		attribute.String("oauth.client_id", req.ClientID()),
	)

	ic, err := ext.Extract(ctx, req)
	if err != nil {
		return nil, s.reject(ctx, req, grantType, err)
	}

	if ic.ResponseType() == svcmodels.ResponseDeviceCode {
		if ic.DeviceCode() == "" {
			if req.Param(models.ParamResponseType) != string(svcmodels.ResponseDeviceCode) {
				return nil, s.reject(ctx, req, grantType, dErrors.New(dErrors.CodeInvalidRequest, "device_code is required"))
			}
			auth, err := s.devices.Start(ctx, ic, req.UserAgent)
			if err != nil {
				return nil, s.reject(ctx, req, grantType, err)
			}
			return &models.TokenResponse{Device: auth}, nil
		}
		ic, err = s.devices.Redeem(ctx, ic)
		if err != nil {
			return nil, s.reject(ctx, req, grantType, err)
		}
	}

	resp, err := s.issuer.Issue(ctx, ic)
	if err != nil {
		return nil, s.reject(ctx, req, grantType, err)
	}
	if s.metrics != nil {
		s.metrics.ObserveTokenRequest(grantType, start)
	}
	return resp, nil
}

// DeviceAuthorize is the dedicated device authorization endpoint. It accepts
// only the client and scope parameters and always starts a new session.
func (s *Service) DeviceAuthorize(ctx context.Context, req models.Request) (*models.DeviceAuthorization, error) {
	rewritten := req.Clone()
	rewritten.Params.Set(models.ParamResponseType, string(svcmodels.ResponseDeviceCode))
	rewritten.Params.Del(models.ParamGrantType)
	rewritten.Params.Del(models.ParamCode)
	rewritten.Params.Del(models.ParamDeviceCode)

	resp, err := s.Token(ctx, rewritten)
	if err != nil {
		return nil, err
	}
	if resp.Device == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "device authorization returned no device code")
	}
	return resp.Device, nil
}

// LookupDevice shows the verification page what a user code would approve.
func (s *Service) LookupDevice(ctx context.Context, userCode string) (*tmodels.DeviceData, error) {
	return s.devices.Lookup(ctx, userCode)
}

// Verify records the user's decision on a device. The user authenticates
// with the same credential check the password grant uses.
func (s *Service) Verify(ctx context.Context, req models.VerifyRequest) error {
	if s.authenticator == nil {
		return dErrors.New(dErrors.CodeInternal, "device verification is not configured")
	}
	if req.UserCode == "" {
		return dErrors.New(dErrors.CodeInvalidRequest, "user_code is required")
	}
	auth, err := s.authenticator.Authenticate(ctx, authn.Credentials{Username: req.Username, Password: req.Password})
	if err != nil {
		return err
	}
	auth.Method = authn.MethodDeviceApproval

	switch req.Decision {
	case models.DecisionApprove:
		return s.devices.Approve(ctx, req.UserCode, *auth)
	case models.DecisionDeny:
		return s.devices.Deny(ctx, req.UserCode, *auth)
	default:
		return dErrors.New(dErrors.CodeInvalidRequest, "decision must be approve or deny")
	}
}

// Introspect answers RFC 7662 calls from authenticated clients.
func (s *Service) Introspect(ctx context.Context, req models.Request) (*token.Introspection, error) {
	if _, err := s.authenticateClient(ctx, req); err != nil {
		return nil, err
	}
	return s.issuer.Introspect(ctx, req.Param(models.ParamToken))
}

// Revoke answers RFC 7009 calls. Revoking a refresh token revokes every
// access token minted from it.
func (s *Service) Revoke(ctx context.Context, req models.Request) error {
	svc, err := s.authenticateClient(ctx, req)
	if err != nil {
		return err
	}
	tok := req.Param(models.ParamToken)
	if tok == "" {
		return dErrors.New(dErrors.CodeInvalidRequest, "token is required")
	}
	_, err = s.issuer.Revoke(ctx, svc.ClientID, tok)
	return err
}

func (s *Service) authenticateClient(ctx context.Context, req models.Request) (*svcmodels.RegisteredService, error) {
	if s.clients == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "client authentication is not configured")
	}
	return s.clients.AuthenticateClient(ctx, req)
}

// reject records a failed token request and returns err unchanged. Pending
// and slow_down are the expected rhythm of device polling and stay at Debug.
func (s *Service) reject(ctx context.Context, req models.Request, grantType string, err error) error {
	code := dErrors.CodeOf(err)
	if s.metrics != nil {
		s.metrics.IncGrantRejected(string(code))
	}
	attrs := []any{
		"request_id", requestcontext.RequestID(ctx),
		"client_id", req.ClientID(),
		"grant_type", grantType,
		"error", string(code),
	}
	switch code {
	case dErrors.CodeAuthorizationPending, dErrors.CodeSlowDown:
		s.logger.DebugContext(ctx, "token request deferred", attrs...)
		return err
	case dErrors.CodeInternal, dErrors.CodeServerError, dErrors.CodeUnavailable:
		s.logger.ErrorContext(ctx, "token request failed", append(attrs, "cause", err)...)
	default:
		s.logger.InfoContext(ctx, "token request rejected", attrs...)
	}

	if s.auditPublisher != nil {
		_ = s.auditPublisher.Emit(ctx, audit.Event{
			Action:    string(audit.EventGrantRejected),
			ClientID:  req.ClientID(),
			GrantType: grantType,
			Decision:  audit.DecisionDeny,
			Reason:    string(code),
		})
	}
	return err
}
