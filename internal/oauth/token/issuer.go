// Package token mints access and refresh tokens as tickets and resolves them
// again for introspection and revocation.
package token

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"ticketd/internal/oauth/models"
	"ticketd/internal/platform/metrics"
	tmodels "ticketd/internal/ticket/models"
	"ticketd/internal/ticket/store"
	dErrors "ticketd/pkg/domain-errors"
	audit "ticketd/pkg/platform/audit"
	"ticketd/pkg/platform/sentinel"
	pstrings "ticketd/pkg/platform/strings"
	"ticketd/pkg/requestcontext"
)

type AuditPublisher interface {
	Emit(ctx context.Context, base audit.Event) error
}

type Issuer struct {
	tickets        store.Store
	encoder        Encoder
	accessTTL      time.Duration
	refreshTTL     time.Duration
	logger         *slog.Logger
	metrics        *metrics.Metrics
	auditPublisher AuditPublisher
	tracer         trace.Tracer
}

type Option func(*Issuer)

func WithAccessTokenTTL(d time.Duration) Option {
	return func(i *Issuer) {
		if d > 0 {
			i.accessTTL = d
		}
	}
}

func WithRefreshTokenTTL(d time.Duration) Option {
	return func(i *Issuer) {
		if d > 0 {
			i.refreshTTL = d
		}
	}
}

func WithEncoder(e Encoder) Option {
	return func(i *Issuer) {
		i.encoder = e
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(i *Issuer) {
		i.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(i *Issuer) {
		i.metrics = m
	}
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(i *Issuer) {
		i.auditPublisher = p
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(i *Issuer) {
		i.tracer = tp.Tracer("ticketd/token")
	}
}

func NewIssuer(tickets store.Store, opts ...Option) *Issuer {
	i := &Issuer{
		tickets:    tickets,
		encoder:    OpaqueEncoder{},
		accessTTL:  2 * time.Hour,
		refreshTTL: 30 * 24 * time.Hour,
		logger:     slog.Default(),
		tracer:     otel.GetTracerProvider().Tracer("ticketd/token"),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Issue mints an access token for ic, plus a refresh token when
// ic.GenerateRefreshToken is set. Both tickets are written in one AddAll, so
// a store failure leaves neither behind.
func (i *Issuer) Issue(ctx context.Context, ic models.IssuanceContext) (*models.TokenResponse, error) {
	ctx, span := i.tracer.Start(ctx, "token.issue", trace.WithAttributes(
		attribute.String("oauth.grant_type", string(ic.GrantType())),
		attribute.Bool("oauth.refresh", ic.GenerateRefreshToken()),
	))
	defer span.End()

	now := requestcontext.Now(ctx)
	scopes := ic.Scopes()
	data := func() *tmodels.TokenData {
		return &tmodels.TokenData{
			Authentication: ic.Authentication(),
			Service:        ic.Service(),
			ClientID:       ic.ClientID(),
			GrantType:      string(ic.GrantType()),
			Scopes:         scopes,
		}
	}

	var batch []*tmodels.Ticket
	parentID := ic.ParentID()
	var rt *tmodels.Ticket
	if ic.GenerateRefreshToken() {
		rt = tmodels.New(tmodels.NewID(tmodels.KindRefreshToken), tmodels.KindRefreshToken, now, tmodels.Timeout(i.refreshTTL))
		rt.ParentID = parentID
		rt.Token = data()
		batch = append(batch, rt)
		parentID = rt.ID
	}
	at := tmodels.New(tmodels.NewID(tmodels.KindAccessToken), tmodels.KindAccessToken, now, tmodels.Timeout(i.accessTTL))
	at.ParentID = parentID
	at.Token = data()
	batch = append(batch, at)

	encoded, err := i.encoder.Encode(at)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode access token")
	}

	if err := i.tickets.AddAll(ctx, batch...); err != nil {
		span.RecordError(err)
		i.logger.ErrorContext(ctx, "token issuance failed",
			"client_id", ic.ClientID(),
			"grant_type", string(ic.GrantType()),
			"error", err,
		)
		i.emit(ctx, audit.EventIssuanceFailed, ic, at.ID)
		return nil, dErrors.Wrap(err, dErrors.CodeServerError, "token issuance failed")
	}

	resp := &models.TokenResponse{
		AccessToken: encoded,
		TokenType:   models.TokenTypeBearer,
		ExpiresIn:   int64(i.accessTTL / time.Second),
		Scope:       pstrings.JoinScope(scopes),
	}
	i.emit(ctx, audit.EventTokenIssued, ic, at.ID)
	if i.metrics != nil {
		i.metrics.IncTokenIssued(string(ic.GrantType()), string(tmodels.KindAccessToken))
	}
	if rt != nil {
		resp.RefreshToken = rt.ID
		i.emit(ctx, audit.EventRefreshIssued, ic, rt.ID)
		if i.metrics != nil {
			i.metrics.IncTokenIssued(string(ic.GrantType()), string(tmodels.KindRefreshToken))
		}
	}
	i.logger.InfoContext(ctx, "token issued",
		"client_id", ic.ClientID(),
		"grant_type", string(ic.GrantType()),
		"refresh", rt != nil,
	)
	return resp, nil
}

// Introspection is the RFC 7662 view of a token.
type Introspection struct {
	Active    bool   `json:"active"`
	ClientID  string `json:"client_id,omitempty"`
	Subject   string `json:"sub,omitempty"`
	Scope     string `json:"scope,omitempty"`
	TokenType string `json:"token_type,omitempty"`
	ExpiresAt int64  `json:"exp,omitempty"`
	IssuedAt  int64  `json:"iat,omitempty"`
	Audience  string `json:"aud,omitempty"`
}

// Introspect resolves an access or refresh token. Unknown, expired and
// malformed tokens are inactive rather than errors.
func (i *Issuer) Introspect(ctx context.Context, token string) (*Introspection, error) {
	t, err := i.resolve(ctx, token)
	if err != nil {
		if errors.Is(err, sentinel.ErrUnavailable) {
			return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "ticket registry unavailable")
		}
		return &Introspection{Active: false}, nil
	}
	return &Introspection{
		Active:    true,
		ClientID:  t.Token.ClientID,
		Subject:   t.Principal(),
		Scope:     pstrings.JoinScope(t.Token.Scopes),
		TokenType: tokenTypeHint(t.Kind),
		ExpiresAt: t.ExpiresAt().Unix(),
		IssuedAt:  t.CreatedAt.Unix(),
		Audience:  t.Token.Service,
	}, nil
}

// Revoke deletes a token held by clientID together with everything minted
// from it. Revoking an unknown token succeeds, as RFC 7009 §2.2 requires.
func (i *Issuer) Revoke(ctx context.Context, clientID, token string) (int, error) {
	t, err := i.resolve(ctx, token)
	if err != nil {
		if errors.Is(err, sentinel.ErrUnavailable) {
			return 0, dErrors.Wrap(err, dErrors.CodeUnavailable, "ticket registry unavailable")
		}
		return 0, nil
	}
	if t.Token.ClientID != clientID {
		return 0, dErrors.New(dErrors.CodeInvalidGrant, "token was issued to another client")
	}
	n, err := i.tickets.DeleteWithDescendants(ctx, t.ID)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeUnavailable, "ticket registry unavailable")
	}
	i.logger.InfoContext(ctx, "token revoked", "client_id", clientID, "kind", string(t.Kind), "removed", n)
	return n, nil
}

func (i *Issuer) resolve(ctx context.Context, token string) (*tmodels.Ticket, error) {
	if token == "" {
		return nil, sentinel.ErrNotFound
	}
	id := token
	if tmodels.KindOf(token) != tmodels.KindRefreshToken {
		decoded, err := i.encoder.TicketID(token, requestcontext.Now(ctx))
		if err != nil {
			return nil, sentinel.ErrNotFound
		}
		id = decoded
	}
	t, err := i.tickets.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if (t.Kind != tmodels.KindAccessToken && t.Kind != tmodels.KindRefreshToken) || t.Token == nil {
		return nil, sentinel.ErrWrongKind
	}
	return t, nil
}

func (i *Issuer) emit(ctx context.Context, action audit.AuditEvent, ic models.IssuanceContext, ticketID string) {
	if i.auditPublisher == nil {
		return
	}
	_ = i.auditPublisher.Emit(ctx, audit.Event{
		Action:       string(action),
		Subject:      ic.Authentication().Principal.ID,
		ClientID:     ic.ClientID(),
		Service:      ic.Service(),
		GrantType:    string(ic.GrantType()),
		ResponseType: string(ic.ResponseType()),
		TicketID:     ticketID,
	})
}

func tokenTypeHint(k tmodels.Kind) string {
	if k == tmodels.KindRefreshToken {
		return "refresh_token"
	}
	return "access_token"
}
