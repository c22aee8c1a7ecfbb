package grant

import (
	"context"

	"ticketd/internal/oauth/models"
	svcmodels "ticketd/internal/services/models"
	tmodels "ticketd/internal/ticket/models"
	"ticketd/internal/ticket/store"
	dErrors "ticketd/pkg/domain-errors"
)

// AuthorizationCodeExtractor redeems a one-time OC- code.
type AuthorizationCodeExtractor struct {
	*Base
}

func NewAuthorizationCodeExtractor(b *Base) *AuthorizationCodeExtractor {
	return &AuthorizationCodeExtractor{Base: b}
}

func (e *AuthorizationCodeExtractor) GrantType() svcmodels.GrantType {
	return svcmodels.GrantAuthorizationCode
}

func (e *AuthorizationCodeExtractor) ResponseType() svcmodels.ResponseType {
	return svcmodels.ResponseCode
}

func (e *AuthorizationCodeExtractor) Supports(req models.Request) bool {
	return req.Param(models.ParamGrantType) == string(svcmodels.GrantAuthorizationCode)
}

// Extract reads the code without touching it, runs the gate with the code's
// principal, and only then consumes the code. Two concurrent redemptions
// both pass the read but only one wins the consume.
func (e *AuthorizationCodeExtractor) Extract(ctx context.Context, req models.Request) (models.IssuanceContext, error) {
	ctx, span := e.startSpan(ctx, e.GrantType())
	defer span.End()

	code := req.Param(models.ParamCode)
	if code == "" {
		return models.IssuanceContext{}, dErrors.New(dErrors.CodeInvalidRequest, "code is required")
	}
	svc, err := e.client(ctx, req)
	if err != nil {
		return models.IssuanceContext{}, err
	}
	service, err := e.service(req, svc)
	if err != nil {
		return models.IssuanceContext{}, err
	}

	redirectURI := req.Param(models.ParamRedirectURI)
	if redirectURI != "" && !svc.AllowsRedirectURI(redirectURI) {
		return models.IssuanceContext{}, dErrors.New(dErrors.CodeInvalidGrant, "redirect_uri is not registered for this client")
	}
	check := func(t *tmodels.Ticket) error {
		if t.Token == nil || t.Token.ClientID != svc.ClientID {
			return dErrors.New(dErrors.CodeInvalidGrant, "authorization code was issued to another client")
		}
		if t.Token.RedirectURI != "" && t.Token.RedirectURI != redirectURI {
			return dErrors.New(dErrors.CodeInvalidGrant, "redirect_uri does not match the authorization request")
		}
		return nil
	}

	ticket, err := e.tickets.GetKind(ctx, code, tmodels.KindOAuthCode)
	if err != nil {
		return models.IssuanceContext{}, ticketError(err, "authorization code")
	}
	if err := check(ticket); err != nil {
		return models.IssuanceContext{}, err
	}

	ic, err := e.authorize(ctx, models.IssuanceParams{
		Service:           service,
		Authentication:    ticket.Token.Authentication,
		RegisteredService: svc,
		GrantType:         e.GrantType(),
		Scopes:            ticket.Token.Scopes,
		ParentID:          ticket.ParentID,
	})
	if err != nil {
		return models.IssuanceContext{}, err
	}

	if _, err := store.Consume(ctx, e.tickets, code, func(t *tmodels.Ticket) error {
		if t.Kind != tmodels.KindOAuthCode {
			return dErrors.New(dErrors.CodeInvalidGrant, "authorization code is invalid")
		}
		return check(t)
	}); err != nil {
		if _, ok := dErrors.As(err); ok {
			return models.IssuanceContext{}, err
		}
		return models.IssuanceContext{}, ticketError(err, "authorization code")
	}
	return ic, nil
}
