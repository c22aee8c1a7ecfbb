package grant

import (
	"context"

	"ticketd/internal/authn"
	"ticketd/internal/oauth/models"
	svcmodels "ticketd/internal/services/models"
	dErrors "ticketd/pkg/domain-errors"
	"ticketd/pkg/requestcontext"
)

// ClientCredentialsExtractor issues tokens to a confidential client acting
// as itself.
type ClientCredentialsExtractor struct {
	*Base
}

func NewClientCredentialsExtractor(b *Base) *ClientCredentialsExtractor {
	return &ClientCredentialsExtractor{Base: b}
}

func (e *ClientCredentialsExtractor) GrantType() svcmodels.GrantType {
	return svcmodels.GrantClientCredentials
}

func (e *ClientCredentialsExtractor) ResponseType() svcmodels.ResponseType {
	return ""
}

func (e *ClientCredentialsExtractor) Supports(req models.Request) bool {
	return req.Param(models.ParamGrantType) == string(svcmodels.GrantClientCredentials)
}

func (e *ClientCredentialsExtractor) Extract(ctx context.Context, req models.Request) (models.IssuanceContext, error) {
	ctx, span := e.startSpan(ctx, e.GrantType())
	defer span.End()

	svc, err := e.client(ctx, req)
	if err != nil {
		return models.IssuanceContext{}, err
	}
	if !svc.IsConfidential() {
		return models.IssuanceContext{}, dErrors.New(dErrors.CodeUnauthorizedClient, "public clients cannot use client_credentials")
	}
	service, err := e.service(req, svc)
	if err != nil {
		return models.IssuanceContext{}, err
	}

	return e.authorize(ctx, models.IssuanceParams{
		Service:           service,
		Authentication:    authn.ForClient(svc.ClientID, requestcontext.Now(ctx)),
		RegisteredService: svc,
		GrantType:         e.GrantType(),
		Scopes:            svc.GrantScopes(req.Scopes()),
	})
}
