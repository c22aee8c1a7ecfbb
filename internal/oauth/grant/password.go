package grant

import (
	"context"

	"ticketd/internal/authn"
	"ticketd/internal/oauth/models"
	svcmodels "ticketd/internal/services/models"
	dErrors "ticketd/pkg/domain-errors"
)

// PasswordExtractor handles the resource owner password credentials grant.
type PasswordExtractor struct {
	*Base
}

func NewPasswordExtractor(b *Base) *PasswordExtractor {
	return &PasswordExtractor{Base: b}
}

func (e *PasswordExtractor) GrantType() svcmodels.GrantType {
	return svcmodels.GrantPassword
}

func (e *PasswordExtractor) ResponseType() svcmodels.ResponseType {
	return ""
}

func (e *PasswordExtractor) Supports(req models.Request) bool {
	return req.Param(models.ParamGrantType) == string(svcmodels.GrantPassword)
}

func (e *PasswordExtractor) Extract(ctx context.Context, req models.Request) (models.IssuanceContext, error) {
	ctx, span := e.startSpan(ctx, e.GrantType())
	defer span.End()

	svc, err := e.client(ctx, req)
	if err != nil {
		return models.IssuanceContext{}, err
	}
	service, err := e.service(req, svc)
	if err != nil {
		return models.IssuanceContext{}, err
	}
	if e.authenticator == nil {
		return models.IssuanceContext{}, dErrors.New(dErrors.CodeUnsupportedGrantType, "password grant is not configured")
	}
	auth, err := e.authenticator.Authenticate(ctx, authn.Credentials{
		Username: req.Param(models.ParamUsername),
		Password: req.Params.Get(models.ParamPassword),
	})
	if err != nil {
		if _, ok := dErrors.As(err); ok {
			return models.IssuanceContext{}, err
		}
		return models.IssuanceContext{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "authentication backend unavailable")
	}

	return e.authorize(ctx, models.IssuanceParams{
		Service:           service,
		Authentication:    *auth,
		RegisteredService: svc,
		GrantType:         e.GrantType(),
		Scopes:            svc.GrantScopes(req.Scopes()),
	})
}
