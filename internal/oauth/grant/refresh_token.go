package grant

import (
	"context"
	"slices"

	"ticketd/internal/oauth/models"
	svcmodels "ticketd/internal/services/models"
	tmodels "ticketd/internal/ticket/models"
	"ticketd/internal/ticket/store"
	dErrors "ticketd/pkg/domain-errors"
	"ticketd/pkg/requestcontext"
)

// RefreshTokenExtractor exchanges a refresh token for a new access token.
// Refresh tokens are not rotated; the new access token hangs off the refresh
// token so revoking it revokes everything minted from it.
type RefreshTokenExtractor struct {
	*Base
}

func NewRefreshTokenExtractor(b *Base) *RefreshTokenExtractor {
	return &RefreshTokenExtractor{Base: b}
}

func (e *RefreshTokenExtractor) GrantType() svcmodels.GrantType {
	return svcmodels.GrantRefreshToken
}

func (e *RefreshTokenExtractor) ResponseType() svcmodels.ResponseType {
	return ""
}

func (e *RefreshTokenExtractor) Supports(req models.Request) bool {
	return req.Param(models.ParamGrantType) == string(svcmodels.GrantRefreshToken)
}

func (e *RefreshTokenExtractor) Extract(ctx context.Context, req models.Request) (models.IssuanceContext, error) {
	ctx, span := e.startSpan(ctx, e.GrantType())
	defer span.End()

	token := req.Param(models.ParamRefreshToken)
	if token == "" {
		return models.IssuanceContext{}, dErrors.New(dErrors.CodeInvalidRequest, "refresh_token is required")
	}
	svc, err := e.client(ctx, req)
	if err != nil {
		return models.IssuanceContext{}, err
	}

	// A refresh token presented by a client it was not issued to is treated
	// as leaked and invalidated. A legitimate use is recorded, which renews
	// a sliding refresh token.
	now := requestcontext.Now(ctx)
	rt, err := e.tickets.Execute(ctx, token, func(t *tmodels.Ticket) (store.Action, error) {
		if t.Kind != tmodels.KindRefreshToken {
			return store.ActionKeep, dErrors.New(dErrors.CodeInvalidGrant, "refresh token is invalid")
		}
		if t.Token == nil || t.Token.ClientID != svc.ClientID {
			t.Invalidate()
			return store.ActionSave, dErrors.New(dErrors.CodeInvalidGrant, "refresh token was issued to another client")
		}
		t.Touch(now)
		return store.ActionSave, nil
	})
	if err != nil {
		if _, ok := dErrors.As(err); ok {
			return models.IssuanceContext{}, err
		}
		return models.IssuanceContext{}, ticketError(err, "refresh token")
	}

	scopes := rt.Token.Scopes
	if requested := req.Scopes(); len(requested) > 0 {
		for _, s := range requested {
			if !slices.Contains(rt.Token.Scopes, s) {
				return models.IssuanceContext{}, dErrors.New(dErrors.CodeInvalidRequest, "requested scope exceeds the original grant")
			}
		}
		scopes = requested
	}

	return e.authorize(ctx, models.IssuanceParams{
		Service:           rt.Token.Service,
		Authentication:    rt.Token.Authentication,
		RegisteredService: svc,
		GrantType:         e.GrantType(),
		Scopes:            scopes,
		ParentID:          rt.ID,
	})
}
