package grant

import (
	"context"

	"ticketd/internal/authn"
	"ticketd/internal/oauth/models"
	svcmodels "ticketd/internal/services/models"
	dErrors "ticketd/pkg/domain-errors"
	"ticketd/pkg/requestcontext"
)

// DeviceCodeExtractor handles both halves of the device flow at the token
// endpoint. Without a code it yields a context that starts a device
// authorization; with one it yields a context for the lifecycle manager to
// resolve. Either way the principal is anonymous here and the grant type is
// none: the step is driven by response_type, not grant_type.
type DeviceCodeExtractor struct {
	*Base
}

func NewDeviceCodeExtractor(b *Base) *DeviceCodeExtractor {
	return &DeviceCodeExtractor{Base: b}
}

func (e *DeviceCodeExtractor) GrantType() svcmodels.GrantType {
	return svcmodels.GrantNone
}

func (e *DeviceCodeExtractor) ResponseType() svcmodels.ResponseType {
	return svcmodels.ResponseDeviceCode
}

// Supports matches response_type=device_code, or the RFC 8628 grant URN, with
// a non-blank client_id from the form or HTTP Basic.
func (e *DeviceCodeExtractor) Supports(req models.Request) bool {
	if req.ClientID() == "" {
		return false
	}
	return req.Param(models.ParamResponseType) == string(svcmodels.ResponseDeviceCode) ||
		req.Param(models.ParamGrantType) == models.DeviceCodeGrantURN
}

func (e *DeviceCodeExtractor) Extract(ctx context.Context, req models.Request) (models.IssuanceContext, error) {
	ctx, span := e.startSpan(ctx, e.GrantType())
	defer span.End()

	// Only response_type=device_code may start a session; the grant URN is
	// always a poll.
	if req.DeviceCode() == "" && !e.starts(req) {
		return models.IssuanceContext{}, dErrors.New(dErrors.CodeInvalidRequest, "device_code is required")
	}
	svc, err := e.client(ctx, req)
	if err != nil {
		return models.IssuanceContext{}, err
	}
	service, err := e.service(req, svc)
	if err != nil {
		return models.IssuanceContext{}, err
	}

	return e.authorize(ctx, models.IssuanceParams{
		Service:           service,
		Authentication:    authn.Anonymous(requestcontext.Now(ctx)),
		RegisteredService: svc,
		GrantType:         e.GrantType(),
		ResponseType:      e.ResponseType(),
		DeviceCode:        req.DeviceCode(),
		Scopes:            svc.GrantScopes(req.Scopes()),
	})
}

func (e *DeviceCodeExtractor) starts(req models.Request) bool {
	return req.Param(models.ParamResponseType) == string(svcmodels.ResponseDeviceCode)
}
