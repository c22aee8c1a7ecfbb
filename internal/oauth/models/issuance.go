package models

import (
	"slices"

	"ticketd/internal/authn"
	"ticketd/internal/policy"
	svcmodels "ticketd/internal/services/models"
	dErrors "ticketd/pkg/domain-errors"
)

// IssuanceParams is the input to NewIssuanceContext.
type IssuanceParams struct {
	Service           string
	Authentication    authn.Authentication
	RegisteredService *svcmodels.RegisteredService
	GrantType         svcmodels.GrantType
	ResponseType      svcmodels.ResponseType
	DeviceCode        string
	Scopes            []string
	ParentID          string
}

// IssuanceContext is the validated result of grant extraction. It is a value:
// every With method returns a changed copy and the receiver stays untouched.
type IssuanceContext struct {
	service              string
	authentication       authn.Authentication
	registeredService    *svcmodels.RegisteredService
	grantType            svcmodels.GrantType
	responseType         svcmodels.ResponseType
	generateRefreshToken bool
	deviceCode           string
	scopes               []string
	parentID             string
}

// NewIssuanceContext builds a context. The grant type is mandatory, and the
// refresh flag is derived: the service must ask for refresh tokens and the
// grant must allow them.
func NewIssuanceContext(p IssuanceParams) (IssuanceContext, error) {
	if p.GrantType == "" {
		return IssuanceContext{}, dErrors.New(dErrors.CodeInvariantViolation, "issuance context requires a grant type")
	}
	if p.RegisteredService == nil {
		return IssuanceContext{}, dErrors.New(dErrors.CodeInvariantViolation, "issuance context requires a registered service")
	}
	return IssuanceContext{
		service:              p.Service,
		authentication:       p.Authentication.Clone(),
		registeredService:    p.RegisteredService,
		grantType:            p.GrantType,
		responseType:         p.ResponseType,
		generateRefreshToken: p.RegisteredService.GenerateRefreshToken && p.GrantType.PermitsRefresh(),
		deviceCode:           p.DeviceCode,
		scopes:               slices.Clone(p.Scopes),
		parentID:             p.ParentID,
	}, nil
}

func (c IssuanceContext) Service() string                      { return c.service }
func (c IssuanceContext) Authentication() authn.Authentication { return c.authentication.Clone() }
func (c IssuanceContext) GrantType() svcmodels.GrantType       { return c.grantType }
func (c IssuanceContext) ResponseType() svcmodels.ResponseType { return c.responseType }
func (c IssuanceContext) GenerateRefreshToken() bool           { return c.generateRefreshToken }
func (c IssuanceContext) DeviceCode() string                   { return c.deviceCode }
func (c IssuanceContext) Scopes() []string                     { return slices.Clone(c.scopes) }
func (c IssuanceContext) ParentID() string                     { return c.parentID }

// RegisteredService is shared, not copied; treat it as read-only.
func (c IssuanceContext) RegisteredService() *svcmodels.RegisteredService {
	return c.registeredService
}

func (c IssuanceContext) ClientID() string {
	return c.registeredService.ClientID
}

// WithAuthentication swaps the principal, e.g. once a device code resolves.
func (c IssuanceContext) WithAuthentication(a authn.Authentication) IssuanceContext {
	c.authentication = a.Clone()
	return c
}

func (c IssuanceContext) WithScopes(scopes []string) IssuanceContext {
	c.scopes = slices.Clone(scopes)
	return c
}

// AuditableContext is the policy gate's view of this context.
func (c IssuanceContext) AuditableContext() policy.AuditableContext {
	auth := c.authentication.Clone()
	return policy.AuditableContext{
		Service:           c.service,
		RegisteredService: c.registeredService,
		Authentication:    &auth,
		GrantType:         c.grantType,
		ResponseType:      c.responseType,
	}
}
