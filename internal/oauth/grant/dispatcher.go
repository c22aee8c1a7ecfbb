package grant

import (
	"ticketd/internal/oauth/models"
	dErrors "ticketd/pkg/domain-errors"
)

// Dispatcher picks the first extractor whose Supports matches. Well-formed
// requests match exactly one; the order only breaks ties for malformed ones.
type Dispatcher struct {
	extractors []Extractor
}

func NewDispatcher(extractors ...Extractor) *Dispatcher {
	return &Dispatcher{extractors: extractors}
}

// DefaultExtractors returns every extractor in dispatch order:
// authorization_code, refresh_token, password, client_credentials, then the
// device flow. Explicit grant_type values outrank the response_type based
// device match.
func DefaultExtractors(b *Base) []Extractor {
	return []Extractor{
		NewAuthorizationCodeExtractor(b),
		NewRefreshTokenExtractor(b),
		NewPasswordExtractor(b),
		NewClientCredentialsExtractor(b),
		NewDeviceCodeExtractor(b),
	}
}

// Select fails with unsupported_grant_type whenever nothing matches,
// including requests that carry no grant_type at all.
func (d *Dispatcher) Select(req models.Request) (Extractor, error) {
	for _, e := range d.extractors {
		if e.Supports(req) {
			return e, nil
		}
	}
	grant := req.Param(models.ParamGrantType)
	if grant == "" {
		return nil, dErrors.New(dErrors.CodeUnsupportedGrantType, "no grant matches the request")
	}
	return nil, dErrors.New(dErrors.CodeUnsupportedGrantType, "unsupported grant type "+grant)
}
