package models

import (
	"net/url"
	"strings"

	pstrings "ticketd/pkg/platform/strings"
)

// Token endpoint parameter names.
const (
	ParamResponseType = "response_type"
	ParamGrantType    = "grant_type"
	ParamClientID     = "client_id"
	ParamClientSecret = "client_secret"
	ParamCode         = "code"
	ParamDeviceCode   = "device_code"
	ParamRefreshToken = "refresh_token"
	ParamUsername     = "username"
	ParamPassword     = "password"
	ParamRedirectURI  = "redirect_uri"
	ParamScope        = "scope"
	ParamService      = "service"
	ParamToken        = "token"
)

// DeviceCodeGrantURN is the RFC 8628 grant_type for device polls.
const DeviceCodeGrantURN = "urn:ietf:params:oauth:grant-type:device_code"

// Request is the transport-neutral view of a token endpoint call.
type Request struct {
	Params    url.Values
	BasicUser string
	BasicPass string
	UserAgent string
}

// Param returns a trimmed parameter value.
func (r Request) Param(name string) string {
	return strings.TrimSpace(r.Params.Get(name))
}

// ClientID prefers the form parameter and falls back to HTTP Basic.
func (r Request) ClientID() string {
	if id := r.Param(ParamClientID); id != "" {
		return id
	}
	return r.BasicUser
}

// ClientSecret prefers HTTP Basic and falls back to the form parameter.
func (r Request) ClientSecret() string {
	if r.BasicPass != "" {
		return r.BasicPass
	}
	return r.Params.Get(ParamClientSecret)
}

// DeviceCode reads the code from either spelling used by device pollers.
func (r Request) DeviceCode() string {
	if code := r.Param(ParamCode); code != "" {
		return code
	}
	return r.Param(ParamDeviceCode)
}

func (r Request) Scopes() []string {
	return pstrings.SplitScope(r.Params.Get(ParamScope))
}

// Clone copies the request so callers can rewrite parameters safely.
func (r Request) Clone() Request {
	out := r
	out.Params = make(url.Values, len(r.Params))
	for k, v := range r.Params {
		out.Params[k] = append([]string(nil), v...)
	}
	return out
}
