// Package authn models the authenticated subject handed to the grant
// pipeline and the credential check that produces it.
package authn

import (
	"context"
	"slices"
	"time"
)

// AnonymousID is the principal id used while a device code is still pending.
const AnonymousID = "anonymous"

// Authentication methods recorded on an Authentication.
const (
	MethodPassword          = "password"
	MethodClientCredentials = "client_credentials"
	MethodAnonymous         = "anonymous"
	MethodDeviceApproval    = "device_approval"
)

// Principal is an authenticated subject. It is immutable once produced.
type Principal struct {
	ID         string              `json:"id"`
	Attributes map[string][]string `json:"attributes,omitempty"`
}

// Attribute returns the values of name, or nil.
func (p Principal) Attribute(name string) []string {
	return p.Attributes[name]
}

// Authentication is a principal plus the facts of how it was authenticated.
type Authentication struct {
	Principal       Principal           `json:"principal"`
	AuthenticatedAt time.Time           `json:"authenticated_at"`
	Method          string              `json:"method"`
	Attributes      map[string][]string `json:"attributes,omitempty"`
}

func (a Authentication) IsAnonymous() bool {
	return a.Principal.ID == AnonymousID || a.Method == MethodAnonymous
}

// Clone returns a copy that shares no maps or slices with a.
func (a Authentication) Clone() Authentication {
	out := a
	out.Principal.Attributes = cloneAttrs(a.Principal.Attributes)
	out.Attributes = cloneAttrs(a.Attributes)
	return out
}

// Anonymous is the placeholder authentication used for device polls until the
// user approves the code.
func Anonymous(now time.Time) Authentication {
	return Authentication{
		Principal:       Principal{ID: AnonymousID},
		AuthenticatedAt: now,
		Method:          MethodAnonymous,
	}
}

// ForClient builds the authentication for the client_credentials grant, where
// the client is its own principal.
func ForClient(clientID string, now time.Time) Authentication {
	return Authentication{
		Principal:       Principal{ID: clientID},
		AuthenticatedAt: now,
		Method:          MethodClientCredentials,
	}
}

// Credentials are the raw values presented by a resource owner.
type Credentials struct {
	Username string
	Password string
}

// Authenticator validates resource owner credentials.
type Authenticator interface {
	Authenticate(ctx context.Context, creds Credentials) (*Authentication, error)
}

func cloneAttrs(in map[string][]string) map[string][]string {
	if in == nil {
		return nil
	}
	out := make(map[string][]string, len(in))
	for k, v := range in {
		out[k] = slices.Clone(v)
	}
	return out
}
