package models

const TokenTypeBearer = "Bearer"

// TokenResponse is the token endpoint's success body. When the call started a
// device flow, Device is set instead and is what goes on the wire.
type TokenResponse struct {
	AccessToken  string `json:"access_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`

	Device *DeviceAuthorization `json:"-"`
}

// DeviceAuthorization is the RFC 8628 §3.2 response.
type DeviceAuthorization struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete,omitempty"`
	ExpiresIn               int64  `json:"expires_in"`
	Interval                int64  `json:"interval"`
}

// Decision is the user's answer on the device verification page.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionDeny    Decision = "deny"
)

// VerifyRequest is the out-of-band approval of a user code.
type VerifyRequest struct {
	UserCode string
	Username string
	Password string
	Decision Decision
}
