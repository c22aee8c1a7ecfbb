package models

import (
	"strings"
	"time"
)

// EndpointClass groups endpoints that share a limit.
type EndpointClass string

const (
	// ClassToken covers the token, device authorization, introspection and
	// revocation endpoints.
	ClassToken EndpointClass = "token"
	// ClassDeviceVerify covers user code entry. It is kept tight so user
	// codes cannot be brute forced.
	ClassDeviceVerify EndpointClass = "device_verify"
)

func (c EndpointClass) IsValid() bool {
	return c == ClassToken || c == ClassDeviceVerify
}

// Limit is a request budget over a sliding window.
type Limit struct {
	Requests int
	Window   time.Duration
}

// Result is the outcome of one rate limit check.
type Result struct {
	Allowed    bool      `json:"allowed"`
	Limit      int       `json:"limit"`
	Remaining  int       `json:"remaining"`
	ResetAt    time.Time `json:"reset_at"`
	RetryAfter int       `json:"retry_after,omitempty"` // seconds, only set when not allowed
}

// ExceededResponse is the 429 body.
type ExceededResponse struct {
	Error      string `json:"error"`
	Message    string `json:"error_description"`
	RetryAfter int    `json:"retry_after"`
}

// SanitizeKeySegment escapes the key delimiter so a crafted identifier cannot
// address another bucket.
func SanitizeKeySegment(s string) string {
	return strings.ReplaceAll(s, ":", "_")
}

// NewIPKey builds the bucket key for one client IP and endpoint class.
func NewIPKey(class EndpointClass, ip string) string {
	return "rl:ip:" + string(class) + ":" + SanitizeKeySegment(ip)
}
