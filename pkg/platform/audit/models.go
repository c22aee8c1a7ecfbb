package audit

import (
	"context"
	"time"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies, storage backends, and routing.
type EventCategory string

const (
	// CategorySecurity covers access decisions and rejected grants. These feed
	// SIEM pipelines and must never be sampled.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine issuance: tokens minted, device codes
	// created, expired tickets purged.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from the grant pipeline to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	ID        string
	Category  EventCategory
	Timestamp time.Time
	// Subject is the principal id the action concerns (anonymous for
	// unauthenticated device polls, the client id for client_credentials).
	Subject string
	Action  string
	// ClientID is the OAuth client that triggered the action.
	ClientID     string
	Service      string
	GrantType    string
	ResponseType string
	Decision     string
	Reason       string
	TicketID     string
	RequestID    string
	ClientIP     string
}

// Store persists audit events. Implementations must be safe for concurrent use.
type Store interface {
	Append(ctx context.Context, event Event) error
}

type AuditEvent string

const (
	// Policy gate outcomes
	EventAccessGranted AuditEvent = "service_access_granted"
	EventAccessDenied  AuditEvent = "service_access_denied"

	// Grant pipeline
	EventGrantRejected   AuditEvent = "grant_rejected"
	EventTokenIssued     AuditEvent = "access_token_issued"
	EventRefreshIssued   AuditEvent = "refresh_token_issued"
	EventIssuanceFailed  AuditEvent = "token_issuance_failed"
	EventTicketsPurged   AuditEvent = "expired_tickets_purged"
	EventClientAuthError AuditEvent = "client_authentication_failed"

	// Device authorization
	EventDeviceCodeIssued AuditEvent = "device_code_issued"
	EventDeviceApproved   AuditEvent = "device_code_approved"
	EventDeviceDenied     AuditEvent = "device_code_denied"
	EventDeviceConsumed   AuditEvent = "device_code_consumed"
)

// Decision values carried on policy events.
const (
	DecisionAllow = "allow"
	DecisionDeny  = "deny"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventAccessGranted:   CategorySecurity,
	EventAccessDenied:    CategorySecurity,
	EventGrantRejected:   CategorySecurity,
	EventClientAuthError: CategorySecurity,
	EventDeviceApproved:  CategorySecurity,
	EventDeviceDenied:    CategorySecurity,

	EventTokenIssued:      CategoryOperations,
	EventRefreshIssued:    CategoryOperations,
	EventIssuanceFailed:   CategoryOperations,
	EventTicketsPurged:    CategoryOperations,
	EventDeviceCodeIssued: CategoryOperations,
	EventDeviceConsumed:   CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}
