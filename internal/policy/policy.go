// Package policy is the registered-service access gate. Evaluate is a pure
// function of an immutable context; Enforcer adds the audit trail.
package policy

import (
	"fmt"
	"slices"
	"sort"
	"time"

	"ticketd/internal/authn"
	"ticketd/internal/services/models"
	dErrors "ticketd/pkg/domain-errors"
)

// Reason names the first predicate that failed.
type Reason string

const (
	ReasonNone                   Reason = ""
	ReasonServiceDisabled        Reason = "service_disabled"
	ReasonGrantNotPermitted      Reason = "grant_not_permitted"
	ReasonUnauthorizedAttributes Reason = "unauthorized_attributes"
)

// AuditableContext is the read-only input to one evaluation.
type AuditableContext struct {
	Service           string
	RegisteredService *models.RegisteredService
	Authentication    *authn.Authentication
	GrantType         models.GrantType
	ResponseType      models.ResponseType
}

// Result is the outcome of one evaluation.
type Result struct {
	Allowed bool
	Reason  Reason
	Detail  string
}

// Err converts a denial into an access_denied error. It is nil when allowed.
func (r Result) Err() error {
	if r.Allowed {
		return nil
	}
	return dErrors.New(dErrors.CodeAccessDenied, r.Detail)
}

func allow() Result {
	return Result{Allowed: true}
}

func deny(reason Reason, format string, args ...any) Result {
	return Result{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Evaluate runs the access strategy predicates in order and reports the first
// failure: service state, then grant/response type membership, then principal
// attributes. An anonymous authentication skips the attribute predicate; the
// device flow evaluates again with the approved principal.
func Evaluate(ac AuditableContext, now time.Time) Result {
	svc := ac.RegisteredService
	if svc == nil {
		return deny(ReasonServiceDisabled, "no registered service")
	}
	strategy := svc.AccessStrategy
	if !strategy.IsEnabled() {
		return deny(ReasonServiceDisabled, "service %s is disabled", svc.ClientID)
	}
	if !strategy.InWindow(now) {
		return deny(ReasonServiceDisabled, "service %s is outside its access window", svc.ClientID)
	}

	if ac.GrantType != models.GrantNone && !svc.AllowsGrant(ac.GrantType) {
		return deny(ReasonGrantNotPermitted, "grant type %s is not permitted for %s", ac.GrantType, svc.ClientID)
	}
	if ac.ResponseType != "" && !svc.AllowsResponseType(ac.ResponseType) {
		return deny(ReasonGrantNotPermitted, "response type %s is not permitted for %s", ac.ResponseType, svc.ClientID)
	}

	if ac.Authentication == nil || ac.Authentication.IsAnonymous() {
		return allow()
	}
	if missing := missingAttribute(strategy.RequiredAttributes, ac.Authentication); missing != "" {
		return deny(ReasonUnauthorizedAttributes, "principal %s lacks required attribute %s",
			ac.Authentication.Principal.ID, missing)
	}
	return allow()
}

// missingAttribute returns the first required attribute (by name) the
// authentication does not satisfy. A required attribute with no values only
// needs to be present; otherwise at least one value must match.
func missingAttribute(required map[string][]string, auth *authn.Authentication) string {
	names := make([]string, 0, len(required))
	for name := range required {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		have := append(slices.Clone(auth.Principal.Attribute(name)), auth.Attributes[name]...)
		want := required[name]
		if len(have) == 0 {
			return name
		}
		if len(want) == 0 {
			continue
		}
		if !slices.ContainsFunc(have, func(v string) bool { return slices.Contains(want, v) }) {
			return name
		}
	}
	return ""
}
