// Package device runs the device authorization lifecycle: it creates device
// and user code tickets, applies the user's decision, and resolves polls from
// the token endpoint.
//
// Every state change happens inside store.Execute on the device code id, so
// an approval racing a poll, or two polls racing each other, are serialized
// by the ticket store. Consumption deletes the ticket; an approved code can
// therefore be redeemed once.
package device

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/url"
	"strings"
	"time"

	"github.com/mssola/useragent"

	"ticketd/internal/authn"
	"ticketd/internal/oauth/models"
	"ticketd/internal/platform/metrics"
	"ticketd/internal/policy"
	tmodels "ticketd/internal/ticket/models"
	"ticketd/internal/ticket/store"
	dErrors "ticketd/pkg/domain-errors"
	audit "ticketd/pkg/platform/audit"
	"ticketd/pkg/platform/sentinel"
	"ticketd/pkg/requestcontext"
)

// userCodeAlphabet drops vowels and look-alike characters, following
// RFC 8628 §6.1.
const userCodeAlphabet = "BCDFGHJKLMNPQRSTVWXZ"

// slowDownStep is added to the interval on every slow_down.
const slowDownStep = 5 * time.Second

const maxUserCodeAttempts = 5

// Poll outcomes reported to metrics.
const (
	OutcomePending  = "pending"
	OutcomeSlowDown = "slow_down"
	OutcomeApproved = "approved"
	OutcomeDenied   = "denied"
	OutcomeExpired  = "expired"
	OutcomeInvalid  = "invalid"
)

type AuditPublisher interface {
	Emit(ctx context.Context, base audit.Event) error
}

// DecisionRecorder audits a policy decision evaluated inside a store
// transaction.
type DecisionRecorder interface {
	Record(ctx context.Context, ac policy.AuditableContext, result policy.Result)
}

type Manager struct {
	tickets         store.Store
	codeTTL         time.Duration
	interval        time.Duration
	retention       time.Duration
	userCodeLength  int
	verificationURI string
	recorder        DecisionRecorder
	logger          *slog.Logger
	metrics         *metrics.Metrics
	auditPublisher  AuditPublisher
}

type Option func(*Manager)

func WithCodeTTL(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.codeTTL = d
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithRetention keeps a lapsed device code around for d so late polls are
// told expired_token rather than invalid_grant.
func WithRetention(d time.Duration) Option {
	return func(m *Manager) {
		if d >= 0 {
			m.retention = d
		}
	}
}

func WithUserCodeLength(n int) Option {
	return func(m *Manager) {
		if n >= 6 {
			m.userCodeLength = n
		}
	}
}

func WithVerificationURI(uri string) Option {
	return func(m *Manager) {
		m.verificationURI = uri
	}
}

func WithDecisionRecorder(r DecisionRecorder) Option {
	return func(m *Manager) {
		m.recorder = r
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(m *Manager) {
		m.auditPublisher = p
	}
}

func New(tickets store.Store, opts ...Option) *Manager {
	m := &Manager{
		tickets:        tickets,
		codeTTL:        5 * time.Minute,
		interval:       5 * time.Second,
		retention:      5 * time.Minute,
		userCodeLength: 8,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start opens a device authorization for a context produced by the device
// code extractor without a code. The device and user code tickets are written
// together.
func (m *Manager) Start(ctx context.Context, ic models.IssuanceContext, userAgent string) (*models.DeviceAuthorization, error) {
	now := requestcontext.Now(ctx)
	deviceName := describeDevice(userAgent)

	var lastErr error
	for range maxUserCodeAttempts {
		userCode, err := m.newUserCode()
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate user code")
		}

		dc := tmodels.New(tmodels.NewID(tmodels.KindDeviceCode), tmodels.KindDeviceCode, now,
			tmodels.Timeout(m.codeTTL+m.retention))
		dc.Device = &tmodels.DeviceData{
			Status:     tmodels.DeviceStatusPending,
			UserCode:   userCode,
			ClientID:   ic.ClientID(),
			Service:    ic.Service(),
			Scopes:     ic.Scopes(),
			Interval:   m.interval,
			Deadline:   now.Add(m.codeTTL),
			DeviceName: deviceName,
		}
		uc := tmodels.New(userCodeID(userCode), tmodels.KindDeviceUserCode, now, tmodels.Timeout(m.codeTTL))
		uc.ParentID = dc.ID
		uc.UserCode = &tmodels.UserCodeData{DeviceCodeID: dc.ID}

		err = m.tickets.AddAll(ctx, dc, uc)
		if errors.Is(err, sentinel.ErrConflict) {
			lastErr = err
			continue
		}
		if err != nil {
			return nil, storeError(err, "device code")
		}

		m.emit(ctx, audit.EventDeviceCodeIssued, audit.Event{
			Subject:      authn.AnonymousID,
			ClientID:     ic.ClientID(),
			Service:      ic.Service(),
			ResponseType: string(ic.ResponseType()),
			TicketID:     dc.ID,
		})
		m.logger.InfoContext(ctx, "device authorization started",
			"client_id", ic.ClientID(),
			"device", deviceName,
		)
		return m.authorization(dc.ID, userCode), nil
	}
	return nil, dErrors.Wrap(lastErr, dErrors.CodeUnavailable, "could not allocate a unique user code")
}

func (m *Manager) authorization(deviceCode, userCode string) *models.DeviceAuthorization {
	out := &models.DeviceAuthorization{
		DeviceCode:      deviceCode,
		UserCode:        FormatUserCode(userCode),
		VerificationURI: m.verificationURI,
		ExpiresIn:       int64(m.codeTTL / time.Second),
		Interval:        int64(m.interval / time.Second),
	}
	if m.verificationURI != "" {
		out.VerificationURIComplete = m.verificationURI + "?user_code=" + url.QueryEscape(userCode)
	}
	return out
}

// Lookup returns the pending device session behind a user code so the
// verification page can show what is being approved.
func (m *Manager) Lookup(ctx context.Context, userCode string) (*tmodels.DeviceData, error) {
	uc, err := m.tickets.GetKind(ctx, userCodeID(NormalizeUserCode(userCode)), tmodels.KindDeviceUserCode)
	if err != nil {
		return nil, storeError(err, "user code")
	}
	dc, err := m.tickets.GetKind(ctx, uc.UserCode.DeviceCodeID, tmodels.KindDeviceCode)
	if err != nil {
		return nil, storeError(err, "device code")
	}
	return dc.Device, nil
}

// Approve binds auth to the device session behind userCode. The user code is
// spent whether or not the device code can still be approved.
func (m *Manager) Approve(ctx context.Context, userCode string, auth authn.Authentication) error {
	return m.decide(ctx, userCode, tmodels.DeviceStatusApproved, &auth)
}

// Deny rejects the device session behind userCode.
func (m *Manager) Deny(ctx context.Context, userCode string, auth authn.Authentication) error {
	return m.decide(ctx, userCode, tmodels.DeviceStatusDenied, &auth)
}

func (m *Manager) decide(ctx context.Context, userCode string, status tmodels.DeviceStatus, auth *authn.Authentication) error {
	code := NormalizeUserCode(userCode)
	if code == "" {
		return dErrors.New(dErrors.CodeInvalidRequest, "user_code is required")
	}
	uc, err := store.Consume(ctx, m.tickets, userCodeID(code), func(t *tmodels.Ticket) error {
		if t.Kind != tmodels.KindDeviceUserCode || t.UserCode == nil {
			return dErrors.New(dErrors.CodeInvalidGrant, "user code is invalid")
		}
		return nil
	})
	if err != nil {
		return storeError(err, "user code")
	}
	return m.Transition(ctx, uc.UserCode.DeviceCodeID, status, auth)
}

// Transition moves a pending device code to APPROVED or DENIED. Approval
// needs a non-anonymous authentication. A code whose decision window has
// closed is marked EXPIRED instead and the call fails with expired_token.
func (m *Manager) Transition(ctx context.Context, deviceCode string, status tmodels.DeviceStatus, auth *authn.Authentication) error {
	switch status {
	case tmodels.DeviceStatusApproved:
		if auth == nil || auth.IsAnonymous() {
			return dErrors.New(dErrors.CodeInvalidRequest, "approval requires an authenticated user")
		}
	case tmodels.DeviceStatusDenied:
	default:
		return dErrors.New(dErrors.CodeInvalidRequest, "device codes can only be approved or denied")
	}

	now := requestcontext.Now(ctx)
	t, err := m.tickets.Execute(ctx, deviceCode, func(t *tmodels.Ticket) (store.Action, error) {
		d := t.Device
		if t.Kind != tmodels.KindDeviceCode || d == nil {
			return store.ActionKeep, dErrors.New(dErrors.CodeInvalidGrant, "device code is invalid")
		}
		if d.Status == tmodels.DeviceStatusPending && d.Lapsed(now) {
			d.Transition(tmodels.DeviceStatusExpired)
			return store.ActionSave, dErrors.New(dErrors.CodeExpiredToken, "device code has expired")
		}
		if !d.Transition(status) {
			return store.ActionKeep, dErrors.New(dErrors.CodeInvalidRequest, "device code was already "+strings.ToLower(string(d.Status)))
		}
		if status == tmodels.DeviceStatusApproved {
			a := auth.Clone()
			d.Authentication = &a
		}
		return store.ActionSave, nil
	})
	if err != nil {
		return storeError(err, "device code")
	}

	action := audit.EventDeviceApproved
	decision := audit.DecisionAllow
	if status == tmodels.DeviceStatusDenied {
		action, decision = audit.EventDeviceDenied, audit.DecisionDeny
	}
	event := audit.Event{
		ClientID: t.Device.ClientID,
		Service:  t.Device.Service,
		Decision: decision,
		TicketID: t.ID,
	}
	if auth != nil {
		event.Subject = auth.Principal.ID
	}
	m.emit(ctx, action, event)
	m.logger.InfoContext(ctx, "device code decided",
		"client_id", t.Device.ClientID,
		"status", string(status),
	)
	return nil
}

// Redeem resolves a token endpoint poll. On approval it consumes the device
// code and returns ic carrying the approved principal and the scopes granted
// at start. The access policy is re-evaluated with that principal inside the
// same atomic step; a denial also consumes the code.
//
// Pending and slow_down outcomes are retryable and returned as errors.
func (m *Manager) Redeem(ctx context.Context, ic models.IssuanceContext) (models.IssuanceContext, error) {
	if ic.DeviceCode() == "" {
		return models.IssuanceContext{}, dErrors.New(dErrors.CodeInvalidRequest, "device code is required")
	}
	now := requestcontext.Now(ctx)

	var (
		resolved  models.IssuanceContext
		evaluated bool
		ac        policy.AuditableContext
		result    policy.Result
		outcome   string
	)
	_, err := m.tickets.Execute(ctx, ic.DeviceCode(), func(t *tmodels.Ticket) (store.Action, error) {
		evaluated = false
		d := t.Device
		if t.Kind != tmodels.KindDeviceCode || d == nil || d.ClientID != ic.ClientID() {
			outcome = OutcomeInvalid
			return store.ActionKeep, dErrors.New(dErrors.CodeInvalidGrant, "device code is invalid")
		}

		switch d.Status {
		case tmodels.DeviceStatusPending:
			if d.Lapsed(now) {
				d.Transition(tmodels.DeviceStatusExpired)
				outcome = OutcomeExpired
				return store.ActionSave, dErrors.New(dErrors.CodeExpiredToken, "device code has expired")
			}
			tooSoon := d.PolledTooSoon(now)
			d.LastPolledAt = now
			if tooSoon {
				d.Interval += slowDownStep
				outcome = OutcomeSlowDown
				return store.ActionSave, dErrors.New(dErrors.CodeSlowDown, fmt.Sprintf("poll at most every %s", d.Interval))
			}
			outcome = OutcomePending
			return store.ActionSave, dErrors.New(dErrors.CodeAuthorizationPending, "the user has not yet decided")

		case tmodels.DeviceStatusDenied:
			outcome = OutcomeDenied
			return store.ActionDelete, dErrors.New(dErrors.CodeAccessDenied, "the user denied the request")

		case tmodels.DeviceStatusExpired:
			outcome = OutcomeExpired
			return store.ActionKeep, dErrors.New(dErrors.CodeExpiredToken, "device code has expired")

		case tmodels.DeviceStatusApproved:
			if d.Authentication == nil {
				outcome = OutcomeInvalid
				return store.ActionDelete, dErrors.New(dErrors.CodeInvalidGrant, "approved device code has no principal")
			}
			resolved = ic.WithAuthentication(*d.Authentication).WithScopes(d.Scopes)
			ac = resolved.AuditableContext()
			result = policy.Evaluate(ac, now)
			evaluated = true
			outcome = OutcomeApproved
			if !result.Allowed {
				outcome = OutcomeDenied
				return store.ActionDelete, result.Err()
			}
			return store.ActionDelete, nil
		}
		outcome = OutcomeInvalid
		return store.ActionKeep, dErrors.New(dErrors.CodeInvalidGrant, "device code is in an unknown state")
	})

	if evaluated && m.recorder != nil {
		m.recorder.Record(ctx, ac, result)
	}
	if err != nil {
		err = storeError(err, "device code")
		if outcome == "" {
			outcome = outcomeOf(err)
		}
		m.observePoll(ctx, outcome, err)
		return models.IssuanceContext{}, err
	}

	m.observePoll(ctx, outcome, nil)
	m.emit(ctx, audit.EventDeviceConsumed, audit.Event{
		Subject:      resolved.Authentication().Principal.ID,
		ClientID:     resolved.ClientID(),
		Service:      resolved.Service(),
		ResponseType: string(resolved.ResponseType()),
		TicketID:     ic.DeviceCode(),
	})
	return resolved, nil
}

func (m *Manager) observePoll(ctx context.Context, outcome string, err error) {
	if m.metrics != nil {
		m.metrics.IncDevicePoll(outcome)
	}
	if err == nil {
		return
	}
	if dErrors.Retryable(err) {
		m.logger.DebugContext(ctx, "device poll deferred", "outcome", outcome)
		return
	}
	m.logger.InfoContext(ctx, "device poll rejected", "outcome", outcome, "error", err)
}

func (m *Manager) emit(ctx context.Context, action audit.AuditEvent, event audit.Event) {
	if m.auditPublisher == nil {
		return
	}
	event.Action = string(action)
	_ = m.auditPublisher.Emit(ctx, event)
}

func (m *Manager) newUserCode() (string, error) {
	var b strings.Builder
	base := big.NewInt(int64(len(userCodeAlphabet)))
	for range m.userCodeLength {
		n, err := rand.Int(rand.Reader, base)
		if err != nil {
			return "", err
		}
		b.WriteByte(userCodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

func userCodeID(code string) string {
	return tmodels.KindDeviceUserCode.Prefix() + code
}

// NormalizeUserCode uppercases a typed user code and drops separators.
func NormalizeUserCode(code string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '-' || r == ' ':
			return -1
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		}
		return r
	}, code)
}

// FormatUserCode splits a user code in two halves for display: BCDF-GHJK.
func FormatUserCode(code string) string {
	if len(code) < 6 {
		return code
	}
	half := len(code) / 2
	return code[:half] + "-" + code[half:]
}

func describeDevice(userAgent string) string {
	if userAgent == "" {
		return ""
	}
	ua := useragent.New(userAgent)
	if ua.Bot() {
		name, _ := ua.Browser()
		return name
	}
	name, version := ua.Browser()
	desc := strings.TrimSpace(name + " " + version)
	if os := ua.OS(); os != "" {
		desc += " on " + os
	}
	return strings.TrimSpace(desc)
}

// storeError maps store failures onto the device grant's error codes. Domain
// errors raised inside Execute pass through.
func storeError(err error, what string) error {
	if _, ok := dErrors.As(err); ok {
		return err
	}
	switch {
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "ticket registry unavailable")
	case errors.Is(err, sentinel.ErrExpired):
		return dErrors.New(dErrors.CodeExpiredToken, what+" has expired")
	case errors.Is(err, sentinel.ErrNotFound), errors.Is(err, sentinel.ErrWrongKind):
		return dErrors.New(dErrors.CodeInvalidGrant, what+" is invalid")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve "+what)
	}
}

func outcomeOf(err error) string {
	switch dErrors.CodeOf(err) {
	case dErrors.CodeExpiredToken:
		return OutcomeExpired
	case dErrors.CodeAccessDenied:
		return OutcomeDenied
	default:
		return OutcomeInvalid
	}
}
