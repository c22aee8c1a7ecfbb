package device

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"ticketd/internal/authn"
	"ticketd/internal/oauth/models"
	"ticketd/internal/policy"
	svcmodels "ticketd/internal/services/models"
	tmodels "ticketd/internal/ticket/models"
	"ticketd/internal/ticket/store"
	dErrors "ticketd/pkg/domain-errors"
	"ticketd/pkg/platform/sentinel"
	"ticketd/pkg/requestcontext"
)

type recorder struct {
	mu    sync.Mutex
	calls int
}

func (r *recorder) Record(context.Context, policy.AuditableContext, policy.Result) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
}

type ManagerSuite struct {
	suite.Suite
	tickets store.Store
	manager *Manager
	svc     *svcmodels.RegisteredService
	now     time.Time
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}

func (s *ManagerSuite) SetupTest() {
	s.now = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	s.useStore(store.NewInMemoryStore())
	s.svc = &svcmodels.RegisteredService{
		ClientID:             "tv",
		ServiceURL:           "https://tv.example.com",
		AllowedScopes:        []string{"openid"},
		GenerateRefreshToken: true,
	}
}

func (s *ManagerSuite) useStore(tickets store.Store) {
	s.tickets = tickets
	s.manager = New(s.tickets,
		WithCodeTTL(5*time.Minute),
		WithPollInterval(5*time.Second),
		WithRetention(time.Minute),
		WithVerificationURI("https://sso.example.com/device"),
	)
}

func (s *ManagerSuite) at(d time.Duration) context.Context {
	return requestcontext.WithTime(context.Background(), s.now.Add(d))
}

func (s *ManagerSuite) poll(code string) models.IssuanceContext {
	ic, err := models.NewIssuanceContext(models.IssuanceParams{
		Service:           s.svc.Target(),
		Authentication:    authn.Anonymous(s.now),
		RegisteredService: s.svc,
		GrantType:         svcmodels.GrantNone,
		ResponseType:      svcmodels.ResponseDeviceCode,
		DeviceCode:        code,
	})
	s.Require().NoError(err)
	return ic
}

func (s *ManagerSuite) seedPending(id string) {
	t := tmodels.New(id, tmodels.KindDeviceCode, s.now, tmodels.Timeout(6*time.Minute))
	t.Device = &tmodels.DeviceData{
		Status:   tmodels.DeviceStatusPending,
		ClientID: "tv",
		Service:  "https://tv.example.com",
		Scopes:   []string{"openid"},
		Interval: 5 * time.Second,
		Deadline: s.now.Add(5 * time.Minute),
	}
	s.Require().NoError(s.tickets.Add(s.at(0), t))
}

func alice() *authn.Authentication {
	return &authn.Authentication{
		Principal: authn.Principal{ID: "alice"},
		Method:    authn.MethodPassword,
	}
}

func (s *ManagerSuite) assertCode(err error, code dErrors.Code) {
	s.Require().Error(err)
	s.Equal(code, dErrors.CodeOf(err), err.Error())
}

func (s *ManagerSuite) TestStart() {
	ic := s.poll("")
	auth, err := s.manager.Start(s.at(0), ic.WithScopes([]string{"openid"}),
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	s.Require().NoError(err)

	s.Equal(tmodels.KindDeviceCode, tmodels.KindOf(auth.DeviceCode))
	s.Len(auth.UserCode, 9)
	s.Equal(int64(300), auth.ExpiresIn)
	s.Equal(int64(5), auth.Interval)
	s.Contains(auth.VerificationURIComplete, "user_code="+NormalizeUserCode(auth.UserCode))

	dc, err := s.tickets.GetKind(s.at(0), auth.DeviceCode, tmodels.KindDeviceCode)
	s.Require().NoError(err)
	s.Equal(tmodels.DeviceStatusPending, dc.Device.Status)
	s.Equal("tv", dc.Device.ClientID)
	s.Equal([]string{"openid"}, dc.Device.Scopes)
	s.Contains(dc.Device.DeviceName, "Chrome")

	data, err := s.manager.Lookup(s.at(0), auth.UserCode)
	s.Require().NoError(err)
	s.Equal(dc.Device.UserCode, data.UserCode)

	s.Run("the device code outlives its decision window", func() {
		_, err := s.tickets.Get(s.at(5*time.Minute+30*time.Second), auth.DeviceCode)
		s.NoError(err)
		_, err = s.manager.Lookup(s.at(5*time.Minute+30*time.Second), auth.UserCode)
		s.assertCode(err, dErrors.CodeExpiredToken)
	})
}

func (s *ManagerSuite) TestApprovedCodeIsRedeemedOnce() {
	s.seedPending("ABC123")

	_, err := s.manager.Redeem(s.at(0), s.poll("ABC123"))
	s.assertCode(err, dErrors.CodeAuthorizationPending)

	s.Require().NoError(s.manager.Transition(s.at(10*time.Second), "ABC123", tmodels.DeviceStatusApproved, alice()))

	ic, err := s.manager.Redeem(s.at(10*time.Second), s.poll("ABC123"))
	s.Require().NoError(err)
	s.Equal("alice", ic.Authentication().Principal.ID)
	s.Equal([]string{"openid"}, ic.Scopes())
	s.True(ic.GenerateRefreshToken())

	_, err = s.manager.Redeem(s.at(10*time.Second), s.poll("ABC123"))
	s.assertCode(err, dErrors.CodeInvalidGrant)
}

func (s *ManagerSuite) TestConcurrentPollsRedeemOnce() {
	s.seedPending("ODC-race")
	s.Require().NoError(s.manager.Transition(s.at(0), "ODC-race", tmodels.DeviceStatusApproved, alice()))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.manager.Redeem(s.at(time.Second), s.poll("ODC-race")); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	s.Equal(int32(1), wins.Load())
}

func (s *ManagerSuite) TestConcurrentPollsRedeemOnceOnRedis() {
	mr := miniredis.RunT(s.T())
	s.useStore(store.NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "device:"))
	s.seedPending("ODC-redis")

	var wins atomic.Int32
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			err := s.manager.Transition(s.at(0), "ODC-redis", tmodels.DeviceStatusApproved, alice())
			if !errors.Is(err, sentinel.ErrConflict) {
				s.NoError(err)
				return
			}
		}
	}()
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.manager.Redeem(s.at(time.Second), s.poll("ODC-redis")); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	t, err := s.tickets.Get(s.at(time.Second), "ODC-redis")
	if wins.Load() == 0 {
		s.Require().NoError(err)
		s.Equal(tmodels.DeviceStatusApproved, t.Device.Status)
		_, err = s.manager.Redeem(s.at(time.Minute), s.poll("ODC-redis"))
		s.Require().NoError(err)
		wins.Add(1)
	}
	s.Equal(int32(1), wins.Load())

	_, err = s.manager.Redeem(s.at(time.Minute), s.poll("ODC-redis"))
	s.assertCode(err, dErrors.CodeInvalidGrant)
}

func (s *ManagerSuite) TestSlowDown() {
	s.seedPending("ODC-fast")

	_, err := s.manager.Redeem(s.at(0), s.poll("ODC-fast"))
	s.assertCode(err, dErrors.CodeAuthorizationPending)
	_, err = s.manager.Redeem(s.at(2*time.Second), s.poll("ODC-fast"))
	s.assertCode(err, dErrors.CodeSlowDown)

	t, err := s.tickets.Get(s.at(2*time.Second), "ODC-fast")
	s.Require().NoError(err)
	s.Equal(10*time.Second, t.Device.Interval)

	_, err = s.manager.Redeem(s.at(13*time.Second), s.poll("ODC-fast"))
	s.assertCode(err, dErrors.CodeAuthorizationPending)
}

func (s *ManagerSuite) TestDenyThroughUserCode() {
	auth, err := s.manager.Start(s.at(0), s.poll(""), "")
	s.Require().NoError(err)

	s.Require().NoError(s.manager.Deny(s.at(time.Second), auth.UserCode, *alice()))
	s.assertCode(s.manager.Approve(s.at(time.Second), auth.UserCode, *alice()), dErrors.CodeInvalidGrant)

	_, err = s.manager.Redeem(s.at(2*time.Second), s.poll(auth.DeviceCode))
	s.assertCode(err, dErrors.CodeAccessDenied)
	_, err = s.manager.Redeem(s.at(10*time.Second), s.poll(auth.DeviceCode))
	s.assertCode(err, dErrors.CodeInvalidGrant)
}

func (s *ManagerSuite) TestUserCodeIsCaseAndSeparatorInsensitive() {
	auth, err := s.manager.Start(s.at(0), s.poll(""), "")
	s.Require().NoError(err)

	typed := " " + strings.ToLower(auth.UserCode) + " "
	s.Require().NoError(s.manager.Approve(s.at(time.Second), typed, *alice()))
	_, err = s.manager.Redeem(s.at(time.Second), s.poll(auth.DeviceCode))
	s.NoError(err)
}

func (s *ManagerSuite) TestExpiry() {
	s.seedPending("ODC-late")

	_, err := s.manager.Redeem(s.at(5*time.Minute), s.poll("ODC-late"))
	s.assertCode(err, dErrors.CodeExpiredToken)

	err = s.manager.Transition(s.at(5*time.Minute), "ODC-late", tmodels.DeviceStatusApproved, alice())
	s.assertCode(err, dErrors.CodeInvalidRequest)

	_, err = s.manager.Redeem(s.at(5*time.Minute+10*time.Second), s.poll("ODC-late"))
	s.assertCode(err, dErrors.CodeExpiredToken)

	_, err = s.manager.Redeem(s.at(time.Hour), s.poll("ODC-late"))
	s.assertCode(err, dErrors.CodeExpiredToken)
}

func (s *ManagerSuite) TestApprovalAfterDeadlineExpiresCode() {
	s.seedPending("ODC-slow-user")

	err := s.manager.Transition(s.at(6*time.Minute-time.Second), "ODC-slow-user", tmodels.DeviceStatusApproved, alice())
	s.assertCode(err, dErrors.CodeExpiredToken)

	t, err := s.tickets.Get(s.at(6*time.Minute-time.Second), "ODC-slow-user")
	s.Require().NoError(err)
	s.Equal(tmodels.DeviceStatusExpired, t.Device.Status)
}

func (s *ManagerSuite) TestApprovalRequiresAuthenticatedUser() {
	s.seedPending("ODC-anon")
	anon := authn.Anonymous(s.now)
	s.assertCode(s.manager.Transition(s.at(0), "ODC-anon", tmodels.DeviceStatusApproved, &anon), dErrors.CodeInvalidRequest)
	s.assertCode(s.manager.Transition(s.at(0), "ODC-anon", tmodels.DeviceStatusExpired, alice()), dErrors.CodeInvalidRequest)
}

func (s *ManagerSuite) TestRedeemReevaluatesPolicy() {
	rec := &recorder{}
	s.manager = New(s.tickets, WithDecisionRecorder(rec))
	s.svc.AccessStrategy.RequiredAttributes = map[string][]string{"role": {"admin"}}
	s.seedPending("ODC-policy")
	s.Require().NoError(s.manager.Transition(s.at(0), "ODC-policy", tmodels.DeviceStatusApproved, alice()))

	_, err := s.manager.Redeem(s.at(time.Second), s.poll("ODC-policy"))
	s.assertCode(err, dErrors.CodeAccessDenied)
	s.Equal(1, rec.calls)

	_, err = s.tickets.Get(s.at(time.Second), "ODC-policy")
	s.Error(err, "a denied redemption still consumes the code")
}

func (s *ManagerSuite) TestRedeemRejectsOtherClient() {
	s.seedPending("ODC-other")
	s.svc = &svcmodels.RegisteredService{ClientID: "web"}
	_, err := s.manager.Redeem(s.at(0), s.poll("ODC-other"))
	s.assertCode(err, dErrors.CodeInvalidGrant)
}

func TestUserCodeFormatting(t *testing.T) {
	if got := FormatUserCode("BCDFGHJK"); got != "BCDF-GHJK" {
		t.Fatalf("FormatUserCode = %q", got)
	}
	if got := NormalizeUserCode(" bcdf-ghjk "); got != "BCDFGHJK" {
		t.Fatalf("NormalizeUserCode = %q", got)
	}
}
