package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"ticketd/internal/oauth/handler/mocks"
	"ticketd/internal/oauth/models"
	"ticketd/internal/oauth/token"
	rlmodels "ticketd/internal/ratelimit/models"
	tmodels "ticketd/internal/ticket/models"
	dErrors "ticketd/pkg/domain-errors"
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

type HandlerSuite struct {
	suite.Suite
	service *mocks.MockService
	router  chi.Router
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.service = mocks.NewMockService(ctrl)
	s.router = chi.NewRouter()
	New(s.service, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(s.router)
}

func (s *HandlerSuite) post(path string, form url.Values, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for _, m := range mutate {
		m(req)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *HandlerSuite) decode(w *httptest.ResponseRecorder) map[string]any {
	var body map[string]any
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func (s *HandlerSuite) TestToken() {
	s.Run("writes the token response", func() {
		s.service.EXPECT().Token(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, req models.Request) (*models.TokenResponse, error) {
				s.Equal("password", req.Param(models.ParamGrantType))
				s.Equal("app", req.ClientID())
				s.Equal("s3cret:with:colons", req.ClientSecret())
				return &models.TokenResponse{
					AccessToken:  "AT-1",
					TokenType:    models.TokenTypeBearer,
					ExpiresIn:    7200,
					RefreshToken: "RT-1",
				}, nil
			})

		w := s.post("/oauth2/token", url.Values{"grant_type": {"password"}}, func(r *http.Request) {
			r.SetBasicAuth("app", url.QueryEscape("s3cret:with:colons"))
		})
		s.Equal(http.StatusOK, w.Code)
		s.Equal("no-store", w.Header().Get("Cache-Control"))
		body := s.decode(w)
		s.Equal("AT-1", body["access_token"])
		s.Equal("Bearer", body["token_type"])
		s.Equal("RT-1", body["refresh_token"])
		s.EqualValues(7200, body["expires_in"])
	})

	s.Run("device start writes the device authorization", func() {
		s.service.EXPECT().Token(gomock.Any(), gomock.Any()).Return(&models.TokenResponse{
			Device: &models.DeviceAuthorization{DeviceCode: "ODC-1", UserCode: "BCDF-GHJK", ExpiresIn: 300, Interval: 5},
		}, nil)

		w := s.post("/oauth2/token", url.Values{"response_type": {"device_code"}, "client_id": {"tv"}})
		s.Equal(http.StatusOK, w.Code)
		body := s.decode(w)
		s.Equal("ODC-1", body["device_code"])
		s.EqualValues(300, body["expires_in"])
		s.NotContains(body, "access_token")
	})

	s.Run("oauth errors use the rfc envelope", func() {
		s.service.EXPECT().Token(gomock.Any(), gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeAuthorizationPending, "the user has not yet decided"))

		w := s.post("/oauth2/token", url.Values{"response_type": {"device_code"}, "client_id": {"tv"}, "code": {"ODC-1"}})
		s.Equal(http.StatusBadRequest, w.Code)
		body := s.decode(w)
		s.Equal("authorization_pending", body["error"])
	})

	s.Run("store outage is 503", func() {
		s.service.EXPECT().Token(gomock.Any(), gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeUnavailable, "ticket registry unavailable"))
		w := s.post("/oauth2/token", url.Values{"grant_type": {"client_credentials"}})
		s.Equal(http.StatusServiceUnavailable, w.Code)
	})

	s.Run("invalid client challenges basic auth", func() {
		s.service.EXPECT().Token(gomock.Any(), gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeInvalidClient, "client authentication failed"))
		w := s.post("/oauth2/token", url.Values{"grant_type": {"client_credentials"}})
		s.Equal(http.StatusUnauthorized, w.Code)
		s.NotEmpty(w.Header().Get("WWW-Authenticate"))
	})
}

func (s *HandlerSuite) TestDeviceAuthorization() {
	s.service.EXPECT().DeviceAuthorize(gomock.Any(), gomock.Any()).Return(&models.DeviceAuthorization{
		DeviceCode:      "ODC-1",
		UserCode:        "BCDF-GHJK",
		VerificationURI: "https://sso.example.com/device",
		ExpiresIn:       300,
		Interval:        5,
	}, nil)

	w := s.post("/oauth2/device_authorization", url.Values{"client_id": {"tv"}})
	s.Equal(http.StatusOK, w.Code)
	body := s.decode(w)
	s.Equal("BCDF-GHJK", body["user_code"])
	s.Equal("https://sso.example.com/device", body["verification_uri"])
	s.EqualValues(5, body["interval"])
}

func (s *HandlerSuite) TestDeviceVerify() {
	s.Run("lookup", func() {
		s.service.EXPECT().LookupDevice(gomock.Any(), "BCDF-GHJK").Return(&tmodels.DeviceData{
			ClientID:   "tv",
			Scopes:     []string{"openid"},
			DeviceName: "Chrome 120 on Linux",
			Deadline:   time.Date(2026, 5, 1, 9, 5, 0, 0, time.UTC),
		}, nil)
		req := httptest.NewRequest(http.MethodGet, "/oauth2/device/verify?user_code=BCDF-GHJK", nil)
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)
		s.Equal(http.StatusOK, w.Code)
		body := s.decode(w)
		s.Equal("tv", body["client_id"])
		s.Equal("Chrome 120 on Linux", body["device_name"])
	})

	s.Run("lookup without a code", func() {
		req := httptest.NewRequest(http.MethodGet, "/oauth2/device/verify", nil)
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)
		s.Equal(http.StatusBadRequest, w.Code)
	})

	s.Run("approve", func() {
		s.service.EXPECT().Verify(gomock.Any(), models.VerifyRequest{
			UserCode: "BCDF-GHJK",
			Username: "alice",
			Password: "wonderland",
			Decision: models.DecisionApprove,
		}).Return(nil)
		w := s.post("/oauth2/device/verify", url.Values{
			"user_code": {"BCDF-GHJK"}, "username": {"alice"}, "password": {"wonderland"}, "decision": {"approve"},
		})
		s.Equal(http.StatusOK, w.Code)
		s.Equal("approve", s.decode(w)["decision"])
	})

	s.Run("spent user code", func() {
		s.service.EXPECT().Verify(gomock.Any(), gomock.Any()).Return(dErrors.New(dErrors.CodeInvalidGrant, "user code is invalid"))
		w := s.post("/oauth2/device/verify", url.Values{"user_code": {"BCDF-GHJK"}, "decision": {"deny"}})
		s.Equal(http.StatusBadRequest, w.Code)
		s.Equal("invalid_grant", s.decode(w)["error"])
	})
}

func (s *HandlerSuite) TestIntrospectAndRevoke() {
	s.service.EXPECT().Introspect(gomock.Any(), gomock.Any()).Return(&token.Introspection{Active: true, ClientID: "app"}, nil)
	w := s.post("/oauth2/introspect", url.Values{"token": {"AT-1"}})
	s.Equal(http.StatusOK, w.Code)
	s.Equal(true, s.decode(w)["active"])

	s.service.EXPECT().Revoke(gomock.Any(), gomock.Any()).Return(nil)
	w = s.post("/oauth2/revoke", url.Values{"token": {"RT-1"}})
	s.Equal(http.StatusOK, w.Code)
	s.Empty(w.Body.String())
}

type classRecorder struct {
	blocked rlmodels.EndpointClass
}

func (c classRecorder) RateLimit(class rlmodels.EndpointClass) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if class == c.blocked {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *HandlerSuite) TestRateLimitClasses() {
	s.router = chi.NewRouter()
	New(s.service, slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithRateLimiter(classRecorder{blocked: rlmodels.ClassDeviceVerify}),
	).Register(s.router)

	w := s.post("/oauth2/device/verify", url.Values{"user_code": {"BCDF-GHJK"}})
	s.Equal(http.StatusTooManyRequests, w.Code)

	s.service.EXPECT().Revoke(gomock.Any(), gomock.Any()).Return(nil)
	w = s.post("/oauth2/revoke", url.Values{"token": {"AT-1"}, "client_id": {"app"}})
	s.Equal(http.StatusOK, w.Code)
}
