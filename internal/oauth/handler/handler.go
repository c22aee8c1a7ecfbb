// Package handler exposes the OAuth endpoints over HTTP. Requests are
// form-encoded as RFC 6749 requires; responses are JSON.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"ticketd/internal/oauth/models"
	"ticketd/internal/oauth/token"
	rlmodels "ticketd/internal/ratelimit/models"
	tmodels "ticketd/internal/ticket/models"
	dErrors "ticketd/pkg/domain-errors"
	"ticketd/pkg/platform/httputil"
	"ticketd/pkg/requestcontext"
)

const maxFormBytes = 64 << 10

type Service interface {
	Token(ctx context.Context, req models.Request) (*models.TokenResponse, error)
	DeviceAuthorize(ctx context.Context, req models.Request) (*models.DeviceAuthorization, error)
	LookupDevice(ctx context.Context, userCode string) (*tmodels.DeviceData, error)
	Verify(ctx context.Context, req models.VerifyRequest) error
	Introspect(ctx context.Context, req models.Request) (*token.Introspection, error)
	Revoke(ctx context.Context, req models.Request) error
}

// RateLimiter produces per-class throttling middleware.
type RateLimiter interface {
	RateLimit(class rlmodels.EndpointClass) func(http.Handler) http.Handler
}

type Handler struct {
	service Service
	logger  *slog.Logger
	limiter RateLimiter
}

type Option func(*Handler)

func WithRateLimiter(l RateLimiter) Option {
	return func(h *Handler) {
		h.limiter = l
	}
}

func New(service Service, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{service: service, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		h.limit(r, rlmodels.ClassToken)
		r.Post("/oauth2/token", h.handleToken)
		r.Post("/oauth2/device_authorization", h.handleDeviceAuthorization)
		r.Post("/oauth2/introspect", h.handleIntrospect)
		r.Post("/oauth2/revoke", h.handleRevoke)
	})
	r.Group(func(r chi.Router) {
		h.limit(r, rlmodels.ClassDeviceVerify)
		r.Get("/oauth2/device/verify", h.handleDeviceLookup)
		r.Post("/oauth2/device/verify", h.handleDeviceVerify)
	})
}

func (h *Handler) limit(r chi.Router, class rlmodels.EndpointClass) {
	if h.limiter != nil {
		r.Use(h.limiter.RateLimit(class))
	}
}

func (h *Handler) handleToken(w http.ResponseWriter, r *http.Request) {
	req, err := parseRequest(w, r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	resp, err := h.service.Token(r.Context(), req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if resp.Device != nil {
		httputil.WriteJSON(w, http.StatusOK, resp.Device)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleDeviceAuthorization(w http.ResponseWriter, r *http.Request) {
	req, err := parseRequest(w, r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	resp, err := h.service.DeviceAuthorize(r.Context(), req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

type deviceInfo struct {
	ClientID   string    `json:"client_id"`
	Service    string    `json:"service"`
	Scopes     []string  `json:"scopes"`
	DeviceName string    `json:"device_name,omitempty"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func (h *Handler) handleDeviceLookup(w http.ResponseWriter, r *http.Request) {
	userCode := r.URL.Query().Get("user_code")
	if userCode == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidRequest, "user_code is required"))
		return
	}
	data, err := h.service.LookupDevice(r.Context(), userCode)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, deviceInfo{
		ClientID:   data.ClientID,
		Service:    data.Service,
		Scopes:     data.Scopes,
		DeviceName: data.DeviceName,
		ExpiresAt:  data.Deadline,
	})
}

func (h *Handler) handleDeviceVerify(w http.ResponseWriter, r *http.Request) {
	req, err := parseRequest(w, r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	decision := models.Decision(req.Param("decision"))
	err = h.service.Verify(r.Context(), models.VerifyRequest{
		UserCode: req.Param("user_code"),
		Username: req.Param(models.ParamUsername),
		Password: req.Params.Get(models.ParamPassword),
		Decision: decision,
	})
	if err != nil {
		h.logger.InfoContext(r.Context(), "device verification failed",
			"request_id", requestcontext.RequestID(r.Context()),
			"error", string(dErrors.CodeOf(err)),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"decision": string(decision)})
}

func (h *Handler) handleIntrospect(w http.ResponseWriter, r *http.Request) {
	req, err := parseRequest(w, r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	resp, err := h.service.Introspect(r.Context(), req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	req, err := parseRequest(w, r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.service.Revoke(r.Context(), req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
}

// parseRequest reads the form body and HTTP Basic client credentials, which
// RFC 6749 §2.3.1 says are form-urlencoded before being base64 encoded.
func parseRequest(w http.ResponseWriter, r *http.Request) (models.Request, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		return models.Request{}, dErrors.New(dErrors.CodeInvalidRequest, "malformed form body")
	}
	req := models.Request{
		Params:    r.PostForm,
		UserAgent: r.UserAgent(),
	}
	if user, pass, ok := r.BasicAuth(); ok {
		var err error
		if req.BasicUser, err = url.QueryUnescape(user); err != nil {
			return models.Request{}, dErrors.New(dErrors.CodeInvalidClient, "malformed client credentials")
		}
		if req.BasicPass, err = url.QueryUnescape(pass); err != nil {
			return models.Request{}, dErrors.New(dErrors.CodeInvalidClient, "malformed client credentials")
		}
	}
	return req, nil
}
