package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var latencyBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}

// Metrics holds the Prometheus collectors for the grant pipeline and ticket store.
type Metrics struct {
	TokensIssued     *prometheus.CounterVec
	GrantRejections  *prometheus.CounterVec
	DevicePolls      *prometheus.CounterVec
	PolicyDecisions  *prometheus.CounterVec
	TicketsPurged    prometheus.Counter
	StoreOpDuration  *prometheus.HistogramVec
	IssuanceDuration *prometheus.HistogramVec
	RateLimited      *prometheus.CounterVec
	AuditDropped     prometheus.CounterFunc
}

// New registers collectors with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers collectors with reg. Tests pass a fresh
// prometheus.NewRegistry() so repeated construction does not panic.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TokensIssued: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ticketd_tokens_issued_total",
			Help: "Tokens minted, by grant type and token kind",
		}, []string{"grant_type", "kind"}),
		GrantRejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ticketd_grant_rejections_total",
			Help: "Token requests rejected, by OAuth error code",
		}, []string{"code"}),
		DevicePolls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ticketd_device_polls_total",
			Help: "Device code polls, by outcome",
		}, []string{"outcome"}),
		PolicyDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ticketd_policy_decisions_total",
			Help: "Access policy evaluations, by decision and reason",
		}, []string{"decision", "reason"}),
		TicketsPurged: f.NewCounter(prometheus.CounterOpts{
			Name: "ticketd_tickets_purged_total",
			Help: "Expired tickets removed by the cleaner",
		}),
		StoreOpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ticketd_ticket_store_op_duration_seconds",
			Help:    "Ticket store operation latency",
			Buckets: latencyBuckets,
		}, []string{"op"}),
		IssuanceDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ticketd_token_request_duration_seconds",
			Help:    "End to end token endpoint latency by grant type",
			Buckets: latencyBuckets,
		}, []string{"grant_type"}),
		RateLimited: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ticketd_rate_limited_total",
			Help: "Requests rejected by the per-IP rate limiter, by endpoint class",
		}, []string{"class"}),
	}
}

func (m *Metrics) IncTokenIssued(grantType, kind string) {
	m.TokensIssued.WithLabelValues(grantType, kind).Inc()
}

func (m *Metrics) IncGrantRejected(code string) {
	m.GrantRejections.WithLabelValues(code).Inc()
}

func (m *Metrics) IncDevicePoll(outcome string) {
	m.DevicePolls.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncPolicyDecision(decision, reason string) {
	m.PolicyDecisions.WithLabelValues(decision, reason).Inc()
}

func (m *Metrics) AddTicketsPurged(n int) {
	m.TicketsPurged.Add(float64(n))
}

// ObserveStoreOp records a store call. Call with time.Now() at the start.
func (m *Metrics) ObserveStoreOp(op string, start time.Time) {
	m.StoreOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// ObserveTokenRequest records a token request. Call with time.Now() at the start.
func (m *Metrics) ObserveTokenRequest(grantType string, start time.Time) {
	m.IssuanceDuration.WithLabelValues(grantType).Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncRateLimited(class string) {
	m.RateLimited.WithLabelValues(class).Inc()
}

// RegisterAuditDropped exposes the publisher's drop count.
func (m *Metrics) RegisterAuditDropped(reg prometheus.Registerer, dropped func() int64) {
	m.AuditDropped = promauto.With(reg).NewCounterFunc(prometheus.CounterOpts{
		Name: "ticketd_audit_events_dropped_total",
		Help: "Audit events dropped because the async buffer was full",
	}, func() float64 { return float64(dropped()) })
}
