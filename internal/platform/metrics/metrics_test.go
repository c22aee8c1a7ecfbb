package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry(reg)

	m.IncTokenIssued("password", "access_token")
	m.IncTokenIssued("password", "access_token")
	m.IncGrantRejected("invalid_grant")
	m.IncDevicePoll("authorization_pending")
	m.AddTicketsPurged(3)
	m.ObserveStoreOp("get", time.Now())
	m.RegisterAuditDropped(reg, func() int64 { return 7 })

	assert.Equal(t, 2.0, testutil.ToFloat64(m.TokensIssued.WithLabelValues("password", "access_token")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GrantRejections.WithLabelValues("invalid_grant")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DevicePolls.WithLabelValues("authorization_pending")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.TicketsPurged))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.AuditDropped))
}
