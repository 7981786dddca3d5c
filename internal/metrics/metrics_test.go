package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterIsIdempotent(t *testing.T) {
	assert.NotPanics(t, func() {
		Register()
		Register()
	})
}

func TestMetricsExported(t *testing.T) {
	Register()

	IncBooking("confirmed")
	IncSlotResolution("ok")
	ObserveResolve(5 * time.Millisecond)
	IncCacheHit()
	IncCacheMiss()
	IncHTTP("available_times")
	IncIdentityConflict()
	AddDepositsExpired(2)
	IncNotification("sent")

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"salonbook_bookings_total",
		"salonbook_slot_resolutions_total",
		"salonbook_slot_resolve_duration_seconds",
		"salonbook_slot_cache_requests_total",
		"salonbook_http_requests_total",
		"salonbook_customer_identity_conflicts_total",
		"salonbook_deposits_expired_total",
		"salonbook_notifications_sent_total",
	} {
		assert.True(t, names[want], want)
	}
}
