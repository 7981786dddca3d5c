package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "salonbook"

var (
	once sync.Once

	bookingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_total",
			Help:      "Count of booking status changes by resulting status.",
		},
		[]string{"status"},
	)

	slotResolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slot_resolutions_total",
			Help:      "Count of slot resolutions by outcome.",
		},
		[]string{"outcome"},
	)

	resolveDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "slot_resolve_duration_seconds",
			Help:      "Time to load a shop snapshot and resolve its slots.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	cacheRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slot_cache_requests_total",
			Help:      "Slot cache lookups by result (hit, miss, error).",
		},
		[]string{"result"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Count of HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	identityConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "customer_identity_conflicts_total",
			Help:      "Bookings whose customer name differs from the one stored for the phone.",
		},
	)

	depositsExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deposits_expired_total",
			Help:      "Count of pending bookings found with an expired deposit deadline.",
		},
	)

	notificationsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_sent_total",
			Help:      "Owner notifications by result.",
		},
		[]string{"result"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			bookingsTotal,
			slotResolutions,
			resolveDuration,
			cacheRequests,
			httpRequests,
			identityConflicts,
			depositsExpired,
			notificationsSent,
		)
	})
}

func IncBooking(status string) {
	bookingsTotal.WithLabelValues(status).Inc()
}

func IncSlotResolution(outcome string) {
	slotResolutions.WithLabelValues(outcome).Inc()
}

func ObserveResolve(d time.Duration) {
	resolveDuration.Observe(d.Seconds())
}

func IncCacheHit() {
	cacheRequests.WithLabelValues("hit").Inc()
}

func IncCacheMiss() {
	cacheRequests.WithLabelValues("miss").Inc()
}

func IncCacheError() {
	cacheRequests.WithLabelValues("error").Inc()
}

func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

func IncIdentityConflict() {
	identityConflicts.Inc()
}

func AddDepositsExpired(n int) {
	depositsExpired.Add(float64(n))
}

func IncNotification(result string) {
	notificationsSent.WithLabelValues(result).Inc()
}
