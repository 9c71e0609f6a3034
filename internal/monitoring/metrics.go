package monitoring

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics for the broadcast service. Scraped by Prometheus and
// visualized in Grafana. Exported so internal/room and internal/session can
// increment them directly at the point of the event, rather than threading
// counters back up to the HTTP layer.
var (
	ConnectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "roomcast_connections_total",
		Help: "Total number of WebSocket connections established",
	})

	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "roomcast_connections_active",
		Help: "Current number of active WebSocket connections",
	})

	ConnectionsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roomcast_connections_failed_total",
		Help: "Total number of rejected connection attempts by reason",
	}, []string{"reason"})

	DisconnectsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roomcast_disconnects_total",
		Help: "Total disconnections by initiator",
	}, []string{"initiated_by"})

	RoomsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "roomcast_rooms_active",
		Help: "Current number of rooms tracked by the registry",
	})

	RoomsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "roomcast_rooms_created_total",
		Help: "Total number of rooms lazily created",
	})

	RoomsEvictedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "roomcast_rooms_evicted_total",
		Help: "Total number of rooms reaped after their grace period expired",
	})

	MessagesPublishedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "roomcast_messages_published_total",
		Help: "Total number of text messages published into a room",
	})

	MessagesDeliveredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "roomcast_messages_delivered_total",
		Help: "Total number of messages written to a subscriber socket",
	})

	SubscriberLagEventsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "roomcast_subscriber_lag_events_total",
		Help: "Total number of Lagged notifications observed by send loops",
	})

	RateLimitedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roomcast_rate_limited_total",
		Help: "Total number of actions rejected by a rate limiter",
	}, []string{"limiter"})

	HistoryRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "roomcast_history_requests_total",
		Help: "Total number of history query requests served",
	})

	MemoryUsageMB = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "roomcast_memory_usage_mb",
		Help: "Current process memory usage in megabytes",
	})

	CPUUsagePercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "roomcast_cpu_usage_percent",
		Help: "Current process CPU usage percentage",
	})

	GoroutinesActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "roomcast_goroutines_active",
		Help: "Current number of live goroutines",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		ConnectionsActive,
		ConnectionsFailed,
		DisconnectsTotal,
		RoomsActive,
		RoomsCreatedTotal,
		RoomsEvictedTotal,
		MessagesPublishedTotal,
		MessagesDeliveredTotal,
		SubscriberLagEventsTotal,
		RateLimitedTotal,
		HistoryRequestsTotal,
		MemoryUsageMB,
		CPUUsagePercent,
		GoroutinesActive,
	)
}
