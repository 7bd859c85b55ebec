package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "autocare"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_transitions_total",
			Help:      "Request lifecycle actions by result.",
		},
		[]string{"action", "result"},
	)

	quotedPrices = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_price",
			Help:      "Prices stamped on created requests.",
			Buckets:   []float64{50, 100, 150, 200, 300, 500, 1000},
		},
	)

	storageFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_failures_total",
			Help:      "Snapshot store failures by operation.",
		},
		[]string{"op"},
	)

	syncTasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_tasks_total",
			Help:      "Sheets sync tasks by result.",
		},
		[]string{"result"},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Emitted notifications by type.",
		},
		[]string{"type"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, transitions, quotedPrices, storageFailures, syncTasks, notifications)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

// IncTransition counts a lifecycle action; result is "ok" or an error class.
func IncTransition(action, result string) {
	transitions.WithLabelValues(action, result).Inc()
}

func ObservePrice(price float64) {
	quotedPrices.Observe(price)
}

func IncStorageFailure(op string) {
	storageFailures.WithLabelValues(op).Inc()
}

func IncSync(result string) {
	syncTasks.WithLabelValues(result).Inc()
}

func IncNotification(kind string) {
	notifications.WithLabelValues(kind).Inc()
}
