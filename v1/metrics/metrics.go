package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// BorrowCounter tracks granted borrows by mode ("read" or "write").
	BorrowCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gutex_borrows_total",
		Help: "Total number of granted field borrows",
	}, []string{"mode"})
	// ConflictCounter tracks rejected borrows by violated rule.
	ConflictCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gutex_borrow_conflicts_total",
		Help: "Total number of rejected field borrows",
	}, []string{"rule"})
	// ContentionCounter tracks acquisitions that had to wait for another goroutine.
	ContentionCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gutex_contended_acquisitions_total",
		Help: "Total number of group lock acquisitions that blocked",
	})
	// WaitHistogram observes how long contended acquisitions waited.
	WaitHistogram = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "gutex_acquire_wait_seconds",
		Help:    "Time spent waiting for a group lock held by another goroutine",
		Buckets: prometheus.ExponentialBuckets(1e-6, 4, 12),
	})
	// HeldGauge reports the number of groups currently held by some goroutine.
	HeldGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gutex_groups_held",
		Help: "Current number of held group locks",
	})
)

// Borrow modes used as BorrowCounter labels.
const (
	ModeRead  = "read"
	ModeWrite = "write"
)

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// RegisterCoreMetrics registers gutex metrics on the provided registry.
func RegisterCoreMetrics(reg prometheus.Registerer) {
	reg.MustRegister(BorrowCounter, ConflictCounter, ContentionCounter, WaitHistogram, HeldGauge)
}
