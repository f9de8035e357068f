package presets

import (
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mirkobrombin/go-gutex/v1/gutex"
	"github.com/mirkobrombin/go-gutex/v1/metrics"
)

// DefaultSlowThreshold is the wait after which instrumented groups log a
// slow acquisition.
const DefaultSlowThreshold = 100 * time.Millisecond

// InstrumentedOptions configures NewInstrumented.
type InstrumentedOptions struct {
	// Registerer receives the core gutex metrics. It may be nil.
	Registerer prometheus.Registerer
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// SlowThreshold defaults to DefaultSlowThreshold. A negative value
	// disables slow acquisition warnings.
	SlowThreshold time.Duration
}

var registered sync.Map // prometheus.Registerer -> struct{}

// NewPlain creates a group with no instrumentation beyond the package level
// metrics. Suitable for tests and small programs.
func NewPlain(name string) *gutex.Group {
	return gutex.NewGroup(gutex.WithName(name))
}

// NewInstrumented creates a group that traces contended acquisitions, logs
// slow ones and exposes the core metrics on opts.Registerer. Registering
// several groups on the same Registerer is safe.
func NewInstrumented(name string, opts InstrumentedOptions) *gutex.Group {
	if opts.Registerer != nil {
		if _, loaded := registered.LoadOrStore(opts.Registerer, struct{}{}); !loaded {
			metrics.RegisterCoreMetrics(opts.Registerer)
		}
	}
	slow := opts.SlowThreshold
	if slow == 0 {
		slow = DefaultSlowThreshold
	}
	return gutex.NewGroup(
		gutex.WithName(name),
		gutex.WithLogger(opts.Logger),
		gutex.WithTracing(),
		gutex.WithSlowThreshold(slow),
	)
}
