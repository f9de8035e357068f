package lock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	gutexerrors "github.com/mirkobrombin/go-gutex/v1/errors"
	"github.com/mirkobrombin/go-gutex/v1/goid"
	"github.com/mirkobrombin/go-gutex/v1/metrics"
)

var tracer = otel.Tracer("github.com/mirkobrombin/go-gutex/v1/lock")

// Reentrant is a mutual exclusion lock that its owning goroutine may acquire
// recursively. The zero value is not usable; create one with NewReentrant.
type Reentrant struct {
	mu sync.Mutex
	// owner and depth are only written by the goroutine holding mu. They are
	// atomic so that observers on other goroutines can read them.
	owner atomic.Int64
	depth atomic.Int64

	id            string
	name          string
	logger        *slog.Logger
	traceEnabled  bool
	slowThreshold time.Duration
}

var _ sync.Locker = (*Reentrant)(nil)

// Option configures a Reentrant lock.
type Option func(*Reentrant)

// WithID sets the identifier reported in logs and spans. A random UUID is
// used when no id is provided.
func WithID(id string) Option {
	return func(l *Reentrant) {
		l.id = id
	}
}

// WithName sets a human readable name reported in logs and spans.
func WithName(name string) Option {
	return func(l *Reentrant) {
		l.name = name
	}
}

// WithLogger sets the logger used for slow acquisition warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Reentrant) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithTracing records a span for every acquisition that has to wait for
// another goroutine.
func WithTracing() Option {
	return func(l *Reentrant) {
		l.traceEnabled = true
	}
}

// WithSlowThreshold logs a warning when a contended acquisition waits at
// least d. A zero or negative duration disables the warning.
func WithSlowThreshold(d time.Duration) Option {
	return func(l *Reentrant) {
		l.slowThreshold = d
	}
}

// NewReentrant returns an unlocked Reentrant lock.
func NewReentrant(opts ...Option) *Reentrant {
	l := &Reentrant{logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	if l.id == "" {
		l.id = uuid.NewString()
	}
	return l
}

// ID returns the lock identifier.
func (l *Reentrant) ID() string { return l.id }

// Name returns the lock name, if any.
func (l *Reentrant) Name() string { return l.name }

// Acquire locks l. If the calling goroutine already holds l the depth is
// incremented and Acquire returns immediately; otherwise it blocks until l is
// available.
func (l *Reentrant) Acquire() {
	me := goid.ID()
	if l.owner.Load() == me {
		l.depth.Add(1)
		return
	}
	if !l.mu.TryLock() {
		l.wait()
	}
	l.enter(me)
}

// TryAcquire is like Acquire but never blocks. It reports whether the lock
// was acquired.
func (l *Reentrant) TryAcquire() bool {
	me := goid.ID()
	if l.owner.Load() == me {
		l.depth.Add(1)
		return true
	}
	if !l.mu.TryLock() {
		return false
	}
	l.enter(me)
	return true
}

// Release undoes one Acquire. The mutex is unlocked when the depth returns
// to zero. Releasing a lock the calling goroutine does not hold panics.
func (l *Reentrant) Release() {
	me := goid.ID()
	switch owner := l.owner.Load(); owner {
	case me:
	case goid.None:
		panic(fmt.Errorf("%w: lock %s is not held", gutexerrors.ErrUnbalancedRelease, l.id))
	default:
		panic(fmt.Errorf("%w: lock %s held by goroutine %d, released by %d", gutexerrors.ErrNotOwner, l.id, owner, me))
	}
	if l.depth.Add(-1) > 0 {
		return
	}
	l.owner.Store(goid.None)
	metrics.HeldGauge.Dec()
	l.mu.Unlock()
}

// Lock is Acquire, provided so that Reentrant satisfies sync.Locker.
func (l *Reentrant) Lock() { l.Acquire() }

// Unlock is Release, provided so that Reentrant satisfies sync.Locker.
func (l *Reentrant) Unlock() { l.Release() }

// Depth returns the number of outstanding acquisitions by the owner.
func (l *Reentrant) Depth() int {
	return int(l.depth.Load())
}

// Owner returns the id of the goroutine holding l, or goid.None.
func (l *Reentrant) Owner() int64 {
	return l.owner.Load()
}

// HeldByCurrent reports whether the calling goroutine holds l.
func (l *Reentrant) HeldByCurrent() bool {
	return l.owner.Load() == goid.ID()
}

func (l *Reentrant) enter(me int64) {
	l.owner.Store(me)
	l.depth.Store(1)
	metrics.HeldGauge.Inc()
}

// wait blocks on the mutex on behalf of a goroutine that lost the fast path.
func (l *Reentrant) wait() {
	metrics.ContentionCounter.Inc()
	var span trace.Span
	if l.traceEnabled {
		_, span = tracer.Start(context.Background(), "Group.Acquire", trace.WithAttributes(
			attribute.String("gutex.group.id", l.id),
			attribute.String("gutex.group.name", l.name),
		))
		defer span.End()
	}

	start := time.Now()
	l.mu.Lock()
	waited := time.Since(start)

	metrics.WaitHistogram.Observe(waited.Seconds())
	if span != nil {
		span.SetAttributes(attribute.Int64("gutex.lock.wait_us", waited.Microseconds()))
	}
	if l.slowThreshold > 0 && waited >= l.slowThreshold {
		l.logger.Warn("gutex: slow group acquisition", "group", l.id, "name", l.name, "wait", waited)
	}
}
