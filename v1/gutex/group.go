package gutex

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mirkobrombin/go-gutex/v1/lock"
)

// Group owns the lock shared by all fields spawned from it.
type Group struct {
	lock   *lock.Reentrant
	logger *slog.Logger
	fields atomic.Int64
}

type config struct {
	id      string
	name    string
	logger  *slog.Logger
	tracing bool
	slow    time.Duration
}

// Option configures a Group.
type Option func(*config)

// WithID sets the group identifier. A random UUID is used by default.
func WithID(id string) Option {
	return func(c *config) {
		c.id = id
	}
}

// WithName sets a human readable group name used in logs and spans.
func WithName(name string) Option {
	return func(c *config) {
		c.name = name
	}
}

// WithLogger sets the logger used to report conflicts and slow
// acquisitions. slog.Default() is used when unset.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithTracing records an OpenTelemetry span for every acquisition of the
// group that has to wait for another goroutine.
func WithTracing() Option {
	return func(c *config) {
		c.tracing = true
	}
}

// WithSlowThreshold logs a warning whenever a goroutine waits at least d for
// the group.
func WithSlowThreshold(d time.Duration) Option {
	return func(c *config) {
		c.slow = d
	}
}

// NewGroup creates a new group. Fields are added with Spawn.
func NewGroup(opts ...Option) *Group {
	cfg := config{logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	lockOpts := []lock.Option{
		lock.WithName(cfg.name),
		lock.WithLogger(cfg.logger),
		lock.WithSlowThreshold(cfg.slow),
	}
	if cfg.id != "" {
		lockOpts = append(lockOpts, lock.WithID(cfg.id))
	}
	if cfg.tracing {
		lockOpts = append(lockOpts, lock.WithTracing())
	}
	return &Group{
		lock:   lock.NewReentrant(lockOpts...),
		logger: cfg.logger,
	}
}

// ID returns the group identifier.
func (g *Group) ID() string { return g.lock.ID() }

// Name returns the group name, if any.
func (g *Group) Name() string { return g.lock.Name() }

// Depth returns the number of live guards held on the group by its current
// owner. It is zero when the group is free.
func (g *Group) Depth() int { return g.lock.Depth() }

// HeldByCurrent reports whether the calling goroutine holds the group.
func (g *Group) HeldByCurrent() bool { return g.lock.HeldByCurrent() }

// Do runs fn while holding the group, so that several borrows made by fn are
// observed by other goroutines as a single step. Do may be nested and may be
// called while guards of the group are live.
func (g *Group) Do(fn func()) {
	g.lock.Acquire()
	defer g.lock.Release()
	fn()
}
