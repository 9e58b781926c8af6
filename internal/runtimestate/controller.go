package runtimestate

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Prober checks a backend once. It returns nil when the backend answers successfully and
// an error wrapping ErrUnhealthy when it answers with a failure. Any other error means
// the backend could not be reached.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) error

// Probe calls f.
func (f ProberFunc) Probe(ctx context.Context) error { return f(ctx) }

type observation struct {
	status    Status
	checkedAt time.Time
	detail    string
	latency   time.Duration
}

// Controller polls one backend. Only Refresh and Run write its state; readers never block.
type Controller struct {
	name         string
	prober       Prober
	interval     time.Duration
	probeTimeout time.Duration
	freshness    time.Duration
	now          func() time.Time
	logger       *zap.Logger

	current atomic.Pointer[observation]
}

// Option configures a Controller.
type Option func(*Controller)

// WithInterval sets the poll interval used by Run.
func WithInterval(d time.Duration) Option { return func(c *Controller) { c.interval = d } }

// WithProbeTimeout bounds each probe.
func WithProbeTimeout(d time.Duration) Option { return func(c *Controller) { c.probeTimeout = d } }

// WithFreshness sets how long a Running observation stays valid.
func WithFreshness(d time.Duration) Option { return func(c *Controller) { c.freshness = d } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(c *Controller) { c.now = now } }

// WithLogger sets a logger for status transitions.
func WithLogger(l *zap.Logger) Option { return func(c *Controller) { c.logger = l } }

// NewController creates a controller in the Stopped state with no check recorded.
func NewController(name string, prober Prober, opts ...Option) *Controller {
	c := &Controller{
		name:         name,
		prober:       prober,
		interval:     2 * time.Second,
		probeTimeout: 2 * time.Second,
		now:          time.Now,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.freshness <= 0 {
		c.freshness = 5 * c.interval
	}
	c.current.Store(&observation{status: Stopped})
	return c
}

// Name returns the backend name given at construction.
func (c *Controller) Name() string { return c.name }

// Refresh probes the backend once and records the result. It never fails: an unreachable
// backend is Stopped and a failing one is Error.
func (c *Controller) Refresh(ctx context.Context) Snapshot {
	pctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()
	start := c.now()
	err := c.prober.Probe(pctx)
	obs := &observation{checkedAt: c.now(), latency: c.now().Sub(start)}
	switch {
	case err == nil:
		obs.status = Running
	case errors.Is(err, ErrUnhealthy):
		obs.status = Error
		obs.detail = err.Error()
	default:
		obs.status = Stopped
		obs.detail = err.Error()
	}
	c.publish(obs)
	return c.Snapshot()
}

func (c *Controller) publish(obs *observation) {
	prev := c.current.Swap(obs)
	if prev.status != obs.status {
		c.logger.Info("backend status changed",
			zap.String("backend", c.name),
			zap.Stringer("from", prev.status),
			zap.Stringer("to", obs.status),
			zap.String("detail", obs.detail))
	}
}

// Snapshot returns the last observation with its staleness evaluated now.
func (c *Controller) Snapshot() Snapshot {
	obs := c.current.Load()
	return Snapshot{
		Name:      c.name,
		Status:    obs.status,
		CheckedAt: obs.checkedAt,
		Detail:    obs.detail,
		Latency:   obs.latency,
		Stale:     obs.checkedAt.IsZero() || c.now().Sub(obs.checkedAt) > c.freshness,
	}
}

// IsReady reports whether the backend is Running and was checked within the freshness window.
func (c *Controller) IsReady() bool {
	return c.Snapshot().Ready()
}

// Gate returns an error wrapping ErrBackendNotReady unless the backend is ready.
func (c *Controller) Gate() error {
	s := c.Snapshot()
	if s.Ready() {
		return nil
	}
	if s.Stale && s.Status == Running {
		return fmt.Errorf("%s: %w (last check %s ago)", c.name, ErrBackendNotReady, c.now().Sub(s.CheckedAt).Round(time.Second))
	}
	return fmt.Errorf("%s is %s: %w", c.name, s.Status, ErrBackendNotReady)
}

// Run publishes Starting, probes immediately and then on every interval until ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	c.publish(&observation{status: Starting, checkedAt: c.now()})
	c.Refresh(ctx)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.Refresh(ctx)
		}
	}
}
