package reactor

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultInterval is the nominal period between reactor iterations, per
	// spec's "typical 100 ms" readiness timeout.
	DefaultInterval = 100 * time.Millisecond
	// MinInterval is the floor an iteration period is clamped to.
	MinInterval = 1 * time.Millisecond
)

// Registrant is the closed set of things the reactor can drive: a Listener,
// a Searcher, or an IocGuard. There is no open interface hierarchy; any
// future socket owner implements exactly this.
type Registrant interface {
	// ProcessIncoming services one iteration's worth of readable data. It
	// must not block beyond its own socket's short internal read deadline.
	ProcessIncoming() error
	// ProcessOutgoing runs once per iteration after every registrant's
	// ProcessIncoming has been called.
	ProcessOutgoing(now time.Time) error
	// Closed reports whether this registrant's socket has entered a closed
	// state and should be dropped from the reactor.
	Closed() bool
	// Close releases any resources still held.
	Close() error
}

// Reactor is a single-threaded readiness loop: one goroutine services
// every registrant's incoming and outgoing work each iteration. It is a
// plain value; there is no global singleton, and nothing in it is
// guarded by a lock because exactly one goroutine ever calls Run.
type Reactor struct {
	log         *zap.SugaredLogger
	interval    time.Duration
	registrants []Registrant
	afterStep   func(now time.Time)
}

// New creates a Reactor that iterates at interval, clamped to MinInterval.
func New(interval time.Duration) *Reactor {
	if interval < MinInterval {
		interval = MinInterval
	}
	return &Reactor{
		log:      zap.S().Named("reactor"),
		interval: interval,
	}
}

// OnStep registers a hook invoked once per iteration, after incoming and
// outgoing work and after closed registrants have been pruned. The
// directory's periodic cleanup is wired here by cmd/pvmapperd.
func (r *Reactor) OnStep(fn func(now time.Time)) {
	r.afterStep = fn
}

// Add registers reg. Idempotent: adding the same Registrant twice is a
// no-op.
func (r *Reactor) Add(reg Registrant) {
	for _, existing := range r.registrants {
		if existing == reg {
			return
		}
	}
	r.registrants = append(r.registrants, reg)
}

// Remove unregisters reg if present. Idempotent, and safe to call from
// within a ProcessIncoming/ProcessOutgoing callback: Run iterates a
// snapshot taken at the start of the step, so removal only takes effect
// from the next iteration onward.
func (r *Reactor) Remove(reg Registrant) {
	for i, existing := range r.registrants {
		if existing == reg {
			r.registrants = append(r.registrants[:i:i], r.registrants[i+1:]...)
			return
		}
	}
}

// Len reports the number of currently registered connections.
func (r *Reactor) Len() int {
	return len(r.registrants)
}

// Run drives the reactor until ctx is cancelled.
func (r *Reactor) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.step()
		}
	}
}

// Step runs exactly one iteration. Exported for deterministic tests that
// drive the reactor by hand instead of through Run's ticker.
func (r *Reactor) Step() {
	r.step()
}

func (r *Reactor) step() {
	// (a) all ready-to-read sockets are serviced before any outgoing work.
	regs := r.snapshot()
	for _, reg := range regs {
		if err := reg.ProcessIncoming(); err != nil {
			r.log.Debugw("process incoming failed", "err", err)
		}
	}

	// (b) outgoing work is performed in registration order.
	now := time.Now()
	for _, reg := range regs {
		if err := reg.ProcessOutgoing(now); err != nil {
			r.log.Debugw("process outgoing failed", "err", err)
		}
	}

	r.pruneClosed()

	if r.afterStep != nil {
		r.afterStep(now)
	}
}

func (r *Reactor) snapshot() []Registrant {
	out := make([]Registrant, len(r.registrants))
	copy(out, r.registrants)
	return out
}

func (r *Reactor) pruneClosed() {
	kept := r.registrants[:0]
	for _, reg := range r.registrants {
		if reg.Closed() {
			if err := reg.Close(); err != nil {
				r.log.Debugw("close failed", "err", err)
			}
			continue
		}
		kept = append(kept, reg)
	}
	r.registrants = kept
}
