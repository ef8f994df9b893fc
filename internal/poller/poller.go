// Package poller runs a task on a fixed interval until stopped.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// Option configures a Poller.
type Option func(*Poller)

// WithClock replaces the wall clock.
func WithClock(c clockwork.Clock) Option {
	return func(p *Poller) { p.clock = c }
}

// Poller calls its task once immediately and then every interval. Runs never
// overlap: the next wait starts after the previous run returns.
type Poller struct {
	task     func(ctx context.Context) error
	interval time.Duration
	clock    clockwork.Clock

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
	started  atomic.Bool
}

// New creates a Poller for task.
func New(task func(ctx context.Context) error, interval time.Duration, opts ...Option) *Poller {
	p := &Poller{
		task:     task,
		interval: interval,
		clock:    clockwork.NewRealClock(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Start runs the loop until ctx is cancelled or Stop is called. It blocks
// and must be called at most once. A failing run is logged and the loop
// keeps its normal interval.
func (p *Poller) Start(ctx context.Context) {
	p.started.Store(true)
	defer close(p.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	select {
	case <-p.stop:
		cancel()
	default:
	}
	go func() {
		select {
		case <-p.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	slog.Info("poller started", "interval", p.interval.String())
	for ctx.Err() == nil {
		start := p.clock.Now()
		if err := p.task(ctx); err != nil {
			slog.Error("poll failed", "error", err)
		}
		slog.Debug("poll finished", "elapsed", p.clock.Since(start).String())

		timer := p.clock.NewTimer(p.interval)
		select {
		case <-ctx.Done():
		case <-timer.Chan():
		}
		timer.Stop()
	}
	slog.Info("poller stopped")
}

// Stop cancels the loop and waits for the current run to return. Calling
// Stop before Start makes the later Start return without running the task.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	if p.started.Load() {
		<-p.done
	}
}
