// Package poller fetches orders newer than a watermark on a fixed cadence
// and hands each batch to the board owner over a channel.
package poller

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kiwari-pos/kds/internal/kitchen"
	"github.com/kiwari-pos/kds/internal/kitchendb"
	"go.uber.org/zap"
)

// DefaultInterval is the wait between two poll cycles.
const DefaultInterval = 5 * time.Second

// Option configures a Poller.
type Option func(*Poller)

// WithLogger sets the poller logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Poller) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithInterval sets the wait between cycles. Non-positive values are ignored.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithClock replaces time.After for the inter-cycle wait.
func WithClock(after func(time.Duration) <-chan time.Time) Option {
	return func(p *Poller) { p.after = after }
}

// Poller runs one background loop querying for orders above its watermark.
type Poller struct {
	src       kitchendb.Store
	out       chan<- kitchen.Groups
	interval  time.Duration
	logger    *zap.Logger
	after     func(time.Duration) <-chan time.Time
	watermark atomic.Int64

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
	cancel    context.CancelFunc
}

// New creates a poller that starts at watermark seed and emits to out.
func New(src kitchendb.Store, seed int64, out chan<- kitchen.Groups, opts ...Option) *Poller {
	p := &Poller{
		src:      src,
		out:      out,
		interval: DefaultInterval,
		logger:   zap.NewNop(),
		after:    time.After,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		cancel:   func() {},
	}
	p.watermark.Store(seed)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Watermark returns the highest order ID emitted so far, or the seed.
func (p *Poller) Watermark() int64 {
	return p.watermark.Load()
}

// Start launches the loop. Calls after the first are no-ops.
func (p *Poller) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		ctx, p.cancel = context.WithCancel(ctx)
		go p.run(ctx)
	})
}

// Stop signals the loop and waits for it to exit. Nothing is emitted once
// Stop has been called. It is safe to call more than once, and before Start.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		close(p.stop)
		// A poller that never started has no loop to wait for.
		p.startOnce.Do(func() { close(p.done) })
		p.cancel()
	})
	<-p.done
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.done)
	p.logger.Info("poller started",
		zap.Int64("watermark", p.Watermark()),
		zap.Duration("interval", p.interval),
	)
	defer p.logger.Info("poller stopped", zap.Int64("watermark", p.Watermark()))

	for {
		if p.stopping() {
			return
		}
		p.cycle(ctx)

		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		case <-p.after(p.interval):
		}
	}
}

func (p *Poller) stopping() bool {
	select {
	case <-p.stop:
		return true
	default:
		return false
	}
}

// cycle runs one poll. Failures count as zero new orders.
func (p *Poller) cycle(ctx context.Context) {
	wm := p.Watermark()
	lines, err := p.fetch(ctx, wm)
	if err != nil {
		p.logger.Error("poll failed", zap.Int64("watermark", wm), zap.Error(err))
		return
	}
	if len(lines) == 0 {
		p.logger.Debug("no new orders", zap.Int64("watermark", wm))
		return
	}

	groups := kitchen.Group(lines, p.logger)
	if p.stopping() {
		return
	}
	select {
	case p.out <- groups:
	case <-p.stop:
		return
	case <-ctx.Done():
		return
	}

	next := max(wm, groups.MaxID())
	p.watermark.Store(next)
	p.logger.Info("new orders",
		zap.Int("orders", len(groups)),
		zap.Int64("watermark", next),
	)
}

func (p *Poller) fetch(ctx context.Context, watermark int64) ([]kitchen.OrderLine, error) {
	sess, err := p.src.Session(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.Close()
	return sess.ActiveOrdersAfter(ctx, watermark)
}
