package board

import (
	"context"
	"errors"
	"time"

	"github.com/kiwari-pos/kds/internal/kitchen"
)

// ErrClosed is returned by Loop requests once Run has returned.
var ErrClosed = errors.New("board loop closed")

// WriteTimeout bounds a confirmed status write. The write does not follow
// the caller's cancellation once it has been handed to the owner.
const WriteTimeout = 10 * time.Second

// Loop serialises access to a Board. Poll results and requests from
// handlers are all applied by the goroutine running Run.
type Loop struct {
	board    *Board
	requests chan func()
	done     chan struct{}
}

// NewLoop wraps b. Run must be called for requests to be served.
func NewLoop(b *Board) *Loop {
	return &Loop{
		board:    b,
		requests: make(chan func()),
		done:     make(chan struct{}),
	}
}

// Run applies poll results from updates and serves requests until ctx is
// done. A closed updates channel stops poll delivery but not requests.
func (l *Loop) Run(ctx context.Context, updates <-chan kitchen.Groups) error {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case groups, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			l.board.Apply(groups)
		case req := <-l.requests:
			req()
		}
	}
}

// do runs fn on the owner goroutine and waits for it to finish. ctx only
// bounds the hand-off: once the owner has accepted fn, do waits for it so
// the caller always sees the outcome of work that ran.
func (l *Loop) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	req := func() {
		defer close(finished)
		fn()
	}
	select {
	case l.requests <- req:
	case <-l.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}

// Snapshot returns the visible orders in display order.
func (l *Loop) Snapshot(ctx context.Context) ([]kitchen.OrderGroup, error) {
	var out []kitchen.OrderGroup
	if err := l.do(ctx, func() { out = l.board.Snapshot() }); err != nil {
		return nil, err
	}
	return out, nil
}

// Preview returns the next transition of an order.
func (l *Loop) Preview(ctx context.Context, orderID int64) (Proposal, error) {
	var (
		p   Proposal
		err error
	)
	if doErr := l.do(ctx, func() { p, err = l.board.Preview(orderID) }); doErr != nil {
		return Proposal{}, doErr
	}
	return p, err
}

// Advance runs Board.Advance on the owner goroutine. The database write
// happens inside the owner, so no poll result is applied in between.
func (l *Loop) Advance(ctx context.Context, orderID int64, confirmed bool) (Result, error) {
	var (
		res Result
		err error
	)
	run := func() {
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), WriteTimeout)
		defer cancel()
		res, err = l.board.Advance(writeCtx, orderID, confirmed)
	}
	if doErr := l.do(ctx, run); doErr != nil {
		return Result{}, doErr
	}
	return res, err
}
