// Package board owns the set of orders visible on a kitchen display and
// applies poll results and staff status changes to it.
//
// A Board is not safe for concurrent use. Run it behind a Loop so that a
// single goroutine performs every mutation.
package board

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kiwari-pos/kds/internal/kitchen"
	"github.com/kiwari-pos/kds/internal/kitchendb"
	"go.uber.org/zap"
)

// Errors returned by the board.
var (
	ErrOrderNotFound = errors.New("order not found")
	ErrWriteFailed   = errors.New("status update failed")
)

// Outcome is the result of a status change request.
type Outcome string

const (
	OutcomeAdvanced         Outcome = "advanced"
	OutcomeDelivered        Outcome = "delivered"
	OutcomeAlreadyDelivered Outcome = "already_delivered"
	OutcomeCancelled        Outcome = "cancelled"
)

// Result describes what a status change request did.
type Result struct {
	Outcome Outcome        `json:"outcome"`
	OrderID int64          `json:"order_id"`
	From    kitchen.Status `json:"from"`
	To      kitchen.Status `json:"to,omitempty"`
	Message string         `json:"message,omitempty"`
}

// Proposal is the next transition of an order, with the question to put to
// staff before it is applied.
type Proposal struct {
	OrderID int64          `json:"order_id"`
	From    kitchen.Status `json:"from"`
	To      kitchen.Status `json:"to"`
	Prompt  string         `json:"prompt"`
}

// Option configures a Board.
type Option func(*Board)

// WithLogger sets the board logger.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Board) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithNotifier sets the receiver of board events.
func WithNotifier(n kitchen.Notifier) Option {
	return func(b *Board) { b.notifier = n }
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(b *Board) { b.now = now }
}

// Board is the visible set of kitchen orders in display order.
type Board struct {
	store    kitchendb.Store
	orders   map[int64]*kitchen.OrderGroup
	ids      []int64
	notifier kitchen.Notifier
	logger   *zap.Logger
	now      func() time.Time
}

// New creates an empty board writing status changes through store.
func New(store kitchendb.Store, opts ...Option) *Board {
	b := &Board{
		store:  store,
		orders: make(map[int64]*kitchen.OrderGroup),
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// LoadInitial fetches every active order and installs it as the visible set.
// A failed fetch is logged and leaves the board empty. It returns the highest
// order ID loaded, or 0.
func (b *Board) LoadInitial(ctx context.Context) int64 {
	lines, err := b.fetchActive(ctx)
	if err != nil {
		b.logger.Error("initial load failed", zap.Error(err))
		lines = nil
	}
	return b.Load(lines)
}

func (b *Board) fetchActive(ctx context.Context) ([]kitchen.OrderLine, error) {
	sess, err := b.store.Session(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.Close()
	return sess.ActiveOrders(ctx)
}

// Load replaces the visible set with the grouped lines and returns the
// highest order ID among them, or 0 when there are none.
func (b *Board) Load(lines []kitchen.OrderLine) int64 {
	groups := kitchen.Group(lines, b.logger)
	b.orders = make(map[int64]*kitchen.OrderGroup, len(groups))
	b.ids = b.ids[:0]
	for _, id := range groups.IDs() {
		b.orders[id] = groups[id]
		b.ids = append(b.ids, id)
	}
	b.logger.Info("board loaded", zap.Int("orders", len(b.ids)), zap.Int64("watermark", groups.MaxID()))

	ev := kitchen.NewEvent(kitchen.EventSnapshot, b.now())
	ev.Orders = b.Snapshot()
	b.notify(ev)
	return groups.MaxID()
}

// Apply appends newly polled orders in ascending ID order. An order that is
// already visible is overwritten in place.
func (b *Board) Apply(groups kitchen.Groups) {
	for _, id := range groups.IDs() {
		g := groups[id]
		if _, exists := b.orders[id]; exists {
			b.logger.Warn("polled order already on board, overwriting", zap.Int64("order_id", id))
		} else {
			b.ids = append(b.ids, id)
		}
		b.orders[id] = g

		ev := kitchen.NewEvent(kitchen.EventOrderAdded, b.now())
		ev.OrderID = id
		ev.Order = g.Clone()
		b.notify(ev)
	}
}

// Preview returns the transition that Advance would apply to the order.
func (b *Board) Preview(orderID int64) (Proposal, error) {
	g, ok := b.orders[orderID]
	if !ok {
		return Proposal{}, fmt.Errorf("order %d: %w", orderID, ErrOrderNotFound)
	}
	tr, err := kitchen.Next(g.Status)
	if err != nil {
		return Proposal{}, fmt.Errorf("order %d: %w", orderID, err)
	}
	return Proposal{
		OrderID: orderID,
		From:    tr.From,
		To:      tr.To,
		Prompt:  fmt.Sprintf("Do you want to change the status of Order %d to '%s'?", orderID, tr.To),
	}, nil
}

// Advance moves an order to its next status. Nothing is written unless
// confirmed is true, and the board only changes after the write succeeds.
// A delivered order leaves the board.
func (b *Board) Advance(ctx context.Context, orderID int64, confirmed bool) (Result, error) {
	g, ok := b.orders[orderID]
	if !ok {
		return Result{}, fmt.Errorf("order %d: %w", orderID, ErrOrderNotFound)
	}

	tr, err := kitchen.Next(g.Status)
	if errors.Is(err, kitchen.ErrAlreadyDelivered) {
		return Result{
			Outcome: OutcomeAlreadyDelivered,
			OrderID: orderID,
			From:    g.Status,
			Message: fmt.Sprintf("Order %d has already been delivered.", orderID),
		}, nil
	}
	if err != nil {
		b.logger.Error("cannot advance order", zap.Int64("order_id", orderID), zap.Error(err))
		return Result{}, fmt.Errorf("order %d: %w", orderID, err)
	}

	if !confirmed {
		b.logger.Info("status change cancelled",
			zap.Int64("order_id", orderID),
			zap.Stringer("to", tr.To),
		)
		return Result{Outcome: OutcomeCancelled, OrderID: orderID, From: tr.From, To: tr.To}, nil
	}

	if err := b.write(ctx, orderID, tr); err != nil {
		b.logger.Error("status update failed",
			zap.Int64("order_id", orderID),
			zap.Stringer("from", tr.From),
			zap.Stringer("to", tr.To),
			zap.Error(err),
		)
		return Result{}, fmt.Errorf("%w: order %d: %w", ErrWriteFailed, orderID, err)
	}

	g.Status = tr.To
	ev := kitchen.NewEvent(kitchen.EventStatusChanged, b.now())
	ev.OrderID = orderID
	ev.Order = g.Clone()
	ev.From, ev.To = tr.From, tr.To
	b.notify(ev)

	res := Result{OrderID: orderID, From: tr.From, To: tr.To}
	if tr.Terminal() {
		b.Remove(orderID)
		res.Outcome = OutcomeDelivered
		res.Message = fmt.Sprintf("Order %d has been delivered.", orderID)
	} else {
		res.Outcome = OutcomeAdvanced
		res.Message = fmt.Sprintf("Order %d status changed to %s.", orderID, tr.To)
	}
	return res, nil
}

func (b *Board) write(ctx context.Context, orderID int64, tr kitchen.Transition) error {
	sess, err := b.store.Session(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()
	return sess.UpdateStatus(ctx, orderID, tr)
}

// Remove drops an order from the board. It reports whether the order was
// present; removing an absent order does nothing.
func (b *Board) Remove(orderID int64) bool {
	if _, ok := b.orders[orderID]; !ok {
		return false
	}
	delete(b.orders, orderID)
	for i, id := range b.ids {
		if id == orderID {
			b.ids = append(b.ids[:i], b.ids[i+1:]...)
			break
		}
	}

	ev := kitchen.NewEvent(kitchen.EventOrderRemoved, b.now())
	ev.OrderID = orderID
	b.notify(ev)
	return true
}

// Snapshot returns copies of the visible orders in display order.
func (b *Board) Snapshot() []kitchen.OrderGroup {
	out := make([]kitchen.OrderGroup, 0, len(b.ids))
	for _, id := range b.ids {
		out = append(out, *b.orders[id].Clone())
	}
	return out
}

// Len returns the number of visible orders.
func (b *Board) Len() int {
	return len(b.ids)
}

func (b *Board) notify(ev kitchen.Event) {
	if b.notifier == nil {
		return
	}
	b.notifier.Notify(context.Background(), ev)
}
