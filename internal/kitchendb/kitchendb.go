// Package kitchendb defines the database collaborator used by the poller and
// the board, plus the row formatting shared by its drivers.
package kitchendb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kiwari-pos/kds/internal/kitchen"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Errors returned by database sessions.
var (
	ErrUnavailable    = errors.New("database unavailable")
	ErrStatusConflict = errors.New("order not found or status changed")
)

// CreatedTimeLayout is the display format of an order's creation time.
const CreatedTimeLayout = "2006-01-02 15:04"

// Session is one scoped database connection. Close must be called on every path.
type Session interface {
	ActiveOrders(ctx context.Context) ([]kitchen.OrderLine, error)
	ActiveOrdersAfter(ctx context.Context, orderID int64) ([]kitchen.OrderLine, error)
	UpdateStatus(ctx context.Context, orderID int64, tr kitchen.Transition) error
	Close()
}

// Store acquires sessions.
type Store interface {
	Session(ctx context.Context) (Session, error)
}

// FormatCreated renders an order creation time for display.
func FormatCreated(t time.Time) string {
	return t.Format(CreatedTimeLayout)
}

// FormatDescription renders one order line as "<item> (<qty>)".
func FormatDescription(item string, qty decimal.Decimal) string {
	return fmt.Sprintf("%s (%s)", strings.TrimSpace(item), qty.String())
}

// ParseLineStatus parses a status column. Unknown values are kept as
// StatusUnknown so the row still reaches the board; the state machine
// rejects them later.
func ParseLineStatus(raw string, orderID int64, logger *zap.Logger) kitchen.Status {
	st, err := kitchen.ParseStatus(strings.TrimSpace(raw))
	if err != nil && logger != nil {
		logger.Warn("unknown order status in database",
			zap.Int64("order_id", orderID),
			zap.String("status", raw),
		)
	}
	return st
}

// ActiveStatusNames returns the database spellings of the active statuses.
func ActiveStatusNames() []string {
	names := make([]string, 0, len(kitchen.ActiveStatuses))
	for _, st := range kitchen.ActiveStatuses {
		names = append(names, st.String())
	}
	return names
}

// Unavailable wraps a connection error so callers can tell it apart from query failures.
func Unavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}
