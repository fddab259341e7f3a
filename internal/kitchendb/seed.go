package kitchendb

import (
	"context"
	"time"

	"github.com/kiwari-pos/kds/internal/kitchen"
	"github.com/shopspring/decimal"
)

// NewOrder is an order to insert, used by the seed command and tests.
type NewOrder struct {
	OrderType string
	CreatedAt time.Time
	Status    kitchen.Status
	Lines     []NewLine
}

// NewLine is one line of a NewOrder.
type NewLine struct {
	ItemCode string
	Quantity decimal.Decimal
}

// Seeder writes menu items and orders.
type Seeder interface {
	UpsertItem(ctx context.Context, code, description string) error
	CreateOrder(ctx context.Context, order NewOrder) (int64, error)
}
