// Package kitchen holds the kitchen order model, the grouping of order
// lines into orders and the order status lifecycle.
package kitchen

import (
	"sort"

	"go.uber.org/zap"
)

// OrderLine is one row of the active orders query: a single item line
// carrying its parent order's creation time and status.
type OrderLine struct {
	OrderID     int64
	CreatedTime string
	Description string
	Status      Status
}

// OrderGroup is an order with all of its line descriptions folded in.
type OrderGroup struct {
	OrderID      int64    `json:"order_id"`
	CreatedTime  string   `json:"created_time"`
	Descriptions []string `json:"descriptions"`
	Status       Status   `json:"status"`
}

// Clone returns a deep copy of the group.
func (g *OrderGroup) Clone() *OrderGroup {
	c := *g
	c.Descriptions = append([]string(nil), g.Descriptions...)
	return &c
}

// Groups maps order ID to its grouped order.
type Groups map[int64]*OrderGroup

// IDs returns the order IDs in ascending order.
func (gs Groups) IDs() []int64 {
	ids := make([]int64, 0, len(gs))
	for id := range gs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// MaxID returns the highest order ID, or 0 when empty.
func (gs Groups) MaxID() int64 {
	var max int64
	for id := range gs {
		if id > max {
			max = id
		}
	}
	return max
}

// Lines returns the total number of descriptions across all groups.
func (gs Groups) Lines() int {
	n := 0
	for _, g := range gs {
		n += len(g.Descriptions)
	}
	return n
}

// Group folds order lines into one OrderGroup per order ID.
//
// The first line seen for an order seeds its creation time and status;
// every line, the first included, appends its description. Later lines that
// disagree on creation time or status keep the first-seen values and are
// logged. Input order does not matter for which groups are produced.
func Group(lines []OrderLine, logger *zap.Logger) Groups {
	if logger == nil {
		logger = zap.NewNop()
	}
	groups := make(Groups)
	for _, line := range lines {
		g, ok := groups[line.OrderID]
		if !ok {
			g = &OrderGroup{
				OrderID:     line.OrderID,
				CreatedTime: line.CreatedTime,
				Status:      line.Status,
			}
			groups[line.OrderID] = g
		} else if g.CreatedTime != line.CreatedTime || g.Status != line.Status {
			logger.Warn("order line disagrees with its order",
				zap.Int64("order_id", line.OrderID),
				zap.String("created_time", g.CreatedTime),
				zap.String("line_created_time", line.CreatedTime),
				zap.Stringer("status", g.Status),
				zap.Stringer("line_status", line.Status),
			)
		}
		g.Descriptions = append(g.Descriptions, line.Description)
	}
	return groups
}
