// Package postgres implements the kitchen database collaborator on PostgreSQL
// using a pgx connection pool. Each session holds one pooled connection.
package postgres

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiwari-pos/kds/internal/kitchen"
	"github.com/kiwari-pos/kds/internal/kitchendb"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

//go:embed schema.sql
var Schema string

const selectActive = `
SELECT o.order_id, o.created_time, i.description, l.quantity, o.status
FROM kitchen_orders o
JOIN kitchen_order_lines l ON l.order_id = o.order_id
JOIN kitchen_items i ON i.item_code = l.item_code
WHERE o.order_type = $1
  AND o.status = ANY($2)`

const orderByActive = `
ORDER BY o.order_id, l.line_id`

var (
	queryActive      = selectActive + orderByActive
	queryActiveAfter = selectActive + `
  AND o.order_id > $3` + orderByActive
)

// DBTX is the connection surface a session needs.
// Satisfied by *pgxpool.Conn.
type DBTX interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store hands out sessions backed by a pgx pool.
type Store struct {
	pool      *pgxpool.Pool
	orderType string
	logger    *zap.Logger
	now       func() time.Time
}

// New creates a Store filtering on the given order type.
func New(pool *pgxpool.Pool, orderType string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{pool: pool, orderType: orderType, logger: logger, now: time.Now}
}

// Connect opens and pings a pool for databaseURL.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, kitchendb.Unavailable(err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, kitchendb.Unavailable(err)
	}
	return pool, nil
}

// ApplySchema creates the kitchen tables if they do not exist.
func ApplySchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Session acquires a pooled connection. The caller must Close it.
func (s *Store) Session(ctx context.Context) (kitchendb.Session, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, kitchendb.Unavailable(err)
	}
	return newSession(conn, conn.Release, s.orderType, s.logger, s.now), nil
}

// UpsertItem inserts or renames a menu item.
func (s *Store) UpsertItem(ctx context.Context, code, description string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO kitchen_items (item_code, description) VALUES ($1, $2)
		 ON CONFLICT (item_code) DO UPDATE SET description = EXCLUDED.description`,
		code, description,
	)
	if err != nil {
		return fmt.Errorf("upsert item %s: %w", code, err)
	}
	return nil
}

// CreateOrder inserts an order and its lines atomically and returns the new order ID.
func (s *Store) CreateOrder(ctx context.Context, order kitchendb.NewOrder) (int64, error) {
	orderType := order.OrderType
	if orderType == "" {
		orderType = s.orderType
	}
	status := order.Status
	if !status.Valid() {
		status = kitchen.StatusPlaced
	}
	createdAt := order.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var orderID int64
	err = tx.QueryRow(ctx,
		`INSERT INTO kitchen_orders (order_type, created_time, status) VALUES ($1, $2, $3) RETURNING order_id`,
		orderType, createdAt, status.String(),
	).Scan(&orderID)
	if err != nil {
		return 0, fmt.Errorf("insert order: %w", err)
	}

	for _, line := range order.Lines {
		if _, err := tx.Exec(ctx,
			`INSERT INTO kitchen_order_lines (order_id, item_code, quantity) VALUES ($1, $2, $3)`,
			orderID, line.ItemCode, decimalToNumeric(line.Quantity),
		); err != nil {
			return 0, fmt.Errorf("insert order line: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return orderID, nil
}

// session runs the kitchen queries on one connection.
type session struct {
	db        DBTX
	release   func()
	orderType string
	logger    *zap.Logger
	now       func() time.Time
}

func newSession(db DBTX, release func(), orderType string, logger *zap.Logger, now func() time.Time) *session {
	return &session{db: db, release: release, orderType: orderType, logger: logger, now: now}
}

func (s *session) Close() {
	if s.release != nil {
		s.release()
		s.release = nil
	}
}

func (s *session) ActiveOrders(ctx context.Context) ([]kitchen.OrderLine, error) {
	return s.query(ctx, queryActive, s.orderType, kitchendb.ActiveStatusNames())
}

func (s *session) ActiveOrdersAfter(ctx context.Context, orderID int64) ([]kitchen.OrderLine, error) {
	return s.query(ctx, queryActiveAfter, s.orderType, kitchendb.ActiveStatusNames(), orderID)
}

func (s *session) query(ctx context.Context, sql string, args ...any) ([]kitchen.OrderLine, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query active orders: %w", err)
	}
	defer rows.Close()

	var lines []kitchen.OrderLine
	for rows.Next() {
		var (
			orderID int64
			created time.Time
			item    string
			qty     pgtype.Numeric
			status  string
		)
		if err := rows.Scan(&orderID, &created, &item, &qty, &status); err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		lines = append(lines, kitchen.OrderLine{
			OrderID:     orderID,
			CreatedTime: kitchendb.FormatCreated(created),
			Description: kitchendb.FormatDescription(item, numericToDecimal(qty)),
			Status:      kitchendb.ParseLineStatus(status, orderID, s.logger),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read order lines: %w", err)
	}
	return lines, nil
}

// UpdateStatus writes the new status and its timestamp column in one
// transaction. The row must still carry tr.From, otherwise nothing changes.
func (s *session) UpdateStatus(ctx context.Context, orderID int64, tr kitchen.Transition) error {
	column := tr.Field.Column()
	if column == "" || !tr.To.Valid() || !tr.From.Valid() {
		return fmt.Errorf("%w: %s -> %s", kitchen.ErrInvalidStatus, tr.From, tr.To)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	sql := fmt.Sprintf(
		`UPDATE kitchen_orders SET status = $1, %s = $2 WHERE order_id = $3 AND status = $4`,
		column,
	)
	tag, err := tx.Exec(ctx, sql, tr.To.String(), s.now(), orderID, tr.From.String())
	if err != nil {
		return fmt.Errorf("update order %d status: %w", orderID, err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("update order %d status: %w", orderID, kitchendb.ErrStatusConflict)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	s.logger.Info("order status updated",
		zap.Int64("order_id", orderID),
		zap.Stringer("status", tr.To),
		zap.String("column", column),
	)
	return nil
}

// --- Helpers ---

func numericToDecimal(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid {
		return decimal.Zero
	}
	val, err := n.Value()
	if err != nil || val == nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(val.(string))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func decimalToNumeric(d decimal.Decimal) pgtype.Numeric {
	var n pgtype.Numeric
	_ = n.Scan(d.String())
	return n
}
