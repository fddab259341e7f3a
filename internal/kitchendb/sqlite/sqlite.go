// Package sqlite provides a SQLite-backed kitchen database for a single
// display terminal and for tests.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/kiwari-pos/kds/internal/kitchen"
	"github.com/kiwari-pos/kds/internal/kitchendb"
	"github.com/kiwari-pos/kds/internal/kitchendb/sqlite/migrations"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Store persists kitchen orders in SQLite.
type Store struct {
	sqlDB     *sql.DB
	orderType string
	logger    *zap.Logger
	now       func() time.Time
}

func toMillis(value time.Time) int64 {
	return value.UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value)
}

// Open opens a SQLite kitchen store and applies embedded migrations.
func Open(path, orderType string, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	dsn := MemoryPath
	if path != MemoryPath {
		dsn = filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, kitchendb.Unavailable(fmt.Errorf("open sqlite db: %w", err))
	}
	if path == MemoryPath {
		// Every connection to :memory: is a separate database.
		sqlDB.SetMaxOpenConns(1)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, kitchendb.Unavailable(fmt.Errorf("ping sqlite db: %w", err))
	}
	if err := applyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB, orderType: orderType, logger: logger, now: time.Now}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Session reserves one connection for the caller. The caller must Close it.
func (s *Store) Session(ctx context.Context) (kitchendb.Session, error) {
	conn, err := s.sqlDB.Conn(ctx)
	if err != nil {
		return nil, kitchendb.Unavailable(err)
	}
	return &session{conn: conn, orderType: s.orderType, logger: s.logger, now: s.now}, nil
}

// UpsertItem inserts or renames a menu item.
func (s *Store) UpsertItem(ctx context.Context, code, description string) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO kitchen_items (item_code, description) VALUES (?, ?)
		 ON CONFLICT (item_code) DO UPDATE SET description = excluded.description`,
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

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO kitchen_orders (order_type, created_time, status) VALUES (?, ?, ?)`,
		orderType, toMillis(createdAt), status.String(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert order: %w", err)
	}
	orderID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("order id: %w", err)
	}

	for _, line := range order.Lines {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO kitchen_order_lines (order_id, item_code, quantity) VALUES (?, ?, ?)`,
			orderID, line.ItemCode, line.Quantity.String(),
		); err != nil {
			return 0, fmt.Errorf("insert order line: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return orderID, nil
}

// session runs the kitchen queries on one reserved connection.
type session struct {
	conn      *sql.Conn
	orderType string
	logger    *zap.Logger
	now       func() time.Time
}

func (s *session) Close() {
	if s.conn == nil {
		return
	}
	if err := s.conn.Close(); err != nil {
		s.logger.Warn("close sqlite session", zap.Error(err))
	}
	s.conn = nil
}

func (s *session) ActiveOrders(ctx context.Context) ([]kitchen.OrderLine, error) {
	return s.query(ctx, false, 0)
}

func (s *session) ActiveOrdersAfter(ctx context.Context, orderID int64) ([]kitchen.OrderLine, error) {
	return s.query(ctx, true, orderID)
}

func (s *session) query(ctx context.Context, after bool, orderID int64) ([]kitchen.OrderLine, error) {
	if s.conn == nil {
		return nil, fmt.Errorf("session is closed")
	}
	statuses := kitchendb.ActiveStatusNames()
	args := []any{s.orderType}
	for _, st := range statuses {
		args = append(args, st)
	}

	var b strings.Builder
	b.WriteString(`SELECT o.order_id, o.created_time, i.description, l.quantity, o.status
FROM kitchen_orders o
JOIN kitchen_order_lines l ON l.order_id = o.order_id
JOIN kitchen_items i ON i.item_code = l.item_code
WHERE o.order_type = ?
  AND o.status IN (?` + strings.Repeat(", ?", len(statuses)-1) + `)`)
	if after {
		b.WriteString(`
  AND o.order_id > ?`)
		args = append(args, orderID)
	}
	b.WriteString(`
ORDER BY o.order_id, l.line_id`)

	rows, err := s.conn.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query active orders: %w", err)
	}
	defer rows.Close()

	var lines []kitchen.OrderLine
	for rows.Next() {
		var (
			id      int64
			created int64
			item    string
			qty     string
			status  string
		)
		if err := rows.Scan(&id, &created, &item, &qty, &status); err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		quantity, err := decimal.NewFromString(strings.TrimSpace(qty))
		if err != nil {
			return nil, fmt.Errorf("order %d: parse quantity %q: %w", id, qty, err)
		}
		lines = append(lines, kitchen.OrderLine{
			OrderID:     id,
			CreatedTime: kitchendb.FormatCreated(fromMillis(created)),
			Description: kitchendb.FormatDescription(item, quantity),
			Status:      kitchendb.ParseLineStatus(status, id, s.logger),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read order lines: %w", err)
	}
	return lines, nil
}

// UpdateStatus writes the new status and its timestamp column in one
// transaction, guarded on the order still carrying tr.From.
func (s *session) UpdateStatus(ctx context.Context, orderID int64, tr kitchen.Transition) error {
	column := tr.Field.Column()
	if column == "" || !tr.To.Valid() || !tr.From.Valid() {
		return fmt.Errorf("%w: %s -> %s", kitchen.ErrInvalidStatus, tr.From, tr.To)
	}
	if s.conn == nil {
		return fmt.Errorf("session is closed")
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		fmt.Sprintf(`UPDATE kitchen_orders SET status = ?, %s = ? WHERE order_id = ? AND status = ?`, column),
		tr.To.String(), toMillis(s.now()), orderID, tr.From.String(),
	)
	if err != nil {
		return fmt.Errorf("update order %d status: %w", orderID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update order %d status: %w", orderID, err)
	}
	if n != 1 {
		return fmt.Errorf("update order %d status: %w", orderID, kitchendb.ErrStatusConflict)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	s.logger.Info("order status updated",
		zap.Int64("order_id", orderID),
		zap.Stringer("status", tr.To),
		zap.String("column", column),
	)
	return nil
}
