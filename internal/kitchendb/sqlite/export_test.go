package sqlite

import (
	"context"
	"database/sql"
	"time"
)

// StatusOf returns the stored status and timestamp column values of an order.
func (s *Store) StatusOf(ctx context.Context, orderID int64) (string, map[string]*time.Time, error) {
	var (
		status                    string
		started, ready, delivered sql.NullInt64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT status, started_time, ready_time, delivered_time FROM kitchen_orders WHERE order_id = ?`,
		orderID,
	).Scan(&status, &started, &ready, &delivered)
	if err != nil {
		return "", nil, err
	}
	stamps := map[string]*time.Time{}
	for col, v := range map[string]sql.NullInt64{
		"started_time":   started,
		"ready_time":     ready,
		"delivered_time": delivered,
	} {
		if v.Valid {
			t := fromMillis(v.Int64)
			stamps[col] = &t
		}
	}
	return status, stamps, nil
}
