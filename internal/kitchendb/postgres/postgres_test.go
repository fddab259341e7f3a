package postgres

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/kiwari-pos/kds/internal/kitchen"
	"github.com/kiwari-pos/kds/internal/kitchendb"
	"go.uber.org/zap"
)

// --- Mock implementations ---

// mockTx implements pgx.Tx with only the methods we need.
// The unused methods panic so we catch accidental calls.
type mockTx struct {
	execFn      func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	commitErr   error
	committed   bool
	rolledBack  bool
	rollbackErr error
}

func (m *mockTx) Begin(ctx context.Context) (pgx.Tx, error) { panic("not implemented") }
func (m *mockTx) Commit(ctx context.Context) error {
	if m.commitErr == nil {
		m.committed = true
	}
	return m.commitErr
}
func (m *mockTx) Rollback(ctx context.Context) error {
	if !m.committed {
		m.rolledBack = true
	}
	return m.rollbackErr
}
func (m *mockTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}
func (m *mockTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}
func (m *mockTx) LargeObjects() pgx.LargeObjects { panic("not implemented") }
func (m *mockTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}
func (m *mockTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return m.execFn(ctx, sql, arguments...)
}
func (m *mockTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	panic("not implemented")
}
func (m *mockTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	panic("not implemented")
}
func (m *mockTx) Conn() *pgx.Conn { panic("not implemented") }

// mockDB implements DBTX.
type mockDB struct {
	queryFn func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	tx      *mockTx
	beginErr error
}

func (m *mockDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return m.queryFn(ctx, sql, args...)
}

func (m *mockDB) Begin(ctx context.Context) (pgx.Tx, error) {
	if m.beginErr != nil {
		return nil, m.beginErr
	}
	return m.tx, nil
}

// fakeRow is one result row: order_id, created_time, description, quantity, status.
type fakeRow struct {
	orderID int64
	created time.Time
	item    string
	qty     string
	status  string
}

// fakeRows implements pgx.Rows over a fixed slice.
type fakeRows struct {
	rows   []fakeRow
	pos    int
	err    error
	closed bool
}

func (r *fakeRows) Close()                                       { r.closed = true }
func (r *fakeRows) Err() error                                   { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Values() ([]any, error)                       { panic("not implemented") }
func (r *fakeRows) RawValues() [][]byte                          { panic("not implemented") }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.rows) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.rows[r.pos-1]
	*dest[0].(*int64) = row.orderID
	*dest[1].(*time.Time) = row.created
	*dest[2].(*string) = row.item
	if err := dest[3].(*pgtype.Numeric).Scan(row.qty); err != nil {
		return err
	}
	*dest[4].(*string) = row.status
	return nil
}

func fixedNow() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

// =====================
// Query tests
// =====================

func TestActiveOrdersAfter_MapsRows(t *testing.T) {
	created := time.Date(2024, 5, 1, 11, 42, 10, 0, time.UTC)
	var gotSQL string
	var gotArgs []any
	db := &mockDB{queryFn: func(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
		gotSQL, gotArgs = sql, args
		return &fakeRows{rows: []fakeRow{
			{orderID: 12, created: created, item: "Margherita", qty: "2.00", status: "Placed"},
			{orderID: 12, created: created, item: "Cola", qty: "1.5", status: "Placed"},
		}}, nil
	}}
	s := newSession(db, nil, "Desktop", zap.NewNop(), fixedNow)

	lines, err := s.ActiveOrdersAfter(context.Background(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(gotSQL, "o.order_id > $3") {
		t.Errorf("query missing watermark filter: %s", gotSQL)
	}
	if len(gotArgs) != 3 || gotArgs[0] != "Desktop" || gotArgs[2] != int64(10) {
		t.Errorf("args: got %v", gotArgs)
	}
	if len(lines) != 2 {
		t.Fatalf("lines: got %d, want 2", len(lines))
	}
	if lines[0].Description != "Margherita (2)" || lines[1].Description != "Cola (1.5)" {
		t.Errorf("descriptions: got %q, %q", lines[0].Description, lines[1].Description)
	}
	if lines[0].CreatedTime != "2024-05-01 11:42" {
		t.Errorf("created time: got %q", lines[0].CreatedTime)
	}
	if lines[0].Status != kitchen.StatusPlaced {
		t.Errorf("status: got %s", lines[0].Status)
	}
}

func TestActiveOrders_NoWatermark(t *testing.T) {
	db := &mockDB{queryFn: func(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
		if strings.Contains(sql, "$3") {
			t.Errorf("full fetch must not filter on order id: %s", sql)
		}
		return &fakeRows{}, nil
	}}
	s := newSession(db, nil, "Desktop", zap.NewNop(), fixedNow)

	lines, err := s.ActiveOrders(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(lines) != 0 {
		t.Errorf("expected no lines, got %d", len(lines))
	}
}

func TestActiveOrders_QueryError(t *testing.T) {
	queryErr := errors.New("relation does not exist")
	db := &mockDB{queryFn: func(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
		return nil, queryErr
	}}
	s := newSession(db, nil, "Desktop", zap.NewNop(), fixedNow)

	if _, err := s.ActiveOrders(context.Background()); !errors.Is(err, queryErr) {
		t.Fatalf("expected wrapped query error, got %v", err)
	}
}

func TestActiveOrders_RowsError(t *testing.T) {
	rowsErr := errors.New("conn reset")
	rows := &fakeRows{err: rowsErr}
	db := &mockDB{queryFn: func(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
		return rows, nil
	}}
	s := newSession(db, nil, "Desktop", zap.NewNop(), fixedNow)

	if _, err := s.ActiveOrders(context.Background()); !errors.Is(err, rowsErr) {
		t.Fatalf("expected rows error, got %v", err)
	}
	if !rows.closed {
		t.Error("rows not closed")
	}
}

// =====================
// UpdateStatus tests
// =====================

func TestUpdateStatus_Commits(t *testing.T) {
	var gotSQL string
	var gotArgs []any
	tx := &mockTx{execFn: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
		gotSQL, gotArgs = sql, args
		return pgconn.NewCommandTag("UPDATE 1"), nil
	}}
	s := newSession(&mockDB{tx: tx}, nil, "Desktop", zap.NewNop(), fixedNow)

	tr, _ := kitchen.Next(kitchen.StatusReady)
	if err := s.UpdateStatus(context.Background(), 7, tr); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(gotSQL, "delivered_time = $2") {
		t.Errorf("wrong timestamp column: %s", gotSQL)
	}
	if gotArgs[0] != "Delivered" || gotArgs[1] != fixedNow() || gotArgs[2] != int64(7) || gotArgs[3] != "Ready" {
		t.Errorf("args: got %v", gotArgs)
	}
	if !tx.committed {
		t.Error("transaction not committed")
	}
	if tx.rolledBack {
		t.Error("committed transaction rolled back")
	}
}

func TestUpdateStatus_ExecErrorRollsBack(t *testing.T) {
	execErr := errors.New("deadlock detected")
	tx := &mockTx{execFn: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
		return pgconn.CommandTag{}, execErr
	}}
	s := newSession(&mockDB{tx: tx}, nil, "Desktop", zap.NewNop(), fixedNow)

	tr, _ := kitchen.Next(kitchen.StatusPlaced)
	err := s.UpdateStatus(context.Background(), 7, tr)
	if !errors.Is(err, execErr) {
		t.Fatalf("expected exec error, got %v", err)
	}
	if tx.committed || !tx.rolledBack {
		t.Errorf("committed=%v rolledBack=%v, want rollback only", tx.committed, tx.rolledBack)
	}
}

func TestUpdateStatus_NoRowsIsConflict(t *testing.T) {
	tx := &mockTx{execFn: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
		return pgconn.NewCommandTag("UPDATE 0"), nil
	}}
	s := newSession(&mockDB{tx: tx}, nil, "Desktop", zap.NewNop(), fixedNow)

	tr, _ := kitchen.Next(kitchen.StatusStarted)
	err := s.UpdateStatus(context.Background(), 99, tr)
	if !errors.Is(err, kitchendb.ErrStatusConflict) {
		t.Fatalf("expected ErrStatusConflict, got %v", err)
	}
	if tx.committed || !tx.rolledBack {
		t.Error("expected rollback")
	}
}

func TestUpdateStatus_CommitError(t *testing.T) {
	commitErr := errors.New("connection lost")
	tx := &mockTx{
		execFn: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			return pgconn.NewCommandTag("UPDATE 1"), nil
		},
		commitErr: commitErr,
	}
	s := newSession(&mockDB{tx: tx}, nil, "Desktop", zap.NewNop(), fixedNow)

	tr, _ := kitchen.Next(kitchen.StatusPlaced)
	if err := s.UpdateStatus(context.Background(), 1, tr); !errors.Is(err, commitErr) {
		t.Fatalf("expected commit error, got %v", err)
	}
}

func TestUpdateStatus_InvalidTransitionNeverTouchesDB(t *testing.T) {
	db := &mockDB{beginErr: errors.New("must not begin")}
	s := newSession(db, nil, "Desktop", zap.NewNop(), fixedNow)

	err := s.UpdateStatus(context.Background(), 1, kitchen.Transition{})
	if !errors.Is(err, kitchen.ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestSession_CloseReleasesOnce(t *testing.T) {
	calls := 0
	s := newSession(&mockDB{}, func() { calls++ }, "Desktop", zap.NewNop(), fixedNow)
	s.Close()
	s.Close()
	if calls != 1 {
		t.Errorf("release calls: got %d, want 1", calls)
	}
}
