/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements the persistence interfaces of the shift engine and of cash
  reconciliation using SQLite.

INTERFACES IMPLEMENTED:
  shift.TxStore:     Assignments, settlements, sale lines (Store itself)
  reconcile.TxStore: Cash settlements and payment lines (Store.Cash())

HISTORY ENFORCEMENT:
  - Closed assignments are never updated: every UPDATE on assignments is
    guarded with state = 'open' and a zero row count is reported as
    shift.InvalidStateError
  - Sale lines are deleted with their settlement (ON DELETE CASCADE)

KEY TABLES:
  assignments:        Shift-nozzle-employee-date records (effective = max id)
  settlements:        Closing entries, UNIQUE(assignment_id)
  sale_lines:         Per-channel lines owned by a settlement
  cash_settlements:   Cash submissions, UNIQUE(shift_id, date)
  cash_payment_lines: Payment lines owned by a cash submission

INDEXES:
  - idx_assignments_slot: Effective assignment lookup (hot path)
  - idx_assignments_nozzle_closed: Start reading continuity
  - idx_settlements_date_shift: Cash summaries

DATA FORMAT:
  Decimals are stored as TEXT and parsed back with shift.MustParseDecimal so
  no precision is lost. Dates are TEXT "2006-01-02" and compare in order.

CONCURRENCY:
  Uses sync.RWMutex plus a single open connection. WithTx holds the write
  lock and runs every read and write of fn on the same sql.Tx, so a guarded
  read-then-write cannot interleave with another writer. A cancelled
  context rolls the transaction back.

USAGE:
  store, err := sqlite.New("./data/fuel.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := shift.NewService(store, catalog)
  cash := reconcile.NewService(store.Cash(), catalog)

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - shift/store.go: Interface definitions
  - reconcile/store.go: Cash settlement interface
  - shift/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/fuelstation/reconcile"
	"github.com/warp/fuelstation/shift"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: ":memory:" databases are per connection, and writers
	// are serialized by mu anyway.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Assignments (closed rows are history, never updated)
	CREATE TABLE IF NOT EXISTS assignments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		shift_id INTEGER NOT NULL,
		nozzle_id INTEGER NOT NULL,
		pump_id INTEGER NOT NULL,
		employee_id INTEGER NOT NULL,
		assigned_date TEXT NOT NULL,
		state TEXT NOT NULL DEFAULT 'open' CHECK (state IN ('open', 'close')),
		start_reading TEXT,
		end_reading TEXT,
		price TEXT NOT NULL DEFAULT '0',
		dip_test BOOLEAN NOT NULL DEFAULT FALSE,
		dip_taken_qty TEXT NOT NULL DEFAULT '0',
		dip_returned_qty TEXT NOT NULL DEFAULT '0',
		reassigned_before_closing BOOLEAN NOT NULL DEFAULT FALSE,
		reassigned_after_closing BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_assignments_slot
		ON assignments(shift_id, nozzle_id, assigned_date, id DESC);
	CREATE INDEX IF NOT EXISTS idx_assignments_nozzle_closed
		ON assignments(nozzle_id, state, assigned_date DESC, id DESC);
	CREATE INDEX IF NOT EXISTS idx_assignments_date
		ON assignments(assigned_date);

	-- Cash settlements (one per shift per date)
	CREATE TABLE IF NOT EXISTS cash_settlements (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		reference TEXT NOT NULL UNIQUE,
		shift_id INTEGER NOT NULL,
		date TEXT NOT NULL,
		employee_id INTEGER NOT NULL,
		expected_amount TEXT NOT NULL,
		submitted_amount TEXT NOT NULL,
		bank_amount TEXT NOT NULL,
		cash_amount TEXT NOT NULL,
		petty_cash_amount TEXT NOT NULL,
		shortage_amount TEXT NOT NULL,
		adjustment TEXT,
		created_at TEXT NOT NULL,
		UNIQUE(shift_id, date)
	);

	CREATE TABLE IF NOT EXISTS cash_payment_lines (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		cash_settlement_id INTEGER NOT NULL REFERENCES cash_settlements(id) ON DELETE CASCADE,
		journal_id INTEGER NOT NULL,
		amount TEXT NOT NULL,
		kind TEXT NOT NULL,
		ref TEXT
	);

	-- Settlements (closing entries, one per closed assignment)
	CREATE TABLE IF NOT EXISTS settlements (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		reference TEXT NOT NULL UNIQUE,
		assignment_id INTEGER NOT NULL UNIQUE REFERENCES assignments(id),
		shift_id INTEGER NOT NULL,
		pump_id INTEGER NOT NULL,
		nozzle_id INTEGER NOT NULL,
		product_id INTEGER NOT NULL,
		employee_id INTEGER NOT NULL,
		assigned_date TEXT NOT NULL,
		start_reading TEXT NOT NULL,
		end_reading TEXT NOT NULL,
		price TEXT NOT NULL,
		dip_taken_qty TEXT NOT NULL,
		dip_returned_qty TEXT NOT NULL,
		total_qty TEXT NOT NULL,
		credit_qty TEXT NOT NULL,
		loyalty_qty TEXT NOT NULL,
		dip_qty TEXT NOT NULL,
		walkin_qty TEXT NOT NULL,
		net_qty TEXT NOT NULL,
		state TEXT NOT NULL DEFAULT 'open' CHECK (state IN ('open', 'settled')),
		cash_settlement_id INTEGER REFERENCES cash_settlements(id),
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_settlements_date_shift
		ON settlements(assigned_date, shift_id, state);

	CREATE TABLE IF NOT EXISTS sale_lines (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		settlement_id INTEGER NOT NULL REFERENCES settlements(id) ON DELETE CASCADE,
		channel TEXT NOT NULL CHECK (channel IN ('walkin', 'credit', 'loyalty')),
		customer_id INTEGER,
		vehicle_no TEXT,
		quantity TEXT NOT NULL,
		price TEXT NOT NULL,
		reward_id INTEGER,
		dip_adjusted BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE INDEX IF NOT EXISTS idx_sale_lines_settlement
		ON sale_lines(settlement_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// ASSIGNMENT STORE (shift.Store interface)
// =============================================================================

func (s *Store) view() *conn { return &conn{q: s.db} }

func (s *Store) CreateAssignment(ctx context.Context, a shift.Assignment) (shift.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().CreateAssignment(ctx, a)
}

func (s *Store) UpdateAssignment(ctx context.Context, a shift.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().UpdateAssignment(ctx, a)
}

func (s *Store) GetAssignment(ctx context.Context, id shift.AssignmentID) (shift.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().GetAssignment(ctx, id)
}

func (s *Store) ListAssignments(ctx context.Context, date shift.Date) ([]shift.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().ListAssignments(ctx, date)
}

func (s *Store) FindEffective(ctx context.Context, shiftID shift.ShiftID, nozzleID shift.NozzleID, date shift.Date) (*shift.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().FindEffective(ctx, shiftID, nozzleID, date)
}

func (s *Store) LastClosed(ctx context.Context, nozzleID shift.NozzleID, onOrBefore shift.Date) (*shift.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().LastClosed(ctx, nozzleID, onOrBefore)
}

func (s *Store) ListOpenBefore(ctx context.Context, date shift.Date) ([]shift.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().ListOpenBefore(ctx, date)
}

func (s *Store) CloseAssignment(ctx context.Context, id shift.AssignmentID, v shift.ClosingValues) (shift.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().CloseAssignment(ctx, id, v)
}

func (s *Store) CreateSettlement(ctx context.Context, st shift.Settlement) (shift.Settlement, error) {
	var created shift.Settlement
	err := s.WithTx(ctx, func(tx shift.Store) error {
		var err error
		created, err = tx.CreateSettlement(ctx, st)
		return err
	})
	return created, err
}

func (s *Store) GetSettlement(ctx context.Context, id shift.SettlementID) (shift.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().GetSettlement(ctx, id)
}

func (s *Store) ListSettlements(ctx context.Context, f shift.SettlementFilter) ([]shift.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().ListSettlements(ctx, f)
}

// =============================================================================
// TRANSACTIONAL STORE (shift.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store shift.Store) error) error {
	return s.inTx(ctx, func(c *conn) error { return fn(c) })
}

func (s *Store) inTx(ctx context.Context, fn func(*conn) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return shift.Transient("begin transaction", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&conn{q: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return shift.Transient("commit transaction", err)
	}
	return nil
}

// =============================================================================
// CASH STORE (reconcile.TxStore interface)
// =============================================================================

// CashStore is the reconcile.TxStore view of the same database.
type CashStore struct {
	s *Store
}

// Cash returns the cash reconciliation view of the store.
func (s *Store) Cash() *CashStore { return &CashStore{s: s} }

func (cs *CashStore) ListSettlements(ctx context.Context, f shift.SettlementFilter) ([]shift.Settlement, error) {
	return cs.s.ListSettlements(ctx, f)
}

func (cs *CashStore) GetCashSettlement(ctx context.Context, shiftID shift.ShiftID, date shift.Date) (*reconcile.CashSettlement, error) {
	cs.s.mu.RLock()
	defer cs.s.mu.RUnlock()
	return cs.s.view().GetCashSettlement(ctx, shiftID, date)
}

func (cs *CashStore) CreateCashSettlement(ctx context.Context, c reconcile.CashSettlement) (reconcile.CashSettlement, error) {
	var created reconcile.CashSettlement
	err := cs.WithTx(ctx, func(tx reconcile.Store) error {
		var err error
		created, err = tx.CreateCashSettlement(ctx, c)
		return err
	})
	return created, err
}

func (cs *CashStore) MarkSettled(ctx context.Context, ids []shift.SettlementID, cashID shift.CashSettlementID) error {
	return cs.WithTx(ctx, func(tx reconcile.Store) error {
		return tx.MarkSettled(ctx, ids, cashID)
	})
}

// WithTx executes a function within a database transaction.
func (cs *CashStore) WithTx(ctx context.Context, fn func(store reconcile.Store) error) error {
	return cs.s.inTx(ctx, func(c *conn) error { return fn(c) })
}

// =============================================================================
// CONN - Queries shared by the plain store and transactions
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn runs queries on a *sql.DB or *sql.Tx. It takes no locks; callers do.
type conn struct {
	q querier
}

const assignmentColumns = `id, shift_id, nozzle_id, pump_id, employee_id, assigned_date, state,
	start_reading, end_reading, price, dip_test, dip_taken_qty, dip_returned_qty,
	reassigned_before_closing, reassigned_after_closing, created_at, updated_at`

func (c *conn) CreateAssignment(ctx context.Context, a shift.Assignment) (shift.Assignment, error) {
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = a.CreatedAt
	}
	if a.State == "" {
		a.State = shift.StateOpen
	}

	res, err := c.q.ExecContext(ctx, `
		INSERT INTO assignments
		(shift_id, nozzle_id, pump_id, employee_id, assigned_date, state,
		 start_reading, end_reading, price, dip_test, dip_taken_qty, dip_returned_qty,
		 reassigned_before_closing, reassigned_after_closing, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ShiftID, a.NozzleID, a.PumpID, a.EmployeeID, a.AssignedDate.String(), a.State,
		nullDecimal(a.StartReading), nullDecimal(a.EndReading), a.Price.String(),
		a.DipTest, a.DipTakenQty.String(), a.DipReturnedQty.String(),
		a.ReassignedBeforeClosing, a.ReassignedAfterClosing,
		formatTime(a.CreatedAt), formatTime(a.UpdatedAt),
	)
	if err != nil {
		return shift.Assignment{}, shift.Transient("insert assignment", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return shift.Assignment{}, shift.Transient("insert assignment", err)
	}
	a.ID = shift.AssignmentID(id)
	return a, nil
}

func (c *conn) UpdateAssignment(ctx context.Context, a shift.Assignment) error {
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = time.Now().UTC()
	}
	res, err := c.q.ExecContext(ctx, `
		UPDATE assignments SET
			employee_id = ?, pump_id = ?, start_reading = ?, price = ?,
			reassigned_before_closing = ?, reassigned_after_closing = ?, updated_at = ?
		WHERE id = ? AND state = 'open'`,
		a.EmployeeID, a.PumpID, nullDecimal(a.StartReading), a.Price.String(),
		a.ReassignedBeforeClosing, a.ReassignedAfterClosing, formatTime(a.UpdatedAt),
		a.ID,
	)
	if err != nil {
		return shift.Transient("update assignment", err)
	}
	return c.guard(ctx, res, a.ID, "closed assignments are history")
}

// guard turns a zero-row guarded update into NotFound or InvalidState.
func (c *conn) guard(ctx context.Context, res sql.Result, id shift.AssignmentID, message string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return shift.Transient("rows affected", err)
	}
	if n > 0 {
		return nil
	}
	cur, err := c.GetAssignment(ctx, id)
	if err != nil {
		return err
	}
	return &shift.InvalidStateError{Entity: "assignment", ID: int64(id), State: string(cur.State), Message: message}
}

func (c *conn) GetAssignment(ctx context.Context, id shift.AssignmentID) (shift.Assignment, error) {
	row := c.q.QueryRowContext(ctx, `SELECT `+assignmentColumns+` FROM assignments WHERE id = ?`, id)
	a, err := scanAssignment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return shift.Assignment{}, &shift.NotFoundError{Entity: "assignment", ID: int64(id)}
	}
	if err != nil {
		return shift.Assignment{}, shift.Transient("get assignment", err)
	}
	return a, nil
}

func (c *conn) ListAssignments(ctx context.Context, date shift.Date) ([]shift.Assignment, error) {
	return c.queryAssignments(ctx, `
		SELECT `+assignmentColumns+` FROM assignments
		WHERE assigned_date = ?
		ORDER BY id ASC`, date.String())
}

func (c *conn) FindEffective(ctx context.Context, shiftID shift.ShiftID, nozzleID shift.NozzleID, date shift.Date) (*shift.Assignment, error) {
	return c.queryOneAssignment(ctx, `
		SELECT `+assignmentColumns+` FROM assignments
		WHERE shift_id = ? AND nozzle_id = ? AND assigned_date = ?
		ORDER BY id DESC
		LIMIT 1`, shiftID, nozzleID, date.String())
}

func (c *conn) LastClosed(ctx context.Context, nozzleID shift.NozzleID, onOrBefore shift.Date) (*shift.Assignment, error) {
	return c.queryOneAssignment(ctx, `
		SELECT `+assignmentColumns+` FROM assignments
		WHERE nozzle_id = ? AND state = 'close' AND assigned_date <= ?
		ORDER BY assigned_date DESC, id DESC
		LIMIT 1`, nozzleID, onOrBefore.String())
}

func (c *conn) ListOpenBefore(ctx context.Context, date shift.Date) ([]shift.Assignment, error) {
	return c.queryAssignments(ctx, `
		SELECT `+assignmentColumns+` FROM assignments
		WHERE state = 'open' AND assigned_date < ?
		ORDER BY assigned_date ASC, id ASC`, date.String())
}

func (c *conn) CloseAssignment(ctx context.Context, id shift.AssignmentID, v shift.ClosingValues) (shift.Assignment, error) {
	res, err := c.q.ExecContext(ctx, `
		UPDATE assignments SET
			state = 'close', start_reading = ?, end_reading = ?, price = ?,
			dip_test = ?, dip_taken_qty = ?, dip_returned_qty = ?, updated_at = ?
		WHERE id = ? AND state = 'open'`,
		v.StartReading.String(), v.EndReading.String(), v.Price.String(),
		v.DipTest, v.DipTakenQty.String(), v.DipReturnedQty.String(),
		formatTime(time.Now().UTC()), id,
	)
	if err != nil {
		return shift.Assignment{}, shift.Transient("close assignment", err)
	}
	if err := c.guard(ctx, res, id, "shift is already closed"); err != nil {
		return shift.Assignment{}, err
	}
	return c.GetAssignment(ctx, id)
}

func (c *conn) queryOneAssignment(ctx context.Context, query string, args ...any) (*shift.Assignment, error) {
	a, err := scanAssignment(c.q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, shift.Transient("query assignment", err)
	}
	return &a, nil
}

func (c *conn) queryAssignments(ctx context.Context, query string, args ...any) ([]shift.Assignment, error) {
	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, shift.Transient("query assignments", err)
	}
	defer rows.Close()

	var out []shift.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, shift.Transient("scan assignment", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, shift.Transient("query assignments", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAssignment(row scanner) (shift.Assignment, error) {
	var (
		a            shift.Assignment
		assignedDate string
		state        string
		startReading sql.NullString
		endReading   sql.NullString
		price        string
		dipTaken     string
		dipReturned  string
		createdAt    string
		updatedAt    string
	)
	err := row.Scan(
		&a.ID, &a.ShiftID, &a.NozzleID, &a.PumpID, &a.EmployeeID, &assignedDate, &state,
		&startReading, &endReading, &price, &a.DipTest, &dipTaken, &dipReturned,
		&a.ReassignedBeforeClosing, &a.ReassignedAfterClosing, &createdAt, &updatedAt,
	)
	if err != nil {
		return a, err
	}
	a.AssignedDate = parseDate(assignedDate)
	a.State = shift.State(state)
	a.StartReading = parseNullDecimal(startReading)
	a.EndReading = parseNullDecimal(endReading)
	a.Price = shift.MustParseDecimal(price)
	a.DipTakenQty = shift.MustParseDecimal(dipTaken)
	a.DipReturnedQty = shift.MustParseDecimal(dipReturned)
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	return a, nil
}

// =============================================================================
// SETTLEMENTS
// =============================================================================

const settlementColumns = `id, reference, assignment_id, shift_id, pump_id, nozzle_id, product_id,
	employee_id, assigned_date, start_reading, end_reading, price, dip_taken_qty, dip_returned_qty,
	total_qty, credit_qty, loyalty_qty, dip_qty, walkin_qty, net_qty, state, cash_settlement_id, created_at`

func (c *conn) CreateSettlement(ctx context.Context, st shift.Settlement) (shift.Settlement, error) {
	if st.State == "" {
		st.State = shift.SettlementOpen
	}
	if st.CreatedAt.IsZero() {
		st.CreatedAt = time.Now().UTC()
	}

	res, err := c.q.ExecContext(ctx, `
		INSERT INTO settlements
		(reference, assignment_id, shift_id, pump_id, nozzle_id, product_id, employee_id,
		 assigned_date, start_reading, end_reading, price, dip_taken_qty, dip_returned_qty,
		 total_qty, credit_qty, loyalty_qty, dip_qty, walkin_qty, net_qty, state, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.Reference, st.AssignmentID, st.ShiftID, st.PumpID, st.NozzleID, st.ProductID, st.EmployeeID,
		st.AssignedDate.String(), st.StartReading.String(), st.EndReading.String(), st.Price.String(),
		st.DipTakenQty.String(), st.DipReturnedQty.String(),
		st.TotalQty.String(), st.CreditQty.String(), st.LoyaltyQty.String(),
		st.DipQty.String(), st.WalkinQty.String(), st.NetQty.String(),
		st.State, formatTime(st.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) && strings.Contains(err.Error(), "settlements.assignment_id") {
			return shift.Settlement{}, &shift.InvalidStateError{
				Entity: "assignment", ID: int64(st.AssignmentID), State: string(shift.StateClosed),
				Message: "settlement already exists",
			}
		}
		return shift.Settlement{}, shift.Transient("insert settlement", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return shift.Settlement{}, shift.Transient("insert settlement", err)
	}
	st.ID = shift.SettlementID(id)

	for i := range st.Lines {
		l := &st.Lines[i]
		l.SettlementID = st.ID
		res, err := c.q.ExecContext(ctx, `
			INSERT INTO sale_lines
			(settlement_id, channel, customer_id, vehicle_no, quantity, price, reward_id, dip_adjusted)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			l.SettlementID, l.Channel, nullInt(int64(l.CustomerID)), nullString(l.VehicleNo),
			l.Quantity.String(), l.Price.String(), nullReward(l.RewardID), l.DipAdjusted,
		)
		if err != nil {
			return shift.Settlement{}, shift.Transient("insert sale line", err)
		}
		lineID, err := res.LastInsertId()
		if err != nil {
			return shift.Settlement{}, shift.Transient("insert sale line", err)
		}
		l.ID = shift.SaleLineID(lineID)
	}
	return st, nil
}

func (c *conn) GetSettlement(ctx context.Context, id shift.SettlementID) (shift.Settlement, error) {
	list, err := c.ListSettlements(ctx, shift.SettlementFilter{IDs: []shift.SettlementID{id}})
	if err != nil {
		return shift.Settlement{}, err
	}
	if len(list) == 0 {
		return shift.Settlement{}, &shift.NotFoundError{Entity: "settlement", ID: int64(id)}
	}
	return list[0], nil
}

func (c *conn) ListSettlements(ctx context.Context, f shift.SettlementFilter) ([]shift.Settlement, error) {
	var (
		where []string
		args  []any
	)
	if len(f.IDs) > 0 {
		where = append(where, "id IN ("+placeholders(len(f.IDs))+")")
		args = appendIDs(args, f.IDs)
	}
	if !f.Date.IsZero() {
		where = append(where, "assigned_date = ?")
		args = append(args, f.Date.String())
	}
	if len(f.ShiftIDs) > 0 {
		where = append(where, "shift_id IN ("+placeholders(len(f.ShiftIDs))+")")
		args = appendIDs(args, f.ShiftIDs)
	}
	if len(f.PumpIDs) > 0 {
		where = append(where, "pump_id IN ("+placeholders(len(f.PumpIDs))+")")
		args = appendIDs(args, f.PumpIDs)
	}
	if len(f.NozzleIDs) > 0 {
		where = append(where, "nozzle_id IN ("+placeholders(len(f.NozzleIDs))+")")
		args = appendIDs(args, f.NozzleIDs)
	}
	if f.EmployeeID != 0 {
		where = append(where, "employee_id = ?")
		args = append(args, f.EmployeeID)
	}
	if f.State != "" {
		where = append(where, "state = ?")
		args = append(args, f.State)
	}

	query := `SELECT ` + settlementColumns + ` FROM settlements`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id ASC"

	settlements, err := c.querySettlements(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	// Lines are loaded after the settlement rows are closed; the pool has a
	// single connection.
	for i := range settlements {
		lines, err := c.loadLines(ctx, settlements[i].ID)
		if err != nil {
			return nil, err
		}
		settlements[i].Lines = lines
	}
	return settlements, nil
}

func (c *conn) querySettlements(ctx context.Context, query string, args ...any) ([]shift.Settlement, error) {
	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, shift.Transient("query settlements", err)
	}
	defer rows.Close()

	var out []shift.Settlement
	for rows.Next() {
		var (
			st                                          shift.Settlement
			assignedDate, start, end, price, taken, ret string
			total, credit, loyalty, dip, walkin, net    string
			state, createdAt                            string
			cashID                                      sql.NullInt64
		)
		err := rows.Scan(
			&st.ID, &st.Reference, &st.AssignmentID, &st.ShiftID, &st.PumpID, &st.NozzleID, &st.ProductID,
			&st.EmployeeID, &assignedDate, &start, &end, &price, &taken, &ret,
			&total, &credit, &loyalty, &dip, &walkin, &net, &state, &cashID, &createdAt,
		)
		if err != nil {
			return nil, shift.Transient("scan settlement", err)
		}
		st.AssignedDate = parseDate(assignedDate)
		st.StartReading = shift.MustParseDecimal(start)
		st.EndReading = shift.MustParseDecimal(end)
		st.Price = shift.MustParseDecimal(price)
		st.DipTakenQty = shift.MustParseDecimal(taken)
		st.DipReturnedQty = shift.MustParseDecimal(ret)
		st.TotalQty = shift.MustParseDecimal(total)
		st.CreditQty = shift.MustParseDecimal(credit)
		st.LoyaltyQty = shift.MustParseDecimal(loyalty)
		st.DipQty = shift.MustParseDecimal(dip)
		st.WalkinQty = shift.MustParseDecimal(walkin)
		st.NetQty = shift.MustParseDecimal(net)
		st.State = shift.SettlementState(state)
		if cashID.Valid {
			id := shift.CashSettlementID(cashID.Int64)
			st.CashSettlementID = &id
		}
		st.CreatedAt = parseTime(createdAt)
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, shift.Transient("query settlements", err)
	}
	return out, nil
}

func (c *conn) loadLines(ctx context.Context, settlementID shift.SettlementID) ([]shift.SaleLine, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT id, settlement_id, channel, customer_id, vehicle_no, quantity, price, reward_id, dip_adjusted
		FROM sale_lines
		WHERE settlement_id = ?
		ORDER BY id ASC`, settlementID)
	if err != nil {
		return nil, shift.Transient("query sale lines", err)
	}
	defer rows.Close()

	var lines []shift.SaleLine
	for rows.Next() {
		var (
			l        shift.SaleLine
			channel  string
			customer sql.NullInt64
			vehicle  sql.NullString
			qty, prc string
			reward   sql.NullInt64
		)
		if err := rows.Scan(&l.ID, &l.SettlementID, &channel, &customer, &vehicle, &qty, &prc, &reward, &l.DipAdjusted); err != nil {
			return nil, shift.Transient("scan sale line", err)
		}
		l.Channel = shift.Channel(channel)
		l.CustomerID = shift.CustomerID(customer.Int64)
		l.VehicleNo = vehicle.String
		l.Quantity = shift.MustParseDecimal(qty)
		l.Price = shift.MustParseDecimal(prc)
		if reward.Valid {
			id := shift.RewardID(reward.Int64)
			l.RewardID = &id
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// =============================================================================
// CASH SETTLEMENTS
// =============================================================================

func (c *conn) GetCashSettlement(ctx context.Context, shiftID shift.ShiftID, date shift.Date) (*reconcile.CashSettlement, error) {
	var (
		cs                                       reconcile.CashSettlement
		dateStr, expected, submitted, bank, cash string
		petty, shortage, createdAt               string
		adjustment                               sql.NullString
	)
	err := c.q.QueryRowContext(ctx, `
		SELECT id, reference, shift_id, date, employee_id, expected_amount, submitted_amount,
		       bank_amount, cash_amount, petty_cash_amount, shortage_amount, adjustment, created_at
		FROM cash_settlements
		WHERE shift_id = ? AND date = ?`, shiftID, date.String(),
	).Scan(&cs.ID, &cs.Reference, &cs.ShiftID, &dateStr, &cs.EmployeeID, &expected, &submitted,
		&bank, &cash, &petty, &shortage, &adjustment, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, shift.Transient("get cash settlement", err)
	}
	cs.Date = parseDate(dateStr)
	cs.ExpectedAmount = shift.MustParseDecimal(expected)
	cs.SubmittedAmount = shift.MustParseDecimal(submitted)
	cs.BankAmount = shift.MustParseDecimal(bank)
	cs.CashAmount = shift.MustParseDecimal(cash)
	cs.PettyCashAmount = shift.MustParseDecimal(petty)
	cs.ShortageAmount = shift.MustParseDecimal(shortage)
	cs.Adjustment = reconcile.Adjustment(adjustment.String)
	cs.CreatedAt = parseTime(createdAt)

	if cs.PaymentLines, err = c.loadPaymentLines(ctx, cs.ID); err != nil {
		return nil, err
	}
	if cs.ClosingEntryIDs, err = c.settledBy(ctx, cs.ID); err != nil {
		return nil, err
	}
	return &cs, nil
}

func (c *conn) CreateCashSettlement(ctx context.Context, cs reconcile.CashSettlement) (reconcile.CashSettlement, error) {
	if cs.CreatedAt.IsZero() {
		cs.CreatedAt = time.Now().UTC()
	}
	res, err := c.q.ExecContext(ctx, `
		INSERT INTO cash_settlements
		(reference, shift_id, date, employee_id, expected_amount, submitted_amount,
		 bank_amount, cash_amount, petty_cash_amount, shortage_amount, adjustment, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cs.Reference, cs.ShiftID, cs.Date.String(), cs.EmployeeID,
		cs.ExpectedAmount.String(), cs.SubmittedAmount.String(),
		cs.BankAmount.String(), cs.CashAmount.String(),
		cs.PettyCashAmount.String(), cs.ShortageAmount.String(),
		nullString(string(cs.Adjustment)), formatTime(cs.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) && strings.Contains(err.Error(), "cash_settlements.shift_id") {
			return reconcile.CashSettlement{}, reconcile.AlreadySubmitted(cs.ShiftID, cs.Date)
		}
		return reconcile.CashSettlement{}, shift.Transient("insert cash settlement", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return reconcile.CashSettlement{}, shift.Transient("insert cash settlement", err)
	}
	cs.ID = shift.CashSettlementID(id)

	for _, l := range cs.PaymentLines {
		_, err := c.q.ExecContext(ctx, `
			INSERT INTO cash_payment_lines (cash_settlement_id, journal_id, amount, kind, ref)
			VALUES (?, ?, ?, ?, ?)`,
			cs.ID, l.JournalID, l.Amount.String(), l.Kind, nullString(l.Ref),
		)
		if err != nil {
			return reconcile.CashSettlement{}, shift.Transient("insert payment line", err)
		}
	}
	return cs, nil
}

func (c *conn) MarkSettled(ctx context.Context, ids []shift.SettlementID, cashID shift.CashSettlementID) error {
	for _, id := range ids {
		res, err := c.q.ExecContext(ctx, `
			UPDATE settlements SET state = 'settled', cash_settlement_id = ?
			WHERE id = ? AND state = 'open'`, cashID, id)
		if err != nil {
			return shift.Transient("settle closing entry", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return shift.Transient("settle closing entry", err)
		}
		if n == 0 {
			return &shift.InvalidStateError{Entity: "closing entry", ID: int64(id), State: string(shift.SettlementSettled), Message: "already settled or missing"}
		}
	}
	return nil
}

func (c *conn) loadPaymentLines(ctx context.Context, cashID shift.CashSettlementID) ([]reconcile.PaymentLine, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT journal_id, amount, kind, ref FROM cash_payment_lines
		WHERE cash_settlement_id = ? ORDER BY id ASC`, cashID)
	if err != nil {
		return nil, shift.Transient("query payment lines", err)
	}
	defer rows.Close()

	var lines []reconcile.PaymentLine
	for rows.Next() {
		var (
			l      reconcile.PaymentLine
			amount string
			kind   string
			ref    sql.NullString
		)
		if err := rows.Scan(&l.JournalID, &amount, &kind, &ref); err != nil {
			return nil, shift.Transient("scan payment line", err)
		}
		l.Amount = shift.MustParseDecimal(amount)
		l.Kind = reconcile.PaymentKind(kind)
		l.Ref = ref.String
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (c *conn) settledBy(ctx context.Context, cashID shift.CashSettlementID) ([]shift.SettlementID, error) {
	rows, err := c.q.QueryContext(ctx, `SELECT id FROM settlements WHERE cash_settlement_id = ? ORDER BY id ASC`, cashID)
	if err != nil {
		return nil, shift.Transient("query settled entries", err)
	}
	defer rows.Close()

	var ids []shift.SettlementID
	for rows.Next() {
		var id shift.SettlementID
		if err := rows.Scan(&id); err != nil {
			return nil, shift.Transient("scan settled entry", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt(v int64) sql.NullInt64 {
	if v == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: v, Valid: true}
}

func nullReward(id *shift.RewardID) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*id), Valid: true}
}

func nullDecimal(d decimal.NullDecimal) sql.NullString {
	if !d.Valid {
		return sql.NullString{}
	}
	return sql.NullString{String: d.Decimal.String(), Valid: true}
}

func parseNullDecimal(s sql.NullString) decimal.NullDecimal {
	if !s.Valid {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: shift.MustParseDecimal(s.String), Valid: true}
}

func parseDate(s string) shift.Date {
	d, _ := shift.ParseDate(s)
	return d
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func appendIDs[T ~int64](args []any, ids []T) []any {
	for _, id := range ids {
		args = append(args, int64(id))
	}
	return args
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
