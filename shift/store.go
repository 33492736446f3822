/*
store.go - Persistence interface for assignments and settlements

PURPOSE:
  Defines the interface between the shift engine and the database.
  Different implementations can use SQLite or in-memory storage.

KEY INTERFACES:
  Store:   Assignment and settlement persistence
  TxStore: Store plus WithTx for atomic multi-record writes

HISTORY CONTRACT:
  - Closed assignments are never updated or deleted. Reassigning a closed
    slot creates a new record; the old one stays as history.
  - CloseAssignment is the only open->close transition and is guarded: it
    fails with InvalidStateError when the row is no longer open.
  - Settlements are unique per assignment. A second settlement for the
    same assignment fails with InvalidStateError.

ATOMIC CLOSE:
  The committer closes the assignment and writes the settlement with its
  sale lines inside one WithTx call. Either all of it is written or none.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - shift/store/memory.go: In-memory for testing

SEE ALSO:
  - committer.go: Uses WithTx for the close
  - assignment.go: Uses FindEffective for conflict detection
*/
package shift

import "context"

// =============================================================================
// STORE - Interface for assignment and settlement persistence
// =============================================================================

// Store handles persistence of assignments and settlements.
type Store interface {
	// CreateAssignment inserts a new record and returns it with its ID.
	CreateAssignment(ctx context.Context, a Assignment) (Assignment, error)

	// UpdateAssignment rewrites an open assignment. Closed rows are rejected
	// with InvalidStateError.
	UpdateAssignment(ctx context.Context, a Assignment) error

	// GetAssignment returns NotFoundError when the ID is unknown.
	GetAssignment(ctx context.Context, id AssignmentID) (Assignment, error)

	// ListAssignments returns every record of a date, ordered by ID.
	ListAssignments(ctx context.Context, date Date) ([]Assignment, error)

	// FindEffective returns the highest-ID record of the slot, or nil.
	FindEffective(ctx context.Context, shiftID ShiftID, nozzleID NozzleID, date Date) (*Assignment, error)

	// LastClosed returns the most recently closed record for the nozzle with
	// assigned date on or before the given date (date desc, id desc), or nil.
	LastClosed(ctx context.Context, nozzleID NozzleID, onOrBefore Date) (*Assignment, error)

	// ListOpenBefore returns open records with assigned date before date.
	ListOpenBefore(ctx context.Context, date Date) ([]Assignment, error)

	// CloseAssignment moves an open record to closed with the given values.
	CloseAssignment(ctx context.Context, id AssignmentID, v ClosingValues) (Assignment, error)

	// CreateSettlement inserts a settlement with its lines.
	CreateSettlement(ctx context.Context, s Settlement) (Settlement, error)

	// GetSettlement returns the settlement with its lines.
	GetSettlement(ctx context.Context, id SettlementID) (Settlement, error)

	// ListSettlements returns settlements matching the filter, ordered by ID.
	ListSettlements(ctx context.Context, filter SettlementFilter) ([]Settlement, error)
}

// =============================================================================
// TRANSACTIONAL STORE - For atomic operations across multiple writes
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
