package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/dkaryakin/booking-engine/internal/model"
)

// WaitlistRepo provides data access to the waitlist_entries table.
// Entries are scanned strictly in insertion order (auto-increment id),
// which is the only priority the engine defines.
type WaitlistRepo struct {
	db *sql.DB
}

// NewWaitlistRepo returns a new WaitlistRepo bound to the provided database.
func NewWaitlistRepo(db *sql.DB) *WaitlistRepo { return &WaitlistRepo{db: db} }

const entryColumns = `id, service_id, slot_id, owner_token, units, state, promoted_hold_id, created_at, updated_at`

func scanEntry(row interface{ Scan(...interface{}) error }) (*model.WaitlistEntry, error) {
	var e model.WaitlistEntry
	var slotID, promotedHoldID sql.NullInt64
	err := row.Scan(&e.ID, &e.ServiceID, &slotID, &e.OwnerToken, &e.Units,
		&e.State, &promotedHoldID, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if slotID.Valid {
		id := uint64(slotID.Int64)
		e.SlotID = &id
	}
	if promotedHoldID.Valid {
		id := uint64(promotedHoldID.Int64)
		e.PromotedHoldID = &id
	}
	return &e, nil
}

// Create inserts a WAITING entry and returns the stored row.  SlotID
// may be nil for flexible entries that accept any slot of the service.
func (r *WaitlistRepo) Create(ctx context.Context, serviceID uint64, slotID *uint64, ownerToken string, units uint32) (*model.WaitlistEntry, error) {
	const q = `INSERT INTO waitlist_entries (service_id, slot_id, owner_token, units, state)
	           VALUES (?, ?, ?, ?, ?)`
	var slot interface{}
	if slotID != nil {
		slot = *slotID
	}
	res, err := r.db.ExecContext(ctx, q, serviceID, slot, ownerToken, units, model.WaitlistWaiting)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	const sel = `SELECT ` + entryColumns + ` FROM waitlist_entries WHERE id = ?`
	return scanEntry(r.db.QueryRowContext(ctx, sel, id))
}

// WaitingByServiceAndOwner returns the owner's WAITING entry for a
// service, or nil when none exists.  Join uses it to deduplicate
// repeated joins by the same owner.
func (r *WaitlistRepo) WaitingByServiceAndOwner(ctx context.Context, serviceID uint64, ownerToken string) (*model.WaitlistEntry, error) {
	const q = `SELECT ` + entryColumns + ` FROM waitlist_entries
	           WHERE service_id = ? AND owner_token = ? AND state = ?`
	e, err := scanEntry(r.db.QueryRowContext(ctx, q, serviceID, ownerToken, model.WaitlistWaiting))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

// Get loads an entry by id.  Returns ErrEntryNotFound when no row matches.
func (r *WaitlistRepo) Get(ctx context.Context, entryID uint64) (*model.WaitlistEntry, error) {
	const q = `SELECT ` + entryColumns + ` FROM waitlist_entries WHERE id = ?`
	e, err := scanEntry(r.db.QueryRowContext(ctx, q, entryID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEntryNotFound
	}
	return e, err
}

// WaitingForSlot returns WAITING entries eligible for a freed slot in
// FIFO order: entries that named this slot first, then flexible entries
// for the slot's service.  Insertion order is preserved inside each
// class via the auto-increment id.
func (r *WaitlistRepo) WaitingForSlot(ctx context.Context, slotID, serviceID uint64) ([]model.WaitlistEntry, error) {
	const q = `SELECT ` + entryColumns + ` FROM waitlist_entries
	           WHERE state = ? AND (slot_id = ? OR (slot_id IS NULL AND service_id = ?))
	           ORDER BY slot_id IS NULL, id`
	rows, err := r.db.QueryContext(ctx, q, model.WaitlistWaiting, slotID, serviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := make([]model.WaitlistEntry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// MarkPromoted transitions a WAITING entry to PROMOTED and records the
// promotion hold it was granted.  It reports whether the transition was
// applied; a false return means the entry was withdrawn concurrently.
func (r *WaitlistRepo) MarkPromoted(ctx context.Context, entryID, holdID uint64) (bool, error) {
	const q = `UPDATE waitlist_entries SET state = ?, promoted_hold_id = ?
	           WHERE id = ? AND state = ?`
	res, err := r.db.ExecContext(ctx, q, model.WaitlistPromoted, holdID, entryID, model.WaitlistWaiting)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Withdraw transitions a WAITING entry to WITHDRAWN on behalf of its
// owner.  The owner token in the WHERE clause enforces ownership; a
// zero affected-row count means no matching WAITING entry existed,
// which callers treat as idempotent success or not-found as they see fit.
func (r *WaitlistRepo) Withdraw(ctx context.Context, entryID uint64, ownerToken string) (bool, error) {
	const q = `UPDATE waitlist_entries SET state = ? WHERE id = ? AND owner_token = ? AND state = ?`
	res, err := r.db.ExecContext(ctx, q, model.WaitlistWithdrawn, entryID, ownerToken, model.WaitlistWaiting)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ExpirePromotedByHoldTx drops a PROMOTED entry whose promotion hold
// is being expired by the sweep.  Dropped entries do not re-enter the
// queue.  Runs inside the sweep transaction.
func (r *WaitlistRepo) ExpirePromotedByHoldTx(ctx context.Context, tx *sql.Tx, holdID uint64) error {
	const q = `UPDATE waitlist_entries SET state = ? WHERE promoted_hold_id = ? AND state = ?`
	_, err := tx.ExecContext(ctx, q, model.WaitlistExpired, holdID, model.WaitlistPromoted)
	return err
}

// ListByOwner returns an owner's waitlist entries ordered newest first.
func (r *WaitlistRepo) ListByOwner(ctx context.Context, ownerToken string) ([]model.WaitlistEntry, error) {
	const q = `SELECT ` + entryColumns + ` FROM waitlist_entries WHERE owner_token = ? ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, q, ownerToken)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := make([]model.WaitlistEntry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
