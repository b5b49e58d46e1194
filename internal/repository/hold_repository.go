package repository

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/dkaryakin/booking-engine/internal/model"
)

// HoldRepo provides data access to the holds table.  Holds are never
// deleted; they leave the ACTIVE state exactly once via a guarded
// UPDATE whose affected-row count tells the caller whether it won the
// transition.  All expiration comparisons are performed in UTC.
type HoldRepo struct {
	db *sql.DB
}

// NewHoldRepo returns a new HoldRepo bound to the provided database.
func NewHoldRepo(db *sql.DB) *HoldRepo { return &HoldRepo{db: db} }

// randomToken generates a random hexadecimal string of n bytes.  It is
// used to populate the token column returned to clients for reference.
func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

const holdColumns = `id, slot_id, owner_token, units, token, state, renewed, expires_at, created_at, updated_at`

func scanHold(row interface{ Scan(...interface{}) error }) (*model.Hold, error) {
	var h model.Hold
	err := row.Scan(&h.ID, &h.SlotID, &h.OwnerToken, &h.Units, &h.Token,
		&h.State, &h.Renewed, &h.ExpiresAt, &h.CreatedAt, &h.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// CreateTx inserts a new ACTIVE hold within the provided transaction
// and populates the generated ID and token on the returned model.  The
// caller must have claimed the slot capacity in the same transaction.
func (r *HoldRepo) CreateTx(ctx context.Context, tx *sql.Tx, slotID uint64, ownerToken string, units uint32, expiresAt time.Time) (*model.Hold, error) {
	token, err := randomToken(16)
	if err != nil {
		return nil, err
	}
	const q = `INSERT INTO holds (slot_id, owner_token, units, token, state, expires_at)
	           VALUES (?, ?, ?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, q, slotID, ownerToken, units, token,
		model.HoldActive, expiresAt.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	const sel = `SELECT ` + holdColumns + ` FROM holds WHERE id = ?`
	return scanHold(tx.QueryRowContext(ctx, sel, id))
}

// Get loads a hold by id.  It returns ErrHoldNotFound when no row matches.
func (r *HoldRepo) Get(ctx context.Context, holdID uint64) (*model.Hold, error) {
	const q = `SELECT ` + holdColumns + ` FROM holds WHERE id = ?`
	h, err := scanHold(r.db.QueryRowContext(ctx, q, holdID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrHoldNotFound
	}
	return h, err
}

// GetTx is Get within an existing transaction.
func (r *HoldRepo) GetTx(ctx context.Context, tx *sql.Tx, holdID uint64) (*model.Hold, error) {
	const q = `SELECT ` + holdColumns + ` FROM holds WHERE id = ?`
	h, err := scanHold(tx.QueryRowContext(ctx, q, holdID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrHoldNotFound
	}
	return h, err
}

// ActiveBySlotAndOwnerTx returns the unexpired ACTIVE hold for a
// (slot, owner token) pair, or nil when none exists.  Acquisition uses
// it to return the existing hold instead of creating a duplicate.
func (r *HoldRepo) ActiveBySlotAndOwnerTx(ctx context.Context, tx *sql.Tx, slotID uint64, ownerToken string) (*model.Hold, error) {
	const q = `SELECT ` + holdColumns + ` FROM holds
	           WHERE slot_id = ? AND owner_token = ? AND state = ? AND expires_at > UTC_TIMESTAMP()`
	h, err := scanHold(tx.QueryRowContext(ctx, q, slotID, ownerToken, model.HoldActive))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return h, err
}

// TransitionTx moves a hold from ACTIVE to the given state and reports
// whether this statement performed the transition.  A false return with
// a nil error means another path (release, conversion or sweep) won the
// race; callers must not decrement slot capacity in that case.
func (r *HoldRepo) TransitionTx(ctx context.Context, tx *sql.Tx, holdID uint64, state string) (bool, error) {
	const q = `UPDATE holds SET state = ? WHERE id = ? AND state = ?`
	res, err := tx.ExecContext(ctx, q, state, holdID, model.HoldActive)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ConvertTx marks an ACTIVE and unexpired hold CONVERTED.  Unlike
// TransitionTx it also re-checks the TTL so a confirmation racing the
// reaper cannot convert a hold whose units are about to be swept.
func (r *HoldRepo) ConvertTx(ctx context.Context, tx *sql.Tx, holdID uint64) (bool, error) {
	const q = `UPDATE holds SET state = ? WHERE id = ? AND state = ? AND expires_at > UTC_TIMESTAMP()`
	res, err := tx.ExecContext(ctx, q, model.HoldConverted, holdID, model.HoldActive)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// RenewTx extends the TTL of an ACTIVE, unexpired, never-renewed hold
// and reports whether the renewal was applied.  The renewed flag in the
// WHERE clause bounds every hold to a single extension.
func (r *HoldRepo) RenewTx(ctx context.Context, tx *sql.Tx, holdID uint64, expiresAt time.Time) (bool, error) {
	const q = `UPDATE holds SET expires_at = ?, renewed = 1
	           WHERE id = ? AND state = ? AND renewed = 0 AND expires_at > UTC_TIMESTAMP()`
	res, err := tx.ExecContext(ctx, q, expiresAt.UTC().Format("2006-01-02 15:04:05"), holdID, model.HoldActive)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ExpireBySlotTx transitions every expired ACTIVE hold on a slot to
// EXPIRED and returns the holds that this statement transitioned.  It
// is called inside the same transaction as a subsequent capacity
// decrement, both by the lazy sweep on the acquisition path and by the
// background reaper.  The UPDATE is keyed by the ids the locking SELECT
// returned rather than re-evaluating the expiry cutoff, so both
// statements always agree on the set: a hold whose TTL elapses between
// the two statements is left ACTIVE for the next sweep instead of being
// expired without its units ever being freed.  When there is nothing to
// expire it returns an empty slice and nil error.
func (r *HoldRepo) ExpireBySlotTx(ctx context.Context, tx *sql.Tx, slotID uint64) ([]model.Hold, error) {
	const sel = `SELECT ` + holdColumns + ` FROM holds
	             WHERE slot_id = ? AND state = ? AND expires_at <= UTC_TIMESTAMP()
	             FOR UPDATE`
	rows, err := tx.QueryContext(ctx, sel, slotID, model.HoldActive)
	if err != nil {
		return nil, err
	}
	expired := make([]model.Hold, 0)
	for rows.Next() {
		h, scanErr := scanHold(rows)
		if scanErr != nil {
			rows.Close()
			return nil, scanErr
		}
		expired = append(expired, *h)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if len(expired) == 0 {
		return expired, nil
	}
	placeholders := make([]string, len(expired))
	args := make([]interface{}, 0, len(expired)+1)
	args = append(args, model.HoldExpired)
	for i := range expired {
		placeholders[i] = "?"
		args = append(args, expired[i].ID)
	}
	upd := `UPDATE holds SET state = ? WHERE id IN (` + strings.Join(placeholders, ", ") + `)`
	if _, err := tx.ExecContext(ctx, upd, args...); err != nil {
		return nil, err
	}
	return expired, nil
}

// SlotsWithExpiredHolds returns the distinct slot ids that currently
// carry expired ACTIVE holds.  The reaper uses it to bound each sweep
// transaction to a single slot.
func (r *HoldRepo) SlotsWithExpiredHolds(ctx context.Context) ([]uint64, error) {
	const q = `SELECT DISTINCT slot_id FROM holds WHERE state = ? AND expires_at <= UTC_TIMESTAMP()`
	rows, err := r.db.QueryContext(ctx, q, model.HoldActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var slotIDs []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		slotIDs = append(slotIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return slotIDs, nil
}

// ListByOwner returns an owner's holds ordered newest first.
func (r *HoldRepo) ListByOwner(ctx context.Context, ownerToken string) ([]model.Hold, error) {
	const q = `SELECT ` + holdColumns + ` FROM holds WHERE owner_token = ? ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, q, ownerToken)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	holds := make([]model.Hold, 0)
	for rows.Next() {
		h, err := scanHold(rows)
		if err != nil {
			return nil, err
		}
		holds = append(holds, *h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return holds, nil
}
