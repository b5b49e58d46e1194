package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/dkaryakin/booking-engine/internal/model"
)

// BookingRepo provides data access to the bookings table.  Booking rows
// are owned by exactly one checkout workflow at a time, so unlike slots
// they need no cross-row serialization; state transitions are still
// guarded UPDATEs so that a raced transition is observable through the
// affected-row count.
type BookingRepo struct {
	db *sql.DB
}

// NewBookingRepo returns a new BookingRepo bound to the provided database.
func NewBookingRepo(db *sql.DB) *BookingRepo { return &BookingRepo{db: db} }

const bookingColumns = `id, slot_id, hold_id, owner_token, units_reserved, state, payment_ref, amount_cents, created_at, updated_at, cancelled_at`

func scanBooking(row interface{ Scan(...interface{}) error }) (*model.Booking, error) {
	var b model.Booking
	var holdID sql.NullInt64
	var payRef sql.NullString
	err := row.Scan(&b.ID, &b.SlotID, &holdID, &b.OwnerToken, &b.UnitsReserved,
		&b.State, &payRef, &b.AmountCents, &b.CreatedAt, &b.UpdatedAt, &b.CancelledAt)
	if err != nil {
		return nil, err
	}
	if holdID.Valid {
		id := uint64(holdID.Int64)
		b.HoldID = &id
	}
	if payRef.Valid {
		ref := payRef.String
		b.PaymentRef = &ref
	}
	return &b, nil
}

// CreateTx inserts a PENDING_PAYMENT booking bound to its originating
// hold within the provided transaction and returns the stored row.
func (r *BookingRepo) CreateTx(ctx context.Context, tx *sql.Tx, slotID, holdID uint64, ownerToken string, units, amountCents uint32) (*model.Booking, error) {
	const q = `INSERT INTO bookings (slot_id, hold_id, owner_token, units_reserved, state, amount_cents)
	           VALUES (?, ?, ?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, q, slotID, holdID, ownerToken, units, model.BookingPendingPayment, amountCents)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	const sel = `SELECT ` + bookingColumns + ` FROM bookings WHERE id = ?`
	return scanBooking(tx.QueryRowContext(ctx, sel, id))
}

// Get loads a booking by id.  Returns ErrBookingNotFound when no row matches.
func (r *BookingRepo) Get(ctx context.Context, bookingID uint64) (*model.Booking, error) {
	const q = `SELECT ` + bookingColumns + ` FROM bookings WHERE id = ?`
	b, err := scanBooking(r.db.QueryRowContext(ctx, q, bookingID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBookingNotFound
	}
	return b, err
}

// GetTx is Get within an existing transaction.
func (r *BookingRepo) GetTx(ctx context.Context, tx *sql.Tx, bookingID uint64) (*model.Booking, error) {
	const q = `SELECT ` + bookingColumns + ` FROM bookings WHERE id = ?`
	b, err := scanBooking(tx.QueryRowContext(ctx, q, bookingID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBookingNotFound
	}
	return b, err
}

// PendingByHoldTx returns the PENDING_PAYMENT booking bound to a hold,
// or nil when checkout has not started for it.  Confirmation uses it to
// keep StartCheckout idempotent per hold.
func (r *BookingRepo) PendingByHoldTx(ctx context.Context, tx *sql.Tx, holdID uint64) (*model.Booking, error) {
	const q = `SELECT ` + bookingColumns + ` FROM bookings WHERE hold_id = ? AND state = ?`
	b, err := scanBooking(tx.QueryRowContext(ctx, q, holdID, model.BookingPendingPayment))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return b, err
}

// ConfirmTx transitions a PENDING_PAYMENT booking to CONFIRMED, records
// the payment reference and detaches the consumed hold.  It reports
// whether this statement performed the transition.
func (r *BookingRepo) ConfirmTx(ctx context.Context, tx *sql.Tx, bookingID uint64, paymentRef string) (bool, error) {
	const q = `UPDATE bookings SET state = ?, payment_ref = ?, hold_id = NULL
	           WHERE id = ? AND state = ?`
	res, err := tx.ExecContext(ctx, q, model.BookingConfirmed, paymentRef, bookingID, model.BookingPendingPayment)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// TransitionTx moves a booking from one state to another and reports
// whether the transition was applied.  Terminal transitions stamp
// cancelled_at for audit.
func (r *BookingRepo) TransitionTx(ctx context.Context, tx *sql.Tx, bookingID uint64, from, to string) (bool, error) {
	var q string
	switch to {
	case model.BookingCancelled, model.BookingRescheduled, model.BookingNoShow:
		q = `UPDATE bookings SET state = ?, cancelled_at = UTC_TIMESTAMP() WHERE id = ? AND state = ?`
	default:
		q = `UPDATE bookings SET state = ? WHERE id = ? AND state = ?`
	}
	res, err := tx.ExecContext(ctx, q, to, bookingID, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// InsertConfirmedTx inserts an already-confirmed booking row.  It is
// used by reschedule, where the replacement booking inherits the
// original payment reference and confirms in the same transaction that
// terminal-transitions the old record.
func (r *BookingRepo) InsertConfirmedTx(ctx context.Context, tx *sql.Tx, slotID uint64, ownerToken string, units, amountCents uint32, paymentRef string) (*model.Booking, error) {
	const q = `INSERT INTO bookings (slot_id, owner_token, units_reserved, state, payment_ref, amount_cents)
	           VALUES (?, ?, ?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, q, slotID, ownerToken, units, model.BookingConfirmed, paymentRef, amountCents)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	const sel = `SELECT ` + bookingColumns + ` FROM bookings WHERE id = ?`
	return scanBooking(tx.QueryRowContext(ctx, sel, id))
}

// ListByOwner returns an owner's bookings ordered newest first.  When
// no bookings exist, an empty slice is returned.
func (r *BookingRepo) ListByOwner(ctx context.Context, ownerToken string) ([]model.Booking, error) {
	const q = `SELECT ` + bookingColumns + ` FROM bookings WHERE owner_token = ? ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, q, ownerToken)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	bookings := make([]model.Booking, 0)
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return bookings, nil
}
