package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/dkaryakin/booking-engine/internal/model"
)

// SlotRepo provides data access to the slots table.  The capacity
// counters on a slot row are the only shared mutable state in the
// engine; every mutation goes through a single conditional UPDATE so
// that the check and the increment happen as one indivisible statement
// evaluated under the row lock.  Slots never contend with each other.
type SlotRepo struct {
	db *sql.DB
}

// NewSlotRepo returns a new SlotRepo bound to the provided database.
func NewSlotRepo(db *sql.DB) *SlotRepo { return &SlotRepo{db: db} }

// DB exposes the underlying handle so callers can open transactions
// that span multiple repositories.
func (r *SlotRepo) DB() *sql.DB { return r.db }

const slotColumns = `id, service_id, resource_id, starts_at, duration_min,
	capacity_total, capacity_held, capacity_confirmed, price_cents, is_past, created_at, updated_at`

func scanSlot(row interface{ Scan(...interface{}) error }) (*model.Slot, error) {
	var s model.Slot
	err := row.Scan(&s.ID, &s.ServiceID, &s.ResourceID, &s.StartsAt, &s.DurationMin,
		&s.CapacityTotal, &s.CapacityHeld, &s.CapacityConfirmed, &s.PriceCents,
		&s.IsPast, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// CreateBulk inserts multiple slot rows in one statement.  It is called
// at schedule-publish time with the capacity supplied by the catalog;
// the engine never computes capacity itself.  Counters start at zero
// and timestamps default in the DB.  Passing an empty slice is a no-op.
func (r *SlotRepo) CreateBulk(ctx context.Context, slots []model.Slot) error {
	if len(slots) == 0 {
		return nil
	}
	query := `INSERT INTO slots (service_id, resource_id, starts_at, duration_min, capacity_total, price_cents) VALUES `
	args := make([]interface{}, 0, len(slots)*6)
	for i, s := range slots {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?, ?, ?, ?)"
		args = append(args, s.ServiceID, s.ResourceID,
			s.StartsAt.UTC().Format("2006-01-02 15:04:05"), s.DurationMin, s.CapacityTotal, s.PriceCents)
	}
	_, err := r.db.ExecContext(ctx, query, args...)
	return err
}

// Get loads a slot by id.  Returns ErrSlotNotFound when no row matches.
func (r *SlotRepo) Get(ctx context.Context, slotID uint64) (*model.Slot, error) {
	const q = `SELECT ` + slotColumns + ` FROM slots WHERE id = ?`
	s, err := scanSlot(r.db.QueryRowContext(ctx, q, slotID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSlotNotFound
	}
	return s, err
}

// GetTx is Get within an existing transaction.
func (r *SlotRepo) GetTx(ctx context.Context, tx *sql.Tx, slotID uint64) (*model.Slot, error) {
	const q = `SELECT ` + slotColumns + ` FROM slots WHERE id = ?`
	s, err := scanSlot(tx.QueryRowContext(ctx, q, slotID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSlotNotFound
	}
	return s, err
}

// ClaimCapacityTx atomically reserves units on a slot.  The WHERE
// clause re-checks remaining capacity under the row lock, so two
// concurrent claims for the last unit cannot both succeed: the loser's
// statement matches zero rows and ErrCapacityExceeded is returned.
// Past slots never match.
func (r *SlotRepo) ClaimCapacityTx(ctx context.Context, tx *sql.Tx, slotID uint64, units uint32) error {
	const q = `UPDATE slots
	           SET capacity_held = capacity_held + ?
	           WHERE id = ? AND is_past = 0
	             AND capacity_total - capacity_held - capacity_confirmed >= ?`
	res, err := tx.ExecContext(ctx, q, units, slotID, units)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrCapacityExceeded
	}
	return nil
}

// ReleaseHeldTx returns previously claimed units to the free pool.
// Callers must have transitioned the owning hold out of ACTIVE in the
// same transaction first; that state gate is what prevents a release
// and a reaper sweep from decrementing twice.
func (r *SlotRepo) ReleaseHeldTx(ctx context.Context, tx *sql.Tx, slotID uint64, units uint32) error {
	const q = `UPDATE slots SET capacity_held = capacity_held - ? WHERE id = ? AND capacity_held >= ?`
	res, err := tx.ExecContext(ctx, q, units, slotID, units)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSlotNotFound
	}
	return nil
}

// ConvertHeldTx moves units from held to confirmed when a booking is
// confirmed.  The held floor in the WHERE clause guards against a
// conversion racing a sweep that already returned the units.
func (r *SlotRepo) ConvertHeldTx(ctx context.Context, tx *sql.Tx, slotID uint64, units uint32) error {
	const q = `UPDATE slots
	           SET capacity_held = capacity_held - ?, capacity_confirmed = capacity_confirmed + ?
	           WHERE id = ? AND capacity_held >= ?`
	res, err := tx.ExecContext(ctx, q, units, units, slotID, units)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSlotNotFound
	}
	return nil
}

// ReleaseConfirmedTx returns confirmed units to the free pool after a
// confirmed booking is cancelled or rescheduled away from the slot.
func (r *SlotRepo) ReleaseConfirmedTx(ctx context.Context, tx *sql.Tx, slotID uint64, units uint32) error {
	const q = `UPDATE slots SET capacity_confirmed = capacity_confirmed - ? WHERE id = ? AND capacity_confirmed >= ?`
	res, err := tx.ExecContext(ctx, q, units, slotID, units)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSlotNotFound
	}
	return nil
}

// MarkPastSlots flags every slot whose start time has passed.  It is
// invoked by the background reaper and returns the number of rows
// flagged on this sweep.
func (r *SlotRepo) MarkPastSlots(ctx context.Context) (int64, error) {
	const q = `UPDATE slots SET is_past = 1 WHERE is_past = 0 AND starts_at <= UTC_TIMESTAMP()`
	res, err := r.db.ExecContext(ctx, q)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// OpenSlotView is the availability projection returned to clients: the
// slot identity plus the units still open for new holds.
type OpenSlotView struct {
	ID          uint64 `json:"id"`
	ServiceID   uint64 `json:"service_id"`
	ResourceID  uint64 `json:"resource_id"`
	StartsAt    string `json:"starts_at"`
	DurationMin uint32 `json:"duration_min"`
	PriceCents  uint32 `json:"price_cents"`
	Remaining   uint32 `json:"remaining_units"`
}

// ListOpenByService returns upcoming slots of a service that still have
// free units, ordered by start time.  The remaining count is computed
// in SQL so the projection is consistent with the counters at read time.
func (r *SlotRepo) ListOpenByService(ctx context.Context, serviceID uint64) ([]OpenSlotView, error) {
	const q = `SELECT id, service_id, resource_id, starts_at, duration_min, price_cents,
	                  capacity_total - capacity_held - capacity_confirmed AS remaining
	           FROM slots
	           WHERE service_id = ? AND is_past = 0
	             AND capacity_total - capacity_held - capacity_confirmed > 0
	           ORDER BY starts_at`
	rows, err := r.db.QueryContext(ctx, q, serviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	views := make([]OpenSlotView, 0)
	for rows.Next() {
		var v OpenSlotView
		var startsAt time.Time
		if err := rows.Scan(&v.ID, &v.ServiceID, &v.ResourceID, &startsAt, &v.DurationMin, &v.PriceCents, &v.Remaining); err != nil {
			return nil, err
		}
		v.StartsAt = startsAt.UTC().Format(time.RFC3339)
		views = append(views, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return views, nil
}
