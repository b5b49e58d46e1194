package model

import "time"

// Booking states.  PENDING_PAYMENT is the only initial state.  CANCELLED,
// RESCHEDULED and NO_SHOW are terminal; a rescheduled booking's replacement
// is a fresh CONFIRMED record.
const (
	BookingPendingPayment = "PENDING_PAYMENT"
	BookingConfirmed      = "CONFIRMED"
	BookingCancelled      = "CANCELLED"
	BookingRescheduled    = "RESCHEDULED"
	BookingNoShow         = "NO_SHOW"
)

// Booking is the durable record of a reservation.  A booking is created
// the moment a hold enters checkout and reaches CONFIRMED only if that
// hold was still active at confirmation time, with the conversion of
// held units into confirmed units performed atomically on the slot.
//
// PaymentRef is set exactly when the booking is confirmed; a confirmed
// booking without a payment reference is unrepresentable through the
// engine's operations.  HoldID is cleared once the hold is consumed.
type Booking struct {
	ID            uint64     // bookings.id
	SlotID        uint64     // bookings.slot_id
	HoldID        *uint64    // bookings.hold_id (nil once confirmed)
	OwnerToken    string     // bookings.owner_token
	UnitsReserved uint32     // bookings.units_reserved
	State         string     // bookings.state
	PaymentRef    *string    // bookings.payment_ref (nil until confirmed)
	AmountCents   uint32     // bookings.amount_cents
	CreatedAt     time.Time  // bookings.created_at
	UpdatedAt     time.Time  // bookings.updated_at
	CancelledAt   *time.Time // bookings.cancelled_at
}

// Terminal reports whether the booking can accept no further transitions.
func (b *Booking) Terminal() bool {
	switch b.State {
	case BookingCancelled, BookingRescheduled, BookingNoShow:
		return true
	}
	return false
}
