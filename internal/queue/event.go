// Package queue defines message payloads exchanged over the message broker.
package queue

// Event kinds carried on the booking.events queue.
const (
	KindHoldCreated      = "hold.created"
	KindHoldReleased     = "hold.released"
	KindHoldExpired      = "hold.expired"
	KindBookingConfirmed = "booking.confirmed"
	KindBookingCancelled = "booking.cancelled"
	KindWaitlistPromoted = "waitlist.promoted"
)

// Event is the envelope published for every engine transition.  It
// carries enough for downstream consumers to log, notify, or trigger
// analytics without querying the primary database.  Fields that do not
// apply to a kind are left zero.
type Event struct {
	Kind        string `json:"kind"`
	SlotID      uint64 `json:"slot_id"`
	HoldID      uint64 `json:"hold_id,omitempty"`
	BookingID   uint64 `json:"booking_id,omitempty"`
	EntryID     uint64 `json:"waitlist_entry_id,omitempty"`
	OwnerToken  string `json:"owner_token"`
	Units       uint32 `json:"units"`
	AmountCents uint32 `json:"amount_cents,omitempty"`
	PaymentRef  string `json:"payment_ref,omitempty"`
	ExpiresAt   string `json:"expires_at,omitempty"`
	OccurredAt  string `json:"occurred_at"`
}
