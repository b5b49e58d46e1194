package model

import "time"

// Waitlist entry states.  WAITING entries are eligible for promotion in
// FIFO order.  PROMOTED entries own a promotion hold; if that hold
// expires unconverted the entry becomes EXPIRED (it is not re-queued).
const (
	WaitlistWaiting   = "WAITING"
	WaitlistPromoted  = "PROMOTED"
	WaitlistExpired   = "EXPIRED"
	WaitlistWithdrawn = "WITHDRAWN"
)

// WaitlistEntry records interest in a slot (or any slot of a service,
// when flexible) registered after an acquire was rejected for capacity.
// Priority is insertion order only; there are no priority tiers.
//
// Fields:
//  ServiceID       – service the owner wants to book.
//  SlotID          – preferred slot; nil for flexible entries.
//  OwnerToken      – opaque identifier of the waiting session.
//  Units           – capacity units the owner needs.
//  PromotedHoldID  – hold granted on promotion; nil while waiting.
type WaitlistEntry struct {
	ID             uint64    // waitlist_entries.id
	ServiceID      uint64    // waitlist_entries.service_id
	SlotID         *uint64   // waitlist_entries.slot_id (nullable)
	OwnerToken     string    // waitlist_entries.owner_token
	Units          uint32    // waitlist_entries.units
	State          string    // waitlist_entries.state
	PromotedHoldID *uint64   // waitlist_entries.promoted_hold_id (nullable)
	CreatedAt      time.Time // waitlist_entries.created_at
	UpdatedAt      time.Time // waitlist_entries.updated_at
}

// Flexible reports whether the entry accepts any slot of its service.
func (w *WaitlistEntry) Flexible() bool { return w.SlotID == nil }
