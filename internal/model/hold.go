package model

import "time"

// Hold states.  A hold is created active and leaves that state exactly
// once: converted when its booking confirms, released on an explicit
// release, or expired when the TTL runs out.
const (
	HoldActive    = "ACTIVE"
	HoldConverted = "CONVERTED"
	HoldReleased  = "RELEASED"
	HoldExpired   = "EXPIRED"
)

// Hold represents a time-boxed provisional claim on N capacity units of
// a slot, taken while a client walks through checkout.  At most one
// active hold may exist per (slot, owner token) pair; repeated acquire
// calls return the existing hold.
//
// Fields:
//  ID         – primary key identifier.
//  SlotID     – slot whose capacity is claimed.
//  OwnerToken – opaque identifier of the requesting session.
//  Units      – capacity units claimed (>= 1; group size for groups).
//  Token      – unique token returned to the client for reference.
//  State      – one of the Hold* constants above.
//  Renewed    – whether the single permitted renewal has been used.
//  ExpiresAt  – hard TTL; expiry is detected lazily and by the reaper.
//  CreatedAt  – when the hold was created.
type Hold struct {
	ID         uint64    // holds.id
	SlotID     uint64    // holds.slot_id
	OwnerToken string    // holds.owner_token
	Units      uint32    // holds.units
	Token      string    // holds.token
	State      string    // holds.state
	Renewed    bool      // holds.renewed
	ExpiresAt  time.Time // holds.expires_at (UTC)
	CreatedAt  time.Time // holds.created_at
	UpdatedAt  time.Time // holds.updated_at
}

// Expired reports whether the hold's TTL has elapsed at the given
// instant, regardless of whether the sweep has observed it yet.
func (h *Hold) Expired(now time.Time) bool {
	return !h.ExpiresAt.After(now)
}
