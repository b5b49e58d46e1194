package model

import "time"

// Slot is a schedulable (resource, service, time) unit with finite
// capacity.  A slot is created when the catalog publishes a service
// schedule and is never deleted; once its start time passes, a sweep
// marks it past so it no longer accepts holds.
//
// Capacity accounting:
//  CapacityTotal     – total reservable units, supplied by the catalog.
//  CapacityHeld      – sum of units claimed by active holds.
//  CapacityConfirmed – sum of units owned by confirmed bookings.
// The invariant CapacityHeld + CapacityConfirmed <= CapacityTotal is
// enforced by the slot repository's conditional update; no code path
// mutates the counters outside of it.
type Slot struct {
	ID                uint64    // slots.id
	ServiceID         uint64    // slots.service_id
	ResourceID        uint64    // slots.resource_id
	StartsAt          time.Time // slots.starts_at (UTC)
	DurationMin       uint32    // slots.duration_min
	CapacityTotal     uint32    // slots.capacity_total
	CapacityHeld      uint32    // slots.capacity_held
	CapacityConfirmed uint32    // slots.capacity_confirmed
	PriceCents        uint32    // slots.price_cents (per unit)
	IsPast            bool      // slots.is_past
	CreatedAt         time.Time // slots.created_at
	UpdatedAt         time.Time // slots.updated_at
}

// Remaining returns the number of units still open for new holds.
func (s *Slot) Remaining() uint32 {
	used := s.CapacityHeld + s.CapacityConfirmed
	if used >= s.CapacityTotal {
		return 0
	}
	return s.CapacityTotal - used
}
