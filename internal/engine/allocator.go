package engine

import (
	"context"

	"github.com/dkaryakin/booking-engine/internal/model"
)

// ReserveGroup places one hold covering every member of a group.  The
// claim is all-or-nothing: either the slot covers the full group size
// and one hold for groupSize units comes back, or nothing is reserved
// and ErrInsufficientCapacity is returned.  Partial grabs cannot happen
// because the capacity check and increment are a single guarded update.
func (e *Engine) ReserveGroup(ctx context.Context, slotID uint64, groupSize uint32, ownerToken string, ttl int64) (*model.Hold, error) {
	if groupSize < 1 {
		return nil, ErrInvalidUnits
	}
	return e.AcquireHold(ctx, slotID, groupSize, ownerToken, ttl)
}

// QuoteGroup prices a prospective group booking without reserving
// anything, so callers can show the discounted total up front.
func (e *Engine) QuoteGroup(ctx context.Context, slotID uint64, groupSize uint32) (uint32, error) {
	if groupSize < 1 {
		return 0, ErrInvalidUnits
	}
	slot, err := e.slots.Get(ctx, slotID)
	if err != nil {
		return 0, err
	}
	return bookingAmount(slot.PriceCents, groupSize)
}
