package engine

import (
	"context"
	"errors"

	"github.com/dkaryakin/booking-engine/internal/model"
	"go.uber.org/zap"
)

// JoinWaitlist enqueues an owner for a service, optionally pinned to a
// specific slot.  One waiting entry per (service, owner): joining again
// while the first is still waiting returns the existing entry.
func (e *Engine) JoinWaitlist(ctx context.Context, serviceID uint64, slotID *uint64, ownerToken string, units uint32) (*model.WaitlistEntry, error) {
	if units < 1 {
		return nil, ErrInvalidUnits
	}
	existing, err := e.waitlist.WaitingByServiceAndOwner(ctx, serviceID, ownerToken)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	entry, err := e.waitlist.Create(ctx, serviceID, slotID, ownerToken, units)
	if err != nil {
		return nil, err
	}
	e.logger.Info("waitlist joined",
		zap.Uint64("entry_id", entry.ID),
		zap.Uint64("service_id", serviceID),
		zap.Uint32("units", units))
	return entry, nil
}

// WithdrawFromWaitlist removes a waiting entry.  Only the entry's owner
// may withdraw it, and only while it is still waiting.
func (e *Engine) WithdrawFromWaitlist(ctx context.Context, entryID uint64, ownerToken string) error {
	entry, err := e.waitlist.Get(ctx, entryID)
	if err != nil {
		return err
	}
	if entry.OwnerToken != ownerToken {
		return ErrForbidden
	}
	ok, err := e.waitlist.Withdraw(ctx, entryID, ownerToken)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidTransition
	}
	return nil
}

// GetWaitlistEntry returns an entry after verifying ownership.
func (e *Engine) GetWaitlistEntry(ctx context.Context, entryID uint64, ownerToken string) (*model.WaitlistEntry, error) {
	entry, err := e.waitlist.Get(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.OwnerToken != ownerToken {
		return nil, ErrForbidden
	}
	return entry, nil
}

// onCapacityFreed runs after units return to a slot's free pool.  It
// walks the slot's waitlist in FIFO order, slot-pinned entries before
// flexible ones, and tries to promote each by acquiring a hold on the
// entry's behalf with the promotion TTL.  Promotion is advisory:
// acquisition competes with direct demand on equal terms, so a lost
// race simply leaves the entry waiting for the next free-up.  An entry
// asking for more units than just freed is skipped, not blocked on;
// later entries still get their try.
func (e *Engine) onCapacityFreed(ctx context.Context, slotID uint64, freedUnits uint32) {
	if freedUnits == 0 {
		return
	}
	slot, err := e.slots.Get(ctx, slotID)
	if err != nil {
		e.logger.Error("waitlist scan: load slot", zap.Uint64("slot_id", slotID), zap.Error(err))
		return
	}
	entries, err := e.waitlist.WaitingForSlot(ctx, slotID, slot.ServiceID)
	if err != nil {
		e.logger.Error("waitlist scan: list entries", zap.Uint64("slot_id", slotID), zap.Error(err))
		return
	}
	remaining := freedUnits
	for i := range entries {
		if remaining == 0 {
			return
		}
		entry := entries[i]
		if entry.Units > remaining {
			continue
		}
		promoted, err := e.promote(ctx, slotID, entry)
		if err != nil {
			e.logger.Error("waitlist promotion failed",
				zap.Uint64("entry_id", entry.ID),
				zap.Uint64("slot_id", slotID),
				zap.Error(err))
			continue
		}
		if promoted {
			remaining -= entry.Units
		}
	}
}

// promote acquires a promotion-window hold for one entry and marks it
// PROMOTED.  Returns false without error when the entry lost the race,
// either for capacity or for its own WAITING state.
func (e *Engine) promote(ctx context.Context, slotID uint64, entry model.WaitlistEntry) (bool, error) {
	hold, reused, err := e.acquireHold(ctx, slotID, entry.Units, entry.OwnerToken, int64(e.cfg.PromotionTTL.Seconds()), false)
	if err != nil {
		if errors.Is(err, ErrInsufficientCapacity) || errors.Is(err, ErrSlotPast) {
			return false, nil
		}
		return false, err
	}
	if reused {
		// The entry's owner already holds capacity on this slot, so
		// acquisition handed back their live hold instead of opening a
		// promotion window.  Marking the entry promoted against it
		// would tie the entry to the wrong TTL, and a later cleanup
		// could release a hold mid-checkout.  Leave the entry waiting
		// and let the freed units go to the next one.
		return false, nil
	}
	ok, err := e.waitlist.MarkPromoted(ctx, entry.ID, hold.ID)
	if err != nil {
		return false, err
	}
	if !ok {
		// Entry withdrew or was promoted concurrently; give the hold
		// back rather than strand the units.
		if relErr := e.ReleaseHold(ctx, hold.ID, entry.OwnerToken); relErr != nil {
			e.logger.Error("release orphan promotion hold",
				zap.Uint64("hold_id", hold.ID), zap.Error(relErr))
		}
		return false, nil
	}
	entry.State = model.WaitlistPromoted
	entry.PromotedHoldID = &hold.ID
	e.events.WaitlistPromoted(ctx, entry, *hold)
	e.logger.Info("waitlist entry promoted",
		zap.Uint64("entry_id", entry.ID),
		zap.Uint64("slot_id", slotID),
		zap.Uint64("hold_id", hold.ID))
	return true, nil
}
