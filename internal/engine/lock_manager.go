package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dkaryakin/booking-engine/internal/model"
	"github.com/dkaryakin/booking-engine/internal/repository"
	"go.uber.org/zap"
)

// AcquireHold places a time-boxed claim on units of a slot.  The TTL is
// clamped into configured bounds.  Acquisition is idempotent per
// (slot, owner token): while a previous hold is still active the same
// hold is returned instead of a new one.  When the slot cannot cover
// the units the call rejects immediately with ErrInsufficientCapacity;
// the engine never retries, the caller decides whether to offer the
// waitlist.
func (e *Engine) AcquireHold(ctx context.Context, slotID uint64, units uint32, ownerToken string, ttl int64) (*model.Hold, error) {
	hold, _, err := e.acquireHold(ctx, slotID, units, ownerToken, ttl, true)
	return hold, err
}

// acquireHold is AcquireHold with control over waitlist notification,
// and additionally reports whether the returned hold was an existing
// one rather than freshly created.  Promotion passes notify=false (a
// promotion attempt must not trigger a nested promotion scan for units
// its own lazy sweep freed) and skips entries whose owner already holds
// capacity, which the reused flag makes visible.
func (e *Engine) acquireHold(ctx context.Context, slotID uint64, units uint32, ownerToken string, ttlSeconds int64, notify bool) (*model.Hold, bool, error) {
	if units < 1 {
		return nil, false, ErrInvalidUnits
	}
	ttl := e.cfg.clampTTL(secondsToDuration(ttlSeconds))

	var (
		hold    *model.Hold
		reused  bool
		swept   []model.Hold
		sweptUn uint32
	)
	err := e.tx.RunTx(ctx, func(tx *sql.Tx) error {
		slot, err := e.slots.GetTx(ctx, tx, slotID)
		if err != nil {
			return err
		}
		if slot.IsPast {
			return ErrSlotPast
		}
		swept, sweptUn, err = e.expireSlotHoldsTx(ctx, tx, slotID)
		if err != nil {
			return err
		}
		existing, err := e.holds.ActiveBySlotAndOwnerTx(ctx, tx, slotID, ownerToken)
		if err != nil {
			return err
		}
		if existing != nil {
			hold = existing
			reused = true
			return nil
		}
		if err := e.slots.ClaimCapacityTx(ctx, tx, slotID, units); err != nil {
			if errors.Is(err, repository.ErrCapacityExceeded) {
				return ErrInsufficientCapacity
			}
			return err
		}
		hold, err = e.holds.CreateTx(ctx, tx, slotID, ownerToken, units, e.now().Add(ttl))
		return err
	})
	if err != nil {
		// A rejection rolls back the sweep along with the claim; any
		// expired holds it found stay in place for the reaper.
		return nil, false, err
	}
	e.afterSweep(ctx, slotID, swept, sweptUn, notify)
	if !reused {
		e.events.HoldCreated(ctx, *hold)
		e.logger.Info("hold acquired",
			zap.Uint64("slot_id", slotID),
			zap.Uint64("hold_id", hold.ID),
			zap.Uint32("units", units))
	}
	return hold, reused, nil
}

// RenewHold extends a hold's TTL once, for checkouts that legitimately
// run long (payment redirects).  A second renewal, an expired hold or a
// hold in any non-active state is rejected.
func (e *Engine) RenewHold(ctx context.Context, holdID uint64, ownerToken string) (*model.Hold, error) {
	var hold *model.Hold
	err := e.tx.RunTx(ctx, func(tx *sql.Tx) error {
		h, err := e.holds.GetTx(ctx, tx, holdID)
		if err != nil {
			return err
		}
		if h.OwnerToken != ownerToken {
			return ErrForbidden
		}
		ok, err := e.holds.RenewTx(ctx, tx, holdID, e.now().Add(e.cfg.HoldTTLDefault))
		if err != nil {
			return err
		}
		if !ok {
			if h.State != model.HoldActive || h.Expired(e.now()) {
				return ErrHoldExpired
			}
			return ErrHoldAlreadyRenewed
		}
		hold, err = e.holds.GetTx(ctx, tx, holdID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return hold, nil
}

// ReleaseHold releases a hold and returns its units to the slot's free
// pool.  It is idempotent: releasing a hold that already left the
// active state (released, converted or swept) is a no-op success.  A
// successful release notifies the waitlist.
func (e *Engine) ReleaseHold(ctx context.Context, holdID uint64, ownerToken string) error {
	var (
		hold  *model.Hold
		freed bool
	)
	err := e.tx.RunTx(ctx, func(tx *sql.Tx) error {
		h, err := e.holds.GetTx(ctx, tx, holdID)
		if err != nil {
			return err
		}
		if h.OwnerToken != ownerToken {
			return ErrForbidden
		}
		hold = h
		if h.State != model.HoldActive {
			return nil
		}
		ok, err := e.holds.TransitionTx(ctx, tx, holdID, model.HoldReleased)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		freed = true
		return e.slots.ReleaseHeldTx(ctx, tx, hold.SlotID, hold.Units)
	})
	if err != nil {
		return err
	}
	if freed {
		hold.State = model.HoldReleased
		e.events.HoldReleased(ctx, *hold)
		e.logger.Info("hold released",
			zap.Uint64("slot_id", hold.SlotID),
			zap.Uint64("hold_id", hold.ID),
			zap.Uint32("units", hold.Units))
		e.onCapacityFreed(ctx, hold.SlotID, hold.Units)
	}
	return nil
}

// GetHold returns a hold after verifying ownership.  Expiry is reported
// lazily: a hold past its TTL reads as EXPIRED even before the sweep
// has transitioned the row.
func (e *Engine) GetHold(ctx context.Context, holdID uint64, ownerToken string) (*model.Hold, error) {
	h, err := e.holds.Get(ctx, holdID)
	if err != nil {
		return nil, err
	}
	if h.OwnerToken != ownerToken {
		return nil, ErrForbidden
	}
	if h.State == model.HoldActive && h.Expired(e.now()) {
		h.State = model.HoldExpired
	}
	return h, nil
}

// expireSlotHoldsTx runs the lazy expiry sweep for one slot inside the
// caller's transaction: expired active holds transition to EXPIRED,
// their units leave capacity_held, and promotion windows tied to them
// are dropped.  It returns the swept holds and their unit total so the
// caller can emit events and notify the waitlist after commit.
func (e *Engine) expireSlotHoldsTx(ctx context.Context, tx *sql.Tx, slotID uint64) ([]model.Hold, uint32, error) {
	expired, err := e.holds.ExpireBySlotTx(ctx, tx, slotID)
	if err != nil {
		return nil, 0, err
	}
	if len(expired) == 0 {
		return nil, 0, nil
	}
	var units uint32
	for i := range expired {
		units += expired[i].Units
		if err := e.waitlist.ExpirePromotedByHoldTx(ctx, tx, expired[i].ID); err != nil {
			return nil, 0, err
		}
	}
	if err := e.slots.ReleaseHeldTx(ctx, tx, slotID, units); err != nil {
		return nil, 0, fmt.Errorf("release swept units: %w", err)
	}
	return expired, units, nil
}

// afterSweep publishes expiry events and, when allowed, hands the freed
// units to the waitlist.  Runs strictly after the sweeping transaction
// committed.
func (e *Engine) afterSweep(ctx context.Context, slotID uint64, swept []model.Hold, units uint32, notify bool) {
	if len(swept) == 0 {
		return
	}
	for i := range swept {
		swept[i].State = model.HoldExpired
		e.events.HoldExpired(ctx, swept[i])
	}
	e.logger.Info("expired holds swept",
		zap.Uint64("slot_id", slotID),
		zap.Int("holds", len(swept)),
		zap.Uint32("units", units))
	if notify {
		e.onCapacityFreed(ctx, slotID, units)
	}
}

func secondsToDuration(s int64) time.Duration {
	return time.Duration(s) * time.Second
}
