package engine

import (
	"context"
	"database/sql"

	"github.com/dkaryakin/booking-engine/internal/model"
	"go.uber.org/zap"
)

// StartCheckout creates the PENDING_PAYMENT booking for an active hold.
// The amount is priced from the slot at this moment, group discount
// included, and does not move afterwards.  Calling it again for the
// same hold returns the booking already in flight.
func (e *Engine) StartCheckout(ctx context.Context, holdID uint64, ownerToken string) (*model.Booking, error) {
	var booking *model.Booking
	err := e.tx.RunTx(ctx, func(tx *sql.Tx) error {
		hold, err := e.holds.GetTx(ctx, tx, holdID)
		if err != nil {
			return err
		}
		if hold.OwnerToken != ownerToken {
			return ErrForbidden
		}
		if hold.State != model.HoldActive || hold.Expired(e.now()) {
			return ErrHoldExpired
		}
		existing, err := e.bookings.PendingByHoldTx(ctx, tx, holdID)
		if err != nil {
			return err
		}
		if existing != nil {
			booking = existing
			return nil
		}
		slot, err := e.slots.GetTx(ctx, tx, hold.SlotID)
		if err != nil {
			return err
		}
		amount, err := bookingAmount(slot.PriceCents, hold.Units)
		if err != nil {
			return err
		}
		booking, err = e.bookings.CreateTx(ctx, tx, hold.SlotID, holdID, ownerToken, hold.Units, amount)
		return err
	})
	if err != nil {
		return nil, err
	}
	return booking, nil
}

// ConfirmBooking drives a PENDING_PAYMENT booking to CONFIRMED.  The
// payment collaborator is consulted first, outside any transaction, so
// a slow gateway never extends row lock lifetimes.  Only then does one
// transaction consume the hold and move its units from held to
// confirmed, gated on the hold still being active and unexpired.  A
// booking already confirmed returns as-is, making retries safe.
func (e *Engine) ConfirmBooking(ctx context.Context, bookingID uint64, ownerToken, method string) (*model.Booking, error) {
	booking, err := e.bookings.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.OwnerToken != ownerToken {
		return nil, ErrForbidden
	}
	if booking.State == model.BookingConfirmed {
		return booking, nil
	}
	if booking.State != model.BookingPendingPayment || booking.HoldID == nil {
		return nil, ErrInvalidTransition
	}
	holdID := *booking.HoldID

	auth, err := e.payments.Authorize(ctx, AuthorizationRequest{
		OwnerToken:  ownerToken,
		BookingID:   bookingID,
		AmountCents: booking.AmountCents,
		Method:      method,
	})
	if err != nil {
		return nil, err
	}
	if auth.Status != PaymentAuthorized {
		return nil, e.failCheckout(ctx, booking, holdID, ErrPaymentDeclined)
	}

	var (
		holdGone  bool
		cancelled bool
		swept     []model.Hold
		sweptUn   uint32
	)
	err = e.tx.RunTx(ctx, func(tx *sql.Tx) error {
		swept, sweptUn, err = e.expireSlotHoldsTx(ctx, tx, booking.SlotID)
		if err != nil {
			return err
		}
		converted, err := e.holds.ConvertTx(ctx, tx, holdID)
		if err != nil {
			return err
		}
		if !converted {
			// The reaper or a sweep consumed the hold while the gateway
			// was authorizing.  Cancel the booking in this same
			// transaction and report the expiry after commit.  The
			// transition can lose to a concurrent confirm that already
			// consumed the hold and confirmed the booking, in which
			// case nothing is cancelled here.
			holdGone = true
			cancelled, err = e.bookings.TransitionTx(ctx, tx, bookingID, model.BookingPendingPayment, model.BookingCancelled)
			return err
		}
		hold, err := e.holds.GetTx(ctx, tx, holdID)
		if err != nil {
			return err
		}
		if err := e.slots.ConvertHeldTx(ctx, tx, hold.SlotID, hold.Units); err != nil {
			return err
		}
		ok, err := e.bookings.ConfirmTx(ctx, tx, bookingID, auth.Ref)
		if err != nil {
			return err
		}
		if !ok {
			return ErrInvalidTransition
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.afterSweep(ctx, booking.SlotID, swept, sweptUn, true)
	if holdGone {
		if !cancelled {
			// A concurrent confirm won the hold and completed the
			// booking; report its outcome instead of a cancellation
			// that never happened.
			latest, gerr := e.bookings.Get(ctx, bookingID)
			if gerr == nil && latest.State == model.BookingConfirmed {
				return latest, nil
			}
			return nil, ErrHoldExpired
		}
		e.logger.Warn("authorized payment against an expired hold",
			zap.Uint64("booking_id", bookingID),
			zap.Uint64("hold_id", holdID),
			zap.String("payment_ref", auth.Ref))
		booking.State = model.BookingCancelled
		e.events.BookingCancelled(ctx, *booking)
		return nil, ErrHoldExpired
	}

	confirmed, err := e.bookings.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	e.events.BookingConfirmed(ctx, *confirmed)
	e.logger.Info("booking confirmed",
		zap.Uint64("booking_id", bookingID),
		zap.Uint64("slot_id", confirmed.SlotID),
		zap.Uint32("units", confirmed.UnitsReserved))
	return confirmed, nil
}

// failCheckout tears down a checkout whose payment was declined: the
// hold is released, its units return to the free pool, the booking goes
// to CANCELLED.  The caller may start over with a fresh hold.
func (e *Engine) failCheckout(ctx context.Context, booking *model.Booking, holdID uint64, cause error) error {
	var (
		freed     bool
		slotID    uint64
		units     uint32
		cancelled bool
	)
	err := e.tx.RunTx(ctx, func(tx *sql.Tx) error {
		hold, err := e.holds.GetTx(ctx, tx, holdID)
		if err != nil {
			return err
		}
		slotID, units = hold.SlotID, hold.Units
		ok, err := e.holds.TransitionTx(ctx, tx, holdID, model.HoldReleased)
		if err != nil {
			return err
		}
		if ok {
			freed = true
			if err := e.slots.ReleaseHeldTx(ctx, tx, slotID, units); err != nil {
				return err
			}
		}
		cancelled, err = e.bookings.TransitionTx(ctx, tx, booking.ID, model.BookingPendingPayment, model.BookingCancelled)
		return err
	})
	if err != nil {
		return err
	}
	if cancelled {
		booking.State = model.BookingCancelled
		e.events.BookingCancelled(ctx, *booking)
	}
	if freed {
		e.onCapacityFreed(ctx, slotID, units)
	}
	e.logger.Info("checkout failed",
		zap.Uint64("booking_id", booking.ID),
		zap.Uint64("hold_id", holdID),
		zap.Error(cause))
	return cause
}

// CancelBooking cancels a booking and returns its units to the slot's
// free pool.  Cancelling an already cancelled booking is a no-op
// success; any other terminal state rejects.  A pending booking's
// underlying hold is released along the way.
func (e *Engine) CancelBooking(ctx context.Context, bookingID uint64, ownerToken string) error {
	var (
		booking   *model.Booking
		slotID    uint64
		freed     uint32
		cancelled bool
	)
	err := e.tx.RunTx(ctx, func(tx *sql.Tx) error {
		b, err := e.bookings.GetTx(ctx, tx, bookingID)
		if err != nil {
			return err
		}
		if b.OwnerToken != ownerToken {
			return ErrForbidden
		}
		booking = b
		slotID = b.SlotID
		switch b.State {
		case model.BookingCancelled:
			return nil
		case model.BookingPendingPayment:
			ok, err := e.bookings.TransitionTx(ctx, tx, bookingID, model.BookingPendingPayment, model.BookingCancelled)
			if err != nil || !ok {
				return err
			}
			cancelled = true
			if b.HoldID != nil {
				released, err := e.holds.TransitionTx(ctx, tx, *b.HoldID, model.HoldReleased)
				if err != nil {
					return err
				}
				if released {
					freed = b.UnitsReserved
					return e.slots.ReleaseHeldTx(ctx, tx, slotID, freed)
				}
			}
			return nil
		case model.BookingConfirmed:
			ok, err := e.bookings.TransitionTx(ctx, tx, bookingID, model.BookingConfirmed, model.BookingCancelled)
			if err != nil || !ok {
				return err
			}
			cancelled = true
			freed = b.UnitsReserved
			return e.slots.ReleaseConfirmedTx(ctx, tx, slotID, freed)
		default:
			return ErrInvalidTransition
		}
	})
	if err != nil {
		return err
	}
	if cancelled {
		prev := booking.State
		booking.State = model.BookingCancelled
		e.events.BookingCancelled(ctx, *booking)
		e.logger.Info("booking cancelled",
			zap.Uint64("booking_id", bookingID),
			zap.String("from", prev))
	}
	if freed > 0 {
		e.onCapacityFreed(ctx, slotID, freed)
	}
	return nil
}

// RescheduleBooking moves a confirmed booking onto a new slot.  The
// caller acquires a hold on the target slot first; this call converts
// that hold into a fresh CONFIRMED booking carrying the original
// payment reference, terminal-transitions the old record to RESCHEDULED
// and frees its units, all in one transaction.
func (e *Engine) RescheduleBooking(ctx context.Context, bookingID, newHoldID uint64, ownerToken string) (*model.Booking, error) {
	var (
		replacement *model.Booking
		old         *model.Booking
	)
	err := e.tx.RunTx(ctx, func(tx *sql.Tx) error {
		b, err := e.bookings.GetTx(ctx, tx, bookingID)
		if err != nil {
			return err
		}
		if b.OwnerToken != ownerToken {
			return ErrForbidden
		}
		if b.State != model.BookingConfirmed || b.PaymentRef == nil {
			return ErrInvalidTransition
		}
		old = b
		hold, err := e.holds.GetTx(ctx, tx, newHoldID)
		if err != nil {
			return err
		}
		if hold.OwnerToken != ownerToken {
			return ErrForbidden
		}
		converted, err := e.holds.ConvertTx(ctx, tx, newHoldID)
		if err != nil {
			return err
		}
		if !converted {
			return ErrHoldExpired
		}
		if err := e.slots.ConvertHeldTx(ctx, tx, hold.SlotID, hold.Units); err != nil {
			return err
		}
		ok, err := e.bookings.TransitionTx(ctx, tx, bookingID, model.BookingConfirmed, model.BookingRescheduled)
		if err != nil {
			return err
		}
		if !ok {
			return ErrInvalidTransition
		}
		if err := e.slots.ReleaseConfirmedTx(ctx, tx, b.SlotID, b.UnitsReserved); err != nil {
			return err
		}
		replacement, err = e.bookings.InsertConfirmedTx(ctx, tx, hold.SlotID, ownerToken, hold.Units, b.AmountCents, *b.PaymentRef)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.events.BookingConfirmed(ctx, *replacement)
	e.logger.Info("booking rescheduled",
		zap.Uint64("old_booking_id", bookingID),
		zap.Uint64("new_booking_id", replacement.ID),
		zap.Uint64("slot_id", replacement.SlotID))
	e.onCapacityFreed(ctx, old.SlotID, old.UnitsReserved)
	return replacement, nil
}

// MarkNoShow records that a confirmed booking's owner never arrived.
// The slot is already in the past by then, so no capacity moves.
func (e *Engine) MarkNoShow(ctx context.Context, bookingID uint64) error {
	return e.tx.RunTx(ctx, func(tx *sql.Tx) error {
		ok, err := e.bookings.TransitionTx(ctx, tx, bookingID, model.BookingConfirmed, model.BookingNoShow)
		if err != nil {
			return err
		}
		if !ok {
			return ErrInvalidTransition
		}
		return nil
	})
}

// GetBooking returns a booking after verifying ownership.
func (e *Engine) GetBooking(ctx context.Context, bookingID uint64, ownerToken string) (*model.Booking, error) {
	b, err := e.bookings.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.OwnerToken != ownerToken {
		return nil, ErrForbidden
	}
	return b, nil
}
