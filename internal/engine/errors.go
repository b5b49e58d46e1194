// Package engine implements the booking availability and concurrency
// engine: time-boxed holds on slot capacity, the booking lifecycle,
// waitlist auto-promotion and atomic group reservation.  This file
// defines the business error taxonomy.  Expected conditions are
// returned as these sentinel values so callers can render them
// directly; only storage and infrastructure faults surface as wrapped
// unexpected errors.
package engine

import "errors"

// ErrInsufficientCapacity is returned when a slot cannot cover the
// requested units.  Handlers surface it immediately together with a
// waitlist offer; the engine never retries acquisition internally.
var ErrInsufficientCapacity = errors.New("insufficient capacity")

// ErrHoldExpired is returned when an operation requires an active,
// unexpired hold and the hold has already expired, been released or
// been converted.  The caller must re-acquire; capacity may be gone.
var ErrHoldExpired = errors.New("hold expired")

// ErrHoldAlreadyRenewed is returned by RenewHold when the single
// permitted renewal has already been used.
var ErrHoldAlreadyRenewed = errors.New("hold already renewed")

// ErrPaymentDeclined is returned when the payment collaborator declines
// authorization.  The originating hold is released; the owner may retry
// with a fresh hold.
var ErrPaymentDeclined = errors.New("payment declined")

// ErrInvalidTransition is returned when a booking state transition is
// requested from a state that does not permit it.  It indicates a
// caller bug or a lost race and is logged at the call site.
var ErrInvalidTransition = errors.New("invalid booking transition")

// ErrForbidden is returned when the caller's owner token does not match
// the entity it is operating on.
var ErrForbidden = errors.New("forbidden")

// ErrInvalidUnits is returned when a requested unit count is zero.
var ErrInvalidUnits = errors.New("units must be at least 1")

// ErrAmountOverflow is returned when a booking's total price does not
// fit the cents column.
var ErrAmountOverflow = errors.New("amount exceeds maximum representable total")

// ErrSlotPast is returned when acquisition targets a slot whose start
// time has passed.
var ErrSlotPast = errors.New("slot already started")
