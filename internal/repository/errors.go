// Package repository implements raw-SQL persistence for the engine's
// entities.  This file defines sentinel errors shared across the
// individual repositories.  Higher layers compare against these values
// with errors.Is to distinguish failure scenarios without inspecting
// driver-specific error codes.
package repository

import "errors"

// ErrSlotNotFound is returned when an operation references a slot id
// that does not exist.
var ErrSlotNotFound = errors.New("slot not found")

// ErrHoldNotFound is returned when an operation references a hold id
// that does not exist.
var ErrHoldNotFound = errors.New("hold not found")

// ErrBookingNotFound is returned when an operation references a booking
// id that does not exist.
var ErrBookingNotFound = errors.New("booking not found")

// ErrEntryNotFound is returned when an operation references a waitlist
// entry that does not exist.
var ErrEntryNotFound = errors.New("waitlist entry not found")

// ErrCapacityExceeded is returned by the slot repository when the
// conditional capacity update matches no row because the requested
// units do not fit.  The engine translates this into its user-facing
// insufficient-capacity rejection.
var ErrCapacityExceeded = errors.New("capacity exceeded")
