package engine

import (
	"context"
	"database/sql"
	"time"

	"github.com/dkaryakin/booking-engine/internal/model"
)

// The store interfaces below are satisfied by the repository package in
// production and by in-memory fakes in tests.  Methods with a Tx suffix
// participate in a transaction opened by the engine; the engine never
// issues SQL itself.

// SlotStore mutates the capacity counters of slots.  Every mutation is
// a guarded statement: the check and the counter change are evaluated
// atomically per slot, and slots never contend with each other.
type SlotStore interface {
	Get(ctx context.Context, slotID uint64) (*model.Slot, error)
	GetTx(ctx context.Context, tx *sql.Tx, slotID uint64) (*model.Slot, error)
	ClaimCapacityTx(ctx context.Context, tx *sql.Tx, slotID uint64, units uint32) error
	ReleaseHeldTx(ctx context.Context, tx *sql.Tx, slotID uint64, units uint32) error
	ConvertHeldTx(ctx context.Context, tx *sql.Tx, slotID uint64, units uint32) error
	ReleaseConfirmedTx(ctx context.Context, tx *sql.Tx, slotID uint64, units uint32) error
	MarkPastSlots(ctx context.Context) (int64, error)
}

// HoldStore persists holds.  Transition methods report whether the
// calling statement won the state change so capacity decrements can be
// gated on it.
type HoldStore interface {
	CreateTx(ctx context.Context, tx *sql.Tx, slotID uint64, ownerToken string, units uint32, expiresAt time.Time) (*model.Hold, error)
	Get(ctx context.Context, holdID uint64) (*model.Hold, error)
	GetTx(ctx context.Context, tx *sql.Tx, holdID uint64) (*model.Hold, error)
	ActiveBySlotAndOwnerTx(ctx context.Context, tx *sql.Tx, slotID uint64, ownerToken string) (*model.Hold, error)
	TransitionTx(ctx context.Context, tx *sql.Tx, holdID uint64, state string) (bool, error)
	ConvertTx(ctx context.Context, tx *sql.Tx, holdID uint64) (bool, error)
	RenewTx(ctx context.Context, tx *sql.Tx, holdID uint64, expiresAt time.Time) (bool, error)
	ExpireBySlotTx(ctx context.Context, tx *sql.Tx, slotID uint64) ([]model.Hold, error)
	SlotsWithExpiredHolds(ctx context.Context) ([]uint64, error)
}

// BookingStore persists bookings.
type BookingStore interface {
	CreateTx(ctx context.Context, tx *sql.Tx, slotID, holdID uint64, ownerToken string, units, amountCents uint32) (*model.Booking, error)
	Get(ctx context.Context, bookingID uint64) (*model.Booking, error)
	GetTx(ctx context.Context, tx *sql.Tx, bookingID uint64) (*model.Booking, error)
	PendingByHoldTx(ctx context.Context, tx *sql.Tx, holdID uint64) (*model.Booking, error)
	ConfirmTx(ctx context.Context, tx *sql.Tx, bookingID uint64, paymentRef string) (bool, error)
	TransitionTx(ctx context.Context, tx *sql.Tx, bookingID uint64, from, to string) (bool, error)
	InsertConfirmedTx(ctx context.Context, tx *sql.Tx, slotID uint64, ownerToken string, units, amountCents uint32, paymentRef string) (*model.Booking, error)
}

// WaitlistStore persists waitlist entries.
type WaitlistStore interface {
	Create(ctx context.Context, serviceID uint64, slotID *uint64, ownerToken string, units uint32) (*model.WaitlistEntry, error)
	Get(ctx context.Context, entryID uint64) (*model.WaitlistEntry, error)
	WaitingByServiceAndOwner(ctx context.Context, serviceID uint64, ownerToken string) (*model.WaitlistEntry, error)
	WaitingForSlot(ctx context.Context, slotID, serviceID uint64) ([]model.WaitlistEntry, error)
	MarkPromoted(ctx context.Context, entryID, holdID uint64) (bool, error)
	Withdraw(ctx context.Context, entryID uint64, ownerToken string) (bool, error)
	ExpirePromotedByHoldTx(ctx context.Context, tx *sql.Tx, holdID uint64) error
}

// AuthorizationRequest describes a payment authorization attempt sent
// to the payment collaborator between PENDING_PAYMENT and CONFIRMED.
type AuthorizationRequest struct {
	OwnerToken  string
	BookingID   uint64
	AmountCents uint32
	Method      string
}

// Authorization statuses returned by the payment collaborator.
const (
	PaymentAuthorized = "AUTHORIZED"
	PaymentDeclined   = "DECLINED"
)

// Authorization is the collaborator's answer.  Anything other than
// AUTHORIZED fails the confirmation attempt and releases the hold.
type Authorization struct {
	Status string
	Ref    string
}

// PaymentAuthorizer is the payment collaborator seen by the engine.  It
// is called outside any slot-level transaction so a slow gateway cannot
// extend lock hold times.
type PaymentAuthorizer interface {
	Authorize(ctx context.Context, req AuthorizationRequest) (*Authorization, error)
}

// EventSink receives domain events.  Delivery is fire-and-forget: the
// engine never blocks on, nor fails because of, the sink.  The sink is
// injected so the engine keeps no process-wide mutable state.
type EventSink interface {
	HoldCreated(ctx context.Context, h model.Hold)
	HoldReleased(ctx context.Context, h model.Hold)
	HoldExpired(ctx context.Context, h model.Hold)
	BookingConfirmed(ctx context.Context, b model.Booking)
	BookingCancelled(ctx context.Context, b model.Booking)
	WaitlistPromoted(ctx context.Context, e model.WaitlistEntry, h model.Hold)
}
