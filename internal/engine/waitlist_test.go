package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkaryakin/booking-engine/internal/model"
)

func TestJoinWaitlist_DedupPerServiceAndOwner(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	slotID := env.store.addSlot(1, 2, 1000, futureStart(env))

	first, err := env.eng.JoinWaitlist(ctx, 1, &slotID, "owner-a", 1)
	require.NoError(t, err)
	assert.Equal(t, model.WaitlistWaiting, first.State)

	again, err := env.eng.JoinWaitlist(ctx, 1, nil, "owner-a", 2)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
}

func TestJoinWaitlist_InvalidUnits(t *testing.T) {
	env := newTestEnv()

	_, err := env.eng.JoinWaitlist(context.Background(), 1, nil, "owner-a", 0)
	assert.ErrorIs(t, err, ErrInvalidUnits)
}

func TestWithdrawFromWaitlist(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	entry, err := env.eng.JoinWaitlist(ctx, 1, nil, "owner-a", 1)
	require.NoError(t, err)

	err = env.eng.WithdrawFromWaitlist(ctx, entry.ID, "owner-b")
	assert.ErrorIs(t, err, ErrForbidden)

	require.NoError(t, env.eng.WithdrawFromWaitlist(ctx, entry.ID, "owner-a"))
	assert.Equal(t, model.WaitlistWithdrawn, env.store.entrySnapshot(entry.ID).State)

	err = env.eng.WithdrawFromWaitlist(ctx, entry.ID, "owner-a")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

// Releasing a hold on a full slot promotes the first waiting entry: the
// entry gets its own hold with the promotion TTL and moves to PROMOTED.
func TestWaitlist_PromotionOnRelease(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	slotID := env.store.addSlot(1, 2, 1000, futureStart(env))

	hold, err := env.eng.AcquireHold(ctx, slotID, 2, "owner-a", 0)
	require.NoError(t, err)
	entry, err := env.eng.JoinWaitlist(ctx, 1, &slotID, "owner-b", 2)
	require.NoError(t, err)

	require.NoError(t, env.eng.ReleaseHold(ctx, hold.ID, "owner-a"))

	got := env.store.entrySnapshot(entry.ID)
	assert.Equal(t, model.WaitlistPromoted, got.State)
	require.NotNil(t, got.PromotedHoldID)

	promo := env.store.holdSnapshot(*got.PromotedHoldID)
	assert.Equal(t, "owner-b", promo.OwnerToken)
	assert.Equal(t, uint32(2), promo.Units)
	assert.Equal(t, model.HoldActive, promo.State)
	assert.Equal(t, env.clock.Now().Add(10*time.Minute), promo.ExpiresAt)

	assert.Equal(t, uint32(2), env.store.slotSnapshot(slotID).CapacityHeld)
	assert.Equal(t, 1, env.sink.Count("waitlist.promoted"))
}

// FIFO with skip: an entry wanting more units than are free is passed
// over without blocking later, smaller entries.
func TestWaitlist_FIFOSkipsOversizedEntry(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	slotID := env.store.addSlot(1, 3, 1000, futureStart(env))

	hold, err := env.eng.AcquireHold(ctx, slotID, 3, "owner-a", 0)
	require.NoError(t, err)

	big, err := env.eng.JoinWaitlist(ctx, 1, &slotID, "owner-big", 2)
	require.NoError(t, err)
	mid, err := env.eng.JoinWaitlist(ctx, 1, &slotID, "owner-mid", 1)
	require.NoError(t, err)
	small, err := env.eng.JoinWaitlist(ctx, 1, &slotID, "owner-small", 1)
	require.NoError(t, err)

	require.NoError(t, env.eng.ReleaseHold(ctx, hold.ID, "owner-a"))

	assert.Equal(t, model.WaitlistPromoted, env.store.entrySnapshot(big.ID).State)
	assert.Equal(t, model.WaitlistPromoted, env.store.entrySnapshot(mid.ID).State)
	// Three units freed, three claimed by the first two entries.
	assert.Equal(t, model.WaitlistWaiting, env.store.entrySnapshot(small.ID).State)
	assert.Equal(t, uint32(3), env.store.slotSnapshot(slotID).CapacityHeld)
}

// Flexible entries (no slot preference) are promoted after slot-pinned
// ones when any slot of their service frees up.
func TestWaitlist_FlexibleEntryPromoted(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	slotID := env.store.addSlot(7, 1, 1000, futureStart(env))

	hold, err := env.eng.AcquireHold(ctx, slotID, 1, "owner-a", 0)
	require.NoError(t, err)
	entry, err := env.eng.JoinWaitlist(ctx, 7, nil, "owner-flex", 1)
	require.NoError(t, err)

	require.NoError(t, env.eng.ReleaseHold(ctx, hold.ID, "owner-a"))

	got := env.store.entrySnapshot(entry.ID)
	assert.Equal(t, model.WaitlistPromoted, got.State)
	require.NotNil(t, got.PromotedHoldID)
	assert.Equal(t, slotID, env.store.holdSnapshot(*got.PromotedHoldID).SlotID)
}

// A promoted entry that never acts loses its window: the sweep expires
// the promotion hold and drops the entry instead of re-queueing it.
func TestWaitlist_PromotionWindowExpiresEntry(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	slotID := env.store.addSlot(1, 1, 1000, futureStart(env))

	hold, err := env.eng.AcquireHold(ctx, slotID, 1, "owner-a", 0)
	require.NoError(t, err)
	entry, err := env.eng.JoinWaitlist(ctx, 1, &slotID, "owner-b", 1)
	require.NoError(t, err)
	require.NoError(t, env.eng.ReleaseHold(ctx, hold.ID, "owner-a"))
	require.Equal(t, model.WaitlistPromoted, env.store.entrySnapshot(entry.ID).State)

	env.clock.Advance(11 * time.Minute)
	swept, err := env.eng.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	assert.Equal(t, model.WaitlistExpired, env.store.entrySnapshot(entry.ID).State)
	assert.Equal(t, uint32(0), env.store.slotSnapshot(slotID).CapacityHeld)
}

// A withdrawn entry cannot be promoted; its would-be promotion hold is
// handed straight back.
func TestWaitlist_WithdrawnEntryNotPromoted(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	slotID := env.store.addSlot(1, 1, 1000, futureStart(env))

	hold, err := env.eng.AcquireHold(ctx, slotID, 1, "owner-a", 0)
	require.NoError(t, err)
	entry, err := env.eng.JoinWaitlist(ctx, 1, &slotID, "owner-b", 1)
	require.NoError(t, err)
	require.NoError(t, env.eng.WithdrawFromWaitlist(ctx, entry.ID, "owner-b"))

	require.NoError(t, env.eng.ReleaseHold(ctx, hold.ID, "owner-a"))

	assert.Equal(t, model.WaitlistWithdrawn, env.store.entrySnapshot(entry.ID).State)
	assert.Equal(t, uint32(0), env.store.slotSnapshot(slotID).CapacityHeld)
	assert.Equal(t, 0, env.sink.Count("waitlist.promoted"))
}

// End-to-end contention: B loses the race, waits, and is promoted the
// moment A's confirmed booking is cancelled.
func TestWaitlist_EndToEndContention(t *testing.T) {
	env := newTestEnv()
	env.auth.approveAll()
	ctx := context.Background()
	slotID := env.store.addSlot(1, 1, 1000, futureStart(env))

	holdA, err := env.eng.AcquireHold(ctx, slotID, 1, "owner-a", 0)
	require.NoError(t, err)

	_, err = env.eng.AcquireHold(ctx, slotID, 1, "owner-b", 0)
	require.ErrorIs(t, err, ErrInsufficientCapacity)
	entry, err := env.eng.JoinWaitlist(ctx, 1, &slotID, "owner-b", 1)
	require.NoError(t, err)

	booking, err := env.eng.StartCheckout(ctx, holdA.ID, "owner-a")
	require.NoError(t, err)
	confirmed, err := env.eng.ConfirmBooking(ctx, booking.ID, "owner-a", "card")
	require.NoError(t, err)
	// Confirmation keeps the slot full; B stays waiting.
	require.Equal(t, model.WaitlistWaiting, env.store.entrySnapshot(entry.ID).State)

	require.NoError(t, env.eng.CancelBooking(ctx, confirmed.ID, "owner-a"))

	got := env.store.entrySnapshot(entry.ID)
	assert.Equal(t, model.WaitlistPromoted, got.State)
	require.NotNil(t, got.PromotedHoldID)

	// B completes checkout on the promotion hold.
	bBooking, err := env.eng.StartCheckout(ctx, *got.PromotedHoldID, "owner-b")
	require.NoError(t, err)
	bConfirmed, err := env.eng.ConfirmBooking(ctx, bBooking.ID, "owner-b", "card")
	require.NoError(t, err)
	assert.Equal(t, model.BookingConfirmed, bConfirmed.State)
	assert.Equal(t, uint32(1), env.store.slotSnapshot(slotID).CapacityConfirmed)
}

// An owner can sit on the waitlist while already holding capacity on
// the slot.  Promotion must not hand their entry the existing hold:
// the entry stays waiting, the live hold keeps its own state and TTL,
// and the freed units go to the next entry instead.
func TestWaitlist_OwnerWithLiveHoldSkipped(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	slotID := env.store.addSlot(1, 3, 1000, futureStart(env))

	direct, err := env.eng.AcquireHold(ctx, slotID, 1, "owner-a", 0)
	require.NoError(t, err)
	filler, err := env.eng.AcquireHold(ctx, slotID, 2, "owner-x", 0)
	require.NoError(t, err)

	entryA, err := env.eng.JoinWaitlist(ctx, 1, &slotID, "owner-a", 1)
	require.NoError(t, err)
	entryB, err := env.eng.JoinWaitlist(ctx, 1, &slotID, "owner-b", 1)
	require.NoError(t, err)

	require.NoError(t, env.eng.ReleaseHold(ctx, filler.ID, "owner-x"))

	// A's entry is passed over, not tied to the checkout hold.
	gotA := env.store.entrySnapshot(entryA.ID)
	assert.Equal(t, model.WaitlistWaiting, gotA.State)
	assert.Nil(t, gotA.PromotedHoldID)

	// The live hold is untouched: still active, original expiry, not
	// restamped with the promotion window.
	kept := env.store.holdSnapshot(direct.ID)
	assert.Equal(t, model.HoldActive, kept.State)
	assert.Equal(t, direct.ExpiresAt, kept.ExpiresAt)

	// B, behind A, gets the units.
	gotB := env.store.entrySnapshot(entryB.ID)
	assert.Equal(t, model.WaitlistPromoted, gotB.State)
	require.NotNil(t, gotB.PromotedHoldID)
	assert.NotEqual(t, direct.ID, *gotB.PromotedHoldID)

	assert.Equal(t, 1, env.sink.Count("waitlist.promoted"))
	assert.Equal(t, uint32(2), env.store.slotSnapshot(slotID).CapacityHeld)
}

// A promotion attempt that loses its capacity claim to a direct
// acquisition leaves the entry waiting and moves on to the next entry
// in line rather than aborting the scan.
func TestWaitlist_PromotionRacedByDirectAcquire(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	slotID := env.store.addSlot(1, 3, 1000, futureStart(env))

	filler, err := env.eng.AcquireHold(ctx, slotID, 3, "owner-x", 0)
	require.NoError(t, err)
	entryA, err := env.eng.JoinWaitlist(ctx, 1, &slotID, "owner-a", 2)
	require.NoError(t, err)
	entryB, err := env.eng.JoinWaitlist(ctx, 1, &slotID, "owner-b", 1)
	require.NoError(t, err)

	// Snipe two of the three freed units the instant A's promotion
	// tries to claim them.
	env.store.beforeClaim = func() {
		env.store.beforeClaim = nil
		_, err := env.eng.AcquireHold(ctx, slotID, 2, "owner-rival", 0)
		require.NoError(t, err)
	}

	require.NoError(t, env.eng.ReleaseHold(ctx, filler.ID, "owner-x"))

	// A lost the race and stays waiting; the scan went on to B, whose
	// single unit still fits.
	gotA := env.store.entrySnapshot(entryA.ID)
	assert.Equal(t, model.WaitlistWaiting, gotA.State)
	assert.Nil(t, gotA.PromotedHoldID)

	gotB := env.store.entrySnapshot(entryB.ID)
	assert.Equal(t, model.WaitlistPromoted, gotB.State)
	require.NotNil(t, gotB.PromotedHoldID)
	assert.Equal(t, "owner-b", env.store.holdSnapshot(*gotB.PromotedHoldID).OwnerToken)

	assert.Equal(t, 1, env.sink.Count("waitlist.promoted"))
	assert.Equal(t, uint32(3), env.store.slotSnapshot(slotID).CapacityHeld)
}
