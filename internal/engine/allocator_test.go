package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Group reservation is all-or-nothing: a group that does not fit leaves
// the counters exactly as they were.
func TestReserveGroup_AllOrNothing(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	slotID := env.store.addSlot(1, 5, 1000, futureStart(env))

	_, err := env.eng.AcquireHold(ctx, slotID, 2, "owner-a", 0)
	require.NoError(t, err)

	_, err = env.eng.ReserveGroup(ctx, slotID, 4, "owner-group", 0)
	assert.ErrorIs(t, err, ErrInsufficientCapacity)
	assert.Equal(t, uint32(2), env.store.slotSnapshot(slotID).CapacityHeld)

	hold, err := env.eng.ReserveGroup(ctx, slotID, 3, "owner-group", 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), hold.Units)
	assert.Equal(t, uint32(5), env.store.slotSnapshot(slotID).CapacityHeld)
}

func TestReserveGroup_InvalidSize(t *testing.T) {
	env := newTestEnv()
	slotID := env.store.addSlot(1, 5, 1000, futureStart(env))

	_, err := env.eng.ReserveGroup(context.Background(), slotID, 0, "owner-a", 0)
	assert.ErrorIs(t, err, ErrInvalidUnits)
}

// Two groups race for a slot that can only fit one of them; exactly one
// wins and no partial claim survives.
func TestReserveGroup_ConcurrentRace(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	slotID := env.store.addSlot(1, 5, 1000, futureStart(env))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for _, owner := range []string{"group-x", "group-y"} {
		wg.Add(1)
		go func(owner string) {
			defer wg.Done()
			_, err := env.eng.ReserveGroup(ctx, slotID, 4, owner, 0)
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(owner)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, uint32(4), env.store.slotSnapshot(slotID).CapacityHeld)
}

func TestQuoteGroup(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	slotID := env.store.addSlot(1, 10, 2000, futureStart(env))

	quote, err := env.eng.QuoteGroup(ctx, slotID, 5)
	require.NoError(t, err)
	assert.Equal(t, uint32(9000), quote)

	quote, err = env.eng.QuoteGroup(ctx, slotID, 2)
	require.NoError(t, err)
	assert.Equal(t, uint32(4000), quote)
}
