package engine

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/dkaryakin/booking-engine/internal/model"
	"github.com/dkaryakin/booking-engine/internal/repository"
)

// passRunner substitutes the transactional runner for unit tests: the
// in-memory store applies each mutation atomically on its own, so the
// function simply runs without a transaction handle.
type passRunner struct{}

func (passRunner) RunTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return fn(nil)
}

// fakeClock is a settable time source shared by the engine and the
// store so tests can move past hold TTLs deterministically.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// memStore holds all in-process state.  Every accessor takes the store
// lock, which reproduces the atomicity of the guarded single-statement
// updates the SQL repositories issue.  The four store interfaces are
// exposed through thin views over this shared state.
type memStore struct {
	mu       sync.Mutex
	slots    map[uint64]*model.Slot
	holds    map[uint64]*model.Hold
	bookings map[uint64]*model.Booking
	entries  map[uint64]*model.WaitlistEntry
	seq      uint64
	now      func() time.Time

	// beforeClaim, when set, runs before a capacity claim takes the
	// store lock.  Tests use it to interleave a competing acquisition
	// at the exact point a promotion claims units.
	beforeClaim func()
}

func newMemStore(now func() time.Time) *memStore {
	return &memStore{
		slots:    make(map[uint64]*model.Slot),
		holds:    make(map[uint64]*model.Hold),
		bookings: make(map[uint64]*model.Booking),
		entries:  make(map[uint64]*model.WaitlistEntry),
		now:      now,
	}
}

// nextID must be called with the lock held.
func (m *memStore) nextID() uint64 {
	m.seq++
	return m.seq
}

func (m *memStore) addSlot(serviceID uint64, capacity, priceCents uint32, startsAt time.Time) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID()
	m.slots[id] = &model.Slot{
		ID:            id,
		ServiceID:     serviceID,
		ResourceID:    1,
		StartsAt:      startsAt,
		DurationMin:   60,
		CapacityTotal: capacity,
		PriceCents:    priceCents,
	}
	return id
}

func (m *memStore) slotSnapshot(slotID uint64) model.Slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.slots[slotID]
}

func (m *memStore) holdSnapshot(holdID uint64) model.Hold {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.holds[holdID]
}

func (m *memStore) bookingSnapshot(bookingID uint64) model.Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.bookings[bookingID]
}

func (m *memStore) entrySnapshot(entryID uint64) model.WaitlistEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.entries[entryID]
}

// memSlots implements SlotStore.

type memSlots struct{ *memStore }

func (m memSlots) Get(ctx context.Context, slotID uint64) (*model.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[slotID]
	if !ok {
		return nil, repository.ErrSlotNotFound
	}
	cp := *s
	return &cp, nil
}

func (m memSlots) GetTx(ctx context.Context, tx *sql.Tx, slotID uint64) (*model.Slot, error) {
	return m.Get(ctx, slotID)
}

func (m memSlots) ClaimCapacityTx(ctx context.Context, tx *sql.Tx, slotID uint64, units uint32) error {
	if hook := m.beforeClaim; hook != nil {
		hook()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[slotID]
	if !ok || s.IsPast || s.Remaining() < units {
		return repository.ErrCapacityExceeded
	}
	s.CapacityHeld += units
	return nil
}

func (m memSlots) ReleaseHeldTx(ctx context.Context, tx *sql.Tx, slotID uint64, units uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[slotID]
	if !ok || s.CapacityHeld < units {
		return repository.ErrSlotNotFound
	}
	s.CapacityHeld -= units
	return nil
}

func (m memSlots) ConvertHeldTx(ctx context.Context, tx *sql.Tx, slotID uint64, units uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[slotID]
	if !ok || s.CapacityHeld < units {
		return repository.ErrSlotNotFound
	}
	s.CapacityHeld -= units
	s.CapacityConfirmed += units
	return nil
}

func (m memSlots) ReleaseConfirmedTx(ctx context.Context, tx *sql.Tx, slotID uint64, units uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[slotID]
	if !ok || s.CapacityConfirmed < units {
		return repository.ErrSlotNotFound
	}
	s.CapacityConfirmed -= units
	return nil
}

func (m memSlots) MarkPastSlots(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var n int64
	for _, s := range m.slots {
		if !s.IsPast && !s.StartsAt.After(now) {
			s.IsPast = true
			n++
		}
	}
	return n, nil
}

// memHolds implements HoldStore.

type memHolds struct{ *memStore }

func (m memHolds) CreateTx(ctx context.Context, tx *sql.Tx, slotID uint64, ownerToken string, units uint32, expiresAt time.Time) (*model.Hold, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID()
	h := &model.Hold{
		ID:         id,
		SlotID:     slotID,
		OwnerToken: ownerToken,
		Units:      units,
		Token:      fmt.Sprintf("tok-%d", id),
		State:      model.HoldActive,
		ExpiresAt:  expiresAt,
		CreatedAt:  m.now(),
	}
	m.holds[id] = h
	cp := *h
	return &cp, nil
}

func (m memHolds) Get(ctx context.Context, holdID uint64) (*model.Hold, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.holds[holdID]
	if !ok {
		return nil, repository.ErrHoldNotFound
	}
	cp := *h
	return &cp, nil
}

func (m memHolds) GetTx(ctx context.Context, tx *sql.Tx, holdID uint64) (*model.Hold, error) {
	return m.Get(ctx, holdID)
}

func (m memHolds) ActiveBySlotAndOwnerTx(ctx context.Context, tx *sql.Tx, slotID uint64, ownerToken string) (*model.Hold, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for _, h := range m.holds {
		if h.SlotID == slotID && h.OwnerToken == ownerToken && h.State == model.HoldActive && h.ExpiresAt.After(now) {
			cp := *h
			return &cp, nil
		}
	}
	return nil, nil
}

func (m memHolds) TransitionTx(ctx context.Context, tx *sql.Tx, holdID uint64, state string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.holds[holdID]
	if !ok || h.State != model.HoldActive {
		return false, nil
	}
	h.State = state
	return true, nil
}

func (m memHolds) ConvertTx(ctx context.Context, tx *sql.Tx, holdID uint64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.holds[holdID]
	if !ok || h.State != model.HoldActive || !h.ExpiresAt.After(m.now()) {
		return false, nil
	}
	h.State = model.HoldConverted
	return true, nil
}

func (m memHolds) RenewTx(ctx context.Context, tx *sql.Tx, holdID uint64, expiresAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.holds[holdID]
	if !ok || h.State != model.HoldActive || h.Renewed || !h.ExpiresAt.After(m.now()) {
		return false, nil
	}
	h.ExpiresAt = expiresAt
	h.Renewed = true
	return true, nil
}

func (m memHolds) ExpireBySlotTx(ctx context.Context, tx *sql.Tx, slotID uint64) ([]model.Hold, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Select first, then transition exactly the selected ids, matching
	// the SQL repository's two-statement shape.
	now := m.now()
	var ids []uint64
	for id := uint64(1); id <= m.seq; id++ {
		h, ok := m.holds[id]
		if ok && h.SlotID == slotID && h.State == model.HoldActive && !h.ExpiresAt.After(now) {
			ids = append(ids, id)
		}
	}
	expired := make([]model.Hold, 0, len(ids))
	for _, id := range ids {
		h := m.holds[id]
		h.State = model.HoldExpired
		expired = append(expired, *h)
	}
	return expired, nil
}

func (m memHolds) SlotsWithExpiredHolds(ctx context.Context) ([]uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	seen := make(map[uint64]bool)
	var slotIDs []uint64
	for id := uint64(1); id <= m.seq; id++ {
		h, ok := m.holds[id]
		if ok && h.State == model.HoldActive && !h.ExpiresAt.After(now) && !seen[h.SlotID] {
			seen[h.SlotID] = true
			slotIDs = append(slotIDs, h.SlotID)
		}
	}
	return slotIDs, nil
}

// memBookings implements BookingStore.

type memBookings struct{ *memStore }

func (m memBookings) CreateTx(ctx context.Context, tx *sql.Tx, slotID, holdID uint64, ownerToken string, units, amountCents uint32) (*model.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID()
	hid := holdID
	b := &model.Booking{
		ID:            id,
		SlotID:        slotID,
		HoldID:        &hid,
		OwnerToken:    ownerToken,
		UnitsReserved: units,
		State:         model.BookingPendingPayment,
		AmountCents:   amountCents,
		CreatedAt:     m.now(),
	}
	m.bookings[id] = b
	cp := *b
	return &cp, nil
}

func (m memBookings) Get(ctx context.Context, bookingID uint64) (*model.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[bookingID]
	if !ok {
		return nil, repository.ErrBookingNotFound
	}
	cp := *b
	return &cp, nil
}

func (m memBookings) GetTx(ctx context.Context, tx *sql.Tx, bookingID uint64) (*model.Booking, error) {
	return m.Get(ctx, bookingID)
}

func (m memBookings) PendingByHoldTx(ctx context.Context, tx *sql.Tx, holdID uint64) (*model.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.bookings {
		if b.HoldID != nil && *b.HoldID == holdID && b.State == model.BookingPendingPayment {
			cp := *b
			return &cp, nil
		}
	}
	return nil, nil
}

func (m memBookings) ConfirmTx(ctx context.Context, tx *sql.Tx, bookingID uint64, paymentRef string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[bookingID]
	if !ok || b.State != model.BookingPendingPayment {
		return false, nil
	}
	ref := paymentRef
	b.State = model.BookingConfirmed
	b.PaymentRef = &ref
	b.HoldID = nil
	return true, nil
}

func (m memBookings) TransitionTx(ctx context.Context, tx *sql.Tx, bookingID uint64, from, to string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[bookingID]
	if !ok || b.State != from {
		return false, nil
	}
	b.State = to
	if b.Terminal() {
		now := m.now()
		b.CancelledAt = &now
	}
	return true, nil
}

func (m memBookings) InsertConfirmedTx(ctx context.Context, tx *sql.Tx, slotID uint64, ownerToken string, units, amountCents uint32, paymentRef string) (*model.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID()
	ref := paymentRef
	b := &model.Booking{
		ID:            id,
		SlotID:        slotID,
		OwnerToken:    ownerToken,
		UnitsReserved: units,
		State:         model.BookingConfirmed,
		PaymentRef:    &ref,
		AmountCents:   amountCents,
		CreatedAt:     m.now(),
	}
	m.bookings[id] = b
	cp := *b
	return &cp, nil
}

// memWaitlist implements WaitlistStore.

type memWaitlist struct{ *memStore }

func (m memWaitlist) Create(ctx context.Context, serviceID uint64, slotID *uint64, ownerToken string, units uint32) (*model.WaitlistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID()
	e := &model.WaitlistEntry{
		ID:         id,
		ServiceID:  serviceID,
		SlotID:     slotID,
		OwnerToken: ownerToken,
		Units:      units,
		State:      model.WaitlistWaiting,
		CreatedAt:  m.now(),
	}
	m.entries[id] = e
	cp := *e
	return &cp, nil
}

func (m memWaitlist) Get(ctx context.Context, entryID uint64) (*model.WaitlistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[entryID]
	if !ok {
		return nil, repository.ErrEntryNotFound
	}
	cp := *e
	return &cp, nil
}

func (m memWaitlist) WaitingByServiceAndOwner(ctx context.Context, serviceID uint64, ownerToken string) (*model.WaitlistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.ServiceID == serviceID && e.OwnerToken == ownerToken && e.State == model.WaitlistWaiting {
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

func (m memWaitlist) WaitingForSlot(ctx context.Context, slotID, serviceID uint64) ([]model.WaitlistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pinned := make([]model.WaitlistEntry, 0)
	flexible := make([]model.WaitlistEntry, 0)
	for id := uint64(1); id <= m.seq; id++ {
		e, ok := m.entries[id]
		if !ok || e.State != model.WaitlistWaiting {
			continue
		}
		switch {
		case e.SlotID != nil && *e.SlotID == slotID:
			pinned = append(pinned, *e)
		case e.SlotID == nil && e.ServiceID == serviceID:
			flexible = append(flexible, *e)
		}
	}
	return append(pinned, flexible...), nil
}

func (m memWaitlist) MarkPromoted(ctx context.Context, entryID, holdID uint64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[entryID]
	if !ok || e.State != model.WaitlistWaiting {
		return false, nil
	}
	hid := holdID
	e.State = model.WaitlistPromoted
	e.PromotedHoldID = &hid
	return true, nil
}

func (m memWaitlist) Withdraw(ctx context.Context, entryID uint64, ownerToken string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[entryID]
	if !ok || e.State != model.WaitlistWaiting || e.OwnerToken != ownerToken {
		return false, nil
	}
	e.State = model.WaitlistWithdrawn
	return true, nil
}

func (m memWaitlist) ExpirePromotedByHoldTx(ctx context.Context, tx *sql.Tx, holdID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.State == model.WaitlistPromoted && e.PromotedHoldID != nil && *e.PromotedHoldID == holdID {
			e.State = model.WaitlistExpired
		}
	}
	return nil
}

// recordingSink collects every emitted event kind in order.
type recordingSink struct {
	mu    sync.Mutex
	kinds []string
}

func (s *recordingSink) record(kind string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kinds = append(s.kinds, kind)
}

func (s *recordingSink) Kinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.kinds))
	copy(out, s.kinds)
	return out
}

func (s *recordingSink) Count(kind string) int {
	n := 0
	for _, k := range s.Kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

func (s *recordingSink) HoldCreated(ctx context.Context, h model.Hold)  { s.record("hold.created") }
func (s *recordingSink) HoldReleased(ctx context.Context, h model.Hold) { s.record("hold.released") }
func (s *recordingSink) HoldExpired(ctx context.Context, h model.Hold)  { s.record("hold.expired") }
func (s *recordingSink) BookingConfirmed(ctx context.Context, b model.Booking) {
	s.record("booking.confirmed")
}
func (s *recordingSink) BookingCancelled(ctx context.Context, b model.Booking) {
	s.record("booking.cancelled")
}
func (s *recordingSink) WaitlistPromoted(ctx context.Context, e model.WaitlistEntry, h model.Hold) {
	s.record("waitlist.promoted")
}

// mockAuthorizer is a testify mock over the payment collaborator.
type mockAuthorizer struct {
	mock.Mock
}

func (m *mockAuthorizer) Authorize(ctx context.Context, req AuthorizationRequest) (*Authorization, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Authorization), args.Error(1)
}

func (m *mockAuthorizer) approveAll() {
	m.On("Authorize", mock.Anything, mock.Anything).
		Return(&Authorization{Status: PaymentAuthorized, Ref: "pi_test"}, nil)
}

func (m *mockAuthorizer) declineAll() {
	m.On("Authorize", mock.Anything, mock.Anything).
		Return(&Authorization{Status: PaymentDeclined}, nil)
}

// testEnv bundles an engine wired over the in-memory store.
type testEnv struct {
	store *memStore
	sink  *recordingSink
	auth  *mockAuthorizer
	clock *fakeClock
	eng   *Engine
}

func newTestEnv() *testEnv {
	clock := &fakeClock{t: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
	store := newMemStore(clock.Now)
	sink := &recordingSink{}
	auth := &mockAuthorizer{}
	eng := &Engine{
		tx:       passRunner{},
		slots:    memSlots{store},
		holds:    memHolds{store},
		bookings: memBookings{store},
		waitlist: memWaitlist{store},
		payments: auth,
		events:   sink,
		logger:   zap.NewNop(),
		cfg:      DefaultConfig(),
		now:      clock.Now,
	}
	return &testEnv{store: store, sink: sink, auth: auth, clock: clock, eng: eng}
}
