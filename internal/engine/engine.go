package engine

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"
)

// Config holds the engine's tuning knobs.  TTLs bound how long capacity
// can sit in a provisional hold so checkout stragglers cannot starve
// other requesters.
type Config struct {
	HoldTTLDefault time.Duration // applied when the caller passes no TTL
	HoldTTLMin     time.Duration // floor for caller-supplied TTLs
	HoldTTLMax     time.Duration // ceiling for caller-supplied TTLs and renewals
	PromotionTTL   time.Duration // response window granted to promoted waitlist entries
}

// DefaultConfig returns the TTL bounds used when no overrides are
// configured: holds live minutes, not hours.
func DefaultConfig() Config {
	return Config{
		HoldTTLDefault: 5 * time.Minute,
		HoldTTLMin:     time.Minute,
		HoldTTLMax:     15 * time.Minute,
		PromotionTTL:   10 * time.Minute,
	}
}

// clampTTL normalizes a caller-supplied TTL into the configured bounds.
func (c Config) clampTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return c.HoldTTLDefault
	}
	if ttl < c.HoldTTLMin {
		return c.HoldTTLMin
	}
	if ttl > c.HoldTTLMax {
		return c.HoldTTLMax
	}
	return ttl
}

// txRunner scopes a function to a transaction.  The production runner
// wraps *sql.DB; unit tests substitute a pass-through so the engine can
// run against in-memory stores.
type txRunner interface {
	RunTx(ctx context.Context, fn func(tx *sql.Tx) error) error
}

type sqlRunner struct {
	db *sql.DB
}

func (r sqlRunner) RunTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// Engine coordinates holds, bookings, the waitlist and group
// reservation over the stores.  All methods are safe for concurrent
// use; the only serialization point is the per-slot conditional update
// inside the slot store.
type Engine struct {
	tx       txRunner
	slots    SlotStore
	holds    HoldStore
	bookings BookingStore
	waitlist WaitlistStore
	payments PaymentAuthorizer
	events   EventSink
	logger   *zap.Logger
	cfg      Config
	now      func() time.Time
}

// New wires an Engine over a live database handle.  All collaborators
// must be non-nil.
func New(db *sql.DB, slots SlotStore, holds HoldStore, bookings BookingStore, waitlist WaitlistStore,
	payments PaymentAuthorizer, events EventSink, logger *zap.Logger, cfg Config) *Engine {
	if db == nil || slots == nil || holds == nil || bookings == nil || waitlist == nil ||
		payments == nil || events == nil || logger == nil {
		panic("nil dependency passed to engine.New")
	}
	return &Engine{
		tx:       sqlRunner{db: db},
		slots:    slots,
		holds:    holds,
		bookings: bookings,
		waitlist: waitlist,
		payments: payments,
		events:   events,
		logger:   logger,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}
