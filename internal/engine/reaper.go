package engine

import (
	"context"
	"database/sql"
	"time"

	"github.com/dkaryakin/booking-engine/internal/model"
	"go.uber.org/zap"
)

// Reaper is the background safety net behind the lazy sweeps: it
// expires overdue holds on slots nobody is touching and retires slots
// whose start time has passed.  Expiry correctness never depends on it
// running; it only bounds how long idle slots keep stale counters.
type Reaper struct {
	engine   *Engine
	interval time.Duration
	logger   *zap.Logger
}

// NewReaper builds a reaper over the engine.  A non-positive interval
// falls back to one minute.
func NewReaper(engine *Engine, interval time.Duration, logger *zap.Logger) *Reaper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reaper{engine: engine, interval: interval, logger: logger}
}

// Run loops until the context is cancelled.  A failed pass backs off
// exponentially up to five intervals before returning to the normal
// cadence on the next success.
func (r *Reaper) Run(ctx context.Context) {
	r.logger.Info("reaper started", zap.Duration("interval", r.interval))
	delay := r.interval
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reaper stopped")
			return
		case <-time.After(delay):
		}
		if err := r.pass(ctx); err != nil {
			delay *= 2
			if max := 5 * r.interval; delay > max {
				delay = max
			}
			r.logger.Error("reaper pass failed", zap.Duration("retry_in", delay), zap.Error(err))
			continue
		}
		delay = r.interval
	}
}

func (r *Reaper) pass(ctx context.Context) error {
	swept, err := r.engine.SweepExpired(ctx)
	if err != nil {
		return err
	}
	retired, err := r.engine.slots.MarkPastSlots(ctx)
	if err != nil {
		return err
	}
	if swept > 0 || retired > 0 {
		r.logger.Info("reaper pass",
			zap.Int("holds_swept", swept),
			zap.Int64("slots_retired", retired))
	}
	return nil
}

// SweepExpired expires overdue holds across all slots that have any,
// one transaction per slot so a large backlog never holds one long
// transaction open.  Freed units are offered to the waitlist.  Returns
// the number of holds transitioned.
func (e *Engine) SweepExpired(ctx context.Context) (int, error) {
	slotIDs, err := e.holds.SlotsWithExpiredHolds(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, slotID := range slotIDs {
		var (
			swept []model.Hold
			units uint32
		)
		err := e.tx.RunTx(ctx, func(tx *sql.Tx) error {
			var err error
			swept, units, err = e.expireSlotHoldsTx(ctx, tx, slotID)
			return err
		})
		if err != nil {
			return total, err
		}
		e.afterSweep(ctx, slotID, swept, units, true)
		total += len(swept)
	}
	return total, nil
}
