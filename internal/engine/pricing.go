package engine

import "math"

// Group discount tiers, applied per booking over the slot's unit price.
// Bookings of five or more units get the deeper tier.
const (
	groupTierSmall     = 3
	groupTierLarge     = 5
	groupDiscountSmall = 5  // percent
	groupDiscountLarge = 10 // percent
)

// bookingAmount computes the total charge in cents for units of a slot,
// with the group discount already applied.  Rounding is always down, in
// the buyer's favour.  Totals that do not fit the cents column are
// rejected with ErrAmountOverflow rather than silently wrapped.
func bookingAmount(unitPriceCents uint32, units uint32) (uint32, error) {
	gross := uint64(unitPriceCents) * uint64(units)
	switch {
	case units >= groupTierLarge:
		gross -= gross * groupDiscountLarge / 100
	case units >= groupTierSmall:
		gross -= gross * groupDiscountSmall / 100
	}
	if gross > math.MaxUint32 {
		return 0, ErrAmountOverflow
	}
	return uint32(gross), nil
}
