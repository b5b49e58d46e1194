package payment

import (
	"context"
	"strings"

	"github.com/dkaryakin/booking-engine/internal/engine"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SimulatedAuthorizer stands in for a real payment gateway.  It
// authorizes everything except requests whose method carries a
// "declined" marker, which integration environments use to exercise the
// decline path end to end.
type SimulatedAuthorizer struct {
	logger *zap.Logger
}

// NewSimulatedAuthorizer returns a gateway stand-in logging through the
// given logger.
func NewSimulatedAuthorizer(logger *zap.Logger) *SimulatedAuthorizer {
	return &SimulatedAuthorizer{logger: logger}
}

// Authorize issues a synthetic authorization reference.  The reference
// is unique per call so confirmed bookings stay traceable even in
// simulation.
func (a *SimulatedAuthorizer) Authorize(ctx context.Context, req engine.AuthorizationRequest) (*engine.Authorization, error) {
	if strings.Contains(strings.ToLower(req.Method), "declined") {
		a.logger.Info("payment declined",
			zap.Uint64("booking_id", req.BookingID),
			zap.Uint32("amount_cents", req.AmountCents))
		return &engine.Authorization{Status: engine.PaymentDeclined}, nil
	}
	ref := "pi_" + uuid.New().String()
	a.logger.Info("payment authorized",
		zap.Uint64("booking_id", req.BookingID),
		zap.Uint32("amount_cents", req.AmountCents),
		zap.String("ref", ref))
	return &engine.Authorization{Status: engine.PaymentAuthorized, Ref: ref}, nil
}
