package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/dkaryakin/booking-engine/internal/engine"
	"github.com/dkaryakin/booking-engine/internal/repository"
)

// ownerToken extracts the authenticated owner token placed in context
// by the JWT middleware.  Handlers behind that middleware can rely on
// it being present; an empty value means the route was wired without
// authentication.
func ownerToken(c echo.Context) (string, error) {
	v, ok := c.Get("owner_token").(string)
	if !ok || v == "" {
		return "", errors.New("missing owner token")
	}
	return v, nil
}

// pathID parses a positive uint64 path parameter.
func pathID(c echo.Context, name string) (uint64, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, errors.New("invalid " + name)
	}
	return id, nil
}

// engineError maps engine and repository errors onto HTTP responses.
// Capacity rejections are conflicts the client can react to (retry
// another slot, join the waitlist); they are not server errors.
func engineError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, engine.ErrInsufficientCapacity):
		return c.JSON(http.StatusConflict, echo.Map{
			"error":    "insufficient_capacity",
			"waitlist": "POST /v1/waitlist",
		})
	case errors.Is(err, engine.ErrHoldExpired):
		return c.JSON(http.StatusGone, echo.Map{"error": "hold_expired"})
	case errors.Is(err, engine.ErrHoldAlreadyRenewed):
		return c.JSON(http.StatusConflict, echo.Map{"error": "hold_already_renewed"})
	case errors.Is(err, engine.ErrPaymentDeclined):
		return c.JSON(http.StatusPaymentRequired, echo.Map{"error": "payment_declined"})
	case errors.Is(err, engine.ErrInvalidTransition):
		return c.JSON(http.StatusConflict, echo.Map{"error": "invalid_transition"})
	case errors.Is(err, engine.ErrSlotPast):
		return c.JSON(http.StatusConflict, echo.Map{"error": "slot_in_past"})
	case errors.Is(err, engine.ErrInvalidUnits):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_units"})
	case errors.Is(err, engine.ErrAmountOverflow):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "amount_overflow"})
	case errors.Is(err, engine.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	case errors.Is(err, repository.ErrSlotNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "slot not found"})
	case errors.Is(err, repository.ErrHoldNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "hold not found"})
	case errors.Is(err, repository.ErrBookingNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "booking not found"})
	case errors.Is(err, repository.ErrEntryNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "waitlist entry not found"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
}
