package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/dkaryakin/booking-engine/internal/engine"
	"github.com/dkaryakin/booking-engine/internal/model"
	"github.com/dkaryakin/booking-engine/internal/repository"
)

// BookingHandler exposes the checkout and booking lifecycle.  Payment
// happens inside ConfirmBooking via the engine's injected authorizer;
// the handler only shapes requests and responses.
type BookingHandler struct {
	Engine   *engine.Engine
	Bookings *repository.BookingRepo
}

// NewBookingHandler constructs a BookingHandler.  Dependencies must be
// non-nil.
func NewBookingHandler(eng *engine.Engine, bookings *repository.BookingRepo) *BookingHandler {
	if eng == nil || bookings == nil {
		panic("nil dependency passed to NewBookingHandler")
	}
	return &BookingHandler{Engine: eng, Bookings: bookings}
}

type bookingResponse struct {
	ID          uint64  `json:"id"`
	SlotID      uint64  `json:"slot_id"`
	HoldID      *uint64 `json:"hold_id,omitempty"`
	Units       uint32  `json:"units"`
	State       string  `json:"state"`
	AmountCents uint32  `json:"amount_cents"`
	PaymentRef  *string `json:"payment_ref,omitempty"`
	CreatedAt   string  `json:"created_at"`
}

func toBookingResponse(b *model.Booking) bookingResponse {
	return bookingResponse{
		ID:          b.ID,
		SlotID:      b.SlotID,
		HoldID:      b.HoldID,
		Units:       b.UnitsReserved,
		State:       b.State,
		AmountCents: b.AmountCents,
		PaymentRef:  b.PaymentRef,
		CreatedAt:   b.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// StartCheckout handles POST /v1/holds/:id/checkout.  It opens the
// PENDING_PAYMENT booking for an active hold; repeating the call
// returns the booking already in flight.
func (h *BookingHandler) StartCheckout(c echo.Context) error {
	owner, err := ownerToken(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	holdID, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid hold id"})
	}
	booking, err := h.Engine.StartCheckout(c.Request().Context(), holdID, owner)
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(http.StatusCreated, toBookingResponse(booking))
}

// Confirm handles POST /v1/bookings/:id/confirm.  The body names the
// payment method; the engine authorizes it and converts the hold.
func (h *BookingHandler) Confirm(c echo.Context) error {
	owner, err := ownerToken(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	bookingID, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid booking id"})
	}
	var body struct {
		Method string `json:"method"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.Method == "" {
		body.Method = "card"
	}
	booking, err := h.Engine.ConfirmBooking(c.Request().Context(), bookingID, owner, body.Method)
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(http.StatusOK, toBookingResponse(booking))
}

// Cancel handles DELETE /v1/bookings/:id.  Cancelling an already
// cancelled booking succeeds quietly.
func (h *BookingHandler) Cancel(c echo.Context) error {
	owner, err := ownerToken(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	bookingID, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid booking id"})
	}
	if err := h.Engine.CancelBooking(c.Request().Context(), bookingID, owner); err != nil {
		return engineError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Reschedule handles POST /v1/bookings/:id/reschedule.  The caller
// acquires a hold on the target slot first and passes its id here.
func (h *BookingHandler) Reschedule(c echo.Context) error {
	owner, err := ownerToken(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	bookingID, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid booking id"})
	}
	var body struct {
		HoldID uint64 `json:"hold_id"`
	}
	if err := c.Bind(&body); err != nil || body.HoldID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "hold_id is required"})
	}
	booking, err := h.Engine.RescheduleBooking(c.Request().Context(), bookingID, body.HoldID, owner)
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(http.StatusOK, toBookingResponse(booking))
}

// MarkNoShow handles POST /v1/bookings/:id/no-show.  Catalog-side
// operators use it after the slot has passed; units stay confirmed.
func (h *BookingHandler) MarkNoShow(c echo.Context) error {
	bookingID, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid booking id"})
	}
	if err := h.Engine.MarkNoShow(c.Request().Context(), bookingID); err != nil {
		return engineError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Get handles GET /v1/bookings/:id.
func (h *BookingHandler) Get(c echo.Context) error {
	owner, err := ownerToken(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	bookingID, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid booking id"})
	}
	booking, err := h.Engine.GetBooking(c.Request().Context(), bookingID, owner)
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(http.StatusOK, toBookingResponse(booking))
}

// List handles GET /v1/bookings and returns the caller's bookings,
// newest first.
func (h *BookingHandler) List(c echo.Context) error {
	owner, err := ownerToken(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	bookings, err := h.Bookings.ListByOwner(c.Request().Context(), owner)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	out := make([]bookingResponse, 0, len(bookings))
	for i := range bookings {
		out = append(out, toBookingResponse(&bookings[i]))
	}
	return c.JSON(http.StatusOK, echo.Map{"bookings": out})
}
