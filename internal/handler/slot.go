package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/dkaryakin/booking-engine/internal/engine"
	"github.com/dkaryakin/booking-engine/internal/model"
	"github.com/dkaryakin/booking-engine/internal/repository"
)

// SlotHandler exposes slot publishing for the catalog and availability
// reads for clients.  Capacity always arrives from the catalog; nothing
// here infers or recomputes it.
type SlotHandler struct {
	Engine *engine.Engine
	Slots  *repository.SlotRepo
}

// NewSlotHandler constructs a SlotHandler.  Dependencies must be
// non-nil.
func NewSlotHandler(eng *engine.Engine, slots *repository.SlotRepo) *SlotHandler {
	if eng == nil || slots == nil {
		panic("nil dependency passed to NewSlotHandler")
	}
	return &SlotHandler{Engine: eng, Slots: slots}
}

type publishSlot struct {
	ServiceID     uint64 `json:"service_id"`
	ResourceID    uint64 `json:"resource_id"`
	StartsAt      string `json:"starts_at"` // RFC3339
	DurationMin   uint32 `json:"duration_min"`
	CapacityTotal uint32 `json:"capacity_total"`
	PriceCents    uint32 `json:"price_cents"`
}

// Publish handles POST /v1/slots.  The catalog submits a batch of slots
// with their total capacity; rows are inserted in one statement.
func (h *SlotHandler) Publish(c echo.Context) error {
	var body struct {
		Slots []publishSlot `json:"slots"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if len(body.Slots) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "slots is required"})
	}
	rows := make([]model.Slot, 0, len(body.Slots))
	for _, s := range body.Slots {
		if s.ServiceID == 0 || s.ResourceID == 0 || s.CapacityTotal == 0 || s.DurationMin == 0 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "service_id, resource_id, duration_min and capacity_total are required"})
		}
		startsAt, err := time.Parse(time.RFC3339, s.StartsAt)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "starts_at must be RFC3339"})
		}
		rows = append(rows, model.Slot{
			ServiceID:     s.ServiceID,
			ResourceID:    s.ResourceID,
			StartsAt:      startsAt.UTC(),
			DurationMin:   s.DurationMin,
			CapacityTotal: s.CapacityTotal,
			PriceCents:    s.PriceCents,
		})
	}
	if err := h.Slots.CreateBulk(c.Request().Context(), rows); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	return c.JSON(http.StatusCreated, echo.Map{"created": len(rows)})
}

// Availability handles GET /v1/services/:id/slots.  It lists upcoming
// slots of a service that still have free units.  The route sits behind
// the response cache; counts may lag the counters by the cache TTL.
func (h *SlotHandler) Availability(c echo.Context) error {
	serviceID, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid service id"})
	}
	views, err := h.Slots.ListOpenByService(c.Request().Context(), serviceID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"slots": views})
}

// Quote handles GET /v1/slots/:id/quote?group_size=N.  It prices a
// prospective booking, group discount included, without reserving
// anything.
func (h *SlotHandler) Quote(c echo.Context) error {
	slotID, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid slot id"})
	}
	size, err := strconv.ParseUint(c.QueryParam("group_size"), 10, 32)
	if err != nil || size == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "group_size is required"})
	}
	amount, err := h.Engine.QuoteGroup(c.Request().Context(), slotID, uint32(size))
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"slot_id":      slotID,
		"group_size":   size,
		"amount_cents": amount,
	})
}
