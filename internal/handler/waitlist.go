package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/dkaryakin/booking-engine/internal/engine"
	"github.com/dkaryakin/booking-engine/internal/model"
	"github.com/dkaryakin/booking-engine/internal/repository"
)

// WaitlistHandler exposes joining, inspecting and leaving the waitlist.
// Promotion itself is engine-internal; clients learn about it through
// the waitlist.promoted event or by polling their entry.
type WaitlistHandler struct {
	Engine  *engine.Engine
	Entries *repository.WaitlistRepo
}

// NewWaitlistHandler constructs a WaitlistHandler.  Dependencies must
// be non-nil.
func NewWaitlistHandler(eng *engine.Engine, entries *repository.WaitlistRepo) *WaitlistHandler {
	if eng == nil || entries == nil {
		panic("nil dependency passed to NewWaitlistHandler")
	}
	return &WaitlistHandler{Engine: eng, Entries: entries}
}

type entryResponse struct {
	ID             uint64  `json:"id"`
	ServiceID      uint64  `json:"service_id"`
	SlotID         *uint64 `json:"slot_id,omitempty"`
	Units          uint32  `json:"units"`
	State          string  `json:"state"`
	PromotedHoldID *uint64 `json:"promoted_hold_id,omitempty"`
}

func toEntryResponse(e *model.WaitlistEntry) entryResponse {
	return entryResponse{
		ID:             e.ID,
		ServiceID:      e.ServiceID,
		SlotID:         e.SlotID,
		Units:          e.Units,
		State:          e.State,
		PromotedHoldID: e.PromotedHoldID,
	}
}

// Join handles POST /v1/waitlist.  slot_id is optional; omitting it
// registers a flexible entry promoted on any slot of the service.
// Joining while a previous entry is still waiting returns that entry.
func (h *WaitlistHandler) Join(c echo.Context) error {
	owner, err := ownerToken(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body struct {
		ServiceID uint64  `json:"service_id"`
		SlotID    *uint64 `json:"slot_id"`
		Units     uint32  `json:"units"`
	}
	if err := c.Bind(&body); err != nil || body.ServiceID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "service_id is required"})
	}
	entry, err := h.Engine.JoinWaitlist(c.Request().Context(), body.ServiceID, body.SlotID, owner, body.Units)
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(http.StatusCreated, toEntryResponse(entry))
}

// Withdraw handles DELETE /v1/waitlist/:id.
func (h *WaitlistHandler) Withdraw(c echo.Context) error {
	owner, err := ownerToken(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	entryID, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid entry id"})
	}
	if err := h.Engine.WithdrawFromWaitlist(c.Request().Context(), entryID, owner); err != nil {
		return engineError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Get handles GET /v1/waitlist/:id.
func (h *WaitlistHandler) Get(c echo.Context) error {
	owner, err := ownerToken(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	entryID, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid entry id"})
	}
	entry, err := h.Engine.GetWaitlistEntry(c.Request().Context(), entryID, owner)
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(http.StatusOK, toEntryResponse(entry))
}

// List handles GET /v1/waitlist and returns the caller's entries.
func (h *WaitlistHandler) List(c echo.Context) error {
	owner, err := ownerToken(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	entries, err := h.Entries.ListByOwner(c.Request().Context(), owner)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	out := make([]entryResponse, 0, len(entries))
	for i := range entries {
		out = append(out, toEntryResponse(&entries[i]))
	}
	return c.JSON(http.StatusOK, echo.Map{"entries": out})
}
