package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/dkaryakin/booking-engine/internal/engine"
	"github.com/dkaryakin/booking-engine/internal/model"
	"github.com/dkaryakin/booking-engine/internal/repository"
)

// HoldHandler exposes hold acquisition, renewal and release.  All
// methods assume JWT authentication and role validation have already
// run; the owner token in context scopes every operation.
type HoldHandler struct {
	Engine *engine.Engine
	Holds  *repository.HoldRepo
}

// NewHoldHandler constructs a HoldHandler.  Dependencies must be
// non-nil.
func NewHoldHandler(eng *engine.Engine, holds *repository.HoldRepo) *HoldHandler {
	if eng == nil || holds == nil {
		panic("nil dependency passed to NewHoldHandler")
	}
	return &HoldHandler{Engine: eng, Holds: holds}
}

type holdResponse struct {
	ID        uint64 `json:"id"`
	SlotID    uint64 `json:"slot_id"`
	Units     uint32 `json:"units"`
	Token     string `json:"token"`
	State     string `json:"state"`
	Renewed   bool   `json:"renewed"`
	ExpiresAt string `json:"expires_at"`
}

func toHoldResponse(h *model.Hold) holdResponse {
	return holdResponse{
		ID:        h.ID,
		SlotID:    h.SlotID,
		Units:     h.Units,
		Token:     h.Token,
		State:     h.State,
		Renewed:   h.Renewed,
		ExpiresAt: h.ExpiresAt.UTC().Format(time.RFC3339),
	}
}

// Acquire handles POST /v1/slots/:id/holds.  The body carries the unit
// count and an optional TTL in seconds; the TTL is clamped server-side.
// Repeating the call while a previous hold is active returns that same
// hold, so clients can retry the request safely.
func (h *HoldHandler) Acquire(c echo.Context) error {
	owner, err := ownerToken(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	slotID, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid slot id"})
	}
	var body struct {
		Units      uint32 `json:"units"`
		TTLSeconds int64  `json:"ttl_seconds"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	hold, err := h.Engine.AcquireHold(c.Request().Context(), slotID, body.Units, owner, body.TTLSeconds)
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(http.StatusCreated, toHoldResponse(hold))
}

// Renew handles POST /v1/holds/:id/renew.  A hold can be renewed once.
func (h *HoldHandler) Renew(c echo.Context) error {
	owner, err := ownerToken(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	holdID, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid hold id"})
	}
	hold, err := h.Engine.RenewHold(c.Request().Context(), holdID, owner)
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(http.StatusOK, toHoldResponse(hold))
}

// Release handles DELETE /v1/holds/:id.  Releasing a hold that already
// left the active state succeeds quietly.
func (h *HoldHandler) Release(c echo.Context) error {
	owner, err := ownerToken(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	holdID, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid hold id"})
	}
	if err := h.Engine.ReleaseHold(c.Request().Context(), holdID, owner); err != nil {
		return engineError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Get handles GET /v1/holds/:id.
func (h *HoldHandler) Get(c echo.Context) error {
	owner, err := ownerToken(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	holdID, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid hold id"})
	}
	hold, err := h.Engine.GetHold(c.Request().Context(), holdID, owner)
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(http.StatusOK, toHoldResponse(hold))
}

// List handles GET /v1/holds and returns the caller's holds, newest
// first.
func (h *HoldHandler) List(c echo.Context) error {
	owner, err := ownerToken(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	holds, err := h.Holds.ListByOwner(c.Request().Context(), owner)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	out := make([]holdResponse, 0, len(holds))
	for i := range holds {
		out = append(out, toHoldResponse(&holds[i]))
	}
	return c.JSON(http.StatusOK, echo.Map{"holds": out})
}

// ReserveGroup handles POST /v1/slots/:id/group.  One hold covers the
// whole party; either every member fits or nothing is reserved.
func (h *HoldHandler) ReserveGroup(c echo.Context) error {
	owner, err := ownerToken(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	slotID, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid slot id"})
	}
	var body struct {
		GroupSize  uint32 `json:"group_size"`
		TTLSeconds int64  `json:"ttl_seconds"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	hold, err := h.Engine.ReserveGroup(c.Request().Context(), slotID, body.GroupSize, owner, body.TTLSeconds)
	if err != nil {
		return engineError(c, err)
	}
	return c.JSON(http.StatusCreated, toHoldResponse(hold))
}
