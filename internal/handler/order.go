package handler

import (
    "context"
    "net/http"
    "strings"
    "time"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/seat-reservation-engine/internal/booking"
)

// OrderHandler serves checkout orders for the buyer who placed them.
type OrderHandler struct {
    Orders *booking.Finalizer
}

func NewOrderHandler(f *booking.Finalizer) *OrderHandler {
    if f == nil {
        panic("nil finalizer passed to NewOrderHandler")
    }
    return &OrderHandler{Orders: f}
}

type createOrderReq struct {
    SeatIDs []uint64 `json:"seat_ids"`
}

// Create handles POST /v1/events/:event_id/orders.  Every seat must be
// free or held by the caller; a 409 names the first seat that is not.
func (h *OrderHandler) Create(c echo.Context) error {
    userID, err := getUserID(c)
    if err != nil {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    eventID, ok := pathID(c, "event_id")
    if !ok {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
    }
    var req createOrderReq
    if err := c.Bind(&req); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
    }
    if len(req.SeatIDs) == 0 {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "seat_ids is required"})
    }

    ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
    defer cancel()

    order, err := h.Orders.CreatePendingOrder(ctx, userID, eventID, req.SeatIDs)
    if err != nil {
        return writeError(c, err)
    }
    return c.JSON(http.StatusCreated, order)
}

// Get handles GET /v1/orders/:id.  Orders of other users read as 404.
func (h *OrderHandler) Get(c echo.Context) error {
    userID, err := getUserID(c)
    if err != nil {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    id := strings.TrimSpace(c.Param("id"))
    if id == "" {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid order id"})
    }
    order, err := h.Orders.Order(c.Request().Context(), id, userID)
    if err != nil {
        return writeError(c, err)
    }
    return c.JSON(http.StatusOK, order)
}

// Cancel handles DELETE /v1/orders/:id for a pending order.
func (h *OrderHandler) Cancel(c echo.Context) error {
    userID, err := getUserID(c)
    if err != nil {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    id := strings.TrimSpace(c.Param("id"))
    if id == "" {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid order id"})
    }
    ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
    defer cancel()

    order, err := h.Orders.Cancel(ctx, id, userID)
    if err != nil {
        return writeError(c, err)
    }
    return c.JSON(http.StatusOK, order)
}
