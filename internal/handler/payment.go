package handler

import (
    "context"
    "crypto/subtle"
    "net/http"
    "strings"
    "time"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/seat-reservation-engine/internal/booking"
    "github.com/iliyamo/seat-reservation-engine/internal/model"
)

// WebhookSecretHeader carries the shared secret of the payment gateway.
const WebhookSecretHeader = "X-Webhook-Secret"

// PaymentHandler receives payment outcomes from the gateway.
type PaymentHandler struct {
    Orders *booking.Finalizer
    Secret string
}

func NewPaymentHandler(f *booking.Finalizer, secret string) *PaymentHandler {
    return &PaymentHandler{Orders: f, Secret: secret}
}

type paymentReq struct {
    OrderID    string `json:"order_id"`
    Success    bool   `json:"success"`
    PaymentRef string `json:"payment_ref"`
}

// Webhook handles POST /v1/payments/webhook.  Replays are safe: a
// second success for a paid order answers 200 with already_final, a
// success for an order that was released answers 409.
func (h *PaymentHandler) Webhook(c echo.Context) error {
    got := c.Request().Header.Get(WebhookSecretHeader)
    if h.Secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(h.Secret)) != 1 {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid webhook secret"})
    }
    var req paymentReq
    if err := c.Bind(&req); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
    }
    req.OrderID = strings.TrimSpace(req.OrderID)
    if req.OrderID == "" {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "order_id required"})
    }

    ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
    defer cancel()

    var (
        order   model.Order
        changed bool
        err     error
    )
    if req.Success {
        var already bool
        order, already, err = h.Orders.MarkBooked(ctx, req.OrderID, req.PaymentRef)
        changed = !already
    } else {
        order, changed, err = h.Orders.Fail(ctx, req.OrderID, req.PaymentRef)
    }
    if err != nil {
        return writeError(c, err)
    }
    return c.JSON(http.StatusOK, echo.Map{
        "order_id":      order.ID,
        "status":        order.Status,
        "already_final": !changed,
    })
}
