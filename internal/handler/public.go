// This file defines the public seat-map endpoint.  Guests can open an
// event and see which seats can still be bought without signing in.
// Holders, order ids and timestamps are filtered from the response.

package handler

import (
    "net/http"
    "time"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/seat-reservation-engine/internal/model"
    "github.com/iliyamo/seat-reservation-engine/internal/repository"
)

// PublicHandler serves unauthenticated reads of the ledger.
type PublicHandler struct {
    Ledger repository.Ledger
}

func NewPublicHandler(l repository.Ledger) *PublicHandler { return &PublicHandler{Ledger: l} }

// PublicCategory is a ticket category with what is left of it.
type PublicCategory struct {
    ID         uint64 `json:"id"`
    Name       string `json:"name"`
    PriceCents uint32 `json:"price_cents"`
    Remaining  uint32 `json:"remaining"`
}

// PublicSeat is one seat of the map.  Status is AVAILABLE, RESERVED
// (held or in a pending order) or BOOKED.
type PublicSeat struct {
    ID         uint64           `json:"id"`
    Label      string           `json:"label"`
    CategoryID uint64           `json:"category_id"`
    Status     model.SeatStatus `json:"status"`
}

// PublicEvent is the seat-map response.
type PublicEvent struct {
    ID         uint64           `json:"id"`
    Title      string           `json:"title"`
    StartsAt   time.Time        `json:"starts_at"`
    Categories []PublicCategory `json:"categories"`
    Seats      []PublicSeat     `json:"seats"`
}

// GetEventSeats handles GET /v1/events/:event_id/seats.  The map is a
// point-in-time read; live changes arrive over the WebSocket.
func (h *PublicHandler) GetEventSeats(c echo.Context) error {
    eventID, ok := pathID(c, "event_id")
    if !ok {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
    }
    ctx := c.Request().Context()
    ev, err := h.Ledger.Event(ctx, eventID)
    if err != nil {
        return writeError(c, err)
    }
    cats, err := h.Ledger.EventCategories(ctx, eventID)
    if err != nil {
        return writeError(c, err)
    }
    seats, err := h.Ledger.EventSeats(ctx, eventID)
    if err != nil {
        return writeError(c, err)
    }

    out := PublicEvent{
        ID:         ev.ID,
        Title:      ev.Title,
        StartsAt:   ev.StartsAt,
        Categories: make([]PublicCategory, 0, len(cats)),
        Seats:      make([]PublicSeat, 0, len(seats)),
    }
    for _, cat := range cats {
        var left uint32
        if cat.Capacity > cat.Sold {
            left = cat.Capacity - cat.Sold
        }
        out.Categories = append(out.Categories, PublicCategory{ID: cat.ID, Name: cat.Name, PriceCents: cat.PriceCents, Remaining: left})
    }
    for _, s := range seats {
        out.Seats = append(out.Seats, PublicSeat{ID: s.ID, Label: s.Label, CategoryID: s.CategoryID, Status: s.Status})
    }
    return c.JSON(http.StatusOK, out)
}
