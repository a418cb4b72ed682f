package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/seat-reservation-engine/internal/handler"
	"github.com/iliyamo/seat-reservation-engine/internal/middleware"
	"github.com/iliyamo/seat-reservation-engine/internal/model"
)

// RegisterCustomer registers the buying endpoints under /v1.  All routes
// require a valid JWT and the CUSTOMER role.  limiter wraps the lock
// endpoints; pass nil to leave them unlimited.
func RegisterCustomer(e *echo.Echo, r *handler.ReservationHandler, o *handler.OrderHandler, jwtSecret string, limiter echo.MiddlewareFunc) {
	g := e.Group(
		"/v1",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleCustomer),
	)
	var limited []echo.MiddlewareFunc
	if limiter != nil {
		limited = append(limited, limiter)
	}

	// Checkout holds.
	g.POST("/events/:event_id/seats/:seat_id/lock", r.Lock, limited...)
	g.DELETE("/events/:event_id/seats/:seat_id/lock", r.Unlock, limited...)
	g.GET("/events/:event_id/locks/mine", r.Mine)
	g.DELETE("/events/:event_id/locks", r.UnlockAll)
	g.GET("/events/:event_id/snapshot", r.Snapshot)

	// Orders.
	g.POST("/events/:event_id/orders", o.Create)
	g.GET("/orders/:id", o.Get)
	g.DELETE("/orders/:id", o.Cancel)
}
