package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4" // import the Echo web framework to handle routing

	"github.com/iliyamo/seat-reservation-engine/internal/handler"    // HTTP handlers
	"github.com/iliyamo/seat-reservation-engine/internal/middleware" // JWT authentication and role enforcement
	"github.com/iliyamo/seat-reservation-engine/internal/model"      // role names
)

// RegisterRoutes registers routes that do not require authentication.
// Currently it exposes only the health check.
func RegisterRoutes(e *echo.Echo, health echo.HandlerFunc) {
	e.GET("/healthz", health)
}

// RegisterAuth registers register/login under /v1/auth and the protected
// /v1/me.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string) {
	g := e.Group("/v1/auth")
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)

	auth := e.Group("/v1")
	auth.Use(middleware.JWTAuth(jwtSecret))
	auth.Use(middleware.RequireRole(model.RoleCustomer, model.RoleOrganizer))
	auth.GET("/me", a.Me)
}

// RegisterPublic registers unauthenticated reads.  Guests can open the
// seat map of an event before signing in.
func RegisterPublic(e *echo.Echo, p *handler.PublicHandler) {
	e.GET("/v1/events/:event_id/seats", p.GetEventSeats)
}

// RegisterPayments registers the gateway webhook.  It authenticates with
// the shared secret header instead of a user token.
func RegisterPayments(e *echo.Echo, p *handler.PaymentHandler) {
	e.POST("/v1/payments/webhook", p.Webhook)
}

// RegisterRealtime registers the WebSocket endpoint.  The handler
// verifies the access token itself because browsers send it as a
// query parameter.
func RegisterRealtime(e *echo.Echo, rt *handler.RealtimeHandler) {
	e.GET("/v1/events/:event_id/ws", rt.Connect)
}
