package middleware // middleware provides shared request processing for handlers

import (
    "net/http" // http package defines standard HTTP status codes

    "github.com/labstack/echo/v4" // echo provides middleware chaining and context
)

// RequireRole returns a middleware function that admits only callers whose
// JWT "role" claim is one of roles (model.RoleCustomer for the buying
// endpoints).  Anyone else gets 403 Forbidden.  It must run after
// JWTAuth.
func RequireRole(roles ...string) echo.MiddlewareFunc {
    // Build a set of allowed roles for constant‑time lookups.  The map
    // value is a boolean and is always true when present.
    allowed := make(map[string]bool, len(roles))
    for _, r := range roles {
        allowed[r] = true
    }
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            // The role was stored by JWTAuth; a missing role never
            // matches.
            if !allowed[Role(c)] {
                // If role is missing or not allowed, return 403
                return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
            }
            // Otherwise call the next handler in the chain
            return next(c)
        }
    }
}