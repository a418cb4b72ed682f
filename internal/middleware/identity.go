package middleware

// identity.go holds the accessors for the caller identity that JWTAuth
// stores in the Echo context.

import (
    "strconv"

    "github.com/labstack/echo/v4"
)

// UserID returns the authenticated user's id.  ok is false on routes
// that did not pass through JWTAuth.
func UserID(c echo.Context) (uint64, bool) {
    uid, ok := c.Get(CtxUserID).(uint64)
    return uid, ok && uid != 0
}

// Role returns the authenticated user's role claim.
func Role(c echo.Context) string {
    r, _ := c.Get(CtxRole).(string)
    return r
}

// rateIdentity is the user component of a rate-limit key; "anon" when
// no token was verified.
func rateIdentity(c echo.Context) string {
    if uid, ok := UserID(c); ok {
        return strconv.FormatUint(uid, 10)
    }
    return "anon"
}
