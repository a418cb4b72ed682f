package handler // handler defines http handlers

import (
    "errors"   // errors.Is/As against the model sentinels
    "net/http" // HTTP status codes
    "strconv"  // strconv converts path parameters

    "github.com/labstack/echo/v4" // echo defines request context types

    "github.com/iliyamo/seat-reservation-engine/internal/middleware" // caller identity
    "github.com/iliyamo/seat-reservation-engine/internal/model"      // sentinel errors
)

// getUserID returns the caller set by the JWT middleware.
func getUserID(c echo.Context) (uint64, error) {
    uid, ok := middleware.UserID(c)
    if !ok {
        return 0, errors.New("invalid user_id in context")
    }
    return uid, nil
}

// pathID parses a positive numeric path parameter.
func pathID(c echo.Context, name string) (uint64, bool) {
    n, err := strconv.ParseUint(c.Param(name), 10, 64)
    return n, err == nil && n != 0
}

// writeError maps a domain error onto the HTTP status and JSON body the
// API uses everywhere.  Seat conflicts name the seat.
func writeError(c echo.Context, err error) error {
    var conflict *model.SeatConflictError
    switch {
    case errors.As(err, &conflict):
        return c.JSON(http.StatusConflict, echo.Map{
            "error":   "conflict",
            "seat_id": conflict.SeatID,
            "reason":  conflict.Reason,
        })
    case errors.Is(err, model.ErrValidation):
        return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
    case errors.Is(err, model.ErrNotFound):
        return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
    case errors.Is(err, model.ErrConflict):
        return c.JSON(http.StatusConflict, echo.Map{"error": "conflict"})
    case errors.Is(err, model.ErrUnavailable):
        return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "reservation store unavailable"})
    }
    c.Logger().Errorf("%s %s: %v", c.Request().Method, c.Path(), err)
    return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}
