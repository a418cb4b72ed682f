package handler // declare the package name; contains HTTP handlers

import (
    "net/http" // net/http provides status codes and response helpers

    "github.com/labstack/echo/v4" // echo is the web framework used for this project
)

// StoreStatus reports whether the reservation store is serving from its
// single-process fallback.
type StoreStatus interface {
    Degraded() bool
}

// Health is the health-check endpoint used by load balancers and
// monitoring.  It always answers 200 while the process serves requests;
// the body tells whether holds are shared across instances ("redis"),
// local to this process because Redis is down ("degraded"), or local by
// configuration ("memory").
func Health(store StoreStatus, shared bool) echo.HandlerFunc {
    return func(c echo.Context) error {
        mode := "memory"
        if shared {
            mode = "redis"
            if store.Degraded() {
                mode = "degraded"
            }
        }
        return c.JSON(http.StatusOK, echo.Map{
            "status":     "ok",
            "store_mode": mode,
            "degraded":   mode != "redis",
        })
    }
}
