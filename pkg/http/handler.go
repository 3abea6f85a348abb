package http

import "github.com/labstack/echo/v4"

// Handler mounts a route set. NewServer calls RegisterRoutes once, after
// the recover, logging and metrics middleware are installed; a nil
// Handler serves /metrics only.
type Handler interface {
	RegisterRoutes(e *echo.Echo)
}
