package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Health reports liveness for load balancers and monitoring.  It does
// not touch the database or Redis; a 200 here only means the process is
// serving requests.
func Health(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}
