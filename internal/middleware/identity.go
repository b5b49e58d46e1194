package middleware

// identity.go holds helpers shared across middleware files.  The rate
// limiter and response cache key their buckets per caller; both use the
// owner token placed in context by JWTAuth, falling back to "guest" for
// unauthenticated routes.

import (
	"github.com/labstack/echo/v4"
)

// callerID extracts the authenticated owner token from the request
// context, or "guest" when the route carries no authentication.
func callerID(c echo.Context) string {
	if v, ok := c.Get("owner_token").(string); ok && v != "" {
		return v
	}
	return "guest"
}
