package middleware // reusable HTTP middleware shared by all route groups

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// Roles carried in the token's "role" claim.  CLIENT sessions drive
// holds, bookings and the waitlist; CATALOG publishes slots.
const (
	RoleClient  = "CLIENT"
	RoleCatalog = "CATALOG"
)

// JWTAuth returns an Echo middleware that validates a Bearer token and
// injects its subject and role claims into the request context.  The
// subject is the opaque owner token the engine keys holds and bookings
// on; the surrounding platform issues the tokens, this service only
// verifies them.  Handlers read the values via `c.Get("owner_token")`
// and `c.Get("role")`.
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			raw := strings.TrimPrefix(auth, "Bearer ")

			// HS256 only; any other signing method is rejected.
			tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, echo.ErrUnauthorized
				}
				return []byte(secret), nil
			})
			if err != nil || !tok.Valid {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}

			claims, ok := tok.Claims.(jwt.MapClaims)
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid claims"})
			}
			sub, _ := claims["sub"].(string)
			if sub == "" {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing subject"})
			}
			c.Set("owner_token", sub)
			c.Set("role", claims["role"])
			return next(c)
		}
	}
}
