package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4" // import the Echo web framework to handle routing
	"github.com/redis/go-redis/v9"

	"github.com/dkaryakin/booking-engine/internal/config"
	"github.com/dkaryakin/booking-engine/internal/handler"    // import the handlers that implement business logic
	"github.com/dkaryakin/booking-engine/internal/middleware" // import middleware for JWT authentication and role enforcement
)

// Handlers bundles every HTTP handler the router needs.  All fields must
// be non-nil.
type Handlers struct {
	Slots    *handler.SlotHandler
	Holds    *handler.HoldHandler
	Bookings *handler.BookingHandler
	Waitlist *handler.WaitlistHandler
}

// RegisterRoutes registers routes that do not require authentication on the
// provided Echo instance.  Currently it exposes only a health check.
func RegisterRoutes(e *echo.Echo) {
	// The health endpoint is used by load balancers and monitoring systems
	// to verify that the service is up and running.
	e.GET("/healthz", handler.Health)
}

// RegisterPublic registers unauthenticated browse endpoints.  Availability
// listings and group quotes do not require a token so that clients can
// inspect open slots before reserving.  GET responses are served through
// the Redis response cache when a client is available; the cache TTL is
// kept short so remaining-unit counts stay close to the live counters.
func RegisterPublic(e *echo.Echo, h Handlers, rdb *redis.Client) {
	cached := middleware.NewRedisCache(config.LoadCacheConfig(), rdb)

	// List open slots for a service, with remaining capacity per slot.
	e.GET("/v1/services/:id/slots", h.Slots.Availability, cached)
	// Price a group reservation without claiming capacity.
	e.GET("/v1/slots/:id/quote", h.Slots.Quote, cached)
}

// RegisterClient registers endpoints that require the CLIENT role.  These
// cover the full reservation lifecycle: acquiring and managing holds,
// checkout and confirmation, cancellation, rescheduling and the waitlist.
// Mutating endpoints additionally pass through a Redis token-bucket rate
// limiter so a misbehaving client cannot hammer the capacity counters.
func RegisterClient(e *echo.Echo, h Handlers, jwtSecret string, rdb *redis.Client) {
	limited := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb)

	g := e.Group(
		"/v1",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(middleware.RoleClient),
	)

	// Holds: claim capacity with a TTL, renew once, release early.
	g.POST("/slots/:id/holds", h.Holds.Acquire, limited)
	g.POST("/slots/:id/group", h.Holds.ReserveGroup, limited)
	g.POST("/holds/:id/renew", h.Holds.Renew, limited)
	g.DELETE("/holds/:id", h.Holds.Release, limited)
	g.GET("/holds/:id", h.Holds.Get)
	g.GET("/holds", h.Holds.List)

	// Bookings: checkout against a hold, then confirm with payment.
	g.POST("/holds/:id/checkout", h.Bookings.StartCheckout, limited)
	g.POST("/bookings/:id/confirm", h.Bookings.Confirm, limited)
	g.POST("/bookings/:id/reschedule", h.Bookings.Reschedule, limited)
	g.DELETE("/bookings/:id", h.Bookings.Cancel, limited)
	g.GET("/bookings/:id", h.Bookings.Get)
	g.GET("/bookings", h.Bookings.List)

	// Waitlist: join when a slot is full, withdraw while still waiting.
	g.POST("/waitlist", h.Waitlist.Join, limited)
	g.DELETE("/waitlist/:id", h.Waitlist.Withdraw, limited)
	g.GET("/waitlist/:id", h.Waitlist.Get)
	g.GET("/waitlist", h.Waitlist.List)
}

// RegisterCatalog registers endpoints reserved for the CATALOG role:
// publishing slot inventory and flagging no-shows after a slot's start
// time.  Both operations come from the scheduling platform rather than
// end clients, so they sit behind a separate role check.
func RegisterCatalog(e *echo.Echo, h Handlers, jwtSecret string) {
	g := e.Group(
		"/v1",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(middleware.RoleCatalog),
	)

	g.POST("/slots", h.Slots.Publish)
	g.POST("/bookings/:id/no-show", h.Bookings.MarkNoShow)
}
