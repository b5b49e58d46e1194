package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/dkaryakin/booking-engine/internal/config"
)

// bucketScript implements a token bucket in one atomic Redis call.
// State lives in a hash per key; refill is computed from elapsed time
// so no background process is needed.  Returns {allowed, remaining,
// retry_after_ms}.
var bucketScript = redis.NewScript(`
	local key = KEYS[1]
	local now_ms = tonumber(ARGV[1])
	local capacity = tonumber(ARGV[2])
	local refill = tonumber(ARGV[3])
	local interval_ms = tonumber(ARGV[4])
	local ttl_s = tonumber(ARGV[5])

	local state = redis.call('HMGET', key, 'tokens', 'refilled_ms')
	local tokens = tonumber(state[1])
	local refilled = tonumber(state[2])
	if tokens == nil or refilled == nil then
		tokens = capacity
		refilled = now_ms
	end

	local elapsed = now_ms - refilled
	if elapsed > 0 and interval_ms > 0 then
		local steps = math.floor(elapsed / interval_ms)
		if steps > 0 then
			tokens = math.min(capacity, tokens + steps * refill)
			refilled = refilled + steps * interval_ms
		end
	end

	local allowed = 0
	local retry_ms = 0
	if tokens > 0 then
		allowed = 1
		tokens = tokens - 1
	else
		retry_ms = interval_ms - (now_ms - refilled)
		if retry_ms < 0 then retry_ms = 0 end
	end

	redis.call('HMSET', key, 'tokens', tokens, 'refilled_ms', refilled)
	redis.call('EXPIRE', key, ttl_s)
	return { allowed, tokens, retry_ms }
`)

// NewTokenBucket returns a middleware limiting each caller's request
// rate against shared Redis state, so the limit holds across replicas.
// On any Redis failure the request is let through: the limiter guards
// against hammering, it is not an availability dependency.
func NewTokenBucket(cfg config.RateLimitConfig, rdb *redis.Client) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc {
			return func(c echo.Context) error { return next(c) }
		}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := bucketKey(cfg, c)
			args := []interface{}{
				time.Now().UnixMilli(),
				cfg.Capacity,
				cfg.RefillTokens,
				cfg.RefillInterval.Milliseconds(),
				int64(cfg.TTL / time.Second),
			}
			res, err := bucketScript.Run(c.Request().Context(), rdb, []string{key}, args...).Int64Slice()
			if err != nil || len(res) != 3 {
				if cfg.Debug {
					c.Logger().Warnf("ratelimit: script failed for %s: %v", key, err)
				}
				return next(c)
			}
			allowed, remaining, retryMs := res[0] == 1, res[1], res[2]

			c.Response().Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Capacity))
			c.Response().Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

			if !allowed {
				secs := (retryMs + 999) / 1000
				c.Response().Header().Set("Retry-After", strconv.FormatInt(secs, 10))
				return c.JSON(http.StatusTooManyRequests, echo.Map{
					"error":       "too_many_requests",
					"retry_after": secs,
				})
			}
			return next(c)
		}
	}
}

// bucketKey scopes the bucket per the configured strategy.  The default
// isolates (ip, owner, route) so one stampeding client cannot exhaust
// another's budget on the same endpoint.
func bucketKey(cfg config.RateLimitConfig, c echo.Context) string {
	ip := c.RealIP()
	if ip == "" {
		ip = "unknown"
	}
	owner := callerID(c)
	route := c.Request().Method + " " + c.Path()

	parts := []string{cfg.Prefix}
	switch strings.ToLower(cfg.KeyStrategy) {
	case "ip":
		parts = append(parts, ip)
	case "user":
		parts = append(parts, owner)
	case "route":
		parts = append(parts, route)
	case "ip_user":
		parts = append(parts, ip, owner)
	case "user_route":
		parts = append(parts, owner, route)
	default: // ip_user_route
		parts = append(parts, ip, owner, route)
	}
	return strings.Join(parts, ":")
}
