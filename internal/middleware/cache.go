package middleware

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/dkaryakin/booking-engine/internal/config"
)

// cachedResponse is the envelope stored in Redis: status, headers and
// body together, so a hit replays the exact response the handler
// produced.
type cachedResponse struct {
	Status int         `json:"status"`
	Header http.Header `json:"header"`
	Body   []byte      `json:"body"`
}

// teeWriter copies the response body into a buffer while forwarding it
// to the client, up to limit bytes.  Oversized responses are forwarded
// but not cached.
type teeWriter struct {
	http.ResponseWriter
	status   int
	buf      bytes.Buffer
	written  int64
	limit    int64
	overflow bool
}

func (w *teeWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *teeWriter) Write(b []byte) (int, error) {
	w.written += int64(len(b))
	if w.limit > 0 && w.written > w.limit {
		w.overflow = true
	} else {
		w.buf.Write(b)
	}
	return w.ResponseWriter.Write(b)
}

// cacheKey derives a fixed-length Redis key from the request per the
// configured strategy.  The variable part is hashed so query strings of
// any length produce bounded keys.
func cacheKey(cfg config.CacheConfig, c echo.Context) string {
	r := c.Request()
	var raw string
	switch strings.ToLower(cfg.KeyStrategy) {
	case "route":
		raw = c.Path()
	case "method_route":
		raw = r.Method + ":" + c.Path()
	case "method_route_query":
		raw = r.Method + ":" + c.Path() + "?" + r.URL.RawQuery
	default: // route_query
		raw = c.Path() + "?" + r.URL.RawQuery
	}
	sum := sha1.Sum([]byte(raw))
	return fmt.Sprintf("%s:%x", cfg.Prefix, sum)
}

// NewRedisCache returns a middleware serving whole responses out of
// Redis.  Availability listings are the only cached routes; the TTL is
// kept short so remaining-unit counts never lag the live counters by
// much.  With caching disabled or no Redis client it degrades to a
// pass-through.
func NewRedisCache(cfg config.CacheConfig, rdb *redis.Client) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc {
			return func(c echo.Context) error { return next(c) }
		}
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 10 * time.Second
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !cfg.Methods[strings.ToUpper(c.Request().Method)] {
				return next(c)
			}
			ctx := c.Request().Context()
			key := cacheKey(cfg, c)

			if raw, err := rdb.Get(ctx, key).Bytes(); err == nil {
				var cached cachedResponse
				if json.Unmarshal(raw, &cached) == nil {
					for k, vals := range cached.Header {
						if strings.EqualFold(k, "Content-Length") {
							continue
						}
						for _, v := range vals {
							c.Response().Header().Add(k, v)
						}
					}
					c.Response().Header().Set("X-Cache", "HIT")
					c.Response().WriteHeader(cached.Status)
					if len(cached.Body) > 0 {
						_, _ = c.Response().Write(cached.Body)
					}
					return nil
				}
			}

			tee := &teeWriter{
				ResponseWriter: c.Response().Writer,
				status:         http.StatusOK,
				limit:          int64(cfg.MaxBodyBytes),
			}
			c.Response().Writer = tee
			c.Response().Header().Set("X-Cache", "MISS")

			if err := next(c); err != nil {
				return err
			}

			// Only successful, size-bounded responses are stored.
			if tee.status != http.StatusOK || tee.overflow {
				return nil
			}
			hdr := make(http.Header, len(c.Response().Header()))
			for k, vals := range c.Response().Header() {
				hdr[k] = append([]string(nil), vals...)
			}
			raw, err := json.Marshal(cachedResponse{Status: tee.status, Header: hdr, Body: tee.buf.Bytes()})
			if err == nil {
				_ = rdb.SetEx(context.Background(), key, raw, ttl).Err()
			}
			return nil
		}
	}
}
