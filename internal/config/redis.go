package config

// Redis backs the distributed rate limiter and the availability response
// cache.  Neither concern is load-bearing for correctness, so when the
// server cannot be reached at startup the constructor returns nil and
// both middlewares degrade to pass-through.

import (
	"context"
	"crypto/tls"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient builds a client from environment variables:
//
//	REDIS_HOST / REDIS_PORT - hostname and port of the server
//	REDIS_ADDR              - host:port shorthand (host/port win if both set)
//	REDIS_PASSWORD          - optional password
//	REDIS_DB                - database number, default 0
//	REDIS_TLS               - enable TLS when "true" or "1"
//
// Returns nil when the server does not answer a short ping.
func NewRedisClient() *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if host, port := os.Getenv("REDIS_HOST"), os.Getenv("REDIS_PORT"); host != "" && port != "" {
		addr = host + ":" + port
	}
	if addr == "" {
		addr = "localhost:6379"
	}
	dbNum := 0
	if s := os.Getenv("REDIS_DB"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			dbNum = n
		}
	}
	var tlsConf *tls.Config
	if v := os.Getenv("REDIS_TLS"); strings.EqualFold(v, "true") || v == "1" {
		tlsConf = &tls.Config{InsecureSkipVerify: true}
	}
	client := redis.NewClient(&redis.Options{
		Addr:      addr,
		Password:  os.Getenv("REDIS_PASSWORD"),
		DB:        dbNum,
		TLSConfig: tlsConf,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil
	}
	return client
}
