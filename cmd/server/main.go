package main // Entry point package

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/dkaryakin/booking-engine/internal/config"
	"github.com/dkaryakin/booking-engine/internal/database"
	"github.com/dkaryakin/booking-engine/internal/engine"
	"github.com/dkaryakin/booking-engine/internal/handler"
	"github.com/dkaryakin/booking-engine/internal/payment"
	"github.com/dkaryakin/booking-engine/internal/queue"
	"github.com/dkaryakin/booking-engine/internal/repository"
	"github.com/dkaryakin/booking-engine/internal/router"
	"github.com/dkaryakin/booking-engine/internal/utils"
)

func main() {
	_ = godotenv.Load() // .env is optional; real deployments set env directly

	cfg := config.Load()
	logger := utils.NewLogger(cfg.Env)
	defer logger.Sync()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	// Redis is optional: a nil client disables the rate limiter and the
	// availability response cache, never the engine itself.
	rdb := config.NewRedisClient()
	if rdb == nil {
		logger.Warn("redis unavailable, rate limiting and response caching disabled")
	}

	slots := repository.NewSlotRepo(db)
	holds := repository.NewHoldRepo(db)
	bookings := repository.NewBookingRepo(db)
	waitlist := repository.NewWaitlistRepo(db)

	eng := engine.New(db, slots, holds, bookings, waitlist,
		payment.NewSimulatedAuthorizer(logger),
		queue.NewPublisher(cfg.AMQPURL, logger),
		logger,
		engine.Config{
			HoldTTLDefault: cfg.HoldTTLDefault,
			HoldTTLMin:     cfg.HoldTTLMin,
			HoldTTLMax:     cfg.HoldTTLMax,
			PromotionTTL:   cfg.PromotionTTL,
		})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Background sweep bounds how long expired holds can sit on the
	// counters between requests; the request paths sweep lazily anyway.
	reaper := engine.NewReaper(eng, cfg.ReaperInterval, logger)
	go reaper.Run(ctx)

	// Durable event consumer; it reconnects on its own, so a dead broker
	// only costs us the audit trail, not bookings.
	go func() {
		if err := queue.StartEventConsumer(cfg.AMQPURL); err != nil {
			logger.Warn("event consumer stopped", zap.Error(err))
		}
	}()

	e := echo.New()
	e.HideBanner = true

	h := router.Handlers{
		Slots:    handler.NewSlotHandler(eng, slots),
		Holds:    handler.NewHoldHandler(eng, holds),
		Bookings: handler.NewBookingHandler(eng, bookings),
		Waitlist: handler.NewWaitlistHandler(eng, waitlist),
	}
	router.RegisterRoutes(e)
	router.RegisterPublic(e, h, rdb)
	router.RegisterClient(e, h, cfg.JWTSecret, rdb)
	router.RegisterCatalog(e, h, cfg.JWTSecret)

	addr := ":" + cfg.Port
	logger.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env))

	go func() {
		if err := e.Start(addr); err != nil {
			logger.Info("server stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", zap.Error(err))
	}
}
