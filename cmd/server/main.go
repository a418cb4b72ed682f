package main // Entry point package

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/iliyamo/seat-reservation-engine/internal/booking"
	"github.com/iliyamo/seat-reservation-engine/internal/config"
	"github.com/iliyamo/seat-reservation-engine/internal/database"
	"github.com/iliyamo/seat-reservation-engine/internal/handler"
	"github.com/iliyamo/seat-reservation-engine/internal/holdstore"
	"github.com/iliyamo/seat-reservation-engine/internal/middleware"
	"github.com/iliyamo/seat-reservation-engine/internal/queue"
	"github.com/iliyamo/seat-reservation-engine/internal/realtime"
	"github.com/iliyamo/seat-reservation-engine/internal/repository"
	"github.com/iliyamo/seat-reservation-engine/internal/reservation"
	"github.com/iliyamo/seat-reservation-engine/internal/router"
	"github.com/iliyamo/seat-reservation-engine/internal/sweeper"
)

func main() {
	logger := log.New("server")
	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file, using process environment")
	}
	cfg := config.Load()                   // Load environment config
	rcfg := config.LoadReservationConfig() // Holds, orders, sweeper
	rlcfg := config.LoadRateLimitConfig()  // Lock endpoint limits

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Seat ledger.
	var (
		ledger repository.Ledger
		users  repository.UserStore
	)
	switch cfg.LedgerDriver {
	case config.LedgerMemory:
		ml := repository.NewMemoryLedger(nil)
		if cfg.SeedDemo {
			repository.SeedDemo(ml, time.Now().Add(7*24*time.Hour))
			logger.Info("memory ledger seeded with demo event 1")
		}
		ledger, users = ml, ml.Users()
	default:
		db, err := database.Open(ctx, cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
		if err != nil {
			logger.Fatalf("open database: %v", err)
		}
		defer db.Close()
		if err := database.EnsureSchema(ctx, db); err != nil {
			logger.Fatalf("ensure schema: %v", err)
		}
		ledger, users = repository.NewSQLLedger(db), repository.NewUserRepo(db)
	}

	// Reservation store and room fan-out.  Without Redis the process
	// runs alone: holds, rooms and rate limits are local.
	hub := realtime.NewHub()
	var (
		store   holdstore.Store
		bc      reservation.Broadcaster = hub
		limiter echo.MiddlewareFunc
	)
	rdb := config.NewRedisClient()
	shared := rdb != nil
	if shared {
		defer rdb.Close()
		store = holdstore.NewFailoverStore(
			holdstore.NewRedisStore(rdb, rcfg.KeyPrefix, nil),
			rcfg.StoreTimeout, rcfg.StoreRetry, nil, log.New("holdstore"))
		relay := realtime.NewRelay(rdb, hub, rcfg.KeyPrefix, log.New("realtime"))
		go relay.Run(ctx)
		bc = relay
		limiter = middleware.NewTokenBucket(rlcfg, rdb)
	} else {
		logger.Error("redis unreachable: holds are local to this process, do not run more than one instance")
		store = holdstore.NewMemoryStore(nil)
	}

	// Booking events go out only when a broker is configured.
	var notifier booking.Notifier
	if cfg.AMQPURL != "" {
		notifier = queue.NewPublisher(cfg.AMQPURL, log.New("queue"))
	}

	refresh := rcfg.RefreshOnRelock
	coord := reservation.NewCoordinator(store, ledger, bc, reservation.Options{
		HoldTTL:         rcfg.HoldTTL,
		RefreshOnRelock: &refresh,
		Logger:          log.New("reservation"),
	})
	fin := booking.NewFinalizer(ledger, store, bc, notifier, booking.Options{
		PendingTTL: rcfg.OrderPendingTTL,
		Logger:     log.New("booking"),
	})

	go sweeper.New(coord, fin, rcfg.SweepInterval, log.New("sweeper")).Start(ctx)
	if cfg.AMQPURL != "" {
		go queue.NewPaymentConsumer(cfg.AMQPURL, fin, log.New("queue")).Run(ctx)
	}

	e := echo.New() // Create Echo instance
	e.HideBanner = true
	e.Use(echomw.RequestID())
	e.Use(echomw.Recover())
	e.Use(echomw.Logger())

	router.RegisterRoutes(e, handler.Health(store, shared))
	router.RegisterAuth(e, handler.NewAuthHandler(cfg, users), cfg.JWTSecret)
	router.RegisterPublic(e, handler.NewPublicHandler(ledger))
	router.RegisterCustomer(e, handler.NewReservationHandler(coord), handler.NewOrderHandler(fin), cfg.JWTSecret, limiter)
	router.RegisterPayments(e, handler.NewPaymentHandler(fin, cfg.WebhookSecret))
	router.RegisterRealtime(e, &handler.RealtimeHandler{
		Coord:               coord,
		Hub:                 hub,
		JWTSecret:           cfg.JWTSecret,
		ReleaseOnDisconnect: rcfg.ReleaseOnDisconnect,
		Logger:              log.New("realtime"),
		Base:                ctx,
	})

	addr := ":" + cfg.Port // Address string with port
	go func() {
		logger.Infof("listening on %s (env=%s ledger=%s shared_store=%t)", addr, cfg.Env, cfg.LedgerDriver, shared)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("http shutdown: %v", err)
	}
}
