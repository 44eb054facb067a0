package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/uptrace/bun"

	"ms-ordering/internal/analytics"
	analytics_api "ms-ordering/internal/analytics/api"
	"ms-ordering/internal/auth"
	"ms-ordering/internal/catalog"
	"ms-ordering/internal/config"
	"ms-ordering/internal/database"
	"ms-ordering/internal/database/migrations"
	"ms-ordering/internal/inventory"
	"ms-ordering/internal/inventory/inventory_api"
	"ms-ordering/internal/kafka"
	"ms-ordering/internal/logger"
	"ms-ordering/internal/metrics"
	"ms-ordering/internal/order"
	"ms-ordering/internal/order/order_api"
	"ms-ordering/internal/queue"
	"ms-ordering/internal/queue/queue_api"
	"ms-ordering/internal/reservation"
	"ms-ordering/internal/utils"
)

const serviceName = "ms-ordering"

func main() {
	log := logger.NewLogger(serviceName)
	defer log.Close()

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		log.Info("CONFIG", "Loaded environment variables from .env file")
	}
	cfg := config.Load()
	log.SetLevel(logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bunDB, err := database.Connect(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal("DATABASE", err.Error())
	}
	defer bunDB.Close()
	prepareSchema(ctx, bunDB, cfg.Database, log)

	counter, closeCounter := newCounter(ctx, cfg, log)
	defer closeCounter()

	var publisher order.EventPublisher
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka.Brokers, log)
		defer producer.Close()
		publisher = producer

		topics := append(cfg.Kafka.Topics.Produced(), cfg.Kafka.Topics.StockAdjustments)
		if err := kafka.EnsureTopicsExist(ctx, cfg.Kafka.Brokers, topics, log); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		}
	} else {
		log.Warn("KAFKA", "Kafka disabled, order events will not be published")
	}

	locker := inventory.NewKeyLocker(cfg.Reservation.LockTimeout)
	ledger := inventory.NewLedger(bunDB, locker, log)
	reservations := reservation.NewService(bunDB, ledger, log)
	allocator := queue.NewAllocator(counter, cfg.Queue.Location(), log)
	board := queue.NewBoard()

	orderService := order.NewOrderService(
		bunDB,
		reservations,
		allocator,
		newCatalog(cfg.Catalog, log),
		publisher,
		cfg.Kafka.Topics,
		board,
		log,
	)

	var workers sync.WaitGroup
	sweeper := reservation.NewSweeper(orderService, cfg.Reservation.TTL, cfg.Reservation.SweepInterval, log)
	workers.Add(1)
	go func() {
		defer workers.Done()
		sweeper.Run(ctx)
	}()

	if cfg.Kafka.Enabled {
		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topics.StockAdjustments, cfg.Kafka.ConsumerGroup, log)
		workers.Add(1)
		go func() {
			defer workers.Done()
			defer consumer.Close()
			consumer.Start(ctx, func(ctx context.Context, event kafka.StockEvent) error {
				_, err := ledger.Adjust(ctx, event.StoreID, event.SKUID, event.StockAdjustment)
				if errors.Is(err, inventory.ErrAdjustBelowReserved) || errors.Is(err, inventory.ErrInvalidQuantity) {
					log.Warn("KAFKA", fmt.Sprintf("Stock event for %s/%s rejected: %v", event.StoreID, event.SKUID, err))
					return nil
				}
				return err
			})
		}()
	}

	orderHandler := order_api.NewHandler(orderService, queue.NewTicketQR(qrSecret(cfg.Queue, log)), log)
	inventoryHandler := &inventory_api.Handler{Ledger: ledger, Logger: log}
	queueHandler := &queue_api.Handler{DB: bunDB, Allocator: allocator, Board: board, Logger: log}
	analyticsHandler := analytics_api.NewHandler(analytics.NewService(bunDB, cfg.Queue.Location()), log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware(serviceName))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := bunDB.PingContext(r.Context()); err != nil {
			utils.WriteJSON(w, http.StatusServiceUnavailable, utils.ErrorResponse("Database unreachable", err.Error()))
			return
		}
		utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("OK", nil))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		// Pickup screens are unauthenticated.
		queueHandler.Routes(r)

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(newVerifier(ctx, cfg.Auth, log), log))
			orderHandler.Routes(r)
			inventoryHandler.Routes(r)
			analyticsHandler.RegisterRoutes(r)
		})
	})

	// No WriteTimeout: the SSE board streams for as long as a screen is open.
	server := &http.Server{
		Addr:        cfg.Server.Port,
		Handler:     r,
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("HTTP", fmt.Sprintf("Order service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	<-ctx.Done()
	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server shutdown failed: %v", err))
	}
	workers.Wait()
	log.Info("APP", "Order service shutdown complete")
}

// prepareSchema applies SQL migrations when they ship with the binary and
// falls back to creating tables from the models otherwise.
func prepareSchema(ctx context.Context, bunDB *bun.DB, cfg config.DatabaseConfig, log *logger.Logger) {
	if !cfg.AutoMigrate {
		return
	}
	runner := migrations.NewRunner(bunDB, migrations.MigrateOptions{MigrationsDir: cfg.MigrationsDir, AutoMigrate: true}, log)
	if !runner.Available() {
		log.Warn("MIGRATE", fmt.Sprintf("%s not found, creating schema from models", cfg.MigrationsDir))
		if err := database.CreateSchema(ctx, bunDB); err != nil {
			log.Fatal("DATABASE", fmt.Sprintf("Failed to create schema: %v", err))
		}
		return
	}
	if err := runner.RunMigrations(); err != nil {
		log.Fatal("MIGRATE", err.Error())
	}
	// Closing the runner would close the shared *sql.DB as well.
}

func newCounter(ctx context.Context, cfg *config.Config, log *logger.Logger) (queue.Counter, func()) {
	switch cfg.Queue.Backend {
	case "memory":
		log.Warn("QUEUE", "In-memory queue counter: numbers restart with the process")
		return queue.NewMemoryCounter(), func() {}
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			log.Fatal("REDIS", fmt.Sprintf("Redis connection error: %v", err))
		}
		log.Info("REDIS", fmt.Sprintf("Queue counter on Redis at %s", cfg.Redis.Addr))
		return queue.NewRedisCounter(client), func() { client.Close() }
	default:
		return queue.DBCounter{}, func() {}
	}
}

func newCatalog(cfg config.CatalogConfig, log *logger.Logger) catalog.Catalog {
	if cfg.BaseURL != "" {
		log.Info("CATALOG", fmt.Sprintf("Using catalog service at %s", cfg.BaseURL))
		return catalog.NewHTTPCatalog(cfg.BaseURL, cfg.Timeout, log)
	}
	static, err := catalog.LoadFile(cfg.SeedFile)
	if err != nil {
		log.Warn("CATALOG", fmt.Sprintf("No catalog service and no seed file (%v): every SKU is unknown", err))
		return catalog.NewStaticCatalog()
	}
	log.Info("CATALOG", fmt.Sprintf("Loaded static catalog from %s", cfg.SeedFile))
	return static
}

func newVerifier(ctx context.Context, cfg config.AuthConfig, log *logger.Logger) auth.TokenVerifier {
	if cfg.OIDCIssuer == "" {
		log.Warn("AUTH", "OIDC_ISSUER not set, token signatures are NOT verified")
		return auth.UnverifiedVerifier{}
	}
	verifier, err := auth.NewOIDCVerifier(ctx, cfg.OIDCIssuer)
	if err != nil {
		log.Fatal("AUTH", err.Error())
	}
	return verifier
}

func qrSecret(cfg config.QueueConfig, log *logger.Logger) string {
	if cfg.QRSecret != "" {
		return cfg.QRSecret
	}
	log.Warn("QUEUE", "QR_SECRET_KEY not set, using a per-process secret")
	return uuid.NewString()
}
