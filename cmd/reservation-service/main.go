package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"ms-reservation/internal/clock"
	"ms-reservation/internal/commit"
	"ms-reservation/internal/commit/commit_api"
	commitdb "ms-reservation/internal/commit/db"
	"ms-reservation/internal/config"
	"ms-reservation/internal/database/migrations"
	"ms-reservation/internal/idempotency"
	idemdb "ms-reservation/internal/idempotency/db"
	"ms-reservation/internal/kafka"
	"ms-reservation/internal/ledger"
	ledgerdb "ms-reservation/internal/ledger/db"
	"ms-reservation/internal/ledger/ledger_api"
	"ms-reservation/internal/logger"
	"ms-reservation/internal/payment"
	"ms-reservation/internal/reservation"
	reservationdb "ms-reservation/internal/reservation/db"
	"ms-reservation/internal/reservation/reservation_api"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logger.NewLogger()
	defer log.Close()

	ctx := context.Background()

	// --- PostgreSQL Setup ---
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.Database)
	connector := pgdriver.NewConnector(pgdriver.WithDSN(dsn))
	sqldb := sql.OpenDB(connector)
	sqldb.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.Database.MaxLifetime)
	defer sqldb.Close()

	if err := sqldb.Ping(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to Postgres: %v", err))
	}
	bunDB := bun.NewDB(sqldb, pgdialect.New())

	runner := migrations.NewRunner(bunDB, migrations.DefaultOptions())
	if err := runner.MigrateUp(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Migrations failed: %v", err))
	}
	log.Info("DATABASE", "✅ Schema up to date")

	// --- Redis Setup ---
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal("REDIS", fmt.Sprintf("Failed to connect to Redis: %v", err))
	}

	// --- Kafka Setup ---
	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		producer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topics.ReservationEvents, cfg.Kafka.Topics.OrderEvents)
		defer producer.Close()
	} else {
		log.Warn("KAFKA", "Kafka disabled, lifecycle events will not be published")
	}

	// --- Stripe Setup ---
	payment.InitStripe()

	// --- Wire Services ---
	clk := clock.NewSystem()

	ledgerSvc := ledger.NewService(&ledgerdb.DB{Bun: bunDB}, log, cfg.Reservation.LedgerMaxRetries)

	resDB := &reservationdb.DB{Bun: bunDB}
	ttl := reservation.TTLPolicy{
		Default: cfg.Reservation.DefaultTTL,
		Min:     cfg.Reservation.MinTTL,
		Max:     cfg.Reservation.MaxTTL,
	}

	var resKafka reservation.KafkaPublisher
	var orderKafka commit.KafkaPublisher
	if producer != nil {
		resKafka = producer
		orderKafka = producer
	}

	resSvc := reservation.NewService(resDB, ledgerSvc, resKafka, clk, log, ttl)

	guard := idempotency.NewGuard(
		&idemdb.DB{Bun: bunDB},
		idempotency.NewCache(redisClient, cfg.Reservation.ResultRetention),
		clk, log,
		cfg.Reservation.IdempotencyWait,
		cfg.Reservation.IdempotencyPoll,
	)

	orderDB := &commitdb.DB{Bun: bunDB}
	coordinator := commit.NewCoordinator(resDB, orderDB, ledgerSvc, orderKafka, clk, log)

	resHandler := reservation_api.NewHandler(resSvc, coordinator, guard, payment.NewStripeVerifier(log), log)
	ledgerHandler := ledger_api.NewHandler(ledgerSvc, log)
	orderHandler := commit_api.NewHandler(orderDB, log)

	// --- Setup Router ---
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/resources", ledgerHandler.CreateResource)
		r.Get("/resources/{resourceId}", ledgerHandler.GetResource)

		r.Post("/reservations", resHandler.CreateReservation)
		r.Get("/reservations/{token}", resHandler.GetReservation)
		r.Post("/reservations/{token}/commit", resHandler.CommitReservation)
		r.Post("/reservations/{token}/cancel", resHandler.CancelReservation)

		r.Get("/orders/{orderId}", orderHandler.GetOrder)
	})

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("SERVER", fmt.Sprintf("🚀 Reservation service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("SERVER", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("SERVER", "Shutdown signal received, cleaning up...")

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Fatal("SERVER", fmt.Sprintf("Server forced to shutdown: %v", err))
	}

	log.Info("SERVER", "✅ Server exited gracefully")
}
