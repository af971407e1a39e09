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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"ms-reservation/internal/clock"
	"ms-reservation/internal/config"
	idemdb "ms-reservation/internal/idempotency/db"
	"ms-reservation/internal/kafka"
	"ms-reservation/internal/ledger"
	ledgerdb "ms-reservation/internal/ledger/db"
	"ms-reservation/internal/logger"
	"ms-reservation/internal/reclaimer"
	reservationdb "ms-reservation/internal/reservation/db"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logger.NewLogger()
	defer log.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- PostgreSQL Setup ---
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.Database)
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	defer sqldb.Close()

	if err := sqldb.Ping(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to Postgres: %v", err))
	}
	bunDB := bun.NewDB(sqldb, pgdialect.New())

	// --- Redis Setup (sweep lock) ---
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal("REDIS", fmt.Sprintf("Failed to connect to Redis: %v", err))
	}

	// --- Kafka Setup ---
	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		producer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topics.ReservationEvents, cfg.Kafka.Topics.OrderEvents)
		defer producer.Close()
	}

	// --- Wire Reclaimer ---
	registry := prometheus.NewRegistry()
	metrics := reclaimer.NewMetrics(registry)

	ledgerSvc := ledger.NewService(&ledgerdb.DB{Bun: bunDB}, log, cfg.Reservation.LedgerMaxRetries)

	rec := &reclaimer.Reclaimer{
		DB:          &reservationdb.DB{Bun: bunDB},
		Idempotency: &idemdb.DB{Bun: bunDB},
		Ledger:      ledgerSvc,
		Clock:       clock.NewSystem(),
		Logger:      log,
		Lock:        reclaimer.NewRedisSweepLock(redisClient, cfg.Reclaimer.Interval),
		Metrics:     metrics,
		Interval:    cfg.Reclaimer.Interval,
		BatchSize:   cfg.Reclaimer.BatchSize,
		Retention:   cfg.Reservation.ResultRetention,
	}
	if producer != nil {
		rec.Kafka = producer
	}

	go rec.Run(ctx)

	// --- Health / Metrics Endpoint ---
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:    cfg.Reclaimer.Port,
		Handler: r,
	}

	go func() {
		log.Info("SERVER", fmt.Sprintf("🚀 Reclaimer running on %s (interval %s)", cfg.Reclaimer.Port, cfg.Reclaimer.Interval))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("SERVER", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("SERVER", "Shutdown signal received, stopping sweep loop...")
	cancel()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Fatal("SERVER", fmt.Sprintf("Server forced to shutdown: %v", err))
	}

	log.Info("SERVER", "✅ Reclaimer exited gracefully")
}
