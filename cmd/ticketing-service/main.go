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

	"ms-ticketing-engine/internal/api"
	"ms-ticketing-engine/internal/auth"
	"ms-ticketing-engine/internal/catalog"
	"ms-ticketing-engine/internal/config"
	"ms-ticketing-engine/internal/database"
	"ms-ticketing-engine/internal/database/migrations"
	"ms-ticketing-engine/internal/kafka"
	"ms-ticketing-engine/internal/lock"
	"ms-ticketing-engine/internal/logger"
	"ms-ticketing-engine/internal/notify"
	"ms-ticketing-engine/internal/order"
	"ms-ticketing-engine/internal/payment"
	"ms-ticketing-engine/internal/payment/gateway"
	"ms-ticketing-engine/internal/sweeper"
	"ms-ticketing-engine/internal/tickets"
	"ms-ticketing-engine/internal/tickets/qr"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
)

func main() {
	log := logger.NewLogger("ticketing-service")
	defer log.Close()

	log.Info("APP", "Starting ticketing service initialization")

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		log.Info("CONFIG", "Loaded environment variables from .env file")
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Database.AutoMigrate {
		if err := migrate(ctx, cfg.Database, log); err != nil {
			log.Fatal("MIGRATE", fmt.Sprintf("Failed to apply migrations: %v", err))
		}
	}

	bunDB, err := database.Open(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal("DATABASE", err.Error())
	}
	defer bunDB.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal("REDIS", fmt.Sprintf("Redis connection error: %v", err))
	}
	defer redisClient.Close()
	log.Info("REDIS", fmt.Sprintf("Redis connection successful to %s (DB: %d)", cfg.Redis.Addr, cfg.Redis.DB))
	locker := lock.NewRedis(redisClient, log)

	producer := newProducer(ctx, cfg.Kafka, log)
	defer producer.Close()

	qrGen, err := qr.NewGenerator(cfg.QRSecret)
	if err != nil {
		log.Fatal("CONFIG", fmt.Sprintf("Invalid QR secret: %v", err))
	}

	events := catalog.New(bunDB)
	orders := order.NewOrderService(bunDB, events, producer, log, nil, order.Options{
		HoldTTL:           cfg.Reservation.HoldTTL,
		AbandonedOrderAge: cfg.Reservation.AbandonedOrderAge,
		TxTimeout:         cfg.Reservation.ReservationTxTimeout,
	})
	ticketManager := tickets.NewManager(bunDB, events, qrGen, log, nil)

	httpClient := &http.Client{Timeout: cfg.Reservation.GatewayRequestTimeout}
	gateways := gateway.NewRegistry(
		gateway.NewVNPay(cfg.VNPay),
		gateway.NewMoMo(cfg.MoMo, httpClient),
		gateway.NewZaloPay(cfg.ZaloPay, httpClient),
	)
	log.Info("PAYMENT", fmt.Sprintf("Payment gateways enabled: %v", gateways.Providers()))
	coordinator := payment.NewCoordinator(
		bunDB,
		gateways,
		orders,
		ticketManager,
		locker,
		notify.NewKafkaSender(producer, qrGen),
		log,
		nil,
		payment.Options{
			SettlementTxTimeout: cfg.Reservation.SettlementTxTimeout,
			GatewayTimeout:      cfg.Reservation.GatewayRequestTimeout,
			LockTTL:             cfg.Reservation.PaymentURLLockTTL,
			NotificationTimeout: cfg.Reservation.NotificationTimeout,
		},
	)

	verifier, err := auth.NewVerifier(ctx, cfg.Auth.OIDCIssuer, cfg.Auth.JWTSecret)
	if err != nil {
		log.Fatal("AUTH", fmt.Sprintf("Failed to set up token verification: %v", err))
	}

	handler := &api.Handler{
		Orders:      orders,
		Payments:    coordinator,
		Tickets:     ticketManager,
		Verifier:    verifier,
		Logger:      log,
		FrontendURL: cfg.FrontendURL,
	}

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      handler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	runner := sweeper.NewRunner(locker, log,
		sweeper.ReservationSweep(orders, log, cfg.Reservation.SweepInterval),
		sweeper.TicketExpiry(ticketManager, cfg.Reservation.TicketExpiryInterval),
	)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := runner.Start(ctx); err != nil {
			log.Error("SWEEP", fmt.Sprintf("Sweeper stopped: %v", err))
		}
	}()

	go func() {
		log.Info("HTTP", fmt.Sprintf("Ticketing service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	log.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-ctx.Done()

	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server shutdown failed: %v", err))
	}
	wg.Wait()
	coordinator.Wait()
	orders.Wait()
	log.Info("APP", "Ticketing service shutdown complete")
}

// migrate runs on its own connection; closing the migrator closes it.
func migrate(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) error {
	migrationDB, err := database.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	runner := migrations.NewRunner(migrationDB, migrations.Options{Dir: cfg.MigrationsDir, AutoMigrate: true}, log)
	if err := runner.Initialize(); err != nil {
		migrationDB.Close()
		return err
	}
	defer func() {
		if err := runner.Close(); err != nil {
			log.Warn("MIGRATE", fmt.Sprintf("Failed to close migrator: %v", err))
		}
	}()
	return runner.Up()
}

func newProducer(ctx context.Context, cfg config.KafkaConfig, log *logger.Logger) *kafka.Producer {
	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Warn("KAFKA", "Kafka disabled, events will only be logged")
		return kafka.NewLogOnlyProducer(log)
	}

	topicCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	topics := []string{cfg.Topics.OrderEvents, cfg.Topics.Notifications}
	if err := kafka.EnsureTopicsExist(topicCtx, cfg.Brokers, topics, log); err != nil {
		log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
	}

	log.Info("KAFKA", fmt.Sprintf("Kafka producer initialized for brokers %v", cfg.Brokers))
	return kafka.NewProducer(cfg.Brokers, cfg.Topics.OrderEvents, cfg.Topics.Notifications, log)
}
