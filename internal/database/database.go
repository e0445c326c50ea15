package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"ms-ticketing-engine/internal/config"
	"ms-ticketing-engine/internal/logger"
	"ms-ticketing-engine/internal/models"

	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

// Open connects to PostgreSQL, retrying while the database container starts.
func Open(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*bun.DB, error) {
	var sqldb *sql.DB
	var err error

	retries := cfg.ConnectRetries
	if retries < 1 {
		retries = 1
	}

	for i := 0; i < retries; i++ {
		log.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, retries))
		sqldb, err = sql.Open("postgres", cfg.DSN)
		if err != nil {
			log.Error("DATABASE", fmt.Sprintf("Failed to open PostgreSQL: %v", err))
			time.Sleep(2 * time.Second)
			continue
		}

		err = sqldb.PingContext(ctx)
		if err == nil {
			break
		}

		log.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		sqldb.Close()
		if i < retries-1 {
			time.Sleep(2 * time.Second)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect to postgres after %d attempts: %w", retries, err)
	}

	sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.MaxLifetime)

	log.LogDatabase("CONNECT", "postgres", fmt.Sprintf("connection pool ready, max %d open connections", cfg.MaxOpenConns))
	return bun.NewDB(sqldb, pgdialect.New()), nil
}

var schemaModels = []any{
	(*models.Event)(nil),
	(*models.EventDate)(nil),
	(*models.TicketType)(nil),
	(*models.Order)(nil),
	(*models.OrderItem)(nil),
	(*models.Reservation)(nil),
	(*models.PaymentTransaction)(nil),
	(*models.PurchasedTicket)(nil),
}

// CreateSchema builds the tables straight from the bun models. Production
// databases are migrated with the SQL files under migrations/; this is used
// by tests and local development.
func CreateSchema(ctx context.Context, db *bun.DB) error {
	for _, model := range schemaModels {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", model, err)
		}
	}

	indexes := []struct {
		model   any
		name    string
		columns []string
	}{
		{(*models.Reservation)(nil), "idx_reservations_status_expires_at", []string{"status", "expires_at"}},
		{(*models.Reservation)(nil), "idx_reservations_order_id", []string{"order_id"}},
		{(*models.Order)(nil), "idx_orders_status_created_at", []string{"status", "created_at"}},
		{(*models.OrderItem)(nil), "idx_order_items_order_id", []string{"order_id"}},
		{(*models.PaymentTransaction)(nil), "idx_payment_transactions_provider_ref", []string{"provider_ref"}},
		{(*models.PurchasedTicket)(nil), "idx_purchased_tickets_status", []string{"status"}},
	}
	for _, idx := range indexes {
		_, err := db.NewCreateIndex().
			Model(idx.model).
			Index(idx.name).
			Column(idx.columns...).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("create index %s: %w", idx.name, err)
		}
	}
	return nil
}
