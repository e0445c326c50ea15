// Command migrate manages the ticketing schema and can seed a demo event.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"ms-ticketing-engine/internal/config"
	"ms-ticketing-engine/internal/database"
	"ms-ticketing-engine/internal/database/migrations"
	"ms-ticketing-engine/internal/logger"
	"ms-ticketing-engine/internal/models"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/uptrace/bun"
)

func main() {
	log := logger.NewLogger("migrate")
	defer log.Close()

	_ = godotenv.Load()
	cfg := config.Load()

	flagSet := pflag.NewFlagSet("migrate", pflag.ContinueOnError)
	flagSet.StringVar(&cfg.Database.DSN, "dsn", cfg.Database.DSN, "PostgreSQL DSN (default from POSTGRES_DSN)")
	flagSet.StringVar(&cfg.Database.MigrationsDir, "dir", cfg.Database.MigrationsDir, "directory holding the *.up.sql / *.down.sql files")
	flagSet.BoolP("help", "h", false, "show help")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return
	}

	args := flagSet.Args()
	if len(args) == 0 {
		printHelp(flagSet)
		os.Exit(2)
	}

	ctx := context.Background()
	cfg.Database.ConnectRetries = 1
	db, err := database.Open(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal("DATABASE", err.Error())
	}

	if args[0] == "seed" {
		defer db.Close()
		if err := seed(ctx, db); err != nil {
			log.Fatal("SEED", fmt.Sprintf("Failed to seed demo data: %v", err))
		}
		log.Info("SEED", "Demo event and ticket types inserted")
		return
	}

	runner := migrations.NewRunner(db, migrations.Options{Dir: cfg.Database.MigrationsDir}, log)
	if err := runner.Initialize(); err != nil {
		db.Close()
		log.Fatal("MIGRATE", err.Error())
	}
	err = run(runner, args, log)
	if closeErr := runner.Close(); closeErr != nil {
		log.Warn("MIGRATE", closeErr.Error())
	}
	if err != nil {
		log.Fatal("MIGRATE", err.Error())
	}
}

func run(runner *migrations.Runner, args []string, log *logger.Logger) error {
	switch args[0] {
	case "up":
		return runner.Up()
	case "down":
		return runner.Down()
	case "steps":
		if len(args) < 2 {
			return fmt.Errorf("steps needs a count")
		}
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid step count %q: %w", args[1], err)
		}
		return runner.Steps(n)
	case "version":
		version, dirty, err := runner.Version()
		if err != nil {
			return err
		}
		log.Info("MIGRATE", fmt.Sprintf("Schema version %d (dirty: %t)", version, dirty))
		return nil
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

// seed inserts one approved event with a single date and two ticket types.
func seed(ctx context.Context, db *bun.DB) error {
	start := time.Now().UTC().Add(30 * 24 * time.Hour).Truncate(time.Hour)
	end := start.Add(4 * time.Hour)

	return db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		event := &models.Event{
			ID:        "event-demo",
			Title:     "Demo Concert",
			Status:    models.EventStatusApproved,
			StartTime: start,
			EndTime:   end,
		}
		if _, err := tx.NewInsert().Model(event).On("CONFLICT (id) DO NOTHING").Exec(ctx); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}

		date := &models.EventDate{ID: "event-demo-d1", EventID: event.ID, StartAt: start, EndAt: end}
		if _, err := tx.NewInsert().Model(date).On("CONFLICT (id) DO NOTHING").Exec(ctx); err != nil {
			return fmt.Errorf("insert event date: %w", err)
		}

		types := []models.TicketType{
			{ID: "tt-demo-standard", EventID: event.ID, EventDateID: date.ID, Name: "Standard", Price: 150000, InitialQuantity: 500, RemainingQuantity: 500, Status: "active"},
			{ID: "tt-demo-vip", EventID: event.ID, EventDateID: date.ID, Name: "VIP", Price: 500000, InitialQuantity: 50, RemainingQuantity: 50, Status: "active"},
		}
		if _, err := tx.NewInsert().Model(&types).On("CONFLICT (id) DO NOTHING").Exec(ctx); err != nil {
			return fmt.Errorf("insert ticket types: %w", err)
		}
		return nil
	})
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `Usage: migrate [flags] <command>

Commands:
  up           apply all pending migrations
  down         roll back every migration
  steps N      apply N migrations, or roll back when N is negative
  version      print the current schema version
  seed         insert a demo event with ticket types

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
