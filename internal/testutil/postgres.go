//go:build integration

package testutil

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"ms-ticketing-engine/internal/config"
	"ms-ticketing-engine/internal/database"
	"ms-ticketing-engine/internal/database/migrations"
	"ms-ticketing-engine/internal/logger"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
)

// NewPostgresDB starts a throwaway PostgreSQL container, applies the SQL
// migrations and returns a pooled connection. Unlike NewTestDB, transactions
// run concurrently and contend on real row locks.
func NewPostgresDB(t *testing.T) *bun.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping PostgreSQL integration test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "ticketing",
				"POSTGRES_PASSWORD": "ticketing",
				"POSTGRES_DB":       "ticketing",
			},
			// The entrypoint restarts the server once after init.
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(90 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	log := logger.NewDiscard()
	cfg := config.DatabaseConfig{
		DSN:            fmt.Sprintf("postgres://ticketing:ticketing@%s:%s/ticketing?sslmode=disable", host, port.Port()),
		MaxOpenConns:   20,
		MaxIdleConns:   20,
		MaxLifetime:    time.Hour,
		ConnectRetries: 5,
	}

	// The migrate driver closes the connection it is handed.
	migrateDB, err := database.Open(ctx, cfg, log)
	require.NoError(t, err)
	runner := migrations.NewRunner(migrateDB, migrations.Options{Dir: migrationsDir()}, log)
	require.NoError(t, runner.Up())
	require.NoError(t, runner.Close())

	db, err := database.Open(ctx, cfg, log)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func migrationsDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "migrations")
}
