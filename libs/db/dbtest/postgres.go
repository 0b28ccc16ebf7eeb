// Package dbtest hands tests a PostgreSQL database: the one named by
// OUTBOX_POSTGRES_DSN, or a throwaway container shared by the test binary.
package dbtest

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const DSNEnv = "OUTBOX_POSTGRES_DSN"

var (
	once      sync.Once
	container *tcpostgres.PostgresContainer
	dsn       string
	startErr  error
)

// DSN returns a connection string for tests. Without OUTBOX_POSTGRES_DSN it
// starts postgres:16-alpine once per test binary; the test is skipped in
// -short mode or when no Docker daemon is reachable.
func DSN(t *testing.T) string {
	t.Helper()
	if v := os.Getenv(DSNEnv); v != "" {
		return v
	}
	if testing.Short() {
		t.Skip("postgres tests skipped in -short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	once.Do(start)
	if startErr != nil {
		t.Fatalf("start postgres container: %v", startErr)
	}
	return dsn
}

func start() {
	ctx := context.Background()
	c, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("outbox"),
		tcpostgres.WithUsername("outbox"),
		tcpostgres.WithPassword("outbox"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		startErr = err
		return
	}
	container = c
	dsn, startErr = c.ConnectionString(ctx, "sslmode=disable")
}

// Terminate stops the container started by DSN, if any. Call it from
// TestMain after m.Run.
func Terminate() {
	if container == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = container.Terminate(ctx)
}
