package testutil

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// ContainerPG starts a throwaway PostgreSQL container and returns a
// connected *sql.DB plus a cleanup function that terminates the container.
//
// These tests need a working Docker daemon, so they only run when
// PG_CONTAINER_TESTS=1 is set. Use PGTest for a pre-provisioned database.
func ContainerPG(t *testing.T) (*sql.DB, func()) {
	t.Helper()

	if os.Getenv("PG_CONTAINER_TESTS") != "1" {
		t.Skip("PG_CONTAINER_TESTS not set, skipping container test")
	}

	ctx := context.Background()

	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("verigate_test"),
		tcpostgres.WithUsername("verigate"),
		tcpostgres.WithPassword("verigate"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("containerpg: start postgres: %v", err)
	}

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = ctr.Terminate(ctx)
		t.Fatalf("containerpg: connection string: %v", err)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		_ = ctr.Terminate(ctx)
		t.Fatalf("containerpg: open database: %v", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		_ = ctr.Terminate(ctx)
		t.Fatalf("containerpg: connect: %v", err)
	}

	cleanup := func() {
		_ = db.Close()
		_ = ctr.Terminate(ctx)
	}

	return db, cleanup
}
