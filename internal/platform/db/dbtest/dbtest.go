//go:build integration

// Package dbtest connects integration tests to a real PostgreSQL database.
// Set MEDICHECK_TEST_DATABASE_URL and run with -tags integration.
package dbtest

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medicheck/medicheck/internal/platform/db"
)

const envURL = "MEDICHECK_TEST_DATABASE_URL"

// Pool returns a migrated pool, or skips the test when no database is
// configured. Tests share the schema, so they must use unique ids.
func Pool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv(envURL)
	if url == "" {
		t.Skipf("%s not set", envURL)
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, url, 4, 1)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	if _, err := db.NewMigrator(pool, migrationsDir()).Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return pool
}

func migrationsDir() string {
	_, file, _, _ := runtime.Caller(0)
	// internal/platform/db/dbtest -> module root
	return filepath.Join(filepath.Dir(file), "..", "..", "..", "..", "migrations")
}
