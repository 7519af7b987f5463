//go:build integration

package integration

import (
	"context"
	"log"
	"os"
	"testing"

	"github.com/jackc/pgx/v4/pgxpool"
)

var db *pgxpool.Pool

func TestMain(m *testing.M) {
	dbUrl := os.Getenv("DB_URL")
	if dbUrl == "" {
		log.Fatal("DB_URL env var is required for integration tests")
	}

	pool, err := pgxpool.Connect(context.Background(), dbUrl)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	db = pool

	code := m.Run()
	db.Close()
	os.Exit(code)
}
