// Package tests holds end-to-end tests that run the HTTP surface against a real
// PostgreSQL database. They skip unless DATABASE_URL is set.
package tests

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"

	"github.com/urnaweb/server/internal/db"
)

// OpenTestDB connects to DATABASE_URL and applies the embedded migrations,
// skipping the test when no database is configured.
func OpenTestDB(t *testing.T) *sql.DB {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}
	database, err := db.Open(context.Background(), url, 1)
	if err != nil {
		t.Fatalf("database open must succeed; check DATABASE_URL and that the test DB exists: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := db.Migrate(database); err != nil {
		t.Fatalf("migrations must run successfully: %v", err)
	}
	return database
}

// TruncateVotingTables empties every table and resets the id sequences.
func TruncateVotingTables(ctx context.Context, database *sql.DB) error {
	_, err := database.ExecContext(ctx, "TRUNCATE TABLE votes, sessions, options, questions, voters RESTART IDENTITY CASCADE")
	if err != nil {
		return fmt.Errorf("truncate voting tables: %w", err)
	}
	return nil
}

// SeedRoll inserts voters with fixed ids.
func SeedRoll(ctx context.Context, database *sql.DB, voters map[int64][2]string) error {
	for id, v := range voters {
		if _, err := database.ExecContext(ctx,
			"INSERT INTO voters (id, name, external_id) VALUES ($1, $2, $3)", id, v[0], v[1]); err != nil {
			return fmt.Errorf("seed voter %d: %w", id, err)
		}
	}
	return nil
}

// SeedQuestion inserts an active question and its options with fixed ids.
func SeedQuestion(ctx context.Context, database *sql.DB, id int64, text string, order int, options map[int64]string) error {
	if _, err := database.ExecContext(ctx,
		"INSERT INTO questions (id, text, sort_order) VALUES ($1, $2, $3)", id, text, order); err != nil {
		return fmt.Errorf("seed question %d: %w", id, err)
	}
	for oid, otext := range options {
		if _, err := database.ExecContext(ctx,
			"INSERT INTO options (id, question_id, text, sort_order) VALUES ($1, $2, $3, $4)", oid, id, otext, oid); err != nil {
			return fmt.Errorf("seed option %d: %w", oid, err)
		}
	}
	return nil
}
