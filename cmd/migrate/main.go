// Command migrate applies the trustdesk schema with goose.
//
// DATABASE_URL selects the target database. The subcommand is passed
// straight through to goose:
//
//	go run ./cmd/migrate up          # apply pending migrations
//	go run ./cmd/migrate down        # roll back the most recent one
//	go run ./cmd/migrate status      # list applied and pending migrations
//	go run ./cmd/migrate version     # print the current schema version
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
)

const migrationsDir = "migrations"

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: migrate <command> [args]")
		fmt.Println("Commands: up, down, status, version, redo, up-to <version>, down-to <version>")
		os.Exit(1)
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	if err := goose.RunContext(context.Background(), os.Args[1], db, migrationsDir, os.Args[2:]...); err != nil {
		log.Fatalf("Migration %s failed: %v", os.Args[1], err)
	}
}
