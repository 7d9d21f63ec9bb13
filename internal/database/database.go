// Package database provides the persistence layer: a Store interface,
// a Postgres implementation built on database/sql and lib/pq, and an
// in-memory implementation for tests and local development.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Connect opens a Postgres pool and verifies connectivity, retrying
// for a short window so the server survives a database that is still
// starting up.
func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	var pingErr error
	for i := 0; i < 10; i++ {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		pingErr = db.PingContext(pingCtx)
		cancel()
		if pingErr == nil {
			return db, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return nil, fmt.Errorf("ping postgres: %w", pingErr)
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		balance NUMERIC(20,8) NOT NULL,
		xp INT NOT NULL DEFAULT 0,
		level INT NOT NULL DEFAULT 1,
		rank TEXT NOT NULL DEFAULT 'INICIANTE',
		total_trades INT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS quests (
		id UUID PRIMARY KEY,
		title TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL,
		requirement_type TEXT NOT NULL,
		requirement_value NUMERIC(20,8) NOT NULL,
		reward_xp INT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS quest_progress (
		user_id UUID NOT NULL REFERENCES users(id),
		quest_id UUID NOT NULL REFERENCES quests(id),
		progress NUMERIC(20,8) NOT NULL DEFAULT 0,
		completed BOOLEAN NOT NULL DEFAULT false,
		claimed BOOLEAN NOT NULL DEFAULT false,
		completed_at TIMESTAMPTZ,
		claimed_at TIMESTAMPTZ,
		PRIMARY KEY (user_id, quest_id)
	)`,
	`CREATE TABLE IF NOT EXISTS holdings (
		user_id UUID NOT NULL REFERENCES users(id),
		symbol TEXT NOT NULL,
		amount NUMERIC(30,12) NOT NULL,
		average_buy_price NUMERIC(20,8) NOT NULL,
		total_invested NUMERIC(20,8) NOT NULL,
		PRIMARY KEY (user_id, symbol)
	)`,
	`CREATE TABLE IF NOT EXISTS trades (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL REFERENCES users(id),
		type TEXT NOT NULL,
		symbol TEXT NOT NULL,
		amount NUMERIC(30,12) NOT NULL,
		price NUMERIC(20,8) NOT NULL,
		total NUMERIC(20,8) NOT NULL,
		status TEXT NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_user_time ON trades (user_id, timestamp DESC)`,
	`CREATE TABLE IF NOT EXISTS portfolio_snapshots (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL REFERENCES users(id),
		snapshot_day DATE NOT NULL,
		date TIMESTAMPTZ NOT NULL,
		total_value NUMERIC(20,8) NOT NULL,
		total_invested NUMERIC(20,8) NOT NULL,
		profit_loss NUMERIC(20,8) NOT NULL,
		profit_loss_percent NUMERIC(20,8) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (user_id, snapshot_day)
	)`,
	`CREATE TABLE IF NOT EXISTS idempotency_keys (
		key TEXT PRIMARY KEY,
		user_id UUID NOT NULL,
		request_hash TEXT NOT NULL,
		status_code INT NOT NULL,
		response_body BYTEA NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// Migrate applies the schema. Statements are idempotent so repeated
// startup runs are harmless.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
