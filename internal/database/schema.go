package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// NotificationsTable is the tape table name.
const NotificationsTable = "notifications"

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS notifications (
		received_at TIMESTAMPTZ NOT NULL,
		channel     TEXT        NOT NULL,
		kind        TEXT        NOT NULL,
		instrument  TEXT        NOT NULL DEFAULT '',
		payload     JSONB       NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS notifications_channel_time_idx
		ON notifications (channel, received_at DESC)`,
	`CREATE INDEX IF NOT EXISTS notifications_kind_time_idx
		ON notifications (kind, received_at DESC)`,
}

const hypertableStatement = `SELECT create_hypertable('notifications', 'received_at', if_not_exists => TRUE, migrate_data => TRUE)`

const timescaleInstalled = `SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'timescaledb')`

// Querier is the subset of *pgxpool.Pool the schema setup needs.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// EnsureSchema creates the notifications table and its indexes. When the
// timescaledb extension is installed the table is turned into a
// hypertable partitioned on received_at. It reports whether it did so.
func EnsureSchema(ctx context.Context, db Querier) (hypertable bool, err error) {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return false, fmt.Errorf("ensure schema: %w", err)
		}
	}

	var installed bool
	if err := db.QueryRow(ctx, timescaleInstalled).Scan(&installed); err != nil {
		return false, fmt.Errorf("check timescaledb extension: %w", err)
	}
	if !installed {
		return false, nil
	}

	if _, err := db.Exec(ctx, hypertableStatement); err != nil {
		return false, fmt.Errorf("create hypertable: %w", err)
	}
	return true, nil
}
