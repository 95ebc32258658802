package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a database migration.
type Migration struct {
	Version int
	Name    string
	Up      string
}

// migrations holds all database migrations in order.
var migrations = []Migration{
	{
		Version: 1,
		Name:    "initial_schema",
		Up: `
			-- Tenants table (provisioned externally, consumed by id)
			CREATE TABLE IF NOT EXISTS tenants (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				rate_limit_per_minute INTEGER NOT NULL DEFAULT 1000,
				is_active INTEGER NOT NULL DEFAULT 1,
				created_at DATETIME NOT NULL
			);

			-- Alert rules table
			CREATE TABLE IF NOT EXISTS alert_rules (
				id TEXT PRIMARY KEY,
				tenant_id TEXT NOT NULL,
				name TEXT NOT NULL,
				description TEXT,
				event_type TEXT,
				condition_json TEXT NOT NULL,
				time_window TEXT NOT NULL,
				evaluation_interval INTEGER NOT NULL,
				severity TEXT NOT NULL,
				notify_json TEXT NOT NULL,
				notification_template TEXT,
				is_active INTEGER NOT NULL DEFAULT 1,
				cooldown_minutes INTEGER NOT NULL,
				max_alerts_per_hour INTEGER NOT NULL,
				last_evaluated_at DATETIME,
				last_triggered_at DATETIME,
				total_triggers INTEGER NOT NULL DEFAULT 0,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL,
				is_deleted INTEGER NOT NULL DEFAULT 0
			);

			-- Alerts table
			CREATE TABLE IF NOT EXISTS alerts (
				id TEXT PRIMARY KEY,
				tenant_id TEXT NOT NULL,
				rule_id TEXT NOT NULL,
				title TEXT NOT NULL,
				message TEXT,
				severity TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'active',
				triggered_at DATETIME NOT NULL,
				resolved_at DATETIME,
				trigger_json TEXT,
				metadata_json TEXT,
				event_id TEXT,
				notifications_json TEXT,
				notification_failures INTEGER NOT NULL DEFAULT 0,
				resolved_by TEXT,
				resolution_note TEXT,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			);

			-- Events table
			CREATE TABLE IF NOT EXISTS events (
				id TEXT PRIMARY KEY,
				tenant_id TEXT NOT NULL,
				event_type TEXT NOT NULL,
				source TEXT,
				source_version TEXT,
				event_timestamp DATETIME NOT NULL,
				ingested_at DATETIME NOT NULL,
				payload_json TEXT NOT NULL,
				metadata_json TEXT,
				external_id TEXT,
				correlation_id TEXT,
				processing_status TEXT NOT NULL DEFAULT 'pending',
				processed_at DATETIME,
				duration_ms INTEGER,
				status_code INTEGER,
				error_message TEXT,
				geo_country TEXT,
				geo_city TEXT,
				user_agent TEXT,
				device_type TEXT,
				alert_processed INTEGER NOT NULL DEFAULT 0,
				alerts_triggered INTEGER NOT NULL DEFAULT 0,
				is_deleted INTEGER NOT NULL DEFAULT 0
			);

			-- Indexes
			CREATE INDEX IF NOT EXISTS idx_rules_tenant_active ON alert_rules(tenant_id, is_active);
			CREATE INDEX IF NOT EXISTS idx_alerts_tenant_status ON alerts(tenant_id, status);
			CREATE INDEX IF NOT EXISTS idx_alerts_rule_triggered ON alerts(rule_id, triggered_at);
			CREATE INDEX IF NOT EXISTS idx_events_tenant_time ON events(tenant_id, event_timestamp);
			CREATE INDEX IF NOT EXISTS idx_events_tenant_type ON events(tenant_id, event_type);

			-- Idempotent ingestion: at most one live event per caller id.
			CREATE UNIQUE INDEX IF NOT EXISTS idx_events_external
				ON events(tenant_id, external_id)
				WHERE external_id IS NOT NULL AND is_deleted = 0;
		`,
	},
}

// runMigrations applies all pending migrations.
func runMigrations(db *sql.DB) error {
	// Create migrations table if not exists
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	// Get current version
	var currentVersion int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	// Apply pending migrations
	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}

		// Run migration in transaction
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction for migration %d: %w", m.Version, err)
		}

		_, err = tx.Exec(m.Up)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d (%s): %w", m.Version, m.Name, err)
		}

		_, err = tx.Exec(
			"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Name, time.Now(),
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}
