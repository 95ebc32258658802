package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// Pure-Go SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/pulsestream/pulsestream/internal/models"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	path string
	db   *sql.DB

	tenants *sqliteTenantRepo
	rules   *sqliteRuleRepo
	alerts  *sqliteAlertRepo
	events  *sqliteEventRepo
}

// NewSQLiteStorage creates a new SQLite storage.
func NewSQLiteStorage(path string) *SQLiteStorage {
	return &SQLiteStorage{path: path}
}

// Open initializes the database connection.
func (s *SQLiteStorage) Open() error {
	ctx := context.Background()

	if s.path == "" {
		return fmt.Errorf("database path is required")
	}

	db, err := sql.Open("sqlite", "file:"+s.path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0) // Keep connection alive

	// Test connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("ping database: %w", err)
	}

	// Enable foreign keys and WAL mode
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	s.db = db

	// Initialize repositories
	s.tenants = &sqliteTenantRepo{db: db}
	s.rules = &sqliteRuleRepo{db: db}
	s.alerts = &sqliteAlertRepo{db: db}
	s.events = &sqliteEventRepo{db: db}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying database connection for health checks.
func (s *SQLiteStorage) DB() *sql.DB {
	return s.db
}

// Migrate runs database migrations.
func (s *SQLiteStorage) Migrate() error {
	return runMigrations(s.db)
}

// Tenants returns the tenant repository.
func (s *SQLiteStorage) Tenants() TenantRepository {
	return s.tenants
}

// Rules returns the alert rule repository.
func (s *SQLiteStorage) Rules() RuleRepository {
	return s.rules
}

// Alerts returns the alert repository.
func (s *SQLiteStorage) Alerts() AlertRepository {
	return s.alerts
}

// Events returns the event repository.
func (s *SQLiteStorage) Events() EventRepository {
	return s.events
}

// EnsureTenant creates a tenant record if none exists for the id,
// applying the default rate limit. Used by deployments that provision
// tenants out of band.
func (s *SQLiteStorage) EnsureTenant(id, name string, rateLimit int) error {
	ctx := context.Background()

	_, err := s.Tenants().GetByID(ctx, id)
	if err == nil {
		return nil
	}
	if err != ErrNotFound {
		return fmt.Errorf("lookup tenant: %w", err)
	}

	tenant := &models.Tenant{
		ID:                 id,
		Name:               name,
		RateLimitPerMinute: rateLimit,
		IsActive:           true,
		CreatedAt:          time.Now().UTC(),
	}
	if err := s.Tenants().Create(ctx, tenant); err != nil {
		return fmt.Errorf("create tenant: %w", err)
	}
	return nil
}
