package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pulsestream/pulsestream/internal/models"
)

type sqliteTenantRepo struct {
	db *sql.DB
}

func (r *sqliteTenantRepo) Create(ctx context.Context, tenant *models.Tenant) error {
	query := `
		INSERT INTO tenants (id, name, rate_limit_per_minute, is_active, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		tenant.ID, tenant.Name, tenant.RateLimitPerMinute,
		boolToInt(tenant.IsActive), tenant.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert tenant: %w", err)
	}
	return nil
}

func (r *sqliteTenantRepo) GetByID(ctx context.Context, id string) (*models.Tenant, error) {
	query := `
		SELECT id, name, rate_limit_per_minute, is_active, created_at
		FROM tenants WHERE id = ?
	`
	tenant := &models.Tenant{}
	var isActive int

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&tenant.ID, &tenant.Name, &tenant.RateLimitPerMinute,
		&isActive, &tenant.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan tenant: %w", err)
	}

	tenant.IsActive = isActive != 0
	return tenant, nil
}
