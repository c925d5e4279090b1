package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/manateeit/mit-psa-sub005/internal/models"
)

// TenantRepository reads per-tenant scheduling settings.
type TenantRepository struct {
	db *sqlx.DB
}

// NewTenantRepository creates a new tenant repository.
func NewTenantRepository(db *sqlx.DB) *TenantRepository {
	return &TenantRepository{db: db}
}

// GetSettings returns the tenant's settings, or (nil, nil) when the tenant
// has no settings row so callers can fall back to defaults.
func (r *TenantRepository) GetSettings(ctx context.Context, tenantID string) (*models.TenantSettings, error) {
	const query = `SELECT tenant_id, time_zone, created_at, updated_at FROM tenant_settings WHERE tenant_id = $1`
	var settings models.TenantSettings
	if err := r.db.GetContext(ctx, &settings, query, tenantID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get tenant settings: %w", err)
	}
	return &settings, nil
}

// ListTenantIDs returns every tenant known to the scheduler, used by the
// conflict sweeper to enqueue per-tenant sweep jobs.
func (r *TenantRepository) ListTenantIDs(ctx context.Context) ([]string, error) {
	const query = `SELECT DISTINCT tenant_id FROM schedule_entries ORDER BY tenant_id ASC`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query); err != nil {
		return nil, fmt.Errorf("list tenant ids: %w", err)
	}
	return ids, nil
}
