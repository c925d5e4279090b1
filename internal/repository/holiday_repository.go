package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/manateeit/mit-psa-sub005/internal/models"
)

// HolidayRepository reads tenant holiday calendars used by the
// workdays-only recurrence filter.
type HolidayRepository struct {
	db *sqlx.DB
}

// NewHolidayRepository creates a new holiday repository.
func NewHolidayRepository(db *sqlx.DB) *HolidayRepository {
	return &HolidayRepository{db: db}
}

// ListInRange returns the tenant's holidays whose date falls inside
// [start, end].
func (r *HolidayRepository) ListInRange(ctx context.Context, tenantID string, start, end time.Time) ([]models.Holiday, error) {
	const query = `SELECT id, tenant_id, holiday_date, name, created_at, updated_at
FROM holidays
WHERE tenant_id = $1 AND holiday_date >= $2 AND holiday_date <= $3
ORDER BY holiday_date ASC`
	var holidays []models.Holiday
	if err := r.db.SelectContext(ctx, &holidays, query, tenantID, start, end); err != nil {
		return nil, fmt.Errorf("list holidays in range: %w", err)
	}
	return holidays, nil
}
