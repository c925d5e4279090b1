package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/manateeit/mit-psa-sub005/internal/models"
)

const patternColumns = `entry_id, tenant_id, frequency, "interval", end_date, occurrence_count, exceptions, workdays_only, created_at, updated_at`

// PatternRepository persists recurrence patterns keyed by master entry id.
type PatternRepository struct {
	db *sqlx.DB
}

// NewPatternRepository creates a new pattern repository.
func NewPatternRepository(db *sqlx.DB) *PatternRepository {
	return &PatternRepository{db: db}
}

// GetByEntryID loads the pattern of a master entry.
func (r *PatternRepository) GetByEntryID(ctx context.Context, tenantID, entryID string) (*models.RecurrencePattern, error) {
	query := fmt.Sprintf(`SELECT %s FROM recurrence_patterns WHERE tenant_id = $1 AND entry_id = $2`, patternColumns)
	var pattern models.RecurrencePattern
	if err := r.db.GetContext(ctx, &pattern, query, tenantID, entryID); err != nil {
		return nil, err
	}
	return &pattern, nil
}

// ListByEntryIDs loads patterns for a set of master ids.
func (r *PatternRepository) ListByEntryIDs(ctx context.Context, tenantID string, entryIDs []string) ([]models.RecurrencePattern, error) {
	if len(entryIDs) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT %s FROM recurrence_patterns WHERE tenant_id = $1 AND entry_id = ANY($2)`, patternColumns)
	var patterns []models.RecurrencePattern
	if err := r.db.SelectContext(ctx, &patterns, query, tenantID, pq.Array(entryIDs)); err != nil {
		return nil, fmt.Errorf("list recurrence patterns: %w", err)
	}
	return patterns, nil
}

// CreateWithTx inserts a pattern using the provided executor.
func (r *PatternRepository) CreateWithTx(ctx context.Context, exec sqlx.ExtContext, pattern *models.RecurrencePattern) error {
	now := time.Now().UTC()
	if pattern.CreatedAt.IsZero() {
		pattern.CreatedAt = now
	}
	pattern.UpdatedAt = now
	if pattern.Exceptions == nil {
		pattern.Exceptions = pq.StringArray{}
	}

	const query = `INSERT INTO recurrence_patterns (entry_id, tenant_id, frequency, "interval", end_date, occurrence_count, exceptions, workdays_only, created_at, updated_at)
VALUES (:entry_id, :tenant_id, :frequency, :interval, :end_date, :occurrence_count, :exceptions, :workdays_only, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, exec, query, pattern); err != nil {
		return fmt.Errorf("create recurrence pattern: %w", err)
	}
	return nil
}

// UpdateWithTx rewrites a pattern using the provided executor.
func (r *PatternRepository) UpdateWithTx(ctx context.Context, exec sqlx.ExtContext, pattern *models.RecurrencePattern) error {
	pattern.UpdatedAt = time.Now().UTC()
	if pattern.Exceptions == nil {
		pattern.Exceptions = pq.StringArray{}
	}
	const query = `UPDATE recurrence_patterns SET frequency = :frequency, "interval" = :interval, end_date = :end_date, occurrence_count = :occurrence_count, exceptions = :exceptions, workdays_only = :workdays_only, updated_at = :updated_at
WHERE tenant_id = :tenant_id AND entry_id = :entry_id`
	if _, err := sqlx.NamedExecContext(ctx, exec, query, pattern); err != nil {
		return fmt.Errorf("update recurrence pattern: %w", err)
	}
	return nil
}

// DeleteWithTx removes the pattern of a master entry.
func (r *PatternRepository) DeleteWithTx(ctx context.Context, exec sqlx.ExtContext, tenantID, entryID string) error {
	if _, err := exec.ExecContext(ctx, `DELETE FROM recurrence_patterns WHERE tenant_id = $1 AND entry_id = $2`, tenantID, entryID); err != nil {
		return fmt.Errorf("delete recurrence pattern: %w", err)
	}
	return nil
}

// AddExceptionWithTx appends a cancelled or overridden anchor date to the
// master's exception set. Adding a date twice is a no-op.
func (r *PatternRepository) AddExceptionWithTx(ctx context.Context, exec sqlx.ExtContext, tenantID, entryID, date string) error {
	const query = `UPDATE recurrence_patterns SET exceptions = array_append(exceptions, $3), updated_at = $4
WHERE tenant_id = $1 AND entry_id = $2 AND NOT ($3 = ANY(exceptions))`
	if _, err := exec.ExecContext(ctx, query, tenantID, entryID, date, time.Now().UTC()); err != nil {
		return fmt.Errorf("add pattern exception: %w", err)
	}
	return nil
}
