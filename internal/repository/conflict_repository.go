package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/manateeit/mit-psa-sub005/internal/models"
)

const conflictColumns = `id, tenant_id, entry_id_1, entry_id_2, conflict_type, resolved, resolution_notes, detected_at`

// ConflictRepository persists advisory schedule conflicts.
type ConflictRepository struct {
	db *sqlx.DB
}

// NewConflictRepository creates a new conflict repository.
func NewConflictRepository(db *sqlx.DB) *ConflictRepository {
	return &ConflictRepository{db: db}
}

// List returns conflicts for a tenant, optionally filtered by resolution
// state, with pagination metadata.
func (r *ConflictRepository) List(ctx context.Context, tenantID string, filter models.ConflictFilter) ([]models.ScheduleConflict, int, error) {
	base := "FROM schedule_conflicts WHERE tenant_id = $1"
	args := []interface{}{tenantID}
	if filter.Resolved != nil {
		base += fmt.Sprintf(" AND resolved = $%d", len(args)+1)
		args = append(args, *filter.Resolved)
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 200 {
		size = 50
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY detected_at DESC, id ASC LIMIT %d OFFSET %d", conflictColumns, base, size, offset)
	var conflicts []models.ScheduleConflict
	if err := r.db.SelectContext(ctx, &conflicts, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list schedule conflicts: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count schedule conflicts: %w", err)
	}
	return conflicts, total, nil
}

// Upsert stores a conflict pair, ignoring duplicates of the same pair.
func (r *ConflictRepository) Upsert(ctx context.Context, conflict *models.ScheduleConflict) error {
	if conflict.ID == "" {
		conflict.ID = uuid.NewString()
	}
	if conflict.DetectedAt.IsZero() {
		conflict.DetectedAt = time.Now().UTC()
	}
	const query = `INSERT INTO schedule_conflicts (id, tenant_id, entry_id_1, entry_id_2, conflict_type, resolved, resolution_notes, detected_at)
VALUES (:id, :tenant_id, :entry_id_1, :entry_id_2, :conflict_type, :resolved, :resolution_notes, :detected_at)
ON CONFLICT (tenant_id, entry_id_1, entry_id_2) DO NOTHING`
	if _, err := r.db.NamedExecContext(ctx, query, conflict); err != nil {
		return fmt.Errorf("upsert schedule conflict: %w", err)
	}
	return nil
}

// Resolve marks a conflict acknowledged with notes.
func (r *ConflictRepository) Resolve(ctx context.Context, tenantID, id, notes string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE schedule_conflicts SET resolved = TRUE, resolution_notes = $3 WHERE tenant_id = $1 AND id = $2`, tenantID, id, notes)
	if err != nil {
		return fmt.Errorf("resolve schedule conflict: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve schedule conflict: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteForEntryWithTx removes conflict rows referencing an entry; used when
// the entry itself is deleted.
func (r *ConflictRepository) DeleteForEntryWithTx(ctx context.Context, exec sqlx.ExtContext, tenantID, entryID string) error {
	if _, err := exec.ExecContext(ctx, `DELETE FROM schedule_conflicts WHERE tenant_id = $1 AND (entry_id_1 = $2 OR entry_id_2 = $2)`, tenantID, entryID); err != nil {
		return fmt.Errorf("delete conflicts for entry: %w", err)
	}
	return nil
}

// ReplaceUnresolved swaps the tenant's unresolved conflict set for a freshly
// detected one within a single transaction. Resolved rows are kept as an
// audit trail.
func (r *ConflictRepository) ReplaceUnresolved(ctx context.Context, tenantID string, conflicts []models.ScheduleConflict) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace conflicts: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM schedule_conflicts WHERE tenant_id = $1 AND resolved = FALSE`, tenantID); err != nil {
		err = fmt.Errorf("clear unresolved conflicts: %w", err)
		return err
	}

	now := time.Now().UTC()
	for i := range conflicts {
		c := conflicts[i]
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		if c.DetectedAt.IsZero() {
			c.DetectedAt = now
		}
		c.TenantID = tenantID
		if _, err = sqlx.NamedExecContext(ctx, tx, `INSERT INTO schedule_conflicts (id, tenant_id, entry_id_1, entry_id_2, conflict_type, resolved, resolution_notes, detected_at)
VALUES (:id, :tenant_id, :entry_id_1, :entry_id_2, :conflict_type, :resolved, :resolution_notes, :detected_at)
ON CONFLICT (tenant_id, entry_id_1, entry_id_2) DO NOTHING`, &c); err != nil {
			err = fmt.Errorf("insert detected conflict: %w", err)
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit replace conflicts: %w", err)
	}
	return nil
}
