package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/manateeit/mit-psa-sub005/internal/models"
)

const entryColumns = `id, tenant_id, original_entry_id, anchor_date, split_from_id, title, notes, status, work_item_ref, scheduled_start, scheduled_end, assigned_user_ids, created_at, updated_at`

// EntryRepository persists schedule entries: standalones, recurrence masters
// and detached exceptions all live in one table.
type EntryRepository struct {
	db *sqlx.DB
}

// NewEntryRepository creates a new entry repository.
func NewEntryRepository(db *sqlx.DB) *EntryRepository {
	return &EntryRepository{db: db}
}

// FindByID loads an entry by id within a tenant.
func (r *EntryRepository) FindByID(ctx context.Context, tenantID, id string) (*models.ScheduleEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM schedule_entries WHERE tenant_id = $1 AND id = $2`, entryColumns)
	var entry models.ScheduleEntry
	if err := r.db.GetContext(ctx, &entry, query, tenantID, id); err != nil {
		return nil, err
	}
	return &entry, nil
}

// ListNonRecurringInRange returns standalone entries and detached exceptions
// whose own times intersect [start, end). Masters are excluded; their
// occurrences come from expansion.
func (r *EntryRepository) ListNonRecurringInRange(ctx context.Context, tenantID string, start, end time.Time) ([]models.ScheduleEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM schedule_entries e
WHERE e.tenant_id = $1 AND e.scheduled_start < $3 AND e.scheduled_end >= $2
AND NOT EXISTS (SELECT 1 FROM recurrence_patterns p WHERE p.tenant_id = e.tenant_id AND p.entry_id = e.id)
ORDER BY e.scheduled_start ASC, e.id ASC`, prefixColumns("e"))
	var entries []models.ScheduleEntry
	if err := r.db.SelectContext(ctx, &entries, query, tenantID, start, end); err != nil {
		return nil, fmt.Errorf("list non-recurring entries: %w", err)
	}
	return entries, nil
}

// ListMastersStartingBefore returns recurrence masters whose series begins on
// or before the given instant. Whether a master actually produces
// occurrences inside a window is decided by expansion.
func (r *EntryRepository) ListMastersStartingBefore(ctx context.Context, tenantID string, end time.Time) ([]models.ScheduleEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM schedule_entries e
WHERE e.tenant_id = $1 AND e.scheduled_start <= $2
AND EXISTS (SELECT 1 FROM recurrence_patterns p WHERE p.tenant_id = e.tenant_id AND p.entry_id = e.id)
ORDER BY e.scheduled_start ASC, e.id ASC`, prefixColumns("e"))
	var entries []models.ScheduleEntry
	if err := r.db.SelectContext(ctx, &entries, query, tenantID, end); err != nil {
		return nil, fmt.Errorf("list recurrence masters: %w", err)
	}
	return entries, nil
}

// ListExceptionsBySeries returns the detached exceptions of a master.
func (r *EntryRepository) ListExceptionsBySeries(ctx context.Context, tenantID, seriesID string) ([]models.ScheduleEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM schedule_entries WHERE tenant_id = $1 AND original_entry_id = $2 ORDER BY anchor_date ASC`, entryColumns)
	var entries []models.ScheduleEntry
	if err := r.db.SelectContext(ctx, &entries, query, tenantID, seriesID); err != nil {
		return nil, fmt.Errorf("list series exceptions: %w", err)
	}
	return entries, nil
}

// ListSplitChildren returns masters created by future-scope edits of the
// given series.
func (r *EntryRepository) ListSplitChildren(ctx context.Context, tenantID, seriesID string) ([]models.ScheduleEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM schedule_entries WHERE tenant_id = $1 AND split_from_id = $2 ORDER BY scheduled_start ASC`, entryColumns)
	var entries []models.ScheduleEntry
	if err := r.db.SelectContext(ctx, &entries, query, tenantID, seriesID); err != nil {
		return nil, fmt.Errorf("list split children: %w", err)
	}
	return entries, nil
}

// Create stores a new entry.
func (r *EntryRepository) Create(ctx context.Context, entry *models.ScheduleEntry) error {
	return r.CreateWithTx(ctx, r.db, entry)
}

// CreateWithTx stores a new entry using the provided executor.
func (r *EntryRepository) CreateWithTx(ctx context.Context, exec sqlx.ExtContext, entry *models.ScheduleEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now

	const query = `INSERT INTO schedule_entries (id, tenant_id, original_entry_id, anchor_date, split_from_id, title, notes, status, work_item_ref, scheduled_start, scheduled_end, assigned_user_ids, created_at, updated_at)
VALUES (:id, :tenant_id, :original_entry_id, :anchor_date, :split_from_id, :title, :notes, :status, :work_item_ref, :scheduled_start, :scheduled_end, :assigned_user_ids, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, exec, query, entry); err != nil {
		return fmt.Errorf("create schedule entry: %w", err)
	}
	return nil
}

// Update modifies an entry row.
func (r *EntryRepository) Update(ctx context.Context, entry *models.ScheduleEntry) error {
	return r.UpdateWithTx(ctx, r.db, entry)
}

// UpdateWithTx modifies an entry row using the provided executor.
func (r *EntryRepository) UpdateWithTx(ctx context.Context, exec sqlx.ExtContext, entry *models.ScheduleEntry) error {
	entry.UpdatedAt = time.Now().UTC()
	const query = `UPDATE schedule_entries SET original_entry_id = :original_entry_id, anchor_date = :anchor_date, split_from_id = :split_from_id, title = :title, notes = :notes, status = :status, work_item_ref = :work_item_ref, scheduled_start = :scheduled_start, scheduled_end = :scheduled_end, assigned_user_ids = :assigned_user_ids, updated_at = :updated_at
WHERE tenant_id = :tenant_id AND id = :id`
	if _, err := sqlx.NamedExecContext(ctx, exec, query, entry); err != nil {
		return fmt.Errorf("update schedule entry: %w", err)
	}
	return nil
}

// Delete removes an entry by id.
func (r *EntryRepository) Delete(ctx context.Context, tenantID, id string) error {
	return r.DeleteWithTx(ctx, r.db, tenantID, id)
}

// DeleteWithTx removes an entry by id using the provided executor.
func (r *EntryRepository) DeleteWithTx(ctx context.Context, exec sqlx.ExtContext, tenantID, id string) error {
	if _, err := exec.ExecContext(ctx, `DELETE FROM schedule_entries WHERE tenant_id = $1 AND id = $2`, tenantID, id); err != nil {
		return fmt.Errorf("delete schedule entry: %w", err)
	}
	return nil
}

// DeleteExceptionsBySeriesWithTx removes every detached exception of a master.
func (r *EntryRepository) DeleteExceptionsBySeriesWithTx(ctx context.Context, exec sqlx.ExtContext, tenantID, seriesID string) error {
	if _, err := exec.ExecContext(ctx, `DELETE FROM schedule_entries WHERE tenant_id = $1 AND original_entry_id = $2`, tenantID, seriesID); err != nil {
		return fmt.Errorf("delete series exceptions: %w", err)
	}
	return nil
}

// DeleteExceptionsFromWithTx removes detached exceptions of a master anchored
// on or after the boundary date.
func (r *EntryRepository) DeleteExceptionsFromWithTx(ctx context.Context, exec sqlx.ExtContext, tenantID, seriesID string, from time.Time) error {
	if _, err := exec.ExecContext(ctx, `DELETE FROM schedule_entries WHERE tenant_id = $1 AND original_entry_id = $2 AND anchor_date >= $3`, tenantID, seriesID, from); err != nil {
		return fmt.Errorf("delete series exceptions from boundary: %w", err)
	}
	return nil
}

// ReparentExceptionsWithTx moves detached exceptions anchored on or after the
// boundary from one series to another.
func (r *EntryRepository) ReparentExceptionsWithTx(ctx context.Context, exec sqlx.ExtContext, tenantID, fromSeriesID, toSeriesID string, from time.Time) error {
	if _, err := exec.ExecContext(ctx, `UPDATE schedule_entries SET original_entry_id = $3, updated_at = $4 WHERE tenant_id = $1 AND original_entry_id = $2 AND anchor_date >= $5`,
		tenantID, fromSeriesID, toSeriesID, time.Now().UTC(), from); err != nil {
		return fmt.Errorf("reparent series exceptions: %w", err)
	}
	return nil
}

func prefixColumns(alias string) string {
	return fmt.Sprintf(`%[1]s.id, %[1]s.tenant_id, %[1]s.original_entry_id, %[1]s.anchor_date, %[1]s.split_from_id, %[1]s.title, %[1]s.notes, %[1]s.status, %[1]s.work_item_ref, %[1]s.scheduled_start, %[1]s.scheduled_end, %[1]s.assigned_user_ids, %[1]s.created_at, %[1]s.updated_at`, alias)
}
