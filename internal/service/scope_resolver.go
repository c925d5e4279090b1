package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/manateeit/mit-psa-sub005/internal/models"
	"github.com/manateeit/mit-psa-sub005/internal/recurrence"
	appErrors "github.com/manateeit/mit-psa-sub005/pkg/errors"
)

type scopeEntryRepo interface {
	FindByID(ctx context.Context, tenantID, id string) (*models.ScheduleEntry, error)
	ListSplitChildren(ctx context.Context, tenantID, seriesID string) ([]models.ScheduleEntry, error)
	Update(ctx context.Context, entry *models.ScheduleEntry) error
	CreateWithTx(ctx context.Context, exec sqlx.ExtContext, entry *models.ScheduleEntry) error
	UpdateWithTx(ctx context.Context, exec sqlx.ExtContext, entry *models.ScheduleEntry) error
	DeleteWithTx(ctx context.Context, exec sqlx.ExtContext, tenantID, id string) error
	DeleteExceptionsBySeriesWithTx(ctx context.Context, exec sqlx.ExtContext, tenantID, seriesID string) error
	DeleteExceptionsFromWithTx(ctx context.Context, exec sqlx.ExtContext, tenantID, seriesID string, from time.Time) error
	ReparentExceptionsWithTx(ctx context.Context, exec sqlx.ExtContext, tenantID, fromSeriesID, toSeriesID string, from time.Time) error
}

type scopePatternRepo interface {
	GetByEntryID(ctx context.Context, tenantID, entryID string) (*models.RecurrencePattern, error)
	CreateWithTx(ctx context.Context, exec sqlx.ExtContext, pattern *models.RecurrencePattern) error
	UpdateWithTx(ctx context.Context, exec sqlx.ExtContext, pattern *models.RecurrencePattern) error
	DeleteWithTx(ctx context.Context, exec sqlx.ExtContext, tenantID, entryID string) error
	AddExceptionWithTx(ctx context.Context, exec sqlx.ExtContext, tenantID, entryID, date string) error
}

type scopeConflictRepo interface {
	DeleteForEntryWithTx(ctx context.Context, exec sqlx.ExtContext, tenantID, entryID string) error
}

type txProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

// EntryMutation carries the field changes a scoped update applies. Nil
// pointers leave the field untouched. Pattern replaces the recurrence rule
// and is only honored by future and all scopes.
type EntryMutation struct {
	Title           *string
	Notes           *string
	Status          *models.EntryStatus
	WorkItemRef     *string
	ClearWorkItem   bool
	ScheduledStart  *time.Time
	ScheduledEnd    *time.Time
	AssignedUserIDs []string
	Pattern         *models.RecurrencePattern
}

// apply merges the mutation into the entry and validates the resulting
// interval, so a one-sided time change cannot invert start and end.
func (m EntryMutation) apply(e *models.ScheduleEntry) error {
	if m.Title != nil {
		e.Title = *m.Title
	}
	if m.Notes != nil {
		e.Notes = *m.Notes
	}
	if m.Status != nil {
		e.Status = *m.Status
	}
	if m.ClearWorkItem {
		e.WorkItemRef = nil
	} else if m.WorkItemRef != nil {
		e.WorkItemRef = m.WorkItemRef
	}
	if m.ScheduledStart != nil {
		e.ScheduledStart = *m.ScheduledStart
	}
	if m.ScheduledEnd != nil {
		e.ScheduledEnd = *m.ScheduledEnd
	}
	if m.AssignedUserIDs != nil {
		e.AssignedUserIDs = m.AssignedUserIDs
	}
	if !e.ScheduledStart.Before(e.ScheduledEnd) {
		return appErrors.Clone(appErrors.ErrValidation, "scheduled_end must be after scheduled_start")
	}
	return nil
}

// ScopeResolver materializes single, future and all edit scopes against
// recurring series. Every multi-row mutation runs in one transaction; a
// failed step rolls the whole operation back.
type ScopeResolver struct {
	tx        txProvider
	entries   scopeEntryRepo
	patterns  scopePatternRepo
	conflicts scopeConflictRepo
	logger    *zap.Logger
}

// NewScopeResolver wires the resolver with its repositories.
func NewScopeResolver(tx txProvider, entries scopeEntryRepo, patterns scopePatternRepo, conflicts scopeConflictRepo, logger *zap.Logger) *ScopeResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScopeResolver{tx: tx, entries: entries, patterns: patterns, conflicts: conflicts, logger: logger}
}

// UpdateSingle edits one occurrence. For a standalone entry or a detached
// exception the row is updated in place. For a series master the targeted
// occurrence is detached: the anchor date joins the pattern's exceptions and
// an override row is created carrying the changes.
func (r *ScopeResolver) UpdateSingle(ctx context.Context, tenantID string, ref models.EntryRef, mut EntryMutation, loc *time.Location, holidays recurrence.HolidaySet) (*models.ScheduleEntry, error) {
	if mut.Pattern != nil {
		return nil, appErrors.ErrInvalidScope
	}
	entry, pattern, err := r.load(ctx, tenantID, ref.EntryID)
	if err != nil {
		return nil, err
	}

	if pattern == nil {
		if ref.Occurrence != nil {
			return nil, appErrors.ErrInvalidScope
		}
		if err := mut.apply(entry); err != nil {
			return nil, err
		}
		if err := r.entries.Update(ctx, entry); err != nil {
			return nil, err
		}
		return entry, nil
	}

	if ref.Occurrence == nil {
		return nil, appErrors.ErrInvalidScope
	}
	series := seriesOf(entry, pattern)
	if !recurrence.OccursOn(series, *ref.Occurrence, loc, holidays) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "occurrence not found in series")
	}

	anchor := *ref.Occurrence
	exception := *entry
	exception.ID = ""
	exception.Pattern = nil
	exception.SplitFromID = nil
	exception.OriginalEntryID = &entry.ID
	exception.AnchorDate = anchorDate(anchor)
	exception.ScheduledStart, exception.ScheduledEnd = projectOccurrence(entry, anchor, loc)
	if err := mut.apply(&exception); err != nil {
		return nil, err
	}

	err = r.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := r.patterns.AddExceptionWithTx(ctx, tx, tenantID, entry.ID, anchor.Format(models.DateLayout)); err != nil {
			return err
		}
		return r.entries.CreateWithTx(ctx, tx, &exception)
	})
	if err != nil {
		return nil, err
	}
	return &exception, nil
}

// UpdateFuture splits a series at the targeted occurrence: the original
// pattern is truncated before the boundary and a new master carries the
// changes from the boundary onward. Detached exceptions at or after the
// boundary follow the new master. Targeting the first occurrence rewrites
// the master in place instead. Addressing a detached exception splits its
// parent series at the exception's anchor date.
func (r *ScopeResolver) UpdateFuture(ctx context.Context, tenantID string, ref models.EntryRef, mut EntryMutation, loc *time.Location, holidays recurrence.HolidaySet) (*models.ScheduleEntry, error) {
	entry, pattern, ref, viaException, err := r.resolveSeries(ctx, tenantID, ref, loc)
	if err != nil {
		return nil, err
	}
	if pattern == nil || ref.Occurrence == nil {
		return nil, appErrors.ErrInvalidScope
	}
	series := seriesOf(entry, pattern)
	// An exception's anchor sits in the master's exception list, so it would
	// fail the active-occurrence test despite being on the cadence.
	if !viaException && !recurrence.OccursOn(series, *ref.Occurrence, loc, holidays) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "occurrence not found in series")
	}

	boundary := *ref.Occurrence
	last, countBefore, split := recurrence.LastBefore(series, boundary, loc)
	if !split {
		// Nothing precedes the boundary, so the whole series changes.
		entry.ScheduledStart, entry.ScheduledEnd = projectOccurrence(entry, boundary, loc)
		return r.rewriteSeries(ctx, tenantID, entry, pattern, mut)
	}

	boundaryKey := boundary.Format(models.DateLayout)

	truncated := *pattern
	if truncated.Count != nil {
		n := countBefore
		truncated.Count = &n
	} else {
		end := anchorValue(last)
		truncated.EndDate = &end
	}
	truncated.Exceptions = exceptionsBefore(pattern.Exceptions, boundaryKey)

	successor := *entry
	successor.ID = ""
	successor.Pattern = nil
	successor.SplitFromID = &entry.ID
	successor.ScheduledStart, successor.ScheduledEnd = projectOccurrence(entry, boundary, loc)
	if err := mut.apply(&successor); err != nil {
		return nil, err
	}

	var successorPattern models.RecurrencePattern
	if mut.Pattern != nil {
		successorPattern = *mut.Pattern
	} else {
		successorPattern = *pattern
		if pattern.Count != nil {
			remaining := *pattern.Count - countBefore
			successorPattern.Count = &remaining
		}
		successorPattern.Exceptions = exceptionsFrom(pattern.Exceptions, boundaryKey)
	}
	successorPattern.TenantID = tenantID

	err = r.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := r.patterns.UpdateWithTx(ctx, tx, &truncated); err != nil {
			return err
		}
		if err := r.entries.CreateWithTx(ctx, tx, &successor); err != nil {
			return err
		}
		successorPattern.EntryID = successor.ID
		if err := r.patterns.CreateWithTx(ctx, tx, &successorPattern); err != nil {
			return err
		}
		return r.entries.ReparentExceptionsWithTx(ctx, tx, tenantID, entry.ID, successor.ID, *anchorDate(boundary))
	})
	if err != nil {
		return nil, err
	}
	successor.Pattern = &successorPattern
	return &successor, nil
}

// UpdateAll rewrites the series master, moving every occurrence that has not
// been individually detached. Existing overrides keep their edits. Addressing
// a detached exception rewrites its parent master; the exception itself stays
// as edited.
func (r *ScopeResolver) UpdateAll(ctx context.Context, tenantID, entryID string, mut EntryMutation) (*models.ScheduleEntry, error) {
	entry, pattern, err := r.loadSeries(ctx, tenantID, entryID)
	if err != nil {
		return nil, err
	}
	if pattern == nil {
		return nil, appErrors.ErrInvalidScope
	}
	return r.rewriteSeries(ctx, tenantID, entry, pattern, mut)
}

func (r *ScopeResolver) rewriteSeries(ctx context.Context, tenantID string, entry *models.ScheduleEntry, pattern *models.RecurrencePattern, mut EntryMutation) (*models.ScheduleEntry, error) {
	if err := mut.apply(entry); err != nil {
		return nil, err
	}
	next := *pattern
	if mut.Pattern != nil {
		next = *mut.Pattern
		next.EntryID = pattern.EntryID
		next.TenantID = tenantID
		// Cancelled and overridden dates survive a rule change.
		next.Exceptions = pattern.Exceptions
	}
	err := r.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := r.patterns.UpdateWithTx(ctx, tx, &next); err != nil {
			return err
		}
		return r.entries.UpdateWithTx(ctx, tx, entry)
	})
	if err != nil {
		return nil, err
	}
	entry.Pattern = &next
	return entry, nil
}

// DeleteSingle removes one occurrence. Standalone entries and detached
// exceptions lose their row; a series occurrence is cancelled by adding its
// anchor date to the pattern's exceptions.
func (r *ScopeResolver) DeleteSingle(ctx context.Context, tenantID string, ref models.EntryRef, loc *time.Location, holidays recurrence.HolidaySet) error {
	entry, pattern, err := r.load(ctx, tenantID, ref.EntryID)
	if err != nil {
		return err
	}

	if pattern == nil {
		if ref.Occurrence != nil {
			return appErrors.ErrInvalidScope
		}
		return r.withTx(ctx, func(tx *sqlx.Tx) error {
			if err := r.conflicts.DeleteForEntryWithTx(ctx, tx, tenantID, entry.ID); err != nil {
				return err
			}
			return r.entries.DeleteWithTx(ctx, tx, tenantID, entry.ID)
		})
	}

	if ref.Occurrence == nil {
		return appErrors.ErrInvalidScope
	}
	series := seriesOf(entry, pattern)
	if !recurrence.OccursOn(series, *ref.Occurrence, loc, holidays) {
		return appErrors.Clone(appErrors.ErrNotFound, "occurrence not found in series")
	}
	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		return r.patterns.AddExceptionWithTx(ctx, tx, tenantID, entry.ID, ref.Occurrence.Format(models.DateLayout))
	})
}

// DeleteFuture removes the targeted occurrence and everything after it: the
// pattern is truncated before the boundary, detached exceptions at or past
// the boundary are dropped, and series previously split off at or past the
// boundary are removed with it. Targeting the first occurrence deletes the
// entire series. Addressing a detached exception truncates its parent series
// at the exception's anchor date, dropping the exception row with the rest.
func (r *ScopeResolver) DeleteFuture(ctx context.Context, tenantID string, ref models.EntryRef, loc *time.Location, holidays recurrence.HolidaySet) error {
	entry, pattern, ref, viaException, err := r.resolveSeries(ctx, tenantID, ref, loc)
	if err != nil {
		return err
	}
	if pattern == nil || ref.Occurrence == nil {
		return appErrors.ErrInvalidScope
	}
	series := seriesOf(entry, pattern)
	if !viaException && !recurrence.OccursOn(series, *ref.Occurrence, loc, holidays) {
		return appErrors.Clone(appErrors.ErrNotFound, "occurrence not found in series")
	}

	boundary := *ref.Occurrence
	doomed, err := r.splitChildrenFrom(ctx, tenantID, entry.ID, boundary, loc)
	if err != nil {
		return err
	}

	last, countBefore, split := recurrence.LastBefore(series, boundary, loc)
	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		for _, id := range doomed {
			if err := r.deleteSeriesWithTx(ctx, tx, tenantID, id); err != nil {
				return err
			}
		}
		if !split {
			return r.deleteSeriesWithTx(ctx, tx, tenantID, entry.ID)
		}
		truncated := *pattern
		if truncated.Count != nil {
			n := countBefore
			truncated.Count = &n
		} else {
			end := anchorValue(last)
			truncated.EndDate = &end
		}
		truncated.Exceptions = exceptionsBefore(pattern.Exceptions, boundary.Format(models.DateLayout))
		if err := r.patterns.UpdateWithTx(ctx, tx, &truncated); err != nil {
			return err
		}
		return r.entries.DeleteExceptionsFromWithTx(ctx, tx, tenantID, entry.ID, *anchorDate(boundary))
	})
}

// DeleteAll removes a series master together with its pattern and detached
// exceptions, including when addressed through one of those exceptions.
// Series split off earlier keep living on their own.
func (r *ScopeResolver) DeleteAll(ctx context.Context, tenantID, entryID string) error {
	entry, pattern, err := r.loadSeries(ctx, tenantID, entryID)
	if err != nil {
		return err
	}
	if pattern == nil {
		return appErrors.ErrInvalidScope
	}
	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		return r.deleteSeriesWithTx(ctx, tx, tenantID, entry.ID)
	})
}

func (r *ScopeResolver) deleteSeriesWithTx(ctx context.Context, tx *sqlx.Tx, tenantID, seriesID string) error {
	if err := r.patterns.DeleteWithTx(ctx, tx, tenantID, seriesID); err != nil {
		return err
	}
	if err := r.entries.DeleteExceptionsBySeriesWithTx(ctx, tx, tenantID, seriesID); err != nil {
		return err
	}
	if err := r.conflicts.DeleteForEntryWithTx(ctx, tx, tenantID, seriesID); err != nil {
		return err
	}
	return r.entries.DeleteWithTx(ctx, tx, tenantID, seriesID)
}

// splitChildrenFrom walks the split chain and collects series that start at
// or after the boundary, deepest first so deletes never orphan a chain link.
func (r *ScopeResolver) splitChildrenFrom(ctx context.Context, tenantID, seriesID string, boundary time.Time, loc *time.Location) ([]string, error) {
	var doomed []string
	queue := []string{seriesID}
	for len(queue) > 0 {
		parent := queue[0]
		queue = queue[1:]
		children, err := r.entries.ListSplitChildren(ctx, tenantID, parent)
		if err != nil {
			return nil, err
		}
		for _, child := range children {
			start := child.ScheduledStart.In(loc)
			if start.Before(boundary) {
				continue
			}
			doomed = append(doomed, child.ID)
			queue = append(queue, child.ID)
		}
	}
	// Reverse so descendants go before their parents.
	for i, j := 0, len(doomed)-1; i < j; i, j = i+1, j-1 {
		doomed[i], doomed[j] = doomed[j], doomed[i]
	}
	return doomed, nil
}

// loadSeries loads an entry and, when it turns out to be a detached
// exception, follows original_entry_id to the series master. A row without a
// pattern and without a parent comes back pattern-less for the caller to
// reject.
func (r *ScopeResolver) loadSeries(ctx context.Context, tenantID, id string) (*models.ScheduleEntry, *models.RecurrencePattern, error) {
	entry, pattern, err := r.load(ctx, tenantID, id)
	if err != nil {
		return nil, nil, err
	}
	if pattern == nil && entry.OriginalEntryID != nil {
		return r.load(ctx, tenantID, *entry.OriginalEntryID)
	}
	return entry, pattern, nil
}

// resolveSeries is loadSeries for occurrence-addressed scopes: when the ref
// points at a detached exception, the returned ref targets the parent master
// and the exception's anchor date becomes the occurrence boundary.
func (r *ScopeResolver) resolveSeries(ctx context.Context, tenantID string, ref models.EntryRef, loc *time.Location) (*models.ScheduleEntry, *models.RecurrencePattern, models.EntryRef, bool, error) {
	entry, pattern, err := r.load(ctx, tenantID, ref.EntryID)
	if err != nil {
		return nil, nil, ref, false, err
	}
	if pattern != nil || entry.OriginalEntryID == nil {
		return entry, pattern, ref, false, nil
	}
	master, masterPattern, err := r.load(ctx, tenantID, *entry.OriginalEntryID)
	if err != nil {
		return nil, nil, ref, false, err
	}
	resolved := models.EntryRef{EntryID: master.ID}
	if entry.AnchorDate != nil {
		a := entry.AnchorDate.UTC()
		boundary := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, loc)
		resolved.Occurrence = &boundary
	}
	return master, masterPattern, resolved, true, nil
}

func (r *ScopeResolver) load(ctx context.Context, tenantID, id string) (*models.ScheduleEntry, *models.RecurrencePattern, error) {
	entry, err := r.entries.FindByID(ctx, tenantID, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.ErrNotFound
		}
		return nil, nil, err
	}
	pattern, err := r.patterns.GetByEntryID(ctx, tenantID, id)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, nil, err
	}
	return entry, pattern, nil
}

func (r *ScopeResolver) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.tx.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrTransactionFailed.Code, appErrors.ErrTransactionFailed.Status, appErrors.ErrTransactionFailed.Message)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		var domain *appErrors.Error
		if errors.As(err, &domain) {
			return err
		}
		return appErrors.Wrap(err, appErrors.ErrTransactionFailed.Code, appErrors.ErrTransactionFailed.Status, appErrors.ErrTransactionFailed.Message)
	}
	if err := tx.Commit(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrTransactionFailed.Code, appErrors.ErrTransactionFailed.Status, appErrors.ErrTransactionFailed.Message)
	}
	return nil
}

func seriesOf(entry *models.ScheduleEntry, pattern *models.RecurrencePattern) recurrence.Series {
	return recurrence.Series{
		ID:      entry.ID,
		Start:   entry.ScheduledStart,
		End:     entry.ScheduledEnd,
		Pattern: *pattern,
	}
}

// projectOccurrence rebuilds the master's wall-clock start on the given
// anchor date and keeps the master's duration.
func projectOccurrence(master *models.ScheduleEntry, date time.Time, loc *time.Location) (time.Time, time.Time) {
	base := master.ScheduledStart.In(loc)
	start := time.Date(date.Year(), date.Month(), date.Day(), base.Hour(), base.Minute(), base.Second(), 0, loc)
	return start, start.Add(master.ScheduledEnd.Sub(master.ScheduledStart))
}

// anchorDate normalizes an occurrence date to a UTC midnight suitable for a
// DATE column.
func anchorDate(d time.Time) *time.Time {
	v := anchorValue(d)
	return &v
}

func anchorValue(d time.Time) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
}

// exceptionsBefore keeps exception dates strictly before the boundary key.
// Keys are DateLayout strings, so lexical order is date order.
func exceptionsBefore(exceptions []string, boundaryKey string) []string {
	kept := make([]string, 0, len(exceptions))
	for _, exc := range exceptions {
		if exc < boundaryKey {
			kept = append(kept, exc)
		}
	}
	return kept
}

func exceptionsFrom(exceptions []string, boundaryKey string) []string {
	kept := make([]string, 0, len(exceptions))
	for _, exc := range exceptions {
		if exc >= boundaryKey {
			kept = append(kept, exc)
		}
	}
	return kept
}
