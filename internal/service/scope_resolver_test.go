package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manateeit/mit-psa-sub005/internal/models"
	"github.com/manateeit/mit-psa-sub005/internal/recurrence"
	appErrors "github.com/manateeit/mit-psa-sub005/pkg/errors"
)

type stubEntryRepo struct {
	entries       map[string]*models.ScheduleEntry
	splitChildren map[string][]models.ScheduleEntry
	nextID        int

	created           []*models.ScheduleEntry
	updated           []*models.ScheduleEntry
	deleted           []string
	deletedSeriesExcs []string
	deletedExcsFrom   []time.Time
	reparented        []string
}

func (s *stubEntryRepo) FindByID(_ context.Context, _, id string) (*models.ScheduleEntry, error) {
	entry, ok := s.entries[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *entry
	return &clone, nil
}

func (s *stubEntryRepo) ListSplitChildren(_ context.Context, _, seriesID string) ([]models.ScheduleEntry, error) {
	return s.splitChildren[seriesID], nil
}

func (s *stubEntryRepo) Update(_ context.Context, entry *models.ScheduleEntry) error {
	s.updated = append(s.updated, entry)
	return nil
}

func (s *stubEntryRepo) CreateWithTx(_ context.Context, _ sqlx.ExtContext, entry *models.ScheduleEntry) error {
	s.nextID++
	entry.ID = fmt.Sprintf("created-%d", s.nextID)
	s.created = append(s.created, entry)
	return nil
}

func (s *stubEntryRepo) UpdateWithTx(_ context.Context, _ sqlx.ExtContext, entry *models.ScheduleEntry) error {
	s.updated = append(s.updated, entry)
	return nil
}

func (s *stubEntryRepo) DeleteWithTx(_ context.Context, _ sqlx.ExtContext, _, id string) error {
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *stubEntryRepo) DeleteExceptionsBySeriesWithTx(_ context.Context, _ sqlx.ExtContext, _, seriesID string) error {
	s.deletedSeriesExcs = append(s.deletedSeriesExcs, seriesID)
	return nil
}

func (s *stubEntryRepo) DeleteExceptionsFromWithTx(_ context.Context, _ sqlx.ExtContext, _, _ string, from time.Time) error {
	s.deletedExcsFrom = append(s.deletedExcsFrom, from)
	return nil
}

func (s *stubEntryRepo) ReparentExceptionsWithTx(_ context.Context, _ sqlx.ExtContext, _, fromSeriesID, toSeriesID string, _ time.Time) error {
	s.reparented = append(s.reparented, fromSeriesID+"->"+toSeriesID)
	return nil
}

type stubPatternRepo struct {
	patterns map[string]*models.RecurrencePattern

	created       []*models.RecurrencePattern
	updated       []*models.RecurrencePattern
	deleted       []string
	addedExcs     []string
	addExcFailure error
}

func (s *stubPatternRepo) GetByEntryID(_ context.Context, _, entryID string) (*models.RecurrencePattern, error) {
	pattern, ok := s.patterns[entryID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *pattern
	return &clone, nil
}

func (s *stubPatternRepo) CreateWithTx(_ context.Context, _ sqlx.ExtContext, pattern *models.RecurrencePattern) error {
	s.created = append(s.created, pattern)
	return nil
}

func (s *stubPatternRepo) UpdateWithTx(_ context.Context, _ sqlx.ExtContext, pattern *models.RecurrencePattern) error {
	s.updated = append(s.updated, pattern)
	return nil
}

func (s *stubPatternRepo) DeleteWithTx(_ context.Context, _ sqlx.ExtContext, _, entryID string) error {
	s.deleted = append(s.deleted, entryID)
	return nil
}

func (s *stubPatternRepo) AddExceptionWithTx(_ context.Context, _ sqlx.ExtContext, _, entryID, date string) error {
	if s.addExcFailure != nil {
		return s.addExcFailure
	}
	s.addedExcs = append(s.addedExcs, entryID+":"+date)
	return nil
}

type stubConflictRepo struct {
	deletedFor []string
}

func (s *stubConflictRepo) DeleteForEntryWithTx(_ context.Context, _ sqlx.ExtContext, _, entryID string) error {
	s.deletedFor = append(s.deletedFor, entryID)
	return nil
}

type resolverFixture struct {
	resolver  *ScopeResolver
	entries   *stubEntryRepo
	patterns  *stubPatternRepo
	conflicts *stubConflictRepo
	mock      sqlmock.Sqlmock
}

func newResolverFixture(t *testing.T) *resolverFixture {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	entries := &stubEntryRepo{
		entries:       make(map[string]*models.ScheduleEntry),
		splitChildren: make(map[string][]models.ScheduleEntry),
	}
	patterns := &stubPatternRepo{patterns: make(map[string]*models.RecurrencePattern)}
	conflicts := &stubConflictRepo{}

	return &resolverFixture{
		resolver:  NewScopeResolver(sqlx.NewDb(db, "sqlmock"), entries, patterns, conflicts, nil),
		entries:   entries,
		patterns:  patterns,
		conflicts: conflicts,
		mock:      mock,
	}
}

// seedWeeklyMaster installs a Monday 09:00 weekly series of five occurrences
// anchored 2026-01-05.
func (f *resolverFixture) seedWeeklyMaster(count int) *models.ScheduleEntry {
	master := &models.ScheduleEntry{
		ID:              "master-1",
		TenantID:        "tenant-1",
		Title:           "weekly sync",
		Status:          models.EntryStatusScheduled,
		ScheduledStart:  time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC),
		ScheduledEnd:    time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC),
		AssignedUserIDs: []string{"user-1"},
	}
	f.entries.entries[master.ID] = master
	f.patterns.patterns[master.ID] = &models.RecurrencePattern{
		EntryID:   master.ID,
		TenantID:  master.TenantID,
		Frequency: models.FrequencyWeekly,
		Interval:  1,
		Count:     &count,
	}
	return master
}

// seedDetachedException detaches the second occurrence of the seeded weekly
// master into its own row, the way a single-scope edit leaves the data.
func (f *resolverFixture) seedDetachedException(master *models.ScheduleEntry) *models.ScheduleEntry {
	anchor := time.Date(2026, 1, 12, 0, 0, 0, 0, time.UTC)
	exception := &models.ScheduleEntry{
		ID:              "exc-1",
		TenantID:        master.TenantID,
		OriginalEntryID: &master.ID,
		AnchorDate:      &anchor,
		Title:           "moved sync",
		Status:          models.EntryStatusScheduled,
		ScheduledStart:  time.Date(2026, 1, 12, 9, 0, 0, 0, time.UTC),
		ScheduledEnd:    time.Date(2026, 1, 12, 10, 0, 0, 0, time.UTC),
		AssignedUserIDs: master.AssignedUserIDs,
	}
	f.entries.entries[exception.ID] = exception
	pattern := f.patterns.patterns[master.ID]
	pattern.Exceptions = append(pattern.Exceptions, "2026-01-12")
	return exception
}

func strPtr(s string) *string { return &s }

func occurrenceRef(id string, date time.Time) models.EntryRef {
	return models.EntryRef{EntryID: id, Occurrence: &date}
}

func noHolidays() recurrence.DateSet { return recurrence.NewDateSet(nil) }

func TestUpdateSingleStandaloneUpdatesInPlace(t *testing.T) {
	f := newResolverFixture(t)
	f.entries.entries["solo-1"] = &models.ScheduleEntry{
		ID:             "solo-1",
		TenantID:       "tenant-1",
		Title:          "review",
		ScheduledStart: time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC),
		ScheduledEnd:   time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC),
	}

	got, err := f.resolver.UpdateSingle(context.Background(), "tenant-1",
		models.EntryRef{EntryID: "solo-1"},
		EntryMutation{Title: strPtr("design review")},
		time.UTC, noHolidays())
	require.NoError(t, err)

	assert.Equal(t, "design review", got.Title)
	require.Len(t, f.entries.updated, 1)
	assert.Empty(t, f.entries.created)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestUpdateSingleRejectsPatternChange(t *testing.T) {
	f := newResolverFixture(t)

	_, err := f.resolver.UpdateSingle(context.Background(), "tenant-1",
		models.EntryRef{EntryID: "solo-1"},
		EntryMutation{Pattern: &models.RecurrencePattern{Frequency: models.FrequencyDaily}},
		time.UTC, noHolidays())

	assert.ErrorIs(t, err, appErrors.ErrInvalidScope)
}

func TestUpdateSingleDetachesOccurrence(t *testing.T) {
	f := newResolverFixture(t)
	master := f.seedWeeklyMaster(5)
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	got, err := f.resolver.UpdateSingle(context.Background(), "tenant-1",
		occurrenceRef(master.ID, time.Date(2026, 1, 12, 0, 0, 0, 0, time.UTC)),
		EntryMutation{Title: strPtr("moved sync")},
		time.UTC, noHolidays())
	require.NoError(t, err)

	assert.Equal(t, []string{"master-1:2026-01-12"}, f.patterns.addedExcs)
	require.Len(t, f.entries.created, 1)
	exception := f.entries.created[0]
	require.NotNil(t, exception.OriginalEntryID)
	assert.Equal(t, master.ID, *exception.OriginalEntryID)
	require.NotNil(t, exception.AnchorDate)
	assert.Equal(t, "2026-01-12", exception.AnchorDate.Format(models.DateLayout))
	assert.Equal(t, "moved sync", exception.Title)
	assert.Equal(t, time.Date(2026, 1, 12, 9, 0, 0, 0, time.UTC), exception.ScheduledStart)
	assert.Equal(t, got, exception)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestUpdateSingleUnknownOccurrence(t *testing.T) {
	f := newResolverFixture(t)
	master := f.seedWeeklyMaster(5)

	// Jan 13 is a Tuesday, off the weekly cadence.
	_, err := f.resolver.UpdateSingle(context.Background(), "tenant-1",
		occurrenceRef(master.ID, time.Date(2026, 1, 13, 0, 0, 0, 0, time.UTC)),
		EntryMutation{Title: strPtr("moved")},
		time.UTC, noHolidays())

	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
}

func TestUpdateFutureSplitsSeries(t *testing.T) {
	f := newResolverFixture(t)
	master := f.seedWeeklyMaster(5)
	f.patterns.patterns[master.ID].Exceptions = []string{"2026-01-12", "2026-01-26"}
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	// Third occurrence: Jan 5, 12, [19], 26, Feb 2.
	got, err := f.resolver.UpdateFuture(context.Background(), "tenant-1",
		occurrenceRef(master.ID, time.Date(2026, 1, 19, 0, 0, 0, 0, time.UTC)),
		EntryMutation{Title: strPtr("retro")},
		time.UTC, noHolidays())
	require.NoError(t, err)

	require.Len(t, f.patterns.updated, 1)
	truncated := f.patterns.updated[0]
	require.NotNil(t, truncated.Count)
	assert.Equal(t, 2, *truncated.Count)
	assert.Equal(t, []string{"2026-01-12"}, []string(truncated.Exceptions))

	require.Len(t, f.entries.created, 1)
	successor := f.entries.created[0]
	require.NotNil(t, successor.SplitFromID)
	assert.Equal(t, master.ID, *successor.SplitFromID)
	assert.Equal(t, "retro", successor.Title)
	assert.Equal(t, time.Date(2026, 1, 19, 9, 0, 0, 0, time.UTC), successor.ScheduledStart)

	require.Len(t, f.patterns.created, 1)
	successorPattern := f.patterns.created[0]
	assert.Equal(t, successor.ID, successorPattern.EntryID)
	require.NotNil(t, successorPattern.Count)
	assert.Equal(t, 3, *successorPattern.Count)
	assert.Equal(t, []string{"2026-01-26"}, []string(successorPattern.Exceptions))

	assert.Equal(t, []string{master.ID + "->" + successor.ID}, f.entries.reparented)
	assert.Equal(t, successorPattern, got.Pattern)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestUpdateFutureAtFirstOccurrenceRewritesMaster(t *testing.T) {
	f := newResolverFixture(t)
	master := f.seedWeeklyMaster(5)
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	got, err := f.resolver.UpdateFuture(context.Background(), "tenant-1",
		occurrenceRef(master.ID, time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)),
		EntryMutation{Title: strPtr("renamed series")},
		time.UTC, noHolidays())
	require.NoError(t, err)

	assert.Equal(t, master.ID, got.ID)
	assert.Equal(t, "renamed series", got.Title)
	assert.Empty(t, f.entries.created, "no split master for a whole-series edit")
	require.Len(t, f.entries.updated, 1)
	require.Len(t, f.patterns.updated, 1)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestUpdateFutureOnDetachedExceptionSplitsParent(t *testing.T) {
	f := newResolverFixture(t)
	master := f.seedWeeklyMaster(5)
	f.seedDetachedException(master)
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	// No occurrence given: the exception's own anchor is the boundary.
	got, err := f.resolver.UpdateFuture(context.Background(), "tenant-1",
		models.EntryRef{EntryID: "exc-1"},
		EntryMutation{Title: strPtr("retro")},
		time.UTC, noHolidays())
	require.NoError(t, err)

	require.Len(t, f.patterns.updated, 1)
	truncated := f.patterns.updated[0]
	require.NotNil(t, truncated.Count)
	assert.Equal(t, 1, *truncated.Count)

	require.Len(t, f.entries.created, 1)
	successor := f.entries.created[0]
	require.NotNil(t, successor.SplitFromID)
	assert.Equal(t, master.ID, *successor.SplitFromID)
	assert.Equal(t, time.Date(2026, 1, 12, 9, 0, 0, 0, time.UTC), successor.ScheduledStart)

	require.Len(t, f.patterns.created, 1)
	successorPattern := f.patterns.created[0]
	require.NotNil(t, successorPattern.Count)
	assert.Equal(t, 4, *successorPattern.Count)
	assert.Equal(t, []string{"2026-01-12"}, []string(successorPattern.Exceptions))

	// The override row follows the new master.
	assert.Equal(t, []string{master.ID + "->" + successor.ID}, f.entries.reparented)
	assert.Equal(t, successor.ID, got.ID)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestUpdateFutureRequiresOccurrence(t *testing.T) {
	f := newResolverFixture(t)
	master := f.seedWeeklyMaster(5)

	_, err := f.resolver.UpdateFuture(context.Background(), "tenant-1",
		models.EntryRef{EntryID: master.ID}, EntryMutation{}, time.UTC, noHolidays())

	assert.ErrorIs(t, err, appErrors.ErrInvalidScope)
}

func TestUpdateAllRewritesMasterKeepingExceptions(t *testing.T) {
	f := newResolverFixture(t)
	master := f.seedWeeklyMaster(5)
	f.patterns.patterns[master.ID].Exceptions = []string{"2026-01-12"}
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	newCount := 10
	got, err := f.resolver.UpdateAll(context.Background(), "tenant-1", master.ID, EntryMutation{
		Pattern: &models.RecurrencePattern{
			Frequency: models.FrequencyDaily,
			Interval:  2,
			Count:     &newCount,
		},
	})
	require.NoError(t, err)

	require.Len(t, f.patterns.updated, 1)
	next := f.patterns.updated[0]
	assert.Equal(t, models.FrequencyDaily, next.Frequency)
	assert.Equal(t, master.ID, next.EntryID)
	assert.Equal(t, []string{"2026-01-12"}, []string(next.Exceptions), "rule change keeps cancelled dates")
	assert.Equal(t, next, got.Pattern)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestUpdateAllOnDetachedExceptionRewritesParent(t *testing.T) {
	f := newResolverFixture(t)
	master := f.seedWeeklyMaster(5)
	f.seedDetachedException(master)
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	got, err := f.resolver.UpdateAll(context.Background(), "tenant-1", "exc-1",
		EntryMutation{Title: strPtr("renamed series")})
	require.NoError(t, err)

	assert.Equal(t, master.ID, got.ID)
	assert.Equal(t, "renamed series", got.Title)
	require.Len(t, f.entries.updated, 1)
	assert.Equal(t, master.ID, f.entries.updated[0].ID)
	require.Len(t, f.patterns.updated, 1)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestUpdateAllOnStandaloneEntry(t *testing.T) {
	f := newResolverFixture(t)
	f.entries.entries["solo-1"] = &models.ScheduleEntry{ID: "solo-1", TenantID: "tenant-1"}

	_, err := f.resolver.UpdateAll(context.Background(), "tenant-1", "solo-1", EntryMutation{})

	assert.ErrorIs(t, err, appErrors.ErrInvalidScope)
}

func TestDeleteSingleStandaloneRemovesRowAndConflicts(t *testing.T) {
	f := newResolverFixture(t)
	f.entries.entries["solo-1"] = &models.ScheduleEntry{ID: "solo-1", TenantID: "tenant-1"}
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	err := f.resolver.DeleteSingle(context.Background(), "tenant-1",
		models.EntryRef{EntryID: "solo-1"}, time.UTC, noHolidays())
	require.NoError(t, err)

	assert.Equal(t, []string{"solo-1"}, f.conflicts.deletedFor)
	assert.Equal(t, []string{"solo-1"}, f.entries.deleted)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestDeleteSingleOccurrenceCancelsViaException(t *testing.T) {
	f := newResolverFixture(t)
	master := f.seedWeeklyMaster(5)
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	err := f.resolver.DeleteSingle(context.Background(), "tenant-1",
		occurrenceRef(master.ID, time.Date(2026, 1, 19, 0, 0, 0, 0, time.UTC)),
		time.UTC, noHolidays())
	require.NoError(t, err)

	assert.Equal(t, []string{"master-1:2026-01-19"}, f.patterns.addedExcs)
	assert.Empty(t, f.entries.deleted)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestDeleteFutureTruncatesAndDropsSplitChildren(t *testing.T) {
	f := newResolverFixture(t)
	master := f.seedWeeklyMaster(5)
	f.patterns.patterns[master.ID].Exceptions = []string{"2026-01-12", "2026-02-02"}
	f.entries.splitChildren[master.ID] = []models.ScheduleEntry{{
		ID:             "split-1",
		TenantID:       "tenant-1",
		ScheduledStart: time.Date(2026, 2, 9, 9, 0, 0, 0, time.UTC),
	}}
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	err := f.resolver.DeleteFuture(context.Background(), "tenant-1",
		occurrenceRef(master.ID, time.Date(2026, 1, 19, 0, 0, 0, 0, time.UTC)),
		time.UTC, noHolidays())
	require.NoError(t, err)

	// The split child goes first, then the master's pattern is truncated.
	assert.Equal(t, []string{"split-1"}, f.entries.deleted)
	assert.Equal(t, []string{"split-1"}, f.patterns.deleted)
	require.Len(t, f.patterns.updated, 1)
	truncated := f.patterns.updated[0]
	require.NotNil(t, truncated.Count)
	assert.Equal(t, 2, *truncated.Count)
	assert.Equal(t, []string{"2026-01-12"}, []string(truncated.Exceptions))
	require.Len(t, f.entries.deletedExcsFrom, 1)
	assert.Equal(t, "2026-01-19", f.entries.deletedExcsFrom[0].Format(models.DateLayout))
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestDeleteFutureOnDetachedExceptionTruncatesParent(t *testing.T) {
	f := newResolverFixture(t)
	master := f.seedWeeklyMaster(5)
	f.seedDetachedException(master)
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	err := f.resolver.DeleteFuture(context.Background(), "tenant-1",
		models.EntryRef{EntryID: "exc-1"}, time.UTC, noHolidays())
	require.NoError(t, err)

	require.Len(t, f.patterns.updated, 1)
	truncated := f.patterns.updated[0]
	require.NotNil(t, truncated.Count)
	assert.Equal(t, 1, *truncated.Count)
	assert.Equal(t, master.ID, truncated.EntryID)
	// The exception row is anchored at the boundary and goes with the tail.
	require.Len(t, f.entries.deletedExcsFrom, 1)
	assert.Equal(t, "2026-01-12", f.entries.deletedExcsFrom[0].Format(models.DateLayout))
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestDeleteFutureAtFirstOccurrenceDeletesSeries(t *testing.T) {
	f := newResolverFixture(t)
	master := f.seedWeeklyMaster(5)
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	err := f.resolver.DeleteFuture(context.Background(), "tenant-1",
		occurrenceRef(master.ID, time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)),
		time.UTC, noHolidays())
	require.NoError(t, err)

	assert.Equal(t, []string{master.ID}, f.patterns.deleted)
	assert.Equal(t, []string{master.ID}, f.entries.deletedSeriesExcs)
	assert.Equal(t, []string{master.ID}, f.conflicts.deletedFor)
	assert.Equal(t, []string{master.ID}, f.entries.deleted)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestDeleteAllRemovesSeries(t *testing.T) {
	f := newResolverFixture(t)
	master := f.seedWeeklyMaster(5)
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	err := f.resolver.DeleteAll(context.Background(), "tenant-1", master.ID)
	require.NoError(t, err)

	assert.Equal(t, []string{master.ID}, f.patterns.deleted)
	assert.Equal(t, []string{master.ID}, f.entries.deleted)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestDeleteAllOnDetachedExceptionRemovesParentSeries(t *testing.T) {
	f := newResolverFixture(t)
	master := f.seedWeeklyMaster(5)
	f.seedDetachedException(master)
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	err := f.resolver.DeleteAll(context.Background(), "tenant-1", "exc-1")
	require.NoError(t, err)

	assert.Equal(t, []string{master.ID}, f.patterns.deleted)
	assert.Equal(t, []string{master.ID}, f.entries.deletedSeriesExcs)
	assert.Equal(t, []string{master.ID}, f.entries.deleted)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestUpdateSingleRejectsInvertedInterval(t *testing.T) {
	f := newResolverFixture(t)
	f.entries.entries["solo-1"] = &models.ScheduleEntry{
		ID:             "solo-1",
		TenantID:       "tenant-1",
		ScheduledStart: time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC),
		ScheduledEnd:   time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC),
	}

	// Moving only the start past the stored end must not reach the database.
	newStart := time.Date(2026, 1, 5, 11, 0, 0, 0, time.UTC)
	_, err := f.resolver.UpdateSingle(context.Background(), "tenant-1",
		models.EntryRef{EntryID: "solo-1"},
		EntryMutation{ScheduledStart: &newStart},
		time.UTC, noHolidays())

	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	assert.Empty(t, f.entries.updated)
}

func TestScopedMutationRollsBackOnFailure(t *testing.T) {
	f := newResolverFixture(t)
	master := f.seedWeeklyMaster(5)
	f.patterns.addExcFailure = errors.New("connection reset")
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	err := f.resolver.DeleteSingle(context.Background(), "tenant-1",
		occurrenceRef(master.ID, time.Date(2026, 1, 19, 0, 0, 0, 0, time.UTC)),
		time.UTC, noHolidays())

	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrTransactionFailed.Code, appErr.Code)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestScopedMutationUnknownEntry(t *testing.T) {
	f := newResolverFixture(t)

	err := f.resolver.DeleteAll(context.Background(), "tenant-1", "missing")

	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}
