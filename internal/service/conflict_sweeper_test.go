package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manateeit/mit-psa-sub005/internal/models"
	"github.com/manateeit/mit-psa-sub005/pkg/config"
)

type stubSweeperEntryRepo struct {
	entries []models.ScheduleEntry
	err     error

	start time.Time
	end   time.Time
}

func (s *stubSweeperEntryRepo) ListNonRecurringInRange(_ context.Context, _ string, start, end time.Time) ([]models.ScheduleEntry, error) {
	s.start, s.end = start, end
	return s.entries, s.err
}

type stubSweeperConflictRepo struct {
	replaced map[string][]models.ScheduleConflict
	err      error
}

func (s *stubSweeperConflictRepo) ReplaceUnresolved(_ context.Context, tenantID string, conflicts []models.ScheduleConflict) error {
	if s.err != nil {
		return s.err
	}
	if s.replaced == nil {
		s.replaced = make(map[string][]models.ScheduleConflict)
	}
	s.replaced[tenantID] = conflicts
	return nil
}

type stubSweeperTenantRepo struct {
	tenantIDs []string
}

func (s *stubSweeperTenantRepo) ListTenantIDs(context.Context) ([]string, error) {
	return s.tenantIDs, nil
}

func TestSweepTenantReplacesConflictSet(t *testing.T) {
	at := func(h int) time.Time { return time.Date(2026, 1, 5, h, 0, 0, 0, time.UTC) }
	entries := &stubSweeperEntryRepo{entries: []models.ScheduleEntry{
		detectorEntry("aaaa", at(9), at(11), "user-1"),
		detectorEntry("bbbb", at(10), at(12), "user-1"),
	}}
	conflicts := &stubSweeperConflictRepo{}
	sweeper := NewConflictSweeper(entries, &stubSweeperTenantRepo{}, conflicts,
		NewConflictDetector(nil), nil, config.SweeperConfig{HorizonDays: 30}, nil)

	require.NoError(t, sweeper.SweepTenant(context.Background(), "tenant-1"))

	require.Len(t, conflicts.replaced["tenant-1"], 1)
	pair := conflicts.replaced["tenant-1"][0]
	assert.Equal(t, "aaaa", pair.EntryID1)
	assert.Equal(t, "bbbb", pair.EntryID2)
	assert.Equal(t, 30, int(entries.end.Sub(entries.start).Hours()/24))
}

func TestSweepTenantWithNoOverlaps(t *testing.T) {
	entries := &stubSweeperEntryRepo{}
	conflicts := &stubSweeperConflictRepo{}
	sweeper := NewConflictSweeper(entries, &stubSweeperTenantRepo{}, conflicts,
		NewConflictDetector(nil), nil, config.SweeperConfig{}, nil)

	require.NoError(t, sweeper.SweepTenant(context.Background(), "tenant-1"))
	assert.Empty(t, conflicts.replaced["tenant-1"])
}

func TestSweepTenantPropagatesRepositoryErrors(t *testing.T) {
	entries := &stubSweeperEntryRepo{err: errors.New("connection refused")}
	sweeper := NewConflictSweeper(entries, &stubSweeperTenantRepo{}, &stubSweeperConflictRepo{},
		NewConflictDetector(nil), nil, config.SweeperConfig{}, nil)

	err := sweeper.SweepTenant(context.Background(), "tenant-1")
	assert.Error(t, err)
}
