package hygiene

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type fakePruner struct {
	cutoff time.Time
	rows   int
	err    error
	calls  int
}

func (p *fakePruner) PruneConversations(ctx context.Context, olderThan time.Time) (int, error) {
	p.calls++
	p.cutoff = olderThan
	return p.rows, p.err
}

type fakeArchiver struct {
	archiveCutoff time.Time
	purgeCutoff   time.Time
	archived      int
	purged        int
	archiveErr    error
}

func (a *fakeArchiver) ArchiveDailyFiles(olderThan time.Time) (int, error) {
	a.archiveCutoff = olderThan
	return a.archived, a.archiveErr
}

func (a *fakeArchiver) PurgeArchives(olderThan time.Time) (int, error) {
	a.purgeCutoff = olderThan
	return a.purged, nil
}

func TestRunOnceAppliesCutoffs(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	pruner := &fakePruner{rows: 4}
	archiver := &fakeArchiver{archived: 2, purged: 1}

	s, err := NewScheduler(Options{
		ArchiveAfterDays:          7,
		PurgeAfterDays:            30,
		ConversationRetentionDays: 7,
		Pruner:                    pruner,
		Archiver:                  archiver,
		Clock:                     clock,
	})
	require.NoError(t, err)

	report, ran, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	require.True(t, ran)

	assert.Equal(t, Report{ArchivedFiles: 2, PurgedArchives: 1, PrunedRows: 4}, report)
	assert.Equal(t, clock.now.AddDate(0, 0, -7), archiver.archiveCutoff)
	assert.Equal(t, clock.now.AddDate(0, 0, -30), archiver.purgeCutoff)
	assert.Equal(t, clock.now.AddDate(0, 0, -7), pruner.cutoff)
	assert.Equal(t, clock.now, s.LastRun())
}

func TestRunOnceSkipsWhenRecent(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	pruner := &fakePruner{}

	s, err := NewScheduler(Options{
		Interval:                  12 * time.Hour,
		ConversationRetentionDays: 7,
		Pruner:                    pruner,
		Clock:                     clock,
	})
	require.NoError(t, err)

	_, ran, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	require.True(t, ran)
	require.Equal(t, 1, pruner.calls)

	// An hour later the interval has not elapsed.
	clock.now = clock.now.Add(time.Hour)
	_, ran, err = s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Equal(t, 1, pruner.calls)

	// Past the interval the next pass runs.
	clock.now = clock.now.Add(12 * time.Hour)
	_, ran, err = s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 2, pruner.calls)
}

func TestRunNowBypassesRecencyAndPersists(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "hygiene.json")
	clock := &fakeClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	pruner := &fakePruner{rows: 5}

	s, err := NewScheduler(Options{
		StatePath:                 statePath,
		Interval:                  12 * time.Hour,
		ConversationRetentionDays: 7,
		Pruner:                    pruner,
		Clock:                     clock,
	})
	require.NoError(t, err)

	_, ran, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	require.True(t, ran)
	require.Equal(t, 1, pruner.calls)

	// A forced pass runs even though the interval has not elapsed.
	clock.now = clock.now.Add(time.Hour)
	report, err := s.RunNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, report.PrunedRows)
	assert.Equal(t, 2, pruner.calls)
	assert.Equal(t, clock.now, s.LastRun(), "a forced pass must still be recorded")

	// The forced pass resets the schedule: a scheduler restarted over the
	// same state file skips until a full interval after the forced run.
	restarted, err := NewScheduler(Options{
		StatePath:                 statePath,
		Interval:                  12 * time.Hour,
		ConversationRetentionDays: 7,
		Pruner:                    pruner,
		Clock:                     clock,
	})
	require.NoError(t, err)

	clock.now = clock.now.Add(time.Hour)
	_, ran, err = restarted.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Equal(t, 2, pruner.calls)
}

func TestRunOnceRecordsZeroWork(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}

	s, err := NewScheduler(Options{
		ConversationRetentionDays: 7,
		Pruner:                    &fakePruner{rows: 0},
		Clock:                     clock,
	})
	require.NoError(t, err)

	report, ran, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	require.True(t, ran)
	assert.Equal(t, Report{}, report)
	assert.Equal(t, clock.now, s.LastRun(), "a zero-work pass still counts as a run")
}

func TestActionsContinueAfterFailure(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	pruner := &fakePruner{rows: 3}
	archiver := &fakeArchiver{archiveErr: errors.New("disk full")}

	s, err := NewScheduler(Options{
		ArchiveAfterDays:          7,
		PurgeAfterDays:            30,
		ConversationRetentionDays: 7,
		Pruner:                    pruner,
		Archiver:                  archiver,
		Clock:                     clock,
	})
	require.NoError(t, err)

	report, ran, err := s.RunOnce(context.Background())
	require.True(t, ran)
	assert.Error(t, err)
	assert.Equal(t, 1, pruner.calls, "prune must run despite archive failure")
	assert.Equal(t, 3, report.PrunedRows)
	assert.False(t, archiver.purgeCutoff.IsZero(), "purge must run despite archive failure")
}

func TestStatePersistsAcrossRestarts(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "hygiene.json")
	clock := &fakeClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	pruner := &fakePruner{rows: 2}

	s, err := NewScheduler(Options{
		StatePath:                 statePath,
		ConversationRetentionDays: 7,
		Pruner:                    pruner,
		Clock:                     clock,
	})
	require.NoError(t, err)

	_, ran, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	require.True(t, ran)

	// A new scheduler over the same state file sees the earlier run and
	// skips until the interval elapses.
	restarted, err := NewScheduler(Options{
		StatePath:                 statePath,
		Interval:                  12 * time.Hour,
		ConversationRetentionDays: 7,
		Pruner:                    pruner,
		Clock:                     clock,
	})
	require.NoError(t, err)
	assert.True(t, clock.now.Equal(restarted.LastRun()))

	_, ran, err = restarted.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, ran)
}

func TestMalformedStateStartsFresh(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "hygiene.json")
	require.NoError(t, os.WriteFile(statePath, []byte("{not json"), 0o644))

	s, err := NewScheduler(Options{StatePath: statePath})
	require.NoError(t, err)
	assert.True(t, s.LastRun().IsZero())
}
