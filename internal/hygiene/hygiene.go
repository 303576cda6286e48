// Package hygiene runs periodic memory maintenance: archiving old daily
// files, purging expired archives, and pruning stale conversation rows.
// Core entries are never touched by any hygiene action.
package hygiene

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Pruner deletes stale conversation entries. The indexed local and
// relational stores implement it.
type Pruner interface {
	PruneConversations(ctx context.Context, olderThan time.Time) (int, error)
}

// Archiver moves old daily files aside and later deletes them. The file
// store implements it.
type Archiver interface {
	ArchiveDailyFiles(olderThan time.Time) (int, error)
	PurgeArchives(olderThan time.Time) (int, error)
}

// Report summarizes one hygiene pass.
type Report struct {
	ArchivedFiles  int `json:"archived_files"`
	PurgedArchives int `json:"purged_archives"`
	PrunedRows     int `json:"pruned_rows"`
}

// State is persisted between runs so restarts do not trigger redundant
// passes.
type State struct {
	LastRunAt  time.Time `json:"last_run_at"`
	LastReport Report    `json:"last_report"`
}

// Options configures the scheduler.
type Options struct {
	// StatePath is where run state is persisted as JSON.
	StatePath string
	// Interval between passes. Defaults to 12h.
	Interval time.Duration
	// ArchiveAfterDays moves daily files older than this into the archive.
	// Zero disables archiving.
	ArchiveAfterDays int
	// PurgeAfterDays deletes archived files older than this. Zero disables
	// purging.
	PurgeAfterDays int
	// ConversationRetentionDays prunes conversation entries older than
	// this. Zero disables pruning.
	ConversationRetentionDays int

	// Pruner and Archiver may each be nil when the active backend does not
	// support that action.
	Pruner   Pruner
	Archiver Archiver

	Clock  Clock
	Logger *zap.Logger
}

// Scheduler drives hygiene passes at a fixed interval.
type Scheduler struct {
	opts  Options
	clock Clock
	log   *zap.Logger
	state State
}

// NewScheduler loads persisted state and returns a scheduler. A missing or
// malformed state file starts fresh; it is never fatal.
func NewScheduler(opts Options) (*Scheduler, error) {
	if opts.Interval <= 0 {
		opts.Interval = 12 * time.Hour
	}
	clock := opts.Clock
	if clock == nil {
		clock = systemClock{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Scheduler{opts: opts, clock: clock, log: logger}

	if opts.StatePath != "" {
		data, err := os.ReadFile(opts.StatePath)
		switch {
		case os.IsNotExist(err):
			// first run
		case err != nil:
			return nil, fmt.Errorf("read hygiene state: %w", err)
		default:
			if err := json.Unmarshal(data, &s.state); err != nil {
				logger.Warn("hygiene state file malformed, starting fresh", zap.Error(err))
				s.state = State{}
			}
		}
	}
	return s, nil
}

// LastRun reports when the previous pass completed, zero if never.
func (s *Scheduler) LastRun() time.Time { return s.state.LastRunAt }

// RunOnce performs a single pass if one is due. It reports whether work
// ran. Individual action failures are logged and do not stop the other
// actions; the first error is returned after the pass completes.
func (s *Scheduler) RunOnce(ctx context.Context) (Report, bool, error) {
	now := s.clock.Now()
	if !s.state.LastRunAt.IsZero() && now.Sub(s.state.LastRunAt) < s.opts.Interval {
		return Report{}, false, nil
	}
	report, err := s.run(ctx, now)
	return report, true, err
}

// RunNow performs a pass immediately, skipping the recency check. The pass
// is still recorded, so the next scheduled one waits a full interval.
func (s *Scheduler) RunNow(ctx context.Context) (Report, error) {
	return s.run(ctx, s.clock.Now())
}

func (s *Scheduler) run(ctx context.Context, now time.Time) (Report, error) {
	var report Report
	var firstErr error

	if s.opts.Archiver != nil && s.opts.ArchiveAfterDays > 0 {
		cutoff := now.AddDate(0, 0, -s.opts.ArchiveAfterDays)
		n, err := s.opts.Archiver.ArchiveDailyFiles(cutoff)
		report.ArchivedFiles = n
		if err != nil {
			s.log.Error("archive daily files", zap.Error(err))
			firstErr = err
		}
	}

	if s.opts.Archiver != nil && s.opts.PurgeAfterDays > 0 {
		cutoff := now.AddDate(0, 0, -s.opts.PurgeAfterDays)
		n, err := s.opts.Archiver.PurgeArchives(cutoff)
		report.PurgedArchives = n
		if err != nil {
			s.log.Error("purge archives", zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if s.opts.Pruner != nil && s.opts.ConversationRetentionDays > 0 {
		cutoff := now.AddDate(0, 0, -s.opts.ConversationRetentionDays)
		n, err := s.opts.Pruner.PruneConversations(ctx, cutoff)
		report.PrunedRows = n
		if err != nil {
			s.log.Error("prune conversations", zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	// The pass is recorded even when nothing matched, so the next pass
	// waits a full interval.
	s.state = State{LastRunAt: now, LastReport: report}
	if err := s.persist(); err != nil {
		s.log.Warn("persist hygiene state", zap.Error(err))
		if firstErr == nil {
			firstErr = err
		}
	}

	s.log.Info("hygiene pass complete",
		zap.Int("archived_files", report.ArchivedFiles),
		zap.Int("purged_archives", report.PurgedArchives),
		zap.Int("pruned_rows", report.PrunedRows))
	return report, firstErr
}

// Run blocks, performing a pass immediately and then on every tick until
// the context is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	if _, _, err := s.RunOnce(ctx); err != nil {
		s.log.Warn("hygiene pass had errors", zap.Error(err))
	}

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, _, err := s.RunOnce(ctx); err != nil {
				s.log.Warn("hygiene pass had errors", zap.Error(err))
			}
		}
	}
}

// persist writes state atomically via a temp file rename.
func (s *Scheduler) persist() error {
	if s.opts.StatePath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.opts.StatePath), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.opts.StatePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.opts.StatePath)
}
