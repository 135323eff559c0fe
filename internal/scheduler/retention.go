package scheduler

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ResultPruner is the slice of the correction repository the retention job
// needs.
type ResultPruner interface {
	PruneOlderThan(cutoff time.Time) (int64, error)
}

// RetentionJob deletes correction results older than the retention window.
type RetentionJob struct {
	pruner    ResultPruner
	retention time.Duration
	log       zerolog.Logger
}

// NewRetentionJob creates a retention job keeping results for the given
// number of days.
func NewRetentionJob(pruner ResultPruner, days int, log zerolog.Logger) *RetentionJob {
	return &RetentionJob{
		pruner:    pruner,
		retention: time.Duration(days) * 24 * time.Hour,
		log:       log.With().Str("job", "retention").Logger(),
	}
}

// Name returns the job name
func (j *RetentionJob) Name() string { return "result-retention" }

// Run prunes expired correction results.
func (j *RetentionJob) Run() error {
	cutoff := time.Now().Add(-j.retention)
	n, err := j.pruner.PruneOlderThan(cutoff)
	if err != nil {
		return fmt.Errorf("retention prune failed: %w", err)
	}
	if n > 0 {
		j.log.Info().Int64("pruned", n).Msg("Retention prune complete")
	}
	return nil
}

// JobSweeper is the slice of the worker pool the sweep job needs.
type JobSweeper interface {
	PruneFinished(cutoff time.Time) int
}

// SweepJob evicts finished batch jobs from the pool's in-memory tracker once
// they are older than maxAge, so long-running services do not accumulate item
// results forever.
type SweepJob struct {
	sweeper JobSweeper
	maxAge  time.Duration
	log     zerolog.Logger
}

// NewSweepJob creates a sweep job with the given job retention age.
func NewSweepJob(sweeper JobSweeper, maxAge time.Duration, log zerolog.Logger) *SweepJob {
	return &SweepJob{
		sweeper: sweeper,
		maxAge:  maxAge,
		log:     log.With().Str("job", "sweep").Logger(),
	}
}

// Name returns the job name
func (j *SweepJob) Name() string { return "batch-job-sweep" }

// Run evicts expired batch jobs.
func (j *SweepJob) Run() error {
	n := j.sweeper.PruneFinished(time.Now().Add(-j.maxAge))
	if n > 0 {
		j.log.Info().Int("evicted", n).Msg("Batch job sweep complete")
	}
	return nil
}

// VacuumJob reclaims free pages on databases running with incremental
// auto-vacuum.
type VacuumJob struct {
	dbs []*sql.DB
	log zerolog.Logger
}

// NewVacuumJob creates a vacuum job over the given connections.
func NewVacuumJob(log zerolog.Logger, dbs ...*sql.DB) *VacuumJob {
	return &VacuumJob{
		dbs: dbs,
		log: log.With().Str("job", "vacuum").Logger(),
	}
}

// Name returns the job name
func (j *VacuumJob) Name() string { return "incremental-vacuum" }

// Run performs an incremental vacuum pass and a WAL checkpoint.
func (j *VacuumJob) Run() error {
	for _, db := range j.dbs {
		if _, err := db.Exec("PRAGMA incremental_vacuum(100)"); err != nil {
			return fmt.Errorf("incremental vacuum failed: %w", err)
		}
		if _, err := db.Exec("PRAGMA wal_checkpoint(PASSIVE)"); err != nil {
			return fmt.Errorf("wal checkpoint failed: %w", err)
		}
	}
	return nil
}
