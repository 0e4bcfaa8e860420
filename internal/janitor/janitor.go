// Package janitor recovers jobs orphaned by a restart and evicts expired
// jobs past the retention window.
package janitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/hyescribe/hyescribe/internal/conf"
	"github.com/hyescribe/hyescribe/internal/datastore"
	"github.com/hyescribe/hyescribe/internal/logging"
	"github.com/hyescribe/hyescribe/internal/notify"
	"github.com/hyescribe/hyescribe/internal/objectstore"
	"github.com/hyescribe/hyescribe/internal/observability"
	"github.com/hyescribe/hyescribe/internal/provider"
)

const (
	// staleJobMessage is the user-facing explanation written on jobs that
	// were in flight when the service died.
	staleJobMessage = "Job timed out — likely interrupted by a service restart. Please resubmit."

	retentionSweepInterval = 24 * time.Hour
	retentionBatchSize     = 50
)

// Janitor owns startup recovery and the retention sweep.
type Janitor struct {
	settings *conf.Settings
	store    datastore.Interface
	objects  objectstore.Store
	notifier *notify.Notifier
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// New assembles a janitor. notifier and metrics may be nil.
func New(settings *conf.Settings, store datastore.Interface, objects objectstore.Store,
	notifier *notify.Notifier, m *observability.Metrics) *Janitor {
	logger := logging.ForService("janitor")
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		settings: settings,
		store:    store,
		objects:  objects,
		notifier: notifier,
		metrics:  m,
		logger:   logger,
	}
}

// RecoverStaleJobs fails jobs stuck in a non-terminal processing state for
// longer than the stale window. Run once at startup, before the queue
// consumer starts: anything still marked processing at that point was
// interrupted, because the worker is single-process.
func (j *Janitor) RecoverStaleJobs(ctx context.Context) (int64, error) {
	staleFor := time.Duration(j.settings.Janitor.StaleMinutes) * time.Minute
	if staleFor <= 0 {
		staleFor = 30 * time.Minute
	}

	count, err := j.store.FailStaleJobs(ctx, staleFor, staleJobMessage, provider.CodeTimeout)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		j.logger.Warn("recovered stale jobs from interrupted run", "count", count)
		if j.metrics != nil {
			j.metrics.Pipeline.RecordStaleJobsRecovered(int(count))
		}
		if j.notifier != nil {
			j.notifier.StaleJobsRecovered(count)
		}
	}
	return count, nil
}

// Run performs the retention sweep daily until the context ends. A
// non-positive retention disables eviction entirely.
func (j *Janitor) Run(ctx context.Context) {
	if j.settings.Janitor.RetentionDays <= 0 {
		j.logger.Info("retention eviction disabled")
		return
	}

	ticker := time.NewTicker(retentionSweepInterval)
	defer ticker.Stop()

	j.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

// sweep deletes terminal jobs older than the retention window, blobs first
// so a crash mid-delete leaves only the row for the next sweep to retry.
func (j *Janitor) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-time.Duration(j.settings.Janitor.RetentionDays) * 24 * time.Hour)
	deleted := 0

	for {
		jobs, err := j.store.GetExpiredJobs(ctx, cutoff, retentionBatchSize)
		if err != nil {
			j.logger.Error("retention sweep query failed", "error", err)
			return
		}
		if len(jobs) == 0 {
			break
		}

		deletedInBatch := 0
		for i := range jobs {
			if err := j.deleteJob(ctx, &jobs[i]); err != nil {
				j.logger.Error("retention delete failed", "job_id", jobs[i].ID, "error", err)
				continue
			}
			deletedInBatch++
		}
		deleted += deletedInBatch

		// A batch where nothing could be deleted would come back verbatim
		// from the next query; stop and let the next sweep retry.
		if deletedInBatch == 0 || len(jobs) < retentionBatchSize {
			break
		}
	}

	if deleted > 0 {
		j.logger.Info("retention sweep completed", "deleted", deleted, "cutoff", cutoff.Format(time.RFC3339))
		if j.metrics != nil {
			j.metrics.Pipeline.RecordJobsDeleted(deleted)
		}
	}
}

func (j *Janitor) deleteJob(ctx context.Context, job *datastore.Job) error {
	keys, err := j.objects.List(ctx, objectstore.JobPrefix(job.ID))
	if err != nil {
		return err
	}
	if job.OriginalKey != "" {
		keys = append(keys, job.OriginalKey)
	}
	if job.ResultKey != "" {
		keys = append(keys, job.ResultKey)
	}
	if len(keys) > 0 {
		if err := j.objects.DeleteMany(ctx, keys); err != nil {
			return err
		}
	}
	return j.store.DeleteJob(ctx, job.ID)
}
