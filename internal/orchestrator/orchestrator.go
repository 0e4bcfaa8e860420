// Package orchestrator is the job lifecycle API: creation, upload,
// submission, querying, retry, cancellation, and deletion. The worker owns
// everything between submission and the terminal state.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hyescribe/hyescribe/internal/conf"
	"github.com/hyescribe/hyescribe/internal/datastore"
	"github.com/hyescribe/hyescribe/internal/errors"
	"github.com/hyescribe/hyescribe/internal/logging"
	"github.com/hyescribe/hyescribe/internal/media"
	"github.com/hyescribe/hyescribe/internal/objectstore"
	"github.com/hyescribe/hyescribe/internal/provider"
	"github.com/hyescribe/hyescribe/internal/queue"
)

// Orchestrator coordinates the job store, the object store, and the queue.
type Orchestrator struct {
	settings *conf.Settings
	store    datastore.Interface
	objects  objectstore.Store
	queue    *queue.Queue
	logger   *slog.Logger
	lookupIP func(host string) ([]net.IP, error)
}

// New assembles the orchestrator.
func New(settings *conf.Settings, store datastore.Interface, objects objectstore.Store, q *queue.Queue) *Orchestrator {
	logger := logging.ForService("orchestrator")
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		settings: settings,
		store:    store,
		objects:  objects,
		queue:    q,
		logger:   logger,
		lookupIP: net.LookupIP,
	}
}

// CreateRequest are the caller-supplied job parameters.
type CreateRequest struct {
	Provider   string
	Config     datastore.JobConfig
	WebhookURL string
}

// Create registers a new pending job. The provider must be registered and
// enabled, and must support the requested primary language.
func (o *Orchestrator) Create(ctx context.Context, req *CreateRequest) (*datastore.Job, error) {
	providerName := req.Provider
	if providerName == "" {
		providerName = o.settings.Providers.Default
	}

	svc, err := provider.Get(providerName, o.settings)
	if err != nil {
		return nil, err
	}

	cfg := req.Config
	if cfg.Language == "" {
		cfg.Language = "hy"
	}
	if !svc.SupportsLanguage(cfg.Language) {
		return nil, errors.Newf("provider %q does not support language %q", providerName, cfg.Language).
			Component("orchestrator").
			Category(errors.CategoryValidation).
			Build()
	}

	if req.WebhookURL != "" {
		if err := validateWebhookURL(req.WebhookURL, o.lookupIP); err != nil {
			return nil, err
		}
	}

	job := &datastore.Job{
		ID:         uuid.NewString(),
		Status:     datastore.JobStatusPending,
		Provider:   providerName,
		WebhookURL: req.WebhookURL,
	}
	if err := job.EncodeConfig(&cfg); err != nil {
		return nil, errors.New(err).
			Component("orchestrator").
			Category(errors.CategoryValidation).
			Build()
	}

	if err := o.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	o.logger.Info("job created", "job_id", job.ID, "provider", providerName)
	return job, nil
}

// UploadAudio validates and stores the recording for a pending job, probes
// it, and moves the job to uploaded.
func (o *Orchestrator) UploadAudio(ctx context.Context, jobID, filename string, data []byte) (*datastore.Job, error) {
	job, err := o.store.GetJob(ctx, jobID, false)
	if err != nil {
		return nil, err
	}
	if job.Status != datastore.JobStatusPending {
		return nil, errors.Newf("cannot upload to job in status %q", job.Status).
			Component("orchestrator").
			Category(errors.CategoryState).
			Context("job_id", jobID).
			Build()
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if ext == "" || !o.settings.IsSupportedFormat(ext) {
		return nil, errors.Newf("unsupported file format %q", ext).
			Component("orchestrator").
			Category(errors.CategoryValidation).
			Build()
	}

	maxBytes := int64(o.settings.Upload.MaxSizeMB) * 1024 * 1024
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, errors.Newf("file is %d bytes, limit is %d MB", len(data), o.settings.Upload.MaxSizeMB).
			Component("orchestrator").
			Category(errors.CategoryValidation).
			Build()
	}

	if !media.LooksLikeMedia(data) {
		return nil, errors.Newf("file content does not look like a supported media format").
			Component("orchestrator").
			Category(errors.CategoryValidation).
			Build()
	}

	meta, err := o.probeUpload(ctx, ext, data)
	if err != nil {
		return nil, err
	}

	key := objectstore.JobKey(jobID, filepath.Base(filename))
	if err := o.objects.Put(ctx, key, data, "application/octet-stream"); err != nil {
		return nil, err
	}

	if err := o.store.UpdateFileInfo(ctx, jobID, filepath.Base(filename),
		int64(len(data)), meta.Duration, ext, key); err != nil {
		return nil, err
	}
	if err := o.store.UpdateJobStatus(ctx, jobID, datastore.JobStatusUploaded, "", ""); err != nil {
		return nil, err
	}

	o.logger.Info("audio uploaded", "job_id", jobID,
		"size_bytes", len(data), "duration_seconds", meta.Duration, "format", ext)
	return o.store.GetJob(ctx, jobID, false)
}

// probeUpload writes the upload to a scratch file and runs ffprobe on it.
func (o *Orchestrator) probeUpload(ctx context.Context, ext string, data []byte) (*media.Metadata, error) {
	scratchRoot, err := o.settings.ScratchDir()
	if err != nil {
		return nil, err
	}
	tmp, err := os.CreateTemp(scratchRoot, "probe-*."+ext)
	if err != nil {
		return nil, errors.New(err).
			Component("orchestrator").
			Category(errors.CategoryFileIO).
			Build()
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, errors.New(err).
			Component("orchestrator").
			Category(errors.CategoryFileIO).
			Build()
	}
	if err := tmp.Close(); err != nil {
		return nil, errors.New(err).
			Component("orchestrator").
			Category(errors.CategoryFileIO).
			Build()
	}

	meta, err := media.Probe(ctx, tmp.Name())
	if err != nil {
		if errors.Is(err, media.ErrInvalidMedia) {
			return nil, errors.New(err).
				Component("orchestrator").
				Category(errors.CategoryValidation).
				Build()
		}
		return nil, err
	}
	return meta, nil
}

// Submit enqueues an uploaded job for processing.
func (o *Orchestrator) Submit(ctx context.Context, jobID string) error {
	job, err := o.store.GetJob(ctx, jobID, false)
	if err != nil {
		return err
	}
	if job.Status != datastore.JobStatusUploaded {
		return errors.Newf("cannot submit job in status %q", job.Status).
			Component("orchestrator").
			Category(errors.CategoryState).
			Context("job_id", jobID).
			Build()
	}

	msg := &queue.Message{Task: queue.TaskProcessJob, JobID: jobID, EnqueuedAt: time.Now().UTC()}
	if err := o.queue.Enqueue(ctx, o.settings.Queue.TranscriptionQueue, msg); err != nil {
		return err
	}
	o.logger.Info("job submitted", "job_id", jobID)
	return nil
}

// Progress is the caller-visible processing state.
type Progress struct {
	JobID           string  `json:"job_id"`
	Status          string  `json:"status"`
	TotalChunks     int     `json:"total_chunks"`
	CompletedChunks int     `json:"completed_chunks"`
	Percent         float64 `json:"percent"`
	ErrorCode       string  `json:"error_code,omitempty"`
	ErrorMessage    string  `json:"error_message,omitempty"`
}

// GetStatus returns the job row.
func (o *Orchestrator) GetStatus(ctx context.Context, jobID string) (*datastore.Job, error) {
	return o.store.GetJob(ctx, jobID, false)
}

// GetProgress returns chunk-level completion for a job.
func (o *Orchestrator) GetProgress(ctx context.Context, jobID string) (*Progress, error) {
	job, err := o.store.GetJob(ctx, jobID, false)
	if err != nil {
		return nil, err
	}
	return &Progress{
		JobID:           job.ID,
		Status:          job.Status,
		TotalChunks:     job.TotalChunks,
		CompletedChunks: job.CompletedChunks,
		Percent:         job.ProgressPercent(),
		ErrorCode:       job.ErrorCode,
		ErrorMessage:    job.ErrorMessage,
	}, nil
}

// GetResult fetches the merged transcript of a completed job.
func (o *Orchestrator) GetResult(ctx context.Context, jobID string) ([]byte, error) {
	job, err := o.store.GetJob(ctx, jobID, false)
	if err != nil {
		return nil, err
	}
	if job.Status != datastore.JobStatusCompleted {
		return nil, errors.Newf("job is %q, result is only available for completed jobs", job.Status).
			Component("orchestrator").
			Category(errors.CategoryState).
			Context("job_id", jobID).
			Build()
	}
	if job.ResultKey != "" {
		return o.objects.Get(ctx, job.ResultKey)
	}
	if job.Result != "" {
		return []byte(job.Result), nil
	}
	return nil, errors.Newf("completed job has no stored result").
		Component("orchestrator").
		Category(errors.CategoryNotFound).
		Context("job_id", jobID).
		Build()
}

// List returns a page of jobs, optionally filtered by status.
func (o *Orchestrator) List(ctx context.Context, status string, limit, offset int) ([]datastore.Job, int64, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return o.store.ListJobs(ctx, status, limit, offset)
}

// Retry re-runs a failed job. Failed chunks are reset to pending; completed
// chunks keep their stored result and are not re-transcribed.
func (o *Orchestrator) Retry(ctx context.Context, jobID string) error {
	job, err := o.store.GetJob(ctx, jobID, false)
	if err != nil {
		return err
	}
	if job.Status != datastore.JobStatusFailed {
		return errors.Newf("only failed jobs can be retried, job is %q", job.Status).
			Component("orchestrator").
			Category(errors.CategoryState).
			Context("job_id", jobID).
			Build()
	}

	reset, err := o.store.ResetFailedChunks(ctx, jobID)
	if err != nil {
		return err
	}
	if err := o.store.UpdateJobStatus(ctx, jobID, datastore.JobStatusProcessing, "", ""); err != nil {
		return err
	}

	msg := &queue.Message{Task: queue.TaskProcessJob, JobID: jobID, EnqueuedAt: time.Now().UTC()}
	if err := o.queue.Enqueue(ctx, o.settings.Queue.TranscriptionQueue, msg); err != nil {
		return err
	}
	o.logger.Info("job resubmitted", "job_id", jobID, "chunks_reset", reset)
	return nil
}

// Cancel marks a non-terminal job cancelled. The worker notices on its next
// cancellation poll and abandons the remaining chunks.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) error {
	job, err := o.store.GetJob(ctx, jobID, false)
	if err != nil {
		return err
	}
	if datastore.IsTerminal(job.Status) {
		return errors.Newf("job is already %q", job.Status).
			Component("orchestrator").
			Category(errors.CategoryState).
			Context("job_id", jobID).
			Build()
	}
	if err := o.store.UpdateJobStatus(ctx, jobID, datastore.JobStatusCancelled, "", ""); err != nil {
		return err
	}
	o.logger.Info("job cancelled", "job_id", jobID)
	return nil
}

// Delete removes the job's blobs and rows, in any status. A running job's
// worker notices the missing row at its next cancellation poll and aborts.
// Deleting a job that is already gone is a no-op.
func (o *Orchestrator) Delete(ctx context.Context, jobID string) error {
	job, err := o.store.GetJob(ctx, jobID, true)
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			return nil
		}
		return err
	}

	keys, err := o.collectObjectKeys(ctx, job)
	if err != nil {
		return err
	}
	if len(keys) > 0 {
		if err := o.objects.DeleteMany(ctx, keys); err != nil {
			return err
		}
	}

	if err := o.store.DeleteJob(ctx, jobID); err != nil {
		return err
	}
	o.logger.Info("job deleted", "job_id", jobID, "objects_removed", len(keys))
	return nil
}

// collectObjectKeys gathers every blob belonging to a job: the recorded
// keys plus anything else under the job's prefix.
func (o *Orchestrator) collectObjectKeys(ctx context.Context, job *datastore.Job) ([]string, error) {
	seen := map[string]bool{}
	var keys []string
	add := func(k string) {
		if k != "" && !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}

	add(job.OriginalKey)
	add(job.ResultKey)
	for i := range job.Chunks {
		add(job.Chunks[i].ChunkKey)
	}

	listed, err := o.objects.List(ctx, objectstore.JobPrefix(job.ID))
	if err != nil {
		return nil, fmt.Errorf("listing job objects: %w", err)
	}
	for _, k := range listed {
		add(k)
	}
	return keys, nil
}
