// Package worker executes transcription jobs pulled from the queue: it
// prepares audio, drives the per-chunk provider calls, merges the result,
// and reports completion.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/hyescribe/hyescribe/internal/conf"
	"github.com/hyescribe/hyescribe/internal/datastore"
	"github.com/hyescribe/hyescribe/internal/diagnostics"
	"github.com/hyescribe/hyescribe/internal/errors"
	"github.com/hyescribe/hyescribe/internal/logging"
	"github.com/hyescribe/hyescribe/internal/media"
	"github.com/hyescribe/hyescribe/internal/merger"
	"github.com/hyescribe/hyescribe/internal/notify"
	"github.com/hyescribe/hyescribe/internal/objectstore"
	"github.com/hyescribe/hyescribe/internal/observability"
	"github.com/hyescribe/hyescribe/internal/provider"
	"github.com/hyescribe/hyescribe/internal/queue"
	"github.com/hyescribe/hyescribe/internal/ratelimit"
)

// JobCancelledError aborts in-flight processing when the job was cancelled
// or deleted while its chunks were still being transcribed.
type JobCancelledError struct {
	JobID string
}

func (e *JobCancelledError) Error() string {
	return fmt.Sprintf("job %s was cancelled during processing", e.JobID)
}

// ErrorCategory implements errors.CategorizedError; cancellations are
// expected control flow and never reach telemetry.
func (e *JobCancelledError) ErrorCategory() errors.ErrorCategory {
	return errors.CategoryCancellation
}

// Worker processes one queue message at a time. Chunks within a job run
// strictly sequentially so each provider call can carry the previous
// chunk's transcript as context.
type Worker struct {
	settings *conf.Settings
	store    datastore.Interface
	objects  objectstore.Store
	queue    *queue.Queue
	limiter  *ratelimit.Limiter
	chunker  *media.Chunker
	merger   *merger.Merger
	notifier *notify.Notifier
	metrics  *observability.Metrics
	logger   *slog.Logger

	// Transcript segments carried forward as context for the next chunk.
	contextSegments int
}

// New assembles a worker from its collaborators. metrics and notifier may
// be nil.
func New(settings *conf.Settings, store datastore.Interface, objects objectstore.Store,
	q *queue.Queue, limiter *ratelimit.Limiter, notifier *notify.Notifier,
	m *observability.Metrics) *Worker {
	logger := logging.ForService("worker")
	if logger == nil {
		logger = slog.Default()
	}
	contextSegments := settings.Chunking.ContextSegments
	if contextSegments <= 0 {
		contextSegments = 3
	}
	return &Worker{
		settings:        settings,
		store:           store,
		objects:         objects,
		queue:           q,
		limiter:         limiter,
		chunker:         media.NewChunker(&settings.Chunking),
		merger:          merger.New(&settings.Chunking),
		notifier:        notifier,
		metrics:         m,
		logger:          logger,
		contextSegments: contextSegments,
	}
}

// HandleMessage dispatches a queue message. A nil return acknowledges the
// message; an error leaves it on the processing list for redelivery.
func (w *Worker) HandleMessage(ctx context.Context, msg *queue.Message) error {
	switch msg.Task {
	case queue.TaskProcessJob:
		return w.ProcessJob(ctx, msg.JobID)
	case queue.TaskSendWebhook:
		return w.DeliverWebhook(ctx, msg.JobID)
	default:
		w.logger.Warn("dropping message with unknown task", "task", msg.Task, "job_id", msg.JobID)
		return nil
	}
}

// ProcessJob runs the full pipeline for one job. Errors that terminate the
// job are recorded on the job row and acknowledged; only infrastructure
// failures (store or object storage unreachable) propagate for redelivery.
func (w *Worker) ProcessJob(ctx context.Context, jobID string) error {
	started := time.Now()

	job, err := w.store.GetJob(ctx, jobID, true)
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			w.logger.Info("job vanished before processing, dropping message", "job_id", jobID)
			return nil
		}
		return err
	}

	// Only uploaded jobs and processing jobs (redelivery, retry) are
	// admissible; anything else means the message is stale.
	if job.Status != datastore.JobStatusUploaded && job.Status != datastore.JobStatusProcessing {
		w.logger.Info("job not in a processable state, dropping message",
			"job_id", jobID, "status", job.Status)
		return nil
	}

	if err := w.store.UpdateJobStatus(ctx, jobID, datastore.JobStatusProcessing, "", ""); err != nil {
		return err
	}

	result, err := w.runPipeline(ctx, job)
	if err != nil {
		var cancelled *JobCancelledError
		if errors.As(err, &cancelled) {
			w.logger.Info("job cancelled during processing", "job_id", jobID)
			return nil
		}
		if ctx.Err() != nil {
			// Shutdown mid-job: leave the message for reclaim, the stale
			// sweep covers the status if redelivery never happens.
			return ctx.Err()
		}
		return w.failJob(ctx, job, err)
	}

	if err := w.completeJob(ctx, job, result); err != nil {
		return err
	}

	if w.metrics != nil {
		w.metrics.Pipeline.RecordJobCompleted(job.Provider, datastore.JobStatusCompleted,
			time.Since(started).Seconds())
	}
	if w.notifier != nil {
		w.notifier.JobCompleted(job.ID, job.Provider, job.DurationSeconds)
	}
	w.logger.Info("job completed", "job_id", jobID,
		"chunks", result.Metadata.ChunksMerged, "elapsed", time.Since(started).Round(time.Second))
	return nil
}

// runPipeline prepares audio, transcribes every chunk, and merges.
func (w *Worker) runPipeline(ctx context.Context, job *datastore.Job) (*merger.Transcript, error) {
	svc, err := provider.Get(job.Provider, w.settings)
	if err != nil {
		return nil, err
	}

	scratchRoot, err := w.settings.ScratchDir()
	if err != nil {
		return nil, err
	}
	scratch, err := os.MkdirTemp(scratchRoot, "job-"+job.ID+"-")
	if err != nil {
		return nil, errors.New(err).
			Component("worker").
			Category(errors.CategoryFileIO).
			Build()
	}
	defer os.RemoveAll(scratch)

	if err := diagnostics.EnsureScratchSpace(scratch, job.FileSizeBytes, w.settings.Scratch.MinFreeFactor); err != nil {
		return nil, err
	}

	wavPath, duration, err := w.prepareAudio(ctx, job, scratch)
	if err != nil {
		return nil, err
	}

	descriptors, err := w.chunker.ChunkAudio(ctx, wavPath, scratch, duration)
	if err != nil {
		return nil, err
	}

	chunks, err := w.ensureChunkRows(ctx, job, descriptors)
	if err != nil {
		return nil, err
	}

	results, err := w.transcribeChunks(ctx, job, svc, descriptors, chunks)
	if err != nil {
		return nil, err
	}

	transcript := w.merger.Merge(results, duration)
	if w.metrics != nil {
		w.metrics.Pipeline.RecordMerge(transcript.Metadata.DedupRemoved)
	}
	return transcript, nil
}

// prepareAudio downloads the original upload and produces the normalized
// 16 kHz mono WAV the chunker consumes. Returns the WAV path and the probed
// duration of the normalized audio.
func (w *Worker) prepareAudio(ctx context.Context, job *datastore.Job, scratch string) (string, float64, error) {
	localOriginal := filepath.Join(scratch, "original."+job.AudioFormat)
	if err := w.objects.GetToFile(ctx, job.OriginalKey, localOriginal); err != nil {
		return "", 0, err
	}

	wavPath := filepath.Join(scratch, "normalized.wav")
	if w.settings.IsVideoFormat(job.AudioFormat) {
		if err := w.chunker.ExtractAudio(ctx, localOriginal, wavPath); err != nil {
			return "", 0, err
		}
	} else {
		if err := w.chunker.NormalizeToWav(ctx, localOriginal, wavPath); err != nil {
			return "", 0, err
		}
	}

	meta, err := media.Probe(ctx, wavPath)
	if err != nil {
		return "", 0, err
	}
	return wavPath, meta.Duration, nil
}

// ensureChunkRows creates the chunk rows on first processing and returns
// them indexed by chunk index. On redelivery the existing rows are reused so
// completed chunks are not re-transcribed.
func (w *Worker) ensureChunkRows(ctx context.Context, job *datastore.Job, descriptors []media.ChunkDescriptor) (map[int]*datastore.Chunk, error) {
	existing, err := w.store.GetChunks(ctx, job.ID)
	if err != nil {
		return nil, err
	}

	byIndex := make(map[int]*datastore.Chunk, len(descriptors))
	if len(existing) > 0 {
		for i := range existing {
			byIndex[existing[i].ChunkIndex] = &existing[i]
		}
		return byIndex, nil
	}

	rows := make([]datastore.Chunk, 0, len(descriptors))
	for _, d := range descriptors {
		rows = append(rows, datastore.Chunk{
			JobID:      job.ID,
			ChunkIndex: d.Index,
			Status:     datastore.ChunkStatusPending,
			StartTime:  d.Start,
			EndTime:    d.End,
		})
	}
	if err := w.store.CreateChunksBatch(ctx, rows); err != nil {
		return nil, err
	}
	if err := w.store.SetTotalChunks(ctx, job.ID, len(rows)); err != nil {
		return nil, err
	}

	created, err := w.store.GetChunks(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	for i := range created {
		byIndex[created[i].ChunkIndex] = &created[i]
	}
	return byIndex, nil
}

// failJob records a terminal failure on the job row with a stable error
// code and a user-facing message.
func (w *Worker) failJob(ctx context.Context, job *datastore.Job, cause error) error {
	code, message := provider.Classify(cause)
	w.logger.Error("job failed", "job_id", job.ID, "code", code, "error", cause)

	if err := w.store.UpdateJobStatus(ctx, job.ID, datastore.JobStatusFailed, message, code); err != nil {
		return err
	}

	if w.metrics != nil {
		w.metrics.Pipeline.RecordJobCompleted(job.Provider, datastore.JobStatusFailed, 0)
	}
	if w.notifier != nil {
		w.notifier.JobFailed(job.ID, code, message)
	}
	w.enqueueWebhook(ctx, job)
	return nil
}

// completeJob persists the transcript and flips the job to completed.
func (w *Worker) completeJob(ctx context.Context, job *datastore.Job, transcript *merger.Transcript) error {
	resultKey := objectstore.ResultKey(job.ID)
	if err := objectstore.PutJSON(ctx, w.objects, resultKey, transcript); err != nil {
		return err
	}

	inline, err := json.Marshal(transcript)
	if err != nil {
		return errors.New(err).Component("worker").Category(errors.CategoryGeneric).Build()
	}
	if err := w.store.SetJobResult(ctx, job.ID, resultKey, string(inline)); err != nil {
		return err
	}
	if err := w.store.UpdateJobStatus(ctx, job.ID, datastore.JobStatusCompleted, "", ""); err != nil {
		return err
	}

	w.enqueueWebhook(ctx, job)
	return nil
}

func (w *Worker) enqueueWebhook(ctx context.Context, job *datastore.Job) {
	if job.WebhookURL == "" || w.queue == nil {
		return
	}
	msg := &queue.Message{Task: queue.TaskSendWebhook, JobID: job.ID, EnqueuedAt: time.Now().UTC()}
	if err := w.queue.Enqueue(ctx, w.settings.Queue.WebhookQueue, msg); err != nil {
		w.logger.Error("failed to enqueue webhook delivery", "job_id", job.ID, "error", err)
	}
}
