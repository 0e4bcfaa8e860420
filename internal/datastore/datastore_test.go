package datastore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyescribe/hyescribe/internal/conf"
)

func newTestStore(t *testing.T) Interface {
	t.Helper()
	settings := &conf.Settings{}
	settings.JobStore.SQLite.Enabled = true
	settings.JobStore.SQLite.Path = filepath.Join(t.TempDir(), "jobs.db")

	store := New(settings)
	require.NotNil(t, store)
	require.NoError(t, store.Open())
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func makeJob(t *testing.T, store Interface, id, status string) *Job {
	t.Helper()
	job := &Job{ID: id, Status: status, Provider: "gemini"}
	require.NoError(t, store.CreateJob(context.Background(), job))
	return job
}

func TestJobLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job := &Job{ID: "job-1", Status: JobStatusPending, Provider: "gemini"}
	require.NoError(t, job.EncodeConfig(&JobConfig{Language: "hy", DiarizationEnabled: true}))
	require.NoError(t, store.CreateJob(ctx, job))

	loaded, err := store.GetJob(ctx, "job-1", false)
	require.NoError(t, err)
	assert.Equal(t, JobStatusPending, loaded.Status)

	cfg, err := loaded.DecodeConfig()
	require.NoError(t, err)
	assert.Equal(t, "hy", cfg.Language)
	assert.True(t, cfg.DiarizationEnabled)

	require.NoError(t, store.UpdateFileInfo(ctx, "job-1", "meeting.mp3", 1024, 733.5, "mp3", "jobs/job-1/original.mp3"))
	require.NoError(t, store.UpdateJobStatus(ctx, "job-1", JobStatusUploaded, "", ""))

	loaded, err = store.GetJob(ctx, "job-1", false)
	require.NoError(t, err)
	assert.Equal(t, JobStatusUploaded, loaded.Status)
	assert.Equal(t, "meeting.mp3", loaded.OriginalFilename)
	assert.Equal(t, 733.5, loaded.DurationSeconds)
	assert.Nil(t, loaded.CompletedAt)

	require.NoError(t, store.UpdateJobStatus(ctx, "job-1", JobStatusCompleted, "", ""))
	loaded, err = store.GetJob(ctx, "job-1", false)
	require.NoError(t, err)
	require.NotNil(t, loaded.CompletedAt)
}

func TestGetJob_NotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetJob(context.Background(), "absent", false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateJobStatus_RecordsError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	makeJob(t, store, "job-1", JobStatusProcessing)

	require.NoError(t, store.UpdateJobStatus(ctx, "job-1", JobStatusFailed,
		"The transcription request timed out. Please retry the job.", "timeout"))

	loaded, err := store.GetJob(ctx, "job-1", false)
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, loaded.Status)
	assert.Equal(t, "timeout", loaded.ErrorCode)
	assert.NotEmpty(t, loaded.ErrorMessage)
}

func TestUpdateJobStatus_MissingJob(t *testing.T) {
	store := newTestStore(t)
	err := store.UpdateJobStatus(context.Background(), "absent", JobStatusFailed, "", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListJobs_FilterAndCount(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	makeJob(t, store, "a", JobStatusCompleted)
	makeJob(t, store, "b", JobStatusFailed)
	makeJob(t, store, "c", JobStatusCompleted)

	jobs, total, err := store.ListJobs(ctx, JobStatusCompleted, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, jobs, 2)

	jobs, total, err = store.ListJobs(ctx, "", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, jobs, 2)
}

func TestChunkLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	makeJob(t, store, "job-1", JobStatusProcessing)

	chunks := []Chunk{
		{JobID: "job-1", ChunkIndex: 0, Status: ChunkStatusPending, StartTime: 0, EndTime: 300},
		{JobID: "job-1", ChunkIndex: 1, Status: ChunkStatusPending, StartTime: 297, EndTime: 400},
	}
	require.NoError(t, store.CreateChunksBatch(ctx, chunks))
	require.NoError(t, store.SetTotalChunks(ctx, "job-1", 2))

	require.NoError(t, store.MarkChunkProcessing(ctx, "job-1", 0))
	chunk, err := store.GetChunk(ctx, "job-1", 0)
	require.NoError(t, err)
	assert.Equal(t, ChunkStatusProcessing, chunk.Status)
	assert.Equal(t, 1, chunk.AttemptCount)
	assert.Equal(t, 300.0, chunk.Duration())

	require.NoError(t, store.SetChunkResult(ctx, "job-1", 0, `{"text":"ok"}`))
	require.NoError(t, store.IncrementCompletedChunks(ctx, "job-1"))

	chunk, err = store.GetChunk(ctx, "job-1", 0)
	require.NoError(t, err)
	assert.Equal(t, ChunkStatusCompleted, chunk.Status)
	assert.Equal(t, `{"text":"ok"}`, chunk.Result)
	require.NotNil(t, chunk.ProcessedAt)

	job, err := store.GetJob(ctx, "job-1", true)
	require.NoError(t, err)
	assert.Equal(t, 1, job.CompletedChunks)
	require.Len(t, job.Chunks, 2)
	assert.Equal(t, 0, job.Chunks[0].ChunkIndex)
	assert.Equal(t, 50.0, job.ProgressPercent())
}

func TestFailAndResetChunks(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	makeJob(t, store, "job-1", JobStatusProcessing)

	require.NoError(t, store.CreateChunksBatch(ctx, []Chunk{
		{JobID: "job-1", ChunkIndex: 0, Status: ChunkStatusCompleted},
		{JobID: "job-1", ChunkIndex: 1, Status: ChunkStatusPending},
	}))

	require.NoError(t, store.FailChunk(ctx, "job-1", 1, "gemini: rate limited"))
	chunk, err := store.GetChunk(ctx, "job-1", 1)
	require.NoError(t, err)
	assert.Equal(t, ChunkStatusFailed, chunk.Status)
	assert.Equal(t, "gemini: rate limited", chunk.LastError)

	reset, err := store.ResetFailedChunks(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), reset)

	chunk, err = store.GetChunk(ctx, "job-1", 1)
	require.NoError(t, err)
	assert.Equal(t, ChunkStatusPending, chunk.Status)
	assert.Empty(t, chunk.LastError)

	// The completed chunk is untouched by a reset.
	chunk, err = store.GetChunk(ctx, "job-1", 0)
	require.NoError(t, err)
	assert.Equal(t, ChunkStatusCompleted, chunk.Status)
}

func TestDeleteJob_RemovesChunksAndIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	makeJob(t, store, "job-1", JobStatusCompleted)
	require.NoError(t, store.CreateChunksBatch(ctx, []Chunk{
		{JobID: "job-1", ChunkIndex: 0, Status: ChunkStatusCompleted},
	}))

	require.NoError(t, store.DeleteJob(ctx, "job-1"))
	_, err := store.GetJob(ctx, "job-1", false)
	assert.ErrorIs(t, err, ErrNotFound)

	chunks, err := store.GetChunks(ctx, "job-1")
	require.NoError(t, err)
	assert.Empty(t, chunks)

	require.NoError(t, store.DeleteJob(ctx, "job-1"))
}

func TestFailStaleJobs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	makeJob(t, store, "stale", JobStatusProcessing)
	makeJob(t, store, "fresh", JobStatusProcessing)
	makeJob(t, store, "done", JobStatusCompleted)

	// Zero stale window: every non-terminal in-flight job qualifies. Sleep a
	// tick so updated_at is strictly in the past.
	time.Sleep(10 * time.Millisecond)
	message := "Job timed out"
	n, err := store.FailStaleJobs(ctx, 0, message, "timeout")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	job, err := store.GetJob(ctx, "stale", false)
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, job.Status)
	assert.Equal(t, "timeout", job.ErrorCode)
	assert.Contains(t, job.ErrorMessage, "timed out")

	job, err = store.GetJob(ctx, "done", false)
	require.NoError(t, err)
	assert.Equal(t, JobStatusCompleted, job.Status)
}

func TestGetExpiredJobs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	makeJob(t, store, "old-done", JobStatusCompleted)
	makeJob(t, store, "old-failed", JobStatusFailed)
	makeJob(t, store, "old-processing", JobStatusProcessing)

	time.Sleep(10 * time.Millisecond)
	expired, err := store.GetExpiredJobs(ctx, time.Now(), 50)
	require.NoError(t, err)
	require.Len(t, expired, 2)
	for _, j := range expired {
		assert.NotEqual(t, JobStatusProcessing, j.Status)
	}

	expired, err = store.GetExpiredJobs(ctx, time.Now().Add(-time.Hour), 50)
	require.NoError(t, err)
	assert.Empty(t, expired)
}

func TestMarkWebhookSent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	makeJob(t, store, "job-1", JobStatusCompleted)

	require.NoError(t, store.MarkWebhookSent(ctx, "job-1"))
	job, err := store.GetJob(ctx, "job-1", false)
	require.NoError(t, err)
	assert.True(t, job.WebhookSent)
}

func TestSetJobResult(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	makeJob(t, store, "job-1", JobStatusProcessing)

	require.NoError(t, store.SetJobResult(ctx, "job-1", "jobs/job-1/transcript.json", `{"full_text":"ok"}`))
	job, err := store.GetJob(ctx, "job-1", false)
	require.NoError(t, err)
	assert.Equal(t, "jobs/job-1/transcript.json", job.ResultKey)
	assert.Equal(t, `{"full_text":"ok"}`, job.Result)
}

func TestNew_PicksBackend(t *testing.T) {
	settings := &conf.Settings{}
	assert.Nil(t, New(settings))

	settings.JobStore.SQLite.Enabled = true
	_, ok := New(settings).(*SQLiteStore)
	assert.True(t, ok)

	settings.JobStore.SQLite.Enabled = false
	settings.JobStore.MySQL.Enabled = true
	_, ok = New(settings).(*MySQLStore)
	assert.True(t, ok)
}
