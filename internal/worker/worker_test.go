package worker

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyescribe/hyescribe/internal/conf"
	"github.com/hyescribe/hyescribe/internal/datastore"
	"github.com/hyescribe/hyescribe/internal/media"
	"github.com/hyescribe/hyescribe/internal/provider"
	"github.com/hyescribe/hyescribe/internal/queue"
)

func newTestWorker(t *testing.T) (*Worker, datastore.Interface) {
	t.Helper()
	settings := &conf.Settings{}
	settings.JobStore.SQLite.Enabled = true
	settings.JobStore.SQLite.Path = filepath.Join(t.TempDir(), "jobs.db")
	settings.Webhook.MaxAttempts = 2
	settings.Webhook.TimeoutSeconds = 5

	store := datastore.New(settings)
	require.NotNil(t, store)
	require.NoError(t, store.Open())
	t.Cleanup(func() { _ = store.Close() })

	w := &Worker{
		settings:        settings,
		store:           store,
		logger:          slog.Default(),
		contextSegments: 3,
	}
	return w, store
}

func TestNew_ContextSegmentsFromSettings(t *testing.T) {
	settings := &conf.Settings{}
	settings.Chunking.ContextSegments = 5
	w := New(settings, nil, nil, nil, nil, nil, nil)
	assert.Equal(t, 5, w.contextSegments)

	// Unset falls back to the default depth.
	w = New(&conf.Settings{}, nil, nil, nil, nil, nil, nil)
	assert.Equal(t, 3, w.contextSegments)
}

func TestCoverageGap(t *testing.T) {
	resp := &provider.Response{Segments: []provider.Segment{
		{Start: 10, End: 50},
		{Start: 48, End: 280},
	}}

	// Leading hole of 10s vs trailing hole of 20s.
	assert.InDelta(t, 20.0, coverageGap(resp, 300), 1e-9)

	// Trailing coverage past the clip end is clamped.
	over := &provider.Response{Segments: []provider.Segment{{Start: 0, End: 400}}}
	assert.InDelta(t, 0.0, coverageGap(over, 300), 1e-9)

	assert.InDelta(t, 300.0, coverageGap(nil, 300), 1e-9)
	assert.InDelta(t, 300.0, coverageGap(&provider.Response{}, 300), 1e-9)
}

func TestCollectSpeakers(t *testing.T) {
	set := map[string]bool{}
	collectSpeakers(set, &provider.Response{Segments: []provider.Segment{
		{SpeakerID: "SPEAKER_00"},
		{SpeakerID: ""},
		{SpeakerID: "SPEAKER_01"},
		{SpeakerID: "SPEAKER_00"},
	}})
	assert.Equal(t, map[string]bool{"SPEAKER_00": true, "SPEAKER_01": true}, set)
}

func TestBuildChunkConfig_FirstChunkHasNoContext(t *testing.T) {
	w := &Worker{contextSegments: 3}
	jobCfg := &datastore.JobConfig{Language: "hy", DiarizationEnabled: true}
	d := &media.ChunkDescriptor{Index: 0, Start: 0, End: 300}
	prior := []provider.Segment{{SpeakerID: "SPEAKER_00", Text: "earlier"}}

	cfg := w.buildChunkConfig(jobCfg, d, prior, map[string]bool{"SPEAKER_00": true})
	assert.Equal(t, "hy", cfg.Language)
	assert.True(t, cfg.DiarizationEnabled)
	assert.Equal(t, 0, cfg.ChunkIndex)
	assert.InDelta(t, 300.0, cfg.AudioDuration, 1e-9)
	assert.Empty(t, cfg.PreviousTranscriptContext)
	assert.Empty(t, cfg.PreviousSpeakers)
}

func TestBuildChunkConfig_CarriesTailContext(t *testing.T) {
	w := &Worker{contextSegments: 3}
	jobCfg := &datastore.JobConfig{Language: "hy"}
	d := &media.ChunkDescriptor{Index: 1, Start: 297, End: 597}
	prior := []provider.Segment{
		{SpeakerID: "SPEAKER_00", Text: "one"},
		{SpeakerID: "SPEAKER_01", Text: "two"},
		{SpeakerID: "SPEAKER_00", Text: "three"},
		{SpeakerID: "SPEAKER_01", Text: "four"},
	}
	known := map[string]bool{"SPEAKER_01": true, "SPEAKER_00": true}

	cfg := w.buildChunkConfig(jobCfg, d, prior, known)
	// Only the last three segments are carried.
	assert.Equal(t, "SPEAKER_01: two\nSPEAKER_00: three\nSPEAKER_01: four", cfg.PreviousTranscriptContext)
	assert.Equal(t, []string{"SPEAKER_00", "SPEAKER_01"}, cfg.PreviousSpeakers)
}

func TestBuildChunkConfig_ConfiguredContextDepth(t *testing.T) {
	w := &Worker{contextSegments: 2}
	d := &media.ChunkDescriptor{Index: 1, Start: 297, End: 597}
	prior := []provider.Segment{
		{SpeakerID: "SPEAKER_00", Text: "one"},
		{SpeakerID: "SPEAKER_00", Text: "two"},
		{SpeakerID: "SPEAKER_00", Text: "three"},
	}

	cfg := w.buildChunkConfig(&datastore.JobConfig{}, d, prior, nil)
	assert.Equal(t, "SPEAKER_00: two\nSPEAKER_00: three", cfg.PreviousTranscriptContext)
}

func TestBuildChunkConfig_TailSpansSparseChunk(t *testing.T) {
	// A chunk that came back with a single segment does not starve the
	// next chunk's context; the tail reaches back into earlier chunks.
	w := &Worker{contextSegments: 3}
	d := &media.ChunkDescriptor{Index: 2, Start: 594, End: 894}
	prior := []provider.Segment{
		{SpeakerID: "SPEAKER_00", Text: "from chunk zero"},
		{SpeakerID: "SPEAKER_01", Text: "also chunk zero"},
		{SpeakerID: "SPEAKER_00", Text: "lone chunk one segment"},
	}

	cfg := w.buildChunkConfig(&datastore.JobConfig{}, d, prior, nil)
	assert.Equal(t,
		"SPEAKER_00: from chunk zero\nSPEAKER_01: also chunk zero\nSPEAKER_00: lone chunk one segment",
		cfg.PreviousTranscriptContext)
}

func TestBuildChunkConfig_NoPriorSegments(t *testing.T) {
	w := &Worker{contextSegments: 3}
	cfg := w.buildChunkConfig(&datastore.JobConfig{}, &media.ChunkDescriptor{Index: 2, Start: 594, End: 700}, nil, nil)
	assert.Empty(t, cfg.PreviousTranscriptContext)
	assert.InDelta(t, 106.0, cfg.AudioDuration, 1e-9)
}

func TestDeliverWebhook_Success(t *testing.T) {
	w, store := newTestWorker(t)
	ctx := context.Background()

	var hits atomic.Int32
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		gotBody, _ = io.ReadAll(r.Body)
		rw.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	job := &datastore.Job{ID: "job-1", Status: datastore.JobStatusCompleted,
		Provider: "gemini", WebhookURL: srv.URL, Result: `{"full_text":"ok"}`}
	require.NoError(t, store.CreateJob(ctx, job))

	require.NoError(t, w.DeliverWebhook(ctx, "job-1"))
	assert.Equal(t, int32(1), hits.Load())
	assert.Contains(t, string(gotBody), `"job_id":"job-1"`)
	assert.Contains(t, string(gotBody), `"full_text":"ok"`)

	loaded, err := store.GetJob(ctx, "job-1", false)
	require.NoError(t, err)
	assert.True(t, loaded.WebhookSent)

	// Redelivered messages are a no-op once the webhook is sent.
	require.NoError(t, w.DeliverWebhook(ctx, "job-1"))
	assert.Equal(t, int32(1), hits.Load())
}

func TestDeliverWebhook_AbandonsAfterMaxAttempts(t *testing.T) {
	w, store := newTestWorker(t)
	ctx := context.Background()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		rw.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	job := &datastore.Job{ID: "job-1", Status: datastore.JobStatusFailed,
		Provider: "gemini", WebhookURL: srv.URL, ErrorCode: "timeout"}
	require.NoError(t, store.CreateJob(ctx, job))

	// Exhausting the budget still acknowledges the message.
	require.NoError(t, w.DeliverWebhook(ctx, "job-1"))
	assert.Equal(t, int32(2), hits.Load())

	loaded, err := store.GetJob(ctx, "job-1", false)
	require.NoError(t, err)
	assert.False(t, loaded.WebhookSent)
}

func TestDeliverWebhook_NoURLIsNoop(t *testing.T) {
	w, store := newTestWorker(t)
	ctx := context.Background()

	job := &datastore.Job{ID: "job-1", Status: datastore.JobStatusCompleted, Provider: "gemini"}
	require.NoError(t, store.CreateJob(ctx, job))
	require.NoError(t, w.DeliverWebhook(ctx, "job-1"))
}

func TestDeliverWebhook_MissingJobIsNoop(t *testing.T) {
	w, _ := newTestWorker(t)
	require.NoError(t, w.DeliverWebhook(context.Background(), "absent"))
}

func TestEnsureChunkRows_CreatesAndReuses(t *testing.T) {
	w, store := newTestWorker(t)
	ctx := context.Background()

	job := &datastore.Job{ID: "job-1", Status: datastore.JobStatusProcessing, Provider: "gemini"}
	require.NoError(t, store.CreateJob(ctx, job))

	descriptors := []media.ChunkDescriptor{
		{Index: 0, Start: 0, End: 300},
		{Index: 1, Start: 297, End: 400},
	}

	rows, err := w.ensureChunkRows(ctx, job, descriptors)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, datastore.ChunkStatusPending, rows[0].Status)
	assert.InDelta(t, 297.0, rows[1].StartTime, 1e-9)

	loaded, err := store.GetJob(ctx, "job-1", false)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.TotalChunks)

	// Redelivery reuses the existing rows, chunk state included.
	require.NoError(t, store.SetChunkResult(ctx, "job-1", 0, `{"segments":[]}`))
	again, err := w.ensureChunkRows(ctx, job, descriptors)
	require.NoError(t, err)
	require.Len(t, again, 2)
	assert.Equal(t, datastore.ChunkStatusCompleted, again[0].Status)
}

func TestHandleMessage_UnknownTaskIsDropped(t *testing.T) {
	w, _ := newTestWorker(t)
	err := w.HandleMessage(context.Background(), &queue.Message{Task: "mystery", JobID: "job-1"})
	require.NoError(t, err)
}
