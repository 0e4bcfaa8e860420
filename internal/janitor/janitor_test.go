package janitor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyescribe/hyescribe/internal/conf"
	"github.com/hyescribe/hyescribe/internal/datastore"
	"github.com/hyescribe/hyescribe/internal/objectstore"
	"github.com/hyescribe/hyescribe/internal/provider"
)

func newTestJanitor(t *testing.T) (*Janitor, datastore.Interface, objectstore.Store) {
	t.Helper()

	settings := &conf.Settings{}
	settings.JobStore.SQLite.Enabled = true
	settings.JobStore.SQLite.Path = filepath.Join(t.TempDir(), "jobs.db")
	settings.Janitor.StaleMinutes = 5
	settings.Janitor.RetentionDays = 1

	store := datastore.New(settings)
	require.NotNil(t, store)
	require.NoError(t, store.Open())
	t.Cleanup(func() { _ = store.Close() })

	objects, err := objectstore.NewDiskStore(filepath.Join(t.TempDir(), "objects"))
	require.NoError(t, err)

	return New(settings, store, objects, nil, nil), store, objects
}

// backdate rewrites the bookkeeping timestamps of a job row so sweeps see it
// as old.
func backdate(t *testing.T, store datastore.Interface, jobID string, to time.Time) {
	t.Helper()
	sqlite, ok := store.(*datastore.SQLiteStore)
	require.True(t, ok)
	require.NoError(t, sqlite.DB.Model(&datastore.Job{}).Where("id = ?", jobID).
		UpdateColumns(map[string]any{"updated_at": to, "created_at": to}).Error)
}

func TestRecoverStaleJobs(t *testing.T) {
	j, store, _ := newTestJanitor(t)
	ctx := context.Background()

	stuck := &datastore.Job{ID: "stuck", Status: datastore.JobStatusProcessing, Provider: "gemini"}
	require.NoError(t, store.CreateJob(ctx, stuck))
	backdate(t, store, "stuck", time.Now().Add(-10*time.Minute))

	fresh := &datastore.Job{ID: "fresh", Status: datastore.JobStatusProcessing, Provider: "gemini"}
	require.NoError(t, store.CreateJob(ctx, fresh))

	done := &datastore.Job{ID: "done", Status: datastore.JobStatusCompleted, Provider: "gemini"}
	require.NoError(t, store.CreateJob(ctx, done))
	backdate(t, store, "done", time.Now().Add(-10*time.Minute))

	count, err := j.RecoverStaleJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	swept, err := store.GetJob(ctx, "stuck", false)
	require.NoError(t, err)
	assert.Equal(t, datastore.JobStatusFailed, swept.Status)
	assert.Equal(t, staleJobMessage, swept.ErrorMessage)
	assert.Equal(t, provider.CodeTimeout, swept.ErrorCode)

	untouched, err := store.GetJob(ctx, "fresh", false)
	require.NoError(t, err)
	assert.Equal(t, datastore.JobStatusProcessing, untouched.Status)

	completed, err := store.GetJob(ctx, "done", false)
	require.NoError(t, err)
	assert.Equal(t, datastore.JobStatusCompleted, completed.Status)
}

func TestSweep_EvictsExpiredJobs(t *testing.T) {
	j, store, objects := newTestJanitor(t)
	ctx := context.Background()

	old := &datastore.Job{ID: "old", Status: datastore.JobStatusCompleted, Provider: "gemini"}
	require.NoError(t, store.CreateJob(ctx, old))
	key := objectstore.ResultKey("old")
	require.NoError(t, objects.Put(ctx, key, []byte(`{}`), "application/json"))
	require.NoError(t, store.SetJobResult(ctx, "old", key, `{}`))
	backdate(t, store, "old", time.Now().Add(-72*time.Hour))

	recent := &datastore.Job{ID: "recent", Status: datastore.JobStatusCompleted, Provider: "gemini"}
	require.NoError(t, store.CreateJob(ctx, recent))

	running := &datastore.Job{ID: "running", Status: datastore.JobStatusProcessing, Provider: "gemini"}
	require.NoError(t, store.CreateJob(ctx, running))
	backdate(t, store, "running", time.Now().Add(-72*time.Hour))

	j.sweep(ctx)

	_, err := store.GetJob(ctx, "old", false)
	assert.ErrorIs(t, err, datastore.ErrNotFound)

	exists, err := objects.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)

	// Recent terminal jobs and old non-terminal jobs stay.
	_, err = store.GetJob(ctx, "recent", false)
	require.NoError(t, err)
	_, err = store.GetJob(ctx, "running", false)
	require.NoError(t, err)
}

func TestRun_RetentionDisabled(t *testing.T) {
	j, _, _ := newTestJanitor(t)
	j.settings.Janitor.RetentionDays = 0

	done := make(chan struct{})
	go func() {
		j.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return with retention disabled")
	}
}
