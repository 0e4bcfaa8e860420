package datastore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"

	"github.com/hyescribe/hyescribe/internal/conf"
)

// TestMySQLStore_Lifecycle runs the job lifecycle against a real MySQL in a
// container. Requires Docker; skipped in short mode.
func TestMySQLStore_Lifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	ctx := context.Background()
	container, err := tcmysql.Run(ctx, "mysql:8.0",
		tcmysql.WithDatabase("hyescribe"),
		tcmysql.WithUsername("hyescribe"),
		tcmysql.WithPassword("secret"),
	)
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "3306/tcp")
	require.NoError(t, err)

	settings := &conf.Settings{}
	settings.JobStore.MySQL = conf.MySQLSettings{
		Enabled:  true,
		Username: "hyescribe",
		Password: "secret",
		Database: "hyescribe",
		Host:     host,
		Port:     port.Port(),
	}

	store := New(settings)
	require.NotNil(t, store)
	require.NoError(t, store.Open())
	t.Cleanup(func() { _ = store.Close() })

	job := &Job{ID: "job-1", Status: JobStatusPending, Provider: "gemini"}
	require.NoError(t, store.CreateJob(ctx, job))
	require.NoError(t, store.UpdateJobStatus(ctx, "job-1", JobStatusProcessing, "", ""))

	require.NoError(t, store.CreateChunksBatch(ctx, []Chunk{
		{JobID: "job-1", ChunkIndex: 0, Status: ChunkStatusPending, StartTime: 0, EndTime: 300},
	}))
	require.NoError(t, store.MarkChunkProcessing(ctx, "job-1", 0))
	require.NoError(t, store.SetChunkResult(ctx, "job-1", 0, `{"text":"ok"}`))
	require.NoError(t, store.IncrementCompletedChunks(ctx, "job-1"))
	require.NoError(t, store.UpdateJobStatus(ctx, "job-1", JobStatusCompleted, "", ""))

	loaded, err := store.GetJob(ctx, "job-1", true)
	require.NoError(t, err)
	assert.Equal(t, JobStatusCompleted, loaded.Status)
	assert.Equal(t, 1, loaded.CompletedChunks)
	require.Len(t, loaded.Chunks, 1)
	assert.Equal(t, ChunkStatusCompleted, loaded.Chunks[0].Status)
	require.NotNil(t, loaded.CompletedAt)
	assert.WithinDuration(t, time.Now(), *loaded.CompletedAt, time.Minute)

	require.NoError(t, store.DeleteJob(ctx, "job-1"))
	_, err = store.GetJob(ctx, "job-1", false)
	assert.ErrorIs(t, err, ErrNotFound)
}
