// Package datastore is the durable state for jobs and chunks, backed by
// GORM over SQLite or MySQL.
package datastore

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/hyescribe/hyescribe/internal/conf"
	"github.com/hyescribe/hyescribe/internal/logging"
)

// ErrNotFound is returned when a job or chunk does not exist.
var ErrNotFound = errors.New("datastore: record not found")

// Interface is the job-store contract the pipeline consumes. All mutating
// operations are atomic; status transitions never walk the DAG backwards.
type Interface interface {
	Open() error
	Close() error

	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, jobID string, includeChunks bool) (*Job, error)
	ListJobs(ctx context.Context, status string, limit, offset int) ([]Job, int64, error)
	UpdateJobStatus(ctx context.Context, jobID, status, errorMessage, errorCode string) error
	UpdateFileInfo(ctx context.Context, jobID string, filename string, sizeBytes int64, duration float64, format, originalKey string) error
	SetTotalChunks(ctx context.Context, jobID string, total int) error
	IncrementCompletedChunks(ctx context.Context, jobID string) error
	SetJobResult(ctx context.Context, jobID, resultKey, inlineResult string) error
	MarkWebhookSent(ctx context.Context, jobID string) error
	DeleteJob(ctx context.Context, jobID string) error

	CreateChunksBatch(ctx context.Context, chunks []Chunk) error
	GetChunks(ctx context.Context, jobID string) ([]Chunk, error)
	GetChunk(ctx context.Context, jobID string, index int) (*Chunk, error)
	MarkChunkProcessing(ctx context.Context, jobID string, index int) error
	SetChunkResult(ctx context.Context, jobID string, index int, result string) error
	FailChunk(ctx context.Context, jobID string, index int, lastError string) error
	ResetFailedChunks(ctx context.Context, jobID string) (int64, error)

	FailStaleJobs(ctx context.Context, staleFor time.Duration, message, code string) (int64, error)
	GetExpiredJobs(ctx context.Context, olderThan time.Time, limit int) ([]Job, error)
}

// DataStore implements the shared GORM operations. SQLiteStore and
// MySQLStore embed it and provide Open.
type DataStore struct {
	DB *gorm.DB
}

// New creates the configured store. The caller must Open() it.
func New(settings *conf.Settings) Interface {
	switch {
	case settings.JobStore.SQLite.Enabled:
		return &SQLiteStore{Settings: settings}
	case settings.JobStore.MySQL.Enabled:
		return &MySQLStore{Settings: settings}
	default:
		return nil
	}
}

// performAutoMigration migrates the schema for both models.
func performAutoMigration(db *gorm.DB, debug bool, dbType, connectionInfo string) error {
	if err := db.AutoMigrate(&Job{}, &Chunk{}); err != nil {
		return err
	}
	if debug {
		logging.Debug("Database schema migrated", "db_type", dbType, "connection", connectionInfo)
	}
	return nil
}
