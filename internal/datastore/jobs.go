package datastore

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// CreateJob inserts a new job row.
func (ds *DataStore) CreateJob(ctx context.Context, job *Job) error {
	if err := ds.DB.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("creating job: %w", err)
	}
	return nil
}

// GetJob loads a job by ID, optionally with its chunks in index order.
func (ds *DataStore) GetJob(ctx context.Context, jobID string, includeChunks bool) (*Job, error) {
	var job Job
	query := ds.DB.WithContext(ctx)
	if includeChunks {
		query = query.Preload("Chunks", func(db *gorm.DB) *gorm.DB {
			return db.Order("chunk_index ASC")
		})
	}
	if err := query.First(&job, "id = ?", jobID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("loading job %s: %w", jobID, err)
	}
	return &job, nil
}

// ListJobs returns jobs newest first, optionally filtered by status, plus the
// total count for the filter.
func (ds *DataStore) ListJobs(ctx context.Context, status string, limit, offset int) ([]Job, int64, error) {
	query := ds.DB.WithContext(ctx).Model(&Job{})
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting jobs: %w", err)
	}

	var jobs []Job
	if err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&jobs).Error; err != nil {
		return nil, 0, fmt.Errorf("listing jobs: %w", err)
	}
	return jobs, total, nil
}

// UpdateJobStatus transitions the job and records the error fields on
// failure. A transition with empty error fields clears any previous error,
// so a retried job does not keep showing the failure it recovered from.
// completed_at is stamped when the job reaches completed.
func (ds *DataStore) UpdateJobStatus(ctx context.Context, jobID, status, errorMessage, errorCode string) error {
	updates := map[string]any{
		"status":        status,
		"error_message": errorMessage,
		"error_code":    errorCode,
	}
	if status == JobStatusCompleted {
		now := time.Now()
		updates["completed_at"] = &now
	}

	result := ds.DB.WithContext(ctx).Model(&Job{}).Where("id = ?", jobID).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("updating job %s status: %w", jobID, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateFileInfo records the probed source media attributes and the object
// key of the stored original.
func (ds *DataStore) UpdateFileInfo(ctx context.Context, jobID, filename string, sizeBytes int64, duration float64, format, originalKey string) error {
	result := ds.DB.WithContext(ctx).Model(&Job{}).Where("id = ?", jobID).Updates(map[string]any{
		"original_filename": filename,
		"file_size_bytes":   sizeBytes,
		"duration_seconds":  duration,
		"audio_format":      format,
		"original_key":      originalKey,
	})
	if result.Error != nil {
		return fmt.Errorf("updating job %s file info: %w", jobID, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetTotalChunks is set once, when the chunker first runs for a job.
func (ds *DataStore) SetTotalChunks(ctx context.Context, jobID string, total int) error {
	result := ds.DB.WithContext(ctx).Model(&Job{}).Where("id = ?", jobID).
		Update("total_chunks", total)
	if result.Error != nil {
		return fmt.Errorf("setting job %s total chunks: %w", jobID, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementCompletedChunks bumps the monotonic progress counter atomically.
func (ds *DataStore) IncrementCompletedChunks(ctx context.Context, jobID string) error {
	result := ds.DB.WithContext(ctx).Model(&Job{}).Where("id = ?", jobID).
		Update("completed_chunks", gorm.Expr("completed_chunks + 1"))
	if result.Error != nil {
		return fmt.Errorf("incrementing job %s completed chunks: %w", jobID, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetJobResult stores the merged-result object key and the inline summary.
func (ds *DataStore) SetJobResult(ctx context.Context, jobID, resultKey, inlineResult string) error {
	result := ds.DB.WithContext(ctx).Model(&Job{}).Where("id = ?", jobID).Updates(map[string]any{
		"result_key": resultKey,
		"result":     inlineResult,
	})
	if result.Error != nil {
		return fmt.Errorf("setting job %s result: %w", jobID, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkWebhookSent flags the at-most-once webhook delivery record.
func (ds *DataStore) MarkWebhookSent(ctx context.Context, jobID string) error {
	return ds.DB.WithContext(ctx).Model(&Job{}).Where("id = ?", jobID).
		Update("webhook_sent", true).Error
}

// DeleteJob removes the job and its chunks in one transaction. Idempotent:
// deleting a missing job is not an error.
func (ds *DataStore) DeleteJob(ctx context.Context, jobID string) error {
	return ds.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("job_id = ?", jobID).Delete(&Chunk{}).Error; err != nil {
			return fmt.Errorf("deleting chunks of job %s: %w", jobID, err)
		}
		if err := tx.Where("id = ?", jobID).Delete(&Job{}).Error; err != nil {
			return fmt.Errorf("deleting job %s: %w", jobID, err)
		}
		return nil
	})
}

// FailStaleJobs transitions in-flight jobs that have not been touched within
// staleFor to failed. Returns the number of jobs swept.
func (ds *DataStore) FailStaleJobs(ctx context.Context, staleFor time.Duration, message, code string) (int64, error) {
	cutoff := time.Now().Add(-staleFor)
	result := ds.DB.WithContext(ctx).Model(&Job{}).
		Where("status IN ?", []string{JobStatusProcessing, JobStatusUploaded}).
		Where("updated_at < ?", cutoff).
		Updates(map[string]any{
			"status":        JobStatusFailed,
			"error_message": message,
			"error_code":    code,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failing stale jobs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// GetExpiredJobs returns terminal jobs created before olderThan, capped at
// limit per sweep.
func (ds *DataStore) GetExpiredJobs(ctx context.Context, olderThan time.Time, limit int) ([]Job, error) {
	var jobs []Job
	err := ds.DB.WithContext(ctx).
		Where("status IN ?", []string{JobStatusCompleted, JobStatusFailed}).
		Where("created_at < ?", olderThan).
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("listing expired jobs: %w", err)
	}
	return jobs, nil
}
