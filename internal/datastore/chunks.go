package datastore

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// CreateChunksBatch inserts all chunk rows for a job in one statement.
func (ds *DataStore) CreateChunksBatch(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := ds.DB.WithContext(ctx).Create(&chunks).Error; err != nil {
		return fmt.Errorf("creating %d chunks: %w", len(chunks), err)
	}
	return nil
}

// GetChunks returns the job's chunks in index order.
func (ds *DataStore) GetChunks(ctx context.Context, jobID string) ([]Chunk, error) {
	var chunks []Chunk
	err := ds.DB.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("chunk_index ASC").
		Find(&chunks).Error
	if err != nil {
		return nil, fmt.Errorf("loading chunks of job %s: %w", jobID, err)
	}
	return chunks, nil
}

// GetChunk loads one chunk by (job, index).
func (ds *DataStore) GetChunk(ctx context.Context, jobID string, index int) (*Chunk, error) {
	var chunk Chunk
	err := ds.DB.WithContext(ctx).
		First(&chunk, "job_id = ? AND chunk_index = ?", jobID, index).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("loading chunk %d of job %s: %w", index, jobID, err)
	}
	return &chunk, nil
}

// MarkChunkProcessing transitions the chunk and bumps its attempt counter.
func (ds *DataStore) MarkChunkProcessing(ctx context.Context, jobID string, index int) error {
	result := ds.DB.WithContext(ctx).Model(&Chunk{}).
		Where("job_id = ? AND chunk_index = ?", jobID, index).
		Updates(map[string]any{
			"status":        ChunkStatusProcessing,
			"attempt_count": gorm.Expr("attempt_count + 1"),
		})
	if result.Error != nil {
		return fmt.Errorf("marking chunk %d of job %s processing: %w", index, jobID, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetChunkResult stores the provider result and completes the chunk.
func (ds *DataStore) SetChunkResult(ctx context.Context, jobID string, index int, resultJSON string) error {
	now := time.Now()
	result := ds.DB.WithContext(ctx).Model(&Chunk{}).
		Where("job_id = ? AND chunk_index = ?", jobID, index).
		Updates(map[string]any{
			"status":       ChunkStatusCompleted,
			"result":       resultJSON,
			"last_error":   "",
			"processed_at": &now,
		})
	if result.Error != nil {
		return fmt.Errorf("setting result of chunk %d of job %s: %w", index, jobID, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// FailChunk marks the chunk failed with the final error string.
func (ds *DataStore) FailChunk(ctx context.Context, jobID string, index int, lastError string) error {
	result := ds.DB.WithContext(ctx).Model(&Chunk{}).
		Where("job_id = ? AND chunk_index = ?", jobID, index).
		Updates(map[string]any{
			"status":     ChunkStatusFailed,
			"last_error": lastError,
		})
	if result.Error != nil {
		return fmt.Errorf("failing chunk %d of job %s: %w", index, jobID, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetFailedChunks returns failed chunks to pending for a job retry.
// Completed chunks are untouched. Returns the number of chunks reset.
func (ds *DataStore) ResetFailedChunks(ctx context.Context, jobID string) (int64, error) {
	result := ds.DB.WithContext(ctx).Model(&Chunk{}).
		Where("job_id = ? AND status = ?", jobID, ChunkStatusFailed).
		Updates(map[string]any{
			"status":     ChunkStatusPending,
			"last_error": "",
		})
	if result.Error != nil {
		return 0, fmt.Errorf("resetting failed chunks of job %s: %w", jobID, result.Error)
	}
	return result.RowsAffected, nil
}
