// Package objectstore holds job blobs: the uploaded original, optional chunk
// artifacts, and the merged transcript. Backends: local disk (default),
// SFTP, FTP.
package objectstore

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/hyescribe/hyescribe/internal/conf"
	"github.com/hyescribe/hyescribe/internal/errors"
)

// ErrPresignUnsupported is returned by backends that cannot mint URLs.
var ErrPresignUnsupported = errors.NewStd("objectstore: presigned URLs not supported by this backend")

// ErrObjectNotFound is returned when a key does not exist.
var ErrObjectNotFound = errors.NewStd("objectstore: object not found")

// Store is the blob contract the pipeline consumes. Keys are
// forward-slash-separated regardless of backend.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	GetToFile(ctx context.Context, key, localPath string) error
	DeleteMany(ctx context.Context, keys []string) error
	List(ctx context.Context, prefix string) ([]string, error)
	Exists(ctx context.Context, key string) (bool, error)
	Presign(key string, expiry time.Duration, method string) (string, error)
	Close() error
}

// New creates the configured backend.
func New(settings *conf.Settings) (Store, error) {
	switch settings.ObjectStore.Backend {
	case "disk":
		return NewDiskStore(settings.ObjectStore.Disk.Path)
	case "sftp":
		return NewSFTPStore(&settings.ObjectStore.SFTP)
	case "ftp":
		return NewFTPStore(&settings.ObjectStore.FTP)
	default:
		return nil, errors.Newf("unknown object store backend %q", settings.ObjectStore.Backend).
			Component("objectstore").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

// Key layout used by every backend.

// JobKey is the object key for a job's uploaded original.
func JobKey(jobID, filename string) string {
	return path.Join("jobs", jobID, "original", filename)
}

// ChunkKey is the object key for an archived chunk artifact.
func ChunkKey(jobID string, index int) string {
	return path.Join("jobs", jobID, "chunks", fmt.Sprintf("chunk_%04d.wav", index))
}

// ResultKey is the object key for the merged transcript document.
func ResultKey(jobID string) string {
	return path.Join("jobs", jobID, "result", "transcript.json")
}

// JobPrefix is the key prefix covering every object of a job.
func JobPrefix(jobID string) string {
	return path.Join("jobs", jobID) + "/"
}

// PutJSON marshals v and stores it under key with a JSON content type.
func PutJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.New(err).
			Component("objectstore").
			Category(errors.CategoryStorage).
			Context("operation", "put-json").
			Build()
	}
	return s.Put(ctx, key, data, "application/json")
}

// GetJSON fetches key and unmarshals it into v.
func GetJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.New(err).
			Component("objectstore").
			Category(errors.CategoryStorage).
			Context("operation", "get-json").
			Build()
	}
	return nil
}
