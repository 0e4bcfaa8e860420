package objectstore

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hyescribe/hyescribe/internal/errors"
)

// DiskStore keeps blobs on the local filesystem under a base directory.
// Keys map directly to relative paths.
type DiskStore struct {
	basePath string
}

// NewDiskStore creates the base directory if needed.
func NewDiskStore(basePath string) (*DiskStore, error) {
	if err := os.MkdirAll(basePath, 0o750); err != nil {
		return nil, errors.New(err).
			Component("objectstore").
			Category(errors.CategoryStorage).
			Context("operation", "create-base-dir").
			Build()
	}
	return &DiskStore{basePath: basePath}, nil
}

// resolve maps a key to an absolute path, refusing traversal outside the base.
func (d *DiskStore) resolve(key string) (string, error) {
	full := filepath.Join(d.basePath, filepath.FromSlash(key))
	clean := filepath.Clean(full)
	base := filepath.Clean(d.basePath)
	if clean != base && !strings.HasPrefix(clean, base+string(filepath.Separator)) {
		return "", errors.Newf("key %q escapes the store base path", key).
			Component("objectstore").
			Category(errors.CategoryValidation).
			Build()
	}
	return clean, nil
}

func (d *DiskStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := d.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return storageErr(err, "put", key)
	}
	// Write to a temp file first so readers never see partial objects.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return storageErr(err, "put", key)
	}
	if err := os.Rename(tmp, path); err != nil {
		return storageErr(err, "put", key)
	}
	return nil
}

func (d *DiskStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := d.resolve(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrObjectNotFound
		}
		return nil, storageErr(err, "get", key)
	}
	return data, nil
}

func (d *DiskStore) GetToFile(ctx context.Context, key, localPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := d.resolve(key)
	if err != nil {
		return err
	}
	src, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrObjectNotFound
		}
		return storageErr(err, "get-to-file", key)
	}
	defer src.Close() //nolint:errcheck // read-only file

	dst, err := os.Create(localPath)
	if err != nil {
		return storageErr(err, "get-to-file", key)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return storageErr(err, "get-to-file", key)
	}
	return dst.Close()
}

// DeleteMany removes the given keys; missing keys are skipped.
func (d *DiskStore) DeleteMany(ctx context.Context, keys []string) error {
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		path, err := d.resolve(key)
		if err != nil {
			return err
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return storageErr(err, "delete", key)
		}
	}
	return nil
}

func (d *DiskStore) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var keys []string
	root := filepath.Clean(d.basePath)
	err := filepath.WalkDir(root, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if entry.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			return relErr
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) && !strings.HasSuffix(key, ".tmp") {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, storageErr(err, "list", prefix)
	}
	return keys, nil
}

func (d *DiskStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	path, err := d.resolve(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, storageErr(err, "exists", key)
	}
	return true, nil
}

// Presign returns a file URL; good enough for single-host deployments where
// the API process shares the filesystem.
func (d *DiskStore) Presign(key string, expiry time.Duration, method string) (string, error) {
	path, err := d.resolve(key)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("file://%s", filepath.ToSlash(path)), nil
}

func (d *DiskStore) Close() error { return nil }

func storageErr(err error, operation, key string) error {
	return errors.New(err).
		Component("objectstore").
		Category(errors.CategoryStorage).
		Context("operation", operation).
		Context("key", key).
		Build()
}
