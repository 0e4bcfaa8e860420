package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/hyescribe/hyescribe/internal/conf"
	"github.com/hyescribe/hyescribe/internal/errors"
)

// FTPStore keeps blobs on a plain FTP server. Like the SFTP backend it
// dials per operation.
type FTPStore struct {
	host     string
	port     string
	username string
	password string
	basePath string
	timeout  time.Duration
}

// NewFTPStore validates the settings; connections happen lazily.
func NewFTPStore(settings *conf.FTPStoreSettings) (*FTPStore, error) {
	if settings.Host == "" {
		return nil, errors.Newf("ftp: host is required").
			Component("objectstore").
			Category(errors.CategoryConfiguration).
			Build()
	}
	port := settings.Port
	if port == "" {
		port = "21"
	}
	return &FTPStore{
		host:     settings.Host,
		port:     port,
		username: settings.Username,
		password: settings.Password,
		basePath: strings.TrimRight(settings.BasePath, "/"),
		timeout:  30 * time.Second,
	}, nil
}

func (f *FTPStore) connect(ctx context.Context) (*ftp.ServerConn, error) {
	addr := fmt.Sprintf("%s:%s", f.host, f.port)
	conn, err := ftp.Dial(addr, ftp.DialWithTimeout(f.timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, storageErr(err, "connect", f.host)
	}
	if f.username != "" {
		if err := conn.Login(f.username, f.password); err != nil {
			_ = conn.Quit()
			return nil, storageErr(err, "login", f.host)
		}
	}
	return conn, nil
}

func (f *FTPStore) remotePath(key string) string {
	if f.basePath == "" {
		return key
	}
	return path.Join(f.basePath, key)
}

// mkdirAll creates the remote directory tree one level at a time; FTP has
// no recursive MakeDir.
func mkdirAll(conn *ftp.ServerConn, dir string) {
	parts := strings.Split(dir, "/")
	build := ""
	for _, part := range parts {
		if part == "" {
			continue
		}
		if build == "" {
			build = part
		} else {
			build = build + "/" + part
		}
		// MakeDir fails when the directory exists; that is fine.
		_ = conn.MakeDir(build)
	}
}

func (f *FTPStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	conn, err := f.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Quit() //nolint:errcheck // best-effort close

	remote := f.remotePath(key)
	mkdirAll(conn, path.Dir(remote))

	// Upload under a temp name then rename so readers never see partials.
	tempName := remote + ".tmp"
	if err := conn.Stor(tempName, bytes.NewReader(data)); err != nil {
		return storageErr(err, "put", key)
	}
	if err := conn.Rename(tempName, remote); err != nil {
		_ = conn.Delete(tempName)
		return storageErr(err, "put", key)
	}
	return nil
}

func (f *FTPStore) Get(ctx context.Context, key string) ([]byte, error) {
	conn, err := f.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Quit() //nolint:errcheck // best-effort close

	resp, err := conn.Retr(f.remotePath(key))
	if err != nil {
		if isFTPNotFound(err) {
			return nil, ErrObjectNotFound
		}
		return nil, storageErr(err, "get", key)
	}
	defer resp.Close() //nolint:errcheck // read-only stream

	data, err := io.ReadAll(resp)
	if err != nil {
		return nil, storageErr(err, "get", key)
	}
	return data, nil
}

func (f *FTPStore) GetToFile(ctx context.Context, key, localPath string) error {
	data, err := f.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := os.WriteFile(localPath, data, 0o640); err != nil {
		return storageErr(err, "get-to-file", key)
	}
	return nil
}

func (f *FTPStore) DeleteMany(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	conn, err := f.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Quit() //nolint:errcheck // best-effort close

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := conn.Delete(f.remotePath(key)); err != nil && !isFTPNotFound(err) {
			return storageErr(err, "delete", key)
		}
	}
	return nil
}

func (f *FTPStore) List(ctx context.Context, prefix string) ([]string, error) {
	conn, err := f.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Quit() //nolint:errcheck // best-effort close

	var keys []string
	var walk func(dir string) error
	walk = func(dir string) error {
		entries, err := conn.List(f.remotePath(dir))
		if err != nil {
			if isFTPNotFound(err) {
				return nil
			}
			return storageErr(err, "list", dir)
		}
		for _, entry := range entries {
			if entry.Name == "." || entry.Name == ".." {
				continue
			}
			child := path.Join(dir, entry.Name)
			if entry.Type == ftp.EntryTypeFolder {
				if err := walk(child); err != nil {
					return err
				}
				continue
			}
			if strings.HasPrefix(child, prefix) && !strings.HasSuffix(child, ".tmp") {
				keys = append(keys, child)
			}
		}
		return nil
	}

	root := strings.TrimSuffix(prefix, "/")
	if err := walk(root); err != nil {
		return nil, err
	}
	return keys, nil
}

func (f *FTPStore) Exists(ctx context.Context, key string) (bool, error) {
	conn, err := f.connect(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Quit() //nolint:errcheck // best-effort close

	if _, err := conn.FileSize(f.remotePath(key)); err != nil {
		if isFTPNotFound(err) {
			return false, nil
		}
		return false, storageErr(err, "exists", key)
	}
	return true, nil
}

func (f *FTPStore) Presign(key string, expiry time.Duration, method string) (string, error) {
	return "", ErrPresignUnsupported
}

func (f *FTPStore) Close() error { return nil }

// isFTPNotFound interprets 550-class replies as a missing object.
func isFTPNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "550") ||
		strings.Contains(strings.ToLower(msg), "no such file")
}
