package objectstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/hyescribe/hyescribe/internal/conf"
	"github.com/hyescribe/hyescribe/internal/errors"
)

// SFTPStore keeps blobs on a remote host over SFTP. A connection is opened
// per operation; the pipeline touches storage a handful of times per job so
// pooling is not worth the reconnect handling.
type SFTPStore struct {
	host     string
	port     string
	username string
	password string
	keyFile  string
	basePath string
	timeout  time.Duration
}

// NewSFTPStore validates the settings; the first connection happens lazily.
func NewSFTPStore(settings *conf.SFTPStoreSettings) (*SFTPStore, error) {
	if settings.Host == "" {
		return nil, errors.Newf("sftp: host is required").
			Component("objectstore").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if settings.Password == "" && settings.KeyFile == "" {
		return nil, errors.Newf("sftp: no authentication method provided").
			Component("objectstore").
			Category(errors.CategoryConfiguration).
			Build()
	}
	port := settings.Port
	if port == "" {
		port = "22"
	}
	return &SFTPStore{
		host:     settings.Host,
		port:     port,
		username: settings.Username,
		password: settings.Password,
		keyFile:  settings.KeyFile,
		basePath: strings.TrimRight(settings.BasePath, "/"),
		timeout:  30 * time.Second,
	}, nil
}

// connect establishes an SFTP session, honoring ctx cancellation.
func (s *SFTPStore) connect(ctx context.Context) (*sftp.Client, func(), error) {
	type connResult struct {
		client  *sftp.Client
		sshConn *ssh.Client
		err     error
	}
	resultChan := make(chan connResult, 1)

	go func() {
		config := &ssh.ClientConfig{
			User:            s.username,
			HostKeyCallback: ssh.InsecureIgnoreHostKey(), // Note: In production, use ssh.FixedHostKey() or ssh.KnownHosts()
			Timeout:         s.timeout,
		}

		switch {
		case s.keyFile != "":
			key, err := os.ReadFile(s.keyFile)
			if err != nil {
				resultChan <- connResult{err: fmt.Errorf("sftp: failed to read private key: %w", err)}
				return
			}
			signer, err := ssh.ParsePrivateKey(key)
			if err != nil {
				resultChan <- connResult{err: fmt.Errorf("sftp: failed to parse private key: %w", err)}
				return
			}
			config.Auth = []ssh.AuthMethod{ssh.PublicKeys(signer)}
		default:
			config.Auth = []ssh.AuthMethod{ssh.Password(s.password)}
		}

		addr := fmt.Sprintf("%s:%s", s.host, s.port)
		sshConn, err := ssh.Dial("tcp", addr, config)
		if err != nil {
			resultChan <- connResult{err: fmt.Errorf("sftp: failed to connect: %w", err)}
			return
		}

		client, err := sftp.NewClient(sshConn)
		if err != nil {
			sshConn.Close()
			resultChan <- connResult{err: fmt.Errorf("sftp: failed to create client: %w", err)}
			return
		}

		resultChan <- connResult{client: client, sshConn: sshConn}
	}()

	select {
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	case result := <-resultChan:
		if result.err != nil {
			return nil, nil, storageErr(result.err, "connect", s.host)
		}
		closer := func() {
			_ = result.client.Close()
			_ = result.sshConn.Close()
		}
		return result.client, closer, nil
	}
}

func (s *SFTPStore) remotePath(key string) string {
	if s.basePath == "" {
		return key
	}
	return path.Join(s.basePath, key)
}

func (s *SFTPStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	client, closer, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer closer()

	remote := s.remotePath(key)
	if err := client.MkdirAll(path.Dir(remote)); err != nil {
		return storageErr(err, "put", key)
	}
	f, err := client.Create(remote)
	if err != nil {
		return storageErr(err, "put", key)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return storageErr(err, "put", key)
	}
	if err := f.Close(); err != nil {
		return storageErr(err, "put", key)
	}
	return nil
}

func (s *SFTPStore) Get(ctx context.Context, key string) ([]byte, error) {
	client, closer, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer closer()

	f, err := client.Open(s.remotePath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrObjectNotFound
		}
		return nil, storageErr(err, "get", key)
	}
	defer f.Close() //nolint:errcheck // read-only file

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, storageErr(err, "get", key)
	}
	return data, nil
}

func (s *SFTPStore) GetToFile(ctx context.Context, key, localPath string) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := os.WriteFile(localPath, data, 0o640); err != nil {
		return storageErr(err, "get-to-file", key)
	}
	return nil
}

func (s *SFTPStore) DeleteMany(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	client, closer, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer closer()

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := client.Remove(s.remotePath(key)); err != nil && !os.IsNotExist(err) {
			return storageErr(err, "delete", key)
		}
	}
	return nil
}

func (s *SFTPStore) List(ctx context.Context, prefix string) ([]string, error) {
	client, closer, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer closer()

	root := s.remotePath(strings.TrimSuffix(prefix, "/"))
	walker := client.Walk(root)
	var keys []string
	for walker.Step() {
		if err := walker.Err(); err != nil {
			if os.IsNotExist(err) {
				return keys, nil
			}
			return nil, storageErr(err, "list", prefix)
		}
		if walker.Stat().IsDir() {
			continue
		}
		rel := strings.TrimPrefix(walker.Path(), s.basePath)
		keys = append(keys, strings.TrimPrefix(rel, "/"))
	}
	return keys, nil
}

func (s *SFTPStore) Exists(ctx context.Context, key string) (bool, error) {
	client, closer, err := s.connect(ctx)
	if err != nil {
		return false, err
	}
	defer closer()

	if _, err := client.Stat(s.remotePath(key)); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, storageErr(err, "exists", key)
	}
	return true, nil
}

func (s *SFTPStore) Presign(key string, expiry time.Duration, method string) (string, error) {
	return "", ErrPresignUnsupported
}

func (s *SFTPStore) Close() error { return nil }
