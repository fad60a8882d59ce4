// Package firmware stores the current controller sketch and serves it to
// devices that run an older build.
package firmware

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"fleet-monitor/telematics/internal/config"
	"fleet-monitor/telematics/internal/log"
)

// Storage holds a single sketch blob. Stat and Open return an error matching
// fs.ErrNotExist when nothing was uploaded yet.
type Storage interface {
	Save(ctx context.Context, data []byte) error
	Open(ctx context.Context) (io.ReadCloser, error)
	Stat(ctx context.Context) (size int64, modified time.Time, err error)
}

// FSStorage keeps the sketch as a file in a directory.
type FSStorage struct {
	dir  string
	name string
}

func NewFSStorage(dir, name string) *FSStorage {
	return &FSStorage{dir: dir, name: name}
}

func (s *FSStorage) Path() string {
	return filepath.Join(s.dir, s.name)
}

// Save writes to a temporary file and renames it over the sketch so readers
// never see a partial blob.
func (s *FSStorage) Save(ctx context.Context, data []byte) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create sketch dir: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+s.name+"-*")
	if err != nil {
		return fmt.Errorf("create temp sketch: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write sketch: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close sketch: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.Path()); err != nil {
		return fmt.Errorf("replace sketch: %w", err)
	}
	return nil
}

func (s *FSStorage) Open(ctx context.Context) (io.ReadCloser, error) {
	return os.Open(s.Path())
}

func (s *FSStorage) Stat(ctx context.Context) (int64, time.Time, error) {
	info, err := os.Stat(s.Path())
	if err != nil {
		return 0, time.Time{}, err
	}
	return info.Size(), info.ModTime(), nil
}

// Watch calls onChange whenever the sketch file is replaced or removed outside
// the service. It returns when ctx is done.
func (s *FSStorage) Watch(ctx context.Context, onChange func(), logger log.Logger) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create sketch dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(s.dir); err != nil {
		return fmt.Errorf("watch %s: %w", s.dir, err)
	}
	logger.Info("watching sketch directory", "dir", s.dir)

	for {
		select {
		case <-ctx.Done():
			return nil

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error(err, "sketch watcher error")

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != s.name {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				logger.Debug("sketch changed", "op", ev.Op.String())
				onChange()
			}
		}
	}
}

// S3Storage keeps the sketch as one object in a bucket.
type S3Storage struct {
	client *minio.Client
	bucket string
	object string
}

func NewS3Storage(opts *config.S3Options, object string) (*S3Storage, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return &S3Storage{client: client, bucket: opts.BucketName, object: object}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *S3Storage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

func (s *S3Storage) Save(ctx context.Context, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.object, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return fmt.Errorf("put sketch: %w", err)
	}
	return nil
}

func (s *S3Storage) Open(ctx context.Context) (io.ReadCloser, error) {
	// Stat first: GetObject only reports a missing key on the first read.
	if _, _, err := s.Stat(ctx); err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, s.object, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get sketch: %w", err)
	}
	return obj, nil
}

func (s *S3Storage) Stat(ctx context.Context) (int64, time.Time, error) {
	info, err := s.client.StatObject(ctx, s.bucket, s.object, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return 0, time.Time{}, fmt.Errorf("sketch %s: %w", s.object, fs.ErrNotExist)
		}
		return 0, time.Time{}, fmt.Errorf("stat sketch: %w", err)
	}
	return info.Size, info.LastModified, nil
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
