// Package checkpoint persists replay buffer contents so buffered
// transitions survive process restarts. Samples are written as
// tab-separated text (one transition per line) alongside a JSON progress
// manifest; both live in a local directory or a blob bucket.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// driver
	_ "gocloud.dev/blob/gcsblob"  // gs:// driver
	_ "gocloud.dev/blob/s3blob"   // s3:// driver
)

// ErrNoCheckpoint is returned when no checkpoint exists.
var ErrNoCheckpoint = errors.New("no checkpoint found")

// Store reads and writes named checkpoint objects.
type Store interface {
	// NewWriter creates the named object; Close commits it.
	NewWriter(ctx context.Context, name string) (io.WriteCloser, error)

	// NewReader opens the named object; ErrNoCheckpoint if absent.
	NewReader(ctx context.Context, name string) (io.ReadCloser, error)

	// Close releases backend resources.
	Close() error
}

// Config selects a checkpoint backend.
type Config struct {
	Backend string // "local" | "file" | "gs" | "s3"
	Dir     string // local directory for backend=local
	Bucket  string // bucket name for blob backends
	Prefix  string // key prefix inside the bucket
}

// NewStore creates a checkpoint store for the configuration.
func NewStore(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", "local":
		return newLocalStore(cfg.Dir)
	case "file":
		abs, err := filepath.Abs(cfg.Dir)
		if err != nil {
			return nil, fmt.Errorf("resolve checkpoint dir %s: %w", cfg.Dir, err)
		}
		if err := os.MkdirAll(abs, 0755); err != nil {
			return nil, fmt.Errorf("create checkpoint dir %s: %w", abs, err)
		}
		return newBlobStore(ctx, "file://"+abs, cfg.Prefix)
	case "gs":
		return newBlobStore(ctx, "gs://"+cfg.Bucket, cfg.Prefix)
	case "s3":
		return newBlobStore(ctx, "s3://"+cfg.Bucket, cfg.Prefix)
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Backend)
	}
}

// localStore keeps checkpoints as plain files with atomic temp+rename
// commits.
type localStore struct {
	dir string
}

func newLocalStore(dir string) (*localStore, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create checkpoint directory %s: %w", dir, err)
	}
	return &localStore{dir: dir}, nil
}

func (s *localStore) NewWriter(ctx context.Context, name string) (io.WriteCloser, error) {
	path := filepath.Join(s.dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create parent for %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file for %s: %w", path, err)
	}
	return &atomicFile{File: tmp, final: path}, nil
}

func (s *localStore) NewReader(ctx context.Context, name string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCheckpoint
		}
		return nil, fmt.Errorf("open checkpoint %s: %w", name, err)
	}
	return f, nil
}

func (s *localStore) Close() error {
	return nil
}

// atomicFile commits on Close by renaming over the final path.
type atomicFile struct {
	*os.File
	final string
}

func (f *atomicFile) Close() error {
	if err := f.File.Close(); err != nil {
		os.Remove(f.File.Name())
		return err
	}
	if err := os.Rename(f.File.Name(), f.final); err != nil {
		os.Remove(f.File.Name())
		return fmt.Errorf("rename checkpoint file: %w", err)
	}
	return nil
}

// blobStore keeps checkpoints in a gocloud blob bucket.
type blobStore struct {
	bucket *blob.Bucket
	prefix string
}

func newBlobStore(ctx context.Context, url, prefix string) (*blobStore, error) {
	bucket, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", url, err)
	}
	return &blobStore{bucket: bucket, prefix: prefix}, nil
}

func (s *blobStore) NewWriter(ctx context.Context, name string) (io.WriteCloser, error) {
	w, err := s.bucket.NewWriter(ctx, s.prefix+name, nil)
	if err != nil {
		return nil, fmt.Errorf("create writer for %s: %w", name, err)
	}
	return w, nil
}

func (s *blobStore) NewReader(ctx context.Context, name string) (io.ReadCloser, error) {
	key := s.prefix + name
	exists, err := s.bucket.Exists(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", key, err)
	}
	if !exists {
		return nil, ErrNoCheckpoint
	}
	r, err := s.bucket.NewReader(ctx, key, nil)
	if err != nil {
		return nil, fmt.Errorf("open reader for %s: %w", key, err)
	}
	return r, nil
}

func (s *blobStore) Close() error {
	return s.bucket.Close()
}
