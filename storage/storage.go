// Package storage resolves and reads source images and writes outputs on the
// local filesystem or on Google Cloud Storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	gcstorage "cloud.google.com/go/storage"
)

const gsScheme = "gs://"

// IsGCS reports whether name is a gs:// uri.
func IsGCS(name string) bool {
	return strings.HasPrefix(name, gsScheme)
}

// Parse splits a gs://bucket/object uri.
func Parse(uri string) (bucket, object string, err error) {
	if !IsGCS(uri) {
		return "", "", fmt.Errorf("%s is not a gs:// uri", uri)
	}
	rest := strings.TrimPrefix(uri, gsScheme)
	idx := strings.Index(rest, "/")
	if idx == -1 {
		return rest, "", nil
	}
	if idx == 0 {
		return "", "", fmt.Errorf("%s has no bucket", uri)
	}
	return rest[:idx], rest[idx+1:], nil
}

// Bucket is a root directory under which images are addressed by slash
// separated keys.
type Bucket interface {
	Exists(ctx context.Context, key string) (bool, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Name returns the full name of key, for logging and GDAL access.
	Name(key string) string
}

// NewBucket returns a Bucket rooted at root, which is either a local
// directory or a gs://bucket/prefix uri. stcl may be nil for local roots.
func NewBucket(root string, stcl *gcstorage.Client) (Bucket, error) {
	if !IsGCS(root) {
		return Local{Root: root}, nil
	}
	if stcl == nil {
		return nil, fmt.Errorf("no storage client for %s", root)
	}
	b, prefix, err := Parse(root)
	if err != nil {
		return nil, err
	}
	return &GCS{bkt: stcl.Bucket(b), bucket: b, prefix: strings.Trim(prefix, "/")}, nil
}

// Local is a Bucket backed by a local directory.
type Local struct {
	Root string
}

func (l Local) Name(key string) string {
	return filepath.Join(l.Root, filepath.FromSlash(key))
}

func (l Local) Exists(_ context.Context, key string) (bool, error) {
	st, err := os.Stat(l.Name(key))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return st.Mode().IsRegular(), nil
}

func (l Local) Open(_ context.Context, key string) (io.ReadCloser, error) {
	return os.Open(l.Name(key))
}

// GCS is a Bucket backed by a prefix of a cloud storage bucket.
type GCS struct {
	bkt    *gcstorage.BucketHandle
	bucket string
	prefix string
}

func (g *GCS) object(key string) string {
	if g.prefix == "" {
		return key
	}
	return path.Join(g.prefix, key)
}

func (g *GCS) Name(key string) string {
	return gsScheme + g.bucket + "/" + g.object(key)
}

func (g *GCS) Exists(ctx context.Context, key string) (bool, error) {
	_, err := g.bkt.Object(g.object(key)).Attrs(ctx)
	if errors.Is(err, gcstorage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("attrs %s: %w", g.Name(key), err)
	}
	return true, nil
}

func (g *GCS) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := g.bkt.Object(g.object(key)).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", g.Name(key), err)
	}
	return r, nil
}

// Output is a destination file that only becomes visible once committed.
type Output interface {
	io.Writer
	// Commit finalizes the output.
	Commit() error
	// Abort discards everything written so far.
	Abort()
}

// Create opens an output at dst, a local filename or a gs:// uri. Local
// outputs are written to a temporary file in the destination directory and
// renamed on Commit.
func Create(ctx context.Context, dst string, stcl *gcstorage.Client) (Output, error) {
	if IsGCS(dst) {
		if stcl == nil {
			return nil, fmt.Errorf("no storage client for %s", dst)
		}
		b, o, err := Parse(dst)
		if err != nil {
			return nil, err
		}
		if o == "" {
			return nil, fmt.Errorf("%s has no object name", dst)
		}
		ctx, cancel := context.WithCancel(ctx)
		return &gcsOutput{w: stcl.Bucket(b).Object(o).NewWriter(ctx), cancel: cancel}, nil
	}
	f, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+"-*")
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", dst, err)
	}
	return &localOutput{File: f, dst: dst}, nil
}

type localOutput struct {
	*os.File
	dst string
}

func (lo *localOutput) Commit() error {
	if err := lo.File.Close(); err != nil {
		os.Remove(lo.File.Name())
		return fmt.Errorf("close %s: %w", lo.dst, err)
	}
	if err := os.Rename(lo.File.Name(), lo.dst); err != nil {
		os.Remove(lo.File.Name())
		return fmt.Errorf("rename %s->%s: %w", lo.File.Name(), lo.dst, err)
	}
	return nil
}

func (lo *localOutput) Abort() {
	lo.File.Close()
	os.Remove(lo.File.Name())
}

type gcsOutput struct {
	w      *gcstorage.Writer
	cancel context.CancelFunc
}

func (g *gcsOutput) Write(p []byte) (int, error) {
	return g.w.Write(p)
}

func (g *gcsOutput) Commit() error {
	defer g.cancel()
	if err := g.w.Close(); err != nil {
		return fmt.Errorf("close gs://%s/%s: %w", g.w.Bucket, g.w.Name, err)
	}
	return nil
}

func (g *gcsOutput) Abort() {
	g.cancel()
	_ = g.w.Close()
}
