package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/mastermobile/callexport/internal/support/exception"
	"github.com/mastermobile/callexport/internal/support/logger"
)

// gcsBackend implements Backend over a Google Cloud Storage bucket.
// GCS object writes are atomic: an object only becomes visible when the
// writer is closed successfully.
type gcsBackend struct {
	client *gcs.Client
	bucket string
	prefix string
}

var _ Backend = (*gcsBackend)(nil)

// NewGCSBackend creates a GCS backend for the given bucket and key prefix.
// credentialsFile may be empty to use application default credentials.
func NewGCSBackend(ctx context.Context, bucket, prefix, credentialsFile string) (Backend, error) {
	if bucket == "" {
		return nil, exception.NewExportError(stageName, "gcs backend: bucket must be specified in configuration", nil, exception.KindFatal)
	}

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, exception.NewExportError(stageName, "gcs backend: failed to create client", err, exception.KindFatal)
	}

	return &gcsBackend{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}, nil
}

func (b *gcsBackend) objectName(key string) string {
	if b.prefix == "" {
		return key
	}
	return b.prefix + "/" + key
}

// Put streams the data into the object; the object becomes visible on Close.
func (b *gcsBackend) Put(ctx context.Context, key string, data io.Reader) error {
	w := b.client.Bucket(b.bucket).Object(b.objectName(key)).NewWriter(ctx)
	if _, err := io.Copy(w, data); err != nil {
		w.Close()
		return exception.NewExportError(stageName, fmt.Sprintf("failed to write object '%s'", key), err, exception.KindTransient).WithCode("STORAGE_UNAVAILABLE")
	}
	if err := w.Close(); err != nil {
		return exception.NewExportError(stageName, fmt.Sprintf("failed to publish object '%s'", key), err, exception.KindTransient).WithCode("STORAGE_UNAVAILABLE")
	}
	logger.Debugf("Stored object '%s' (gcs backend, bucket '%s').", key, b.bucket)
	return nil
}

// Get opens a reader over the object.
func (b *gcsBackend) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := b.client.Bucket(b.bucket).Object(b.objectName(key)).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, exception.NewExportError(stageName, fmt.Sprintf("object '%s' not found", key), err, exception.KindNotFound).WithCode("OBJECT_NOT_FOUND")
		}
		return nil, exception.NewExportError(stageName, fmt.Sprintf("failed to open object '%s'", key), err, exception.KindTransient).WithCode("STORAGE_UNAVAILABLE")
	}
	return r, nil
}

// List iterates objects under the prefix.
func (b *gcsBackend) List(ctx context.Context, prefix string, fn func(obj ObjectInfo) error) error {
	it := b.client.Bucket(b.bucket).Objects(ctx, &gcs.Query{Prefix: b.objectName(prefix)})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return exception.NewExportError(stageName, fmt.Sprintf("failed to list objects under '%s'", prefix), err, exception.KindTransient).WithCode("STORAGE_UNAVAILABLE")
		}

		key := attrs.Name
		if b.prefix != "" {
			key = strings.TrimPrefix(key, b.prefix+"/")
		}
		if err := fn(ObjectInfo{Key: key, Size: attrs.Size, Updated: attrs.Updated}); err != nil {
			return err
		}
	}
}

// Delete removes the object. A missing object is not an error.
func (b *gcsBackend) Delete(ctx context.Context, key string) error {
	err := b.client.Bucket(b.bucket).Object(b.objectName(key)).Delete(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			logger.Warnf("Attempted to delete non-existent object '%s' (gcs backend).", key)
			return nil
		}
		return exception.NewExportError(stageName, fmt.Sprintf("failed to delete object '%s'", key), err, exception.KindTransient).WithCode("STORAGE_UNAVAILABLE")
	}
	logger.Debugf("Deleted object '%s' (gcs backend, bucket '%s').", key, b.bucket)
	return nil
}

// Close releases the GCS client.
func (b *gcsBackend) Close() error {
	return b.client.Close()
}
