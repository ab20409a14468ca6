// Package objectstore publishes finished videos to a NATS JetStream object store.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/book-expert/avatar-service/internal/core"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const contentTypeHeader = "Content-Type"

var contentTypes = map[string]string{
	".mp4": "video/mp4",
	".wav": "audio/wav",
	".jpg": "image/jpeg",
}

// VideoStore implements core.ObjectStore on a JetStream object store bucket.
type VideoStore struct {
	bucket string
	store  nats.ObjectStore
}

// New binds to the bucket, creating it when it does not exist yet.
func New(jetstreamContext nats.JetStreamContext, bucket string) (*VideoStore, error) {
	store, err := jetstreamContext.ObjectStore(bucket)
	if errors.Is(err, nats.ErrStreamNotFound) || errors.Is(err, nats.ErrBucketNotFound) {
		store, err = jetstreamContext.CreateObjectStore(&nats.ObjectStoreConfig{
			Bucket:      bucket,
			Description: "Finished avatar videos keyed by file name.",
			Storage:     nats.FileStorage,
			Replicas:    1,
		})

		// Another replica may have created it between the two calls.
		if errors.Is(err, jetstream.ErrBucketExists) || errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			store, err = jetstreamContext.ObjectStore(bucket)
		}
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open object store bucket '%s': %w", bucket, err)
	}

	return &VideoStore{bucket: bucket, store: store}, nil
}

// Open returns a reader over the object stored under key. The object is read
// chunk by chunk as the caller consumes it.
func (v *VideoStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	obj, err := v.store.Get(key)
	if errors.Is(err, nats.ErrObjectNotFound) {
		return nil, fmt.Errorf("%w: '%s' in bucket '%s'", core.ErrObjectNotFound, key, v.bucket)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get object '%s' from bucket '%s': %w", key, v.bucket, err)
	}

	return obj, nil
}

// UploadFile streams the file at path into the bucket under key.
func (v *VideoStore) UploadFile(_ context.Context, key, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open '%s' for upload: %w", path, err)
	}
	defer file.Close()

	return v.put(key, file)
}

func (v *VideoStore) put(key string, reader io.Reader) error {
	meta := &nats.ObjectMeta{Name: key}

	if contentType, ok := contentTypes[filepath.Ext(key)]; ok {
		meta.Headers = nats.Header{}
		meta.Headers.Set(contentTypeHeader, contentType)
	}

	_, err := v.store.Put(meta, reader)
	if err != nil {
		return fmt.Errorf("failed to put object '%s' to bucket '%s': %w", key, v.bucket, err)
	}

	return nil
}
