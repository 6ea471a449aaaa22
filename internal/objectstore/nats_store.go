// Package objectstore persists the worker's blobs in NATS JetStream object
// store buckets: script text on the way in, rendered audio on the way out.
// Each role gets its own bucket so retention can differ between the two.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// BlobStore is a core.ObjectStore bound to a single JetStream bucket.
type BlobStore struct {
	bucket string
	store  nats.ObjectStore
}

// New creates the named bucket, or binds to it when another instance already
// created it. The description tags the bucket's role for operators inspecting
// the stream.
func New(
	jetstreamContext nats.JetStreamContext,
	bucketName string,
	description string,
) (*BlobStore, error) {
	store, err := createOrBind(jetstreamContext, bucketName, description)
	if err != nil {
		return nil, err
	}

	return &BlobStore{bucket: bucketName, store: store}, nil
}

func createOrBind(
	jetstreamContext nats.JetStreamContext,
	bucketName string,
	description string,
) (nats.ObjectStore, error) {
	store, err := jetstreamContext.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucketName,
		Description: description,
		TTL:         0,
		MaxBytes:    0,
		Storage:     nats.FileStorage,
		Replicas:    1,
		Placement:   nil,
		Metadata:    nil,
		Compression: false,
	})
	if err == nil {
		return store, nil
	}

	if !errors.Is(err, jetstream.ErrBucketExists) {
		return nil, fmt.Errorf(
			"failed to create object store bucket '%s': %w", bucketName, err)
	}

	store, err = jetstreamContext.ObjectStore(bucketName)
	if err != nil {
		return nil, fmt.Errorf(
			"failed to bind to existing object store bucket '%s': %w", bucketName, err)
	}

	return store, nil
}

// Download fetches the blob stored under key.
func (b *BlobStore) Download(_ context.Context, key string) ([]byte, error) {
	object, err := b.store.Get(key)
	if err != nil {
		return nil, fmt.Errorf(
			"failed to download '%s' from bucket '%s': %w", key, b.bucket, err)
	}

	data, readErr := io.ReadAll(object)
	closeErr := object.Close()

	if readErr != nil {
		return nil, fmt.Errorf("failed to read blob '%s': %w", key, readErr)
	}

	if closeErr != nil {
		return data, fmt.Errorf("failed to close blob '%s': %w", key, closeErr)
	}

	return data, nil
}

// Upload stores data under key, replacing any previous version of the blob.
func (b *BlobStore) Upload(_ context.Context, key string, data []byte) error {
	_, err := b.store.Put(&nats.ObjectMeta{
		Name:        key,
		Description: "",
		Headers:     nil,
		Metadata:    nil,
		Opts:        nil,
	}, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf(
			"failed to upload '%s' to bucket '%s': %w", key, b.bucket, err)
	}

	return nil
}
