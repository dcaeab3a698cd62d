package objectstore

import (
	"context"
	"fmt"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	"gocloud.dev/gcerrors"
)

// BlobStore adapts a gocloud.dev portable bucket. The bucket is chosen by URL,
// e.g. "mem://" or "file:///var/lib/chatline/objects".
//
// The portable reader does not expose user metadata, so Get costs an
// attributes call plus a read.
type BlobStore struct {
	bucket *blob.Bucket
}

// OpenBlobStore opens the bucket at url.
func OpenBlobStore(ctx context.Context, url string) (*BlobStore, error) {
	bucket, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open bucket %q: %w", url, err)
	}
	return &BlobStore{bucket: bucket}, nil
}

// NewBlobStore wraps an already opened bucket.
func NewBlobStore(bucket *blob.Bucket) *BlobStore {
	return &BlobStore{bucket: bucket}
}

func (s *BlobStore) Get(ctx context.Context, key string) (*StoredObject, error) {
	attrs, err := s.bucket.Attributes(ctx, key)
	if err != nil {
		return nil, blobError("attributes", err)
	}
	body, err := s.bucket.ReadAll(ctx, key)
	if err != nil {
		return nil, blobError("read", err)
	}
	return &StoredObject{
		Key:         key,
		Body:        body,
		ContentType: attrs.ContentType,
		Metadata:    cloneMetadata(attrs.Metadata),
	}, nil
}

func (s *BlobStore) Put(ctx context.Context, key string, body []byte, opts PutOptions) error {
	err := s.bucket.WriteAll(ctx, key, body, &blob.WriterOptions{
		ContentType: opts.ContentType,
		Metadata:    opts.Metadata,
	})
	if err != nil {
		return blobError("write", err)
	}
	return nil
}

func (s *BlobStore) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	attrs, err := s.bucket.Attributes(ctx, key)
	if err != nil {
		return nil, blobError("attributes", err)
	}
	return &ObjectInfo{
		Key:         key,
		Size:        attrs.Size,
		ContentType: attrs.ContentType,
		Metadata:    cloneMetadata(attrs.Metadata),
	}, nil
}

func (s *BlobStore) Delete(ctx context.Context, keys []string) (int, error) {
	deleted := 0
	for _, key := range keys {
		if err := s.bucket.Delete(ctx, key); err != nil {
			if gcerrors.Code(err) == gcerrors.NotFound {
				continue
			}
			return deleted, blobError("delete", err)
		}
		deleted++
	}
	return deleted, nil
}

func (s *BlobStore) Close() error {
	return s.bucket.Close()
}

func blobError(op string, err error) error {
	if gcerrors.Code(err) == gcerrors.NotFound {
		return ErrNotFound
	}
	return fmt.Errorf("blob %s: %w", op, err)
}
