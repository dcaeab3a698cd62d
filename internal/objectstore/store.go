// Package objectstore holds uploaded media and doubles as a memo for
// per-object derived text (image descriptions, audio transcripts).
//
// Every object carries a body plus a flat string metadata map. There is no
// metadata-only update: enriching an object means writing its full body again.
package objectstore

import (
	"context"
	"errors"
	"fmt"
)

// Metadata keys used for memoized derived text.
const (
	MetaDescription = "description"
	MetaTranscript  = "transcript"
)

var (
	// ErrNotFound is returned when no object exists at a key.
	ErrNotFound = errors.New("object not found")

	// ErrForbidden is matched by ForbiddenError.
	ErrForbidden = errors.New("forbidden")

	// ErrTooLarge is matched by a ValidationError raised for an oversized upload.
	ErrTooLarge = errors.New("size exceeded")
)

// StoredObject is an object body together with its metadata.
type StoredObject struct {
	Key         string
	Body        []byte
	ContentType string
	Metadata    map[string]string
}

// ObjectInfo describes an object without its body.
type ObjectInfo struct {
	Key         string
	Size        int64
	ContentType string
	Metadata    map[string]string
}

// PutOptions carries the attributes stored alongside a body.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// Store is a key/value store for blobs with metadata.
type Store interface {
	// Get returns body and metadata in a single call.
	Get(ctx context.Context, key string) (*StoredObject, error)
	// Put writes the full body and replaces all metadata.
	Put(ctx context.Context, key string, body []byte, opts PutOptions) error
	// Head returns metadata without transferring the body.
	Head(ctx context.Context, key string) (*ObjectInfo, error)
	// Delete removes the given keys and reports how many were removed.
	Delete(ctx context.Context, keys []string) (int, error)
	Close() error
}

// ForbiddenError is returned for keys outside the caller's namespace. It never
// says whether the object exists.
type ForbiddenError struct {
	Key string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("forbidden: key %q is outside the conversation namespace", e.Key)
}

func (e *ForbiddenError) Is(target error) bool {
	return target == ErrForbidden
}

// ValidationError reports malformed input rejected before any write.
type ValidationError struct {
	Field   string
	Message string
	Cause   error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Cause
}

// IsNotFound reports whether err means the object does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func cloneMetadata(in map[string]string) map[string]string {
	if in == nil {
		return map[string]string{}
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
