package objectstore

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"
)

// DefaultMaxUploadBytes is the default upload size limit (10 MiB).
const DefaultMaxUploadBytes int64 = 10 << 20

// Upload is a single file accepted from a client.
type Upload struct {
	ConversationID string
	Filename       string
	ContentType    string
	Body           io.Reader
}

// UploadResult describes a stored upload.
type UploadResult struct {
	Key         string `json:"key"`
	URL         string `json:"url"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
	Filename    string `json:"filename"`
}

// Uploader writes client uploads under their conversation namespace.
type Uploader struct {
	store    Store
	maxBytes int64
	now      func() time.Time
}

// NewUploader creates an uploader enforcing maxBytes (DefaultMaxUploadBytes when <= 0).
func NewUploader(store Store, maxBytes int64) *Uploader {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	return &Uploader{store: store, maxBytes: maxBytes, now: time.Now}
}

// MaxBytes returns the enforced limit.
func (u *Uploader) MaxBytes() int64 {
	return u.maxBytes
}

// Store validates and persists an upload. The body is buffered up to the
// limit; anything larger is rejected before a write happens.
func (u *Uploader) Store(ctx context.Context, up Upload) (*UploadResult, error) {
	if !ValidConversationID(up.ConversationID) {
		return nil, &ValidationError{Field: "conversation_id", Message: "invalid conversation id"}
	}
	if up.Body == nil {
		return nil, &ValidationError{Field: "file", Message: "file is required"}
	}

	body, err := io.ReadAll(io.LimitReader(up.Body, u.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(body)) > u.maxBytes {
		return nil, &ValidationError{
			Field:   "file",
			Message: fmt.Sprintf("file exceeds maximum size of %d bytes", u.maxBytes),
			Cause:   ErrTooLarge,
		}
	}

	key, err := NewUploadKey(up.ConversationID, up.Filename, u.now())
	if err != nil {
		return nil, err
	}
	contentType := detectContentType(up.ContentType, up.Filename, body)
	if err := u.store.Put(ctx, key, body, PutOptions{ContentType: contentType}); err != nil {
		return nil, err
	}

	return &UploadResult{
		Key:         key,
		URL:         FileURL(key),
		ContentType: contentType,
		Size:        int64(len(body)),
		Filename:    SanitizeFilename(up.Filename),
	}, nil
}

// detectContentType prefers the declared type, then the extension, then sniffing.
func detectContentType(declared, filename string, body []byte) string {
	if mt, _, err := mime.ParseMediaType(declared); err == nil && mt != "" && mt != "application/octet-stream" {
		return mt
	}
	if ext := strings.ToLower(filepath.Ext(filename)); ext != "" {
		if byExt := mime.TypeByExtension(ext); byExt != "" {
			if mt, _, err := mime.ParseMediaType(byExt); err == nil {
				return mt
			}
		}
	}
	sniffed := http.DetectContentType(body)
	if mt, _, err := mime.ParseMediaType(sniffed); err == nil {
		return mt
	}
	return "application/octet-stream"
}
