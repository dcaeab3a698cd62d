package server

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/haasonsaas/chatline/internal/objectstore"
)

// multipartOverhead is the allowance for boundaries and part headers on top
// of the upload limit.
const multipartOverhead = 64 << 10

// inlineTypes may be rendered by the browser; everything else is forced to
// download as an opaque attachment.
var inlineTypes = map[string]bool{
	"image/png":       true,
	"image/jpeg":      true,
	"image/gif":       true,
	"image/webp":      true,
	"image/svg+xml":   true,
	"audio/mpeg":      true,
	"audio/mp3":       true,
	"audio/wav":       true,
	"audio/x-wav":     true,
	"audio/wave":      true,
	"audio/ogg":       true,
	"audio/webm":      true,
	"audio/mp4":       true,
	"audio/x-m4a":     true,
	"application/pdf": true,
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("id")
	if !objectstore.ValidConversationID(conversationID) {
		s.writeError(w, r, &objectstore.ValidationError{Field: "conversation_id", Message: "invalid conversation id"})
		return
	}
	if !s.limiter.allow(conversationID) {
		w.Header().Set("Retry-After", "60")
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "upload rate limit exceeded"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.uploader.MaxBytes()+multipartOverhead)
	mr, err := r.MultipartReader()
	if err != nil {
		s.writeError(w, r, &objectstore.ValidationError{Field: "body", Message: "expected multipart/form-data", Cause: err})
		return
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			s.writeError(w, r, &objectstore.ValidationError{Field: "file", Message: "file is required"})
			return
		}
		if err != nil {
			s.writeError(w, r, &objectstore.ValidationError{Field: "body", Message: "malformed multipart body", Cause: err})
			return
		}
		if part.FormName() != "file" {
			part.Close()
			continue
		}

		res, err := s.uploader.Store(r.Context(), objectstore.Upload{
			ConversationID: conversationID,
			Filename:       part.FileName(),
			ContentType:    part.Header.Get("Content-Type"),
			Body:           part,
		})
		part.Close()
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.logger.InfoContext(r.Context(), "file uploaded",
			"conversation_id", conversationID,
			"object_key", res.Key,
			"size", res.Size,
			"content_type", res.ContentType,
		)
		writeJSON(w, http.StatusCreated, res)
		return
	}
}

// handleFile serves an object, or its derived text when the path ends in
// /meta. Upload keys always have four segments, so a fifth "meta" segment is
// never part of a key.
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if base, ok := strings.CutSuffix(key, "/meta"); ok && strings.Count(key, "/") == 4 {
		s.handleFileMeta(w, r, base)
		return
	}

	scoped, err := objectstore.NewScoped(s.objects, r.URL.Query().Get("conversation"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	obj, err := scoped.Get(r.Context(), key)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	h := w.Header()
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Cache-Control", "private, max-age=3600")
	h.Set("Content-Length", strconv.Itoa(len(obj.Body)))

	contentType, _, _ := mime.ParseMediaType(obj.ContentType)
	if inlineTypes[contentType] {
		h.Set("Content-Type", obj.ContentType)
		h.Set("Content-Disposition", "inline")
		if contentType == "image/svg+xml" {
			h.Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'; sandbox")
		}
	} else {
		h.Set("Content-Type", "application/octet-stream")
		h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
			"filename": objectstore.SanitizeFilename(path.Base(key)),
		}))
	}
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write(obj.Body)
	}
}

type fileMeta struct {
	Key         string `json:"key"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
	Description string `json:"description,omitempty"`
	Transcript  string `json:"transcript,omitempty"`
}

func (s *Server) handleFileMeta(w http.ResponseWriter, r *http.Request, key string) {
	scoped, err := objectstore.NewScoped(s.objects, r.URL.Query().Get("conversation"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	info, err := scoped.Head(r.Context(), key)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("X-Content-Type-Options", "nosniff")
	writeJSON(w, http.StatusOK, fileMeta{
		Key:         info.Key,
		ContentType: info.ContentType,
		Size:        info.Size,
		Description: info.Metadata[objectstore.MetaDescription],
		Transcript:  info.Metadata[objectstore.MetaTranscript],
	})
}

type deleteRequest struct {
	Keys []string `json:"keys"`
}

func (s *Server) handleDeleteFiles(w http.ResponseWriter, r *http.Request) {
	scoped, err := objectstore.NewScoped(s.objects, r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req deleteRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	n, err := scoped.Delete(r.Context(), req.Keys)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.media != nil {
		owned := make([]string, 0, len(req.Keys))
		for _, key := range req.Keys {
			if objectstore.InNamespace(scoped.ConversationID(), key) {
				owned = append(owned, key)
			}
		}
		s.media.Forget(owned...)
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

// uploadLimiter hands out one token bucket per conversation.
type uploadLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*limiterEntry
	now      func() time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const (
	limiterIdle      = 10 * time.Minute
	limiterSweepSize = 1024
)

// newUploadLimiter allows perMinute uploads per conversation; zero or less
// disables limiting.
func newUploadLimiter(perMinute float64, burst int) *uploadLimiter {
	if perMinute <= 0 {
		return &uploadLimiter{limit: rate.Inf}
	}
	if burst <= 0 {
		burst = max(1, int(perMinute))
	}
	return &uploadLimiter{
		limit:    rate.Limit(perMinute / 60.0),
		burst:    burst,
		limiters: make(map[string]*limiterEntry),
		now:      time.Now,
	}
}

func (l *uploadLimiter) allow(conversationID string) bool {
	if l.limit == rate.Inf {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if len(l.limiters) >= limiterSweepSize {
		for id, e := range l.limiters {
			if now.Sub(e.lastSeen) > limiterIdle {
				delete(l.limiters, id)
			}
		}
	}
	e, ok := l.limiters[conversationID]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[conversationID] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}
