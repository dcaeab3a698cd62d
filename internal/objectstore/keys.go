package objectstore

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// UploadsRoot is the first segment of every upload key.
const UploadsRoot = "uploads"

// MaxFilenameLength bounds the sanitized filename segment of a key.
const MaxFilenameLength = 200

// FilesRoutePrefix is the URL path under which objects are served.
const FilesRoutePrefix = "/api/files/"

var (
	conversationIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)
	unsafeFilenameChars   = regexp.MustCompile(`[^A-Za-z0-9._-]`)
)

// ValidConversationID reports whether id is usable as a namespace segment.
func ValidConversationID(id string) bool {
	return conversationIDPattern.MatchString(id)
}

// NamespacePrefix returns the key prefix owned by a conversation.
func NamespacePrefix(conversationID string) string {
	return UploadsRoot + "/" + conversationID + "/"
}

// SanitizeFilename maps a client supplied name onto [A-Za-z0-9._-], collapses
// ".." runs and truncates the result.
func SanitizeFilename(name string) string {
	s := unsafeFilenameChars.ReplaceAllString(name, "_")
	for strings.Contains(s, "..") {
		s = strings.ReplaceAll(s, "..", ".")
	}
	if len(s) > MaxFilenameLength {
		s = s[:MaxFilenameLength]
	}
	if s == "" || s == "." {
		return "file"
	}
	return s
}

// NewUploadKey builds uploads/<conversation>/<millis>-<8 hex>/<filename>.
func NewUploadKey(conversationID, filename string, now time.Time) (string, error) {
	if !ValidConversationID(conversationID) {
		return "", &ValidationError{Field: "conversation_id", Message: "invalid conversation id"}
	}
	var suffix [4]byte
	if _, err := rand.Read(suffix[:]); err != nil {
		return "", fmt.Errorf("generate key suffix: %w", err)
	}
	return fmt.Sprintf("%s%d-%s/%s",
		NamespacePrefix(conversationID),
		now.UnixMilli(),
		hex.EncodeToString(suffix[:]),
		SanitizeFilename(filename),
	), nil
}

// InNamespace reports whether key lies strictly inside the conversation's
// prefix and contains no relative segments.
func InNamespace(conversationID, key string) bool {
	if !ValidConversationID(conversationID) {
		return false
	}
	prefix := NamespacePrefix(conversationID)
	if !strings.HasPrefix(key, prefix) || len(key) == len(prefix) {
		return false
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return false
		}
	}
	return true
}

// FileURL returns the serving URL for a key.
func FileURL(key string) string {
	return FilesRoutePrefix + key
}

// KeyFromURL maps a file part URL onto a key inside the conversation's
// namespace. It accepts absolute or relative serving URLs and bare keys.
func KeyFromURL(conversationID, rawURL string) (string, bool) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	if u.Scheme != "" && u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}

	p := u.Path
	var key string
	switch {
	case strings.Contains(p, FilesRoutePrefix):
		key = p[strings.Index(p, FilesRoutePrefix)+len(FilesRoutePrefix):]
	case u.Scheme == "" && u.Host == "" && strings.HasPrefix(strings.TrimPrefix(p, "/"), UploadsRoot+"/"):
		key = strings.TrimPrefix(p, "/")
	default:
		return "", false
	}

	if !InNamespace(conversationID, key) {
		return "", false
	}
	return key, true
}
