package objectstore

import (
	"context"
)

// Scoped restricts a Store to one conversation's namespace. Keys outside the
// namespace are refused before the underlying store is touched.
type Scoped struct {
	store          Store
	conversationID string
}

// NewScoped binds store to conversationID.
func NewScoped(store Store, conversationID string) (*Scoped, error) {
	if !ValidConversationID(conversationID) {
		return nil, &ValidationError{Field: "conversation_id", Message: "invalid conversation id"}
	}
	return &Scoped{store: store, conversationID: conversationID}, nil
}

// ConversationID returns the bound conversation.
func (s *Scoped) ConversationID() string {
	return s.conversationID
}

// Prefix returns the namespace prefix.
func (s *Scoped) Prefix() string {
	return NamespacePrefix(s.conversationID)
}

// Resolve maps a file part URL to a key in this namespace.
func (s *Scoped) Resolve(rawURL string) (string, bool) {
	return KeyFromURL(s.conversationID, rawURL)
}

func (s *Scoped) check(key string) error {
	if !InNamespace(s.conversationID, key) {
		return &ForbiddenError{Key: key}
	}
	return nil
}

func (s *Scoped) Get(ctx context.Context, key string) (*StoredObject, error) {
	if err := s.check(key); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, key)
}

func (s *Scoped) Put(ctx context.Context, key string, body []byte, opts PutOptions) error {
	if err := s.check(key); err != nil {
		return err
	}
	return s.store.Put(ctx, key, body, opts)
}

func (s *Scoped) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	if err := s.check(key); err != nil {
		return nil, err
	}
	return s.store.Head(ctx, key)
}

// Delete silently drops keys outside the namespace.
func (s *Scoped) Delete(ctx context.Context, keys []string) (int, error) {
	owned := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if s.check(key) != nil {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		owned = append(owned, key)
	}
	if len(owned) == 0 {
		return 0, nil
	}
	return s.store.Delete(ctx, owned)
}

// Close is a no-op; the underlying store is shared.
func (s *Scoped) Close() error {
	return nil
}
