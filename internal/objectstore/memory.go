package objectstore

import (
	"context"
	"sync"
)

// MemoryStore keeps objects in process memory. Bodies are copied on the way
// in and out so callers cannot alias stored data.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]*StoredObject
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]*StoredObject)}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (*StoredObject, error) {
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return &StoredObject{
		Key:         obj.Key,
		Body:        append([]byte(nil), obj.Body...),
		ContentType: obj.ContentType,
		Metadata:    cloneMetadata(obj.Metadata),
	}, nil
}

func (s *MemoryStore) Put(ctx context.Context, key string, body []byte, opts PutOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	obj := &StoredObject{
		Key:         key,
		Body:        append([]byte(nil), body...),
		ContentType: opts.ContentType,
		Metadata:    cloneMetadata(opts.Metadata),
	}
	s.mu.Lock()
	s.objects[key] = obj
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return &ObjectInfo{
		Key:         obj.Key,
		Size:        int64(len(obj.Body)),
		ContentType: obj.ContentType,
		Metadata:    cloneMetadata(obj.Metadata),
	}, nil
}

func (s *MemoryStore) Delete(ctx context.Context, keys []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for _, key := range keys {
		if _, ok := s.objects[key]; ok {
			delete(s.objects, key)
			deleted++
		}
	}
	return deleted, nil
}

// Len returns the number of stored objects.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

func (s *MemoryStore) Close() error {
	return nil
}
