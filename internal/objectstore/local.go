package objectstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore stores objects on the local filesystem. Bodies live under
// <root>/data/<key>; metadata lives in a JSON sidecar under <root>/meta/<key>.json.
type LocalStore struct {
	root string
}

type localSidecar struct {
	ContentType string            `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// NewLocalStore creates a local disk store rooted at basePath.
func NewLocalStore(basePath string) (*LocalStore, error) {
	for _, dir := range []string{"data", "meta"} {
		if err := os.MkdirAll(filepath.Join(basePath, dir), 0o755); err != nil {
			return nil, fmt.Errorf("create object directory: %w", err)
		}
	}
	return &LocalStore{root: basePath}, nil
}

func (s *LocalStore) paths(key string) (string, string, error) {
	clean := filepath.ToSlash(filepath.Clean("/" + key))
	if key == "" || strings.HasPrefix(key, "/") || clean != "/"+key {
		return "", "", &ValidationError{Field: "key", Message: fmt.Sprintf("invalid object key %q", key)}
	}
	rel := filepath.FromSlash(key)
	return filepath.Join(s.root, "data", rel), filepath.Join(s.root, "meta", rel+".json"), nil
}

func (s *LocalStore) Get(ctx context.Context, key string) (*StoredObject, error) {
	dataPath, metaPath, err := s.paths(key)
	if err != nil {
		return nil, err
	}
	body, err := os.ReadFile(dataPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read object: %w", err)
	}
	side, err := readSidecar(metaPath)
	if err != nil {
		return nil, err
	}
	return &StoredObject{
		Key:         key,
		Body:        body,
		ContentType: side.ContentType,
		Metadata:    cloneMetadata(side.Metadata),
	}, nil
}

func (s *LocalStore) Put(ctx context.Context, key string, body []byte, opts PutOptions) error {
	dataPath, metaPath, err := s.paths(key)
	if err != nil {
		return err
	}
	side, err := json.Marshal(localSidecar{ContentType: opts.ContentType, Metadata: opts.Metadata})
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	// Sidecar first: a reader that sees the new body also sees its metadata.
	if err := writeAtomic(metaPath, side); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	if err := writeAtomic(dataPath, body); err != nil {
		return fmt.Errorf("write object: %w", err)
	}
	return nil
}

func (s *LocalStore) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	dataPath, metaPath, err := s.paths(key)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(dataPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("stat object: %w", err)
	}
	side, err := readSidecar(metaPath)
	if err != nil {
		return nil, err
	}
	return &ObjectInfo{
		Key:         key,
		Size:        info.Size(),
		ContentType: side.ContentType,
		Metadata:    cloneMetadata(side.Metadata),
	}, nil
}

func (s *LocalStore) Delete(ctx context.Context, keys []string) (int, error) {
	deleted := 0
	for _, key := range keys {
		dataPath, metaPath, err := s.paths(key)
		if err != nil {
			continue
		}
		if err := os.Remove(dataPath); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return deleted, fmt.Errorf("delete object: %w", err)
		}
		os.Remove(metaPath) //nolint:errcheck
		deleted++
	}
	return deleted, nil
}

func (s *LocalStore) Close() error {
	return nil
}

func readSidecar(path string) (localSidecar, error) {
	var side localSidecar
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return side, nil
		}
		return side, fmt.Errorf("read metadata: %w", err)
	}
	if err := json.Unmarshal(data, &side); err != nil {
		return side, fmt.Errorf("decode metadata: %w", err)
	}
	return side, nil
}

// writeAtomic writes to a temp file in the target directory, then renames.
func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath) //nolint:errcheck
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath) //nolint:errcheck
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath) //nolint:errcheck
		return err
	}
	return nil
}
