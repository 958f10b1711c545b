package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileStore keeps assets on the local filesystem for development, served
// under publicBaseURL by the API server.
type FileStore struct {
	basePath      string
	publicBaseURL string
}

func NewFileStore(basePath, publicBaseURL string) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	return &FileStore{basePath: basePath, publicBaseURL: publicBaseURL}, nil
}

func (s *FileStore) BasePath() string {
	return s.basePath
}

func (s *FileStore) Upload(ctx context.Context, data []byte, contentType, prefix string) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("storage: no data to upload")
	}
	key, err := GenerateKey(prefix, contentType, time.Now())
	if err != nil {
		return nil, err
	}
	fullPath := filepath.Join(s.basePath, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure directory: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("storage: write file: %w", err)
	}
	return &Object{Key: key, URL: publicURL(s.publicBaseURL, key)}, nil
}

// Delete removes stored files. Missing files are not counted and are not an
// error.
func (s *FileStore) Delete(ctx context.Context, keys []string) (int, error) {
	deleted := 0
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		clean, err := sanitizeKey(key)
		if err != nil {
			return deleted, err
		}
		err = os.Remove(filepath.Join(s.basePath, filepath.FromSlash(clean)))
		switch {
		case err == nil:
			deleted++
		case errors.Is(err, os.ErrNotExist):
		default:
			return deleted, fmt.Errorf("storage: remove %s: %w", clean, err)
		}
	}
	return deleted, nil
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimLeft(strings.TrimPrefix(key, "./"), "/")
	cleaned := filepath.ToSlash(filepath.Clean(key))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("storage: invalid key")
	}
	return cleaned, nil
}
