package kvstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Compile-time interface check.
var _ Store = (*FileStore)(nil)

// FileStore is a [Store] that keeps one file per key inside a directory.
// Keys are mangled into safe file names, so any printable key is accepted.
//
// Writes go through a temp-file-and-rename sequence so a crash mid-write never
// leaves a torn value behind.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates the directory (if needed) and returns a [FileStore]
// rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("kvstore: dir must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("kvstore: create dir %q: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

// Get implements [Store.Get].
func (s *FileStore) Get(ctx context.Context, key string) (string, error) {
	b, err := os.ReadFile(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("kvstore: read %q: %w", key, err)
	}
	return string(b), nil
}

// Set implements [Store.Set].
func (s *FileStore) Set(ctx context.Context, key string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dst := s.path(key)
	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, []byte(value), 0o644); err != nil {
		return fmt.Errorf("kvstore: write %q: %w", key, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		return fmt.Errorf("kvstore: commit %q: %w", key, err)
	}
	return nil
}

// Delete implements [Store.Delete].
func (s *FileStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("kvstore: delete %q: %w", key, err)
	}
	return nil
}

// path maps key to a file name under the store directory. Path separators and
// other filesystem-hostile runes are replaced so keys like "ltm:aria" and
// "session:state" map to distinct flat files.
func (s *FileStore) path(key string) string {
	mangled := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, key)
	return filepath.Join(s.dir, mangled+".json")
}
