package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/facebench/internal/types"
)

// FileStore persists each ClipResult as a blob under <root>/<clip>_output/<clip>_<model>_output.
type FileStore struct {
	root string
}

// NewFileStore returns a store rooted at the output directory.
func NewFileStore(root string) *FileStore {
	return &FileStore{root: root}
}

// ClipDir is the per-clip output directory (also used for annotated videos).
func (s *FileStore) ClipDir(clip string) string {
	return filepath.Join(s.root, clip+"_output")
}

func (s *FileStore) path(clip, model string) string {
	return filepath.Join(s.ClipDir(clip), clip+"_"+model+"_output")
}

func (s *FileStore) SaveResult(ctx context.Context, clip, model string, r types.ClipResult) error {
	if err := os.MkdirAll(s.ClipDir(clip), 0755); err != nil {
		return fmt.Errorf("%w: %v", types.ErrPersistence, err)
	}

	// Temp file + rename: readers see either the old blob or the new one.
	path := s.path(clip, model)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, Encode(r), 0644); err != nil {
		return fmt.Errorf("%w: %v", types.ErrPersistence, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: %v", types.ErrPersistence, err)
	}
	return nil
}

func (s *FileStore) LoadResult(ctx context.Context, clip, model string) (types.ClipResult, error) {
	data, err := os.ReadFile(s.path(clip, model))
	if errors.Is(err, fs.ErrNotExist) {
		return types.ClipResult{}, fmt.Errorf("%w: no %s result for clip %s", ErrNoResult, model, clip)
	}
	if err != nil {
		return types.ClipResult{}, fmt.Errorf("%w: %v", types.ErrPersistence, err)
	}
	return Decode(data)
}

func (s *FileStore) HasResult(ctx context.Context, clip, model string) (bool, error) {
	_, err := os.Stat(s.path(clip, model))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", types.ErrPersistence, err)
	}
	return true, nil
}

// Reset removes every per-clip output directory.
func (s *FileStore) Reset(ctx context.Context) error {
	entries, err := os.ReadDir(s.root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrPersistence, err)
	}
	for _, e := range entries {
		if e.IsDir() && strings.HasSuffix(e.Name(), "_output") {
			if err := os.RemoveAll(filepath.Join(s.root, e.Name())); err != nil {
				return fmt.Errorf("%w: %v", types.ErrPersistence, err)
			}
		}
	}
	return nil
}

func (s *FileStore) Close(ctx context.Context) {}
