package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/aquasense/probelink/internal/model"
)

const artifactExt = ".json"

// FileStore keeps one JSON artifact per batch under a single directory.
// Writes go through a temp file plus rename so a crash never leaves a
// half-written artifact behind.
type FileStore struct {
	mu  sync.Mutex
	dir string
}

var _ Store = (*FileStore)(nil)

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Save(batch model.SessionBatch) (string, error) {
	if err := batch.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}

	name := sanitizeName(batch.ID)
	data, err := json.MarshalIndent(batch, "", "  ")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := filepath.Join(s.dir, name+artifactExt+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	if err := os.Rename(tmp, filepath.Join(s.dir, name+artifactExt)); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return name, nil
}

func (s *FileStore) Load(name string) (model.SessionBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(s.dir, sanitizeName(name)+artifactExt))
	if err != nil {
		if os.IsNotExist(err) {
			return model.SessionBatch{}, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return model.SessionBatch{}, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	var batch model.SessionBatch
	if err := json.Unmarshal(data, &batch); err != nil {
		return model.SessionBatch{}, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return batch, nil
}

func (s *FileStore) List() ([]ArtifactInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	out := make([]ArtifactInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), artifactExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, ArtifactInfo{
			Name:    strings.TrimSuffix(e.Name(), artifactExt),
			SavedAt: info.ModTime(),
			Size:    info.Size(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SavedAt.After(out[j].SavedAt) })
	return out, nil
}

func (s *FileStore) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(filepath.Join(s.dir, sanitizeName(name)+artifactExt))
	if os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return nil
}

// sanitizeName keeps artifact names filesystem-safe.
func sanitizeName(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9',
			r == '_', r == '-', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
