// Package storage persists session batches as opaque named artifacts. The
// only contract the rest of the system relies on is Load(Save(x)) == x.
package storage

import (
	"errors"
	"time"

	"github.com/aquasense/probelink/internal/model"
)

var (
	ErrStorageFailure = errors.New("storage: operation failed")
	ErrNotFound       = errors.New("storage: artifact not found")
)

// ArtifactInfo describes a saved batch without loading it.
type ArtifactInfo struct {
	Name     string    `json:"name"`
	SavedAt  time.Time `json:"saved_at"`
	Size     int64     `json:"size"`
	Readings int       `json:"readings,omitempty"`
}

type Store interface {
	Save(batch model.SessionBatch) (string, error)
	Load(name string) (model.SessionBatch, error)
	List() ([]ArtifactInfo, error)
	Delete(name string) error
}
