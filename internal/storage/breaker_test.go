package storage

import (
	"fmt"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquasense/probelink/internal/model"
)

// flakyStore fails every operation until healed.
type flakyStore struct {
	healthy  bool
	notFound bool
}

func (f *flakyStore) err() error {
	if f.notFound {
		return fmt.Errorf("%w: gone", ErrNotFound)
	}
	return fmt.Errorf("%w: disk on fire", ErrStorageFailure)
}

func (f *flakyStore) Save(batch model.SessionBatch) (string, error) {
	if f.healthy {
		return batch.ID, nil
	}
	return "", f.err()
}

func (f *flakyStore) Load(name string) (model.SessionBatch, error) {
	if f.healthy {
		return testBatch(name), nil
	}
	return model.SessionBatch{}, f.err()
}

func (f *flakyStore) List() ([]ArtifactInfo, error) {
	if f.healthy {
		return []ArtifactInfo{}, nil
	}
	return nil, f.err()
}

func (f *flakyStore) Delete(name string) error {
	if f.healthy {
		return nil
	}
	return f.err()
}

func TestBreakerPassesThrough(t *testing.T) {
	store := NewBreakerStore(&flakyStore{healthy: true})

	name, err := store.Save(testBatch("ok"))
	require.NoError(t, err)
	assert.Equal(t, "ok", name)

	_, err = store.Load("ok")
	assert.NoError(t, err)
	assert.NoError(t, store.Delete("ok"))
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	inner := &flakyStore{}
	store := NewBreakerStore(inner)

	for i := 0; i < 5; i++ {
		_, err := store.Save(testBatch("x"))
		assert.ErrorIs(t, err, ErrStorageFailure)
	}

	// Tripped: the inner store is no longer consulted.
	_, err := store.Save(testBatch("x"))
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestBreakerIgnoresNotFound(t *testing.T) {
	inner := &flakyStore{notFound: true}
	store := NewBreakerStore(inner)

	// Missing artifacts never trip the breaker, however many in a row.
	for i := 0; i < 10; i++ {
		_, err := store.Load("missing")
		assert.ErrorIs(t, err, ErrNotFound)
	}

	inner.healthy = true
	_, err := store.Load("found")
	assert.NoError(t, err)
}
