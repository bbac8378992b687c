package storage

import (
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/aquasense/probelink/internal/model"
)

// BreakerStore guards a Store with a circuit breaker so a misbehaving backing
// medium fails fast instead of stalling every save request.
type BreakerStore struct {
	inner Store
	cb    *gobreaker.CircuitBreaker
}

var _ Store = (*BreakerStore)(nil)

func NewBreakerStore(inner Store) *BreakerStore {
	return &BreakerStore{
		inner: inner,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:     "session-store",
			Timeout:  10 * time.Second,
			Interval: 60 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
			// A missing artifact is an answer, not a backing-medium fault.
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, ErrNotFound)
			},
		}),
	}
}

func (s *BreakerStore) Save(batch model.SessionBatch) (string, error) {
	name, err := s.cb.Execute(func() (interface{}, error) {
		return s.inner.Save(batch)
	})
	if err != nil {
		return "", err
	}
	return name.(string), nil
}

func (s *BreakerStore) Load(name string) (model.SessionBatch, error) {
	batch, err := s.cb.Execute(func() (interface{}, error) {
		return s.inner.Load(name)
	})
	if err != nil {
		return model.SessionBatch{}, err
	}
	return batch.(model.SessionBatch), nil
}

func (s *BreakerStore) List() ([]ArtifactInfo, error) {
	list, err := s.cb.Execute(func() (interface{}, error) {
		return s.inner.List()
	})
	if err != nil {
		return nil, err
	}
	return list.([]ArtifactInfo), nil
}

func (s *BreakerStore) Delete(name string) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.inner.Delete(name)
	})
	return err
}
