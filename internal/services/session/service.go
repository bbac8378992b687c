// Package session assembles measurement sessions into persistable batches.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aquasense/probelink/internal/buffer"
	"github.com/aquasense/probelink/internal/metrics"
	"github.com/aquasense/probelink/internal/model"
	"github.com/aquasense/probelink/internal/storage"
)

var ErrNoReadings = errors.New("session: no readings captured")

// DeviceSource yields the device a batch should be attributed to.
type DeviceSource interface {
	Device() *model.Device
}

// Service snapshots the stream buffer into immutable session batches and
// hands them to the store. An optional Influx writer receives every live
// reading as a time-series point on the side.
type Service struct {
	store  storage.Store
	buf    *buffer.ReadingBuffer
	src    DeviceSource
	writer *InfluxWriter // nil when Influx is not configured
	log    *zap.Logger

	mu      sync.Mutex
	started time.Time
}

func NewService(store storage.Store, buf *buffer.ReadingBuffer, src DeviceSource, writer *InfluxWriter, log *zap.Logger) *Service {
	return &Service{
		store:   store,
		buf:     buf,
		src:     src,
		writer:  writer,
		log:     log.Named("session"),
		started: time.Now(),
	}
}

// Record forwards one live reading to the side-writer. Called from the
// streaming consumer; buffer insertion already happened upstream.
func (s *Service) Record(r model.Reading) {
	if s.writer != nil {
		s.writer.Write(r)
	}
}

// SaveCurrent freezes the buffered readings of the running session into a
// named batch and persists it. The buffer is drained atomically so readings
// that arrive while the store writes belong to the next session; on a failed
// save the drained readings are put back.
func (s *Service) SaveCurrent(meta model.SessionMetadata) (string, error) {
	dev := s.src.Device()
	if dev == nil {
		return "", errors.New("session: no connected device")
	}

	readings := s.buf.DrainAll()
	if len(readings) == 0 {
		return "", ErrNoReadings
	}

	s.mu.Lock()
	start := s.started
	s.mu.Unlock()

	batch := model.SessionBatch{
		ID:        fmt.Sprintf("session-%s", uuid.NewString()),
		Device:    *dev,
		StartTime: start,
		EndTime:   time.Now(),
		Readings:  readings,
		Metadata:  meta,
	}
	if err := batch.Validate(); err != nil {
		s.buf.Requeue(readings)
		return "", err
	}

	name, err := s.store.Save(batch)
	if err != nil {
		s.buf.Requeue(readings)
		return "", err
	}
	metrics.SessionsSaved.Inc()
	s.log.Info("session saved",
		zap.String("artifact", name),
		zap.Int("readings", len(readings)),
		zap.String("device", dev.ID))

	s.mu.Lock()
	s.started = time.Now()
	s.mu.Unlock()
	return name, nil
}

func (s *Service) Load(name string) (model.SessionBatch, error) {
	return s.store.Load(name)
}

func (s *Service) List() ([]storage.ArtifactInfo, error) {
	return s.store.List()
}

func (s *Service) Delete(name string) error {
	return s.store.Delete(name)
}
