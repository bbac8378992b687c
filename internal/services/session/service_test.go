package session

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aquasense/probelink/internal/buffer"
	"github.com/aquasense/probelink/internal/model"
	"github.com/aquasense/probelink/internal/storage"
)

type staticSource struct {
	dev *model.Device
}

func (s *staticSource) Device() *model.Device { return s.dev }

func validReading(ts int64) model.Reading {
	return model.Reading{
		Timestamp:   ts,
		DeviceID:    "probe-01",
		PH:          7.0,
		Temperature: 22.0,
		Moisture:    50.0,
	}
}

func newTestService(t *testing.T, src DeviceSource) (*Service, *buffer.ReadingBuffer, storage.Store) {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	buf := buffer.New(100)
	return NewService(store, buf, src, nil, zap.NewNop()), buf, store
}

func TestSaveCurrentRoundTrip(t *testing.T) {
	src := &staticSource{dev: &model.Device{ID: "probe-01", Address: "10.0.0.5:8899", Kind: model.TransportSocket}}
	svc, buf, _ := newTestService(t, src)

	for i := 0; i < 5; i++ {
		buf.Add(validReading(int64(1000 + i)))
	}

	meta := model.SessionMetadata{SampleLabel: "tap water", Notes: "first run"}
	name, err := svc.SaveCurrent(meta)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(name, "session-"))

	loaded, err := svc.Load(name)
	require.NoError(t, err)
	assert.Equal(t, meta, loaded.Metadata)
	assert.Equal(t, "probe-01", loaded.Device.ID)
	assert.Len(t, loaded.Readings, 5)
	assert.Equal(t, int64(1000), loaded.Readings[0].Timestamp)
	assert.False(t, loaded.EndTime.Before(loaded.StartTime))

	// Saving clears the buffer for the next session.
	assert.Zero(t, buf.Len())
}

func TestSaveCurrentNoDevice(t *testing.T) {
	svc, buf, _ := newTestService(t, &staticSource{})
	buf.Add(validReading(1))

	_, err := svc.SaveCurrent(model.SessionMetadata{})
	assert.Error(t, err)
}

func TestSaveCurrentEmptyBuffer(t *testing.T) {
	src := &staticSource{dev: &model.Device{ID: "probe-01", Address: "a:1", Kind: model.TransportSocket}}
	svc, _, _ := newTestService(t, src)

	_, err := svc.SaveCurrent(model.SessionMetadata{})
	assert.ErrorIs(t, err, ErrNoReadings)
}

func TestSuccessiveSessionsGetDistinctNames(t *testing.T) {
	src := &staticSource{dev: &model.Device{ID: "probe-01", Address: "a:1", Kind: model.TransportSocket}}
	svc, buf, _ := newTestService(t, src)

	buf.Add(validReading(1))
	first, err := svc.SaveCurrent(model.SessionMetadata{})
	require.NoError(t, err)

	buf.Add(validReading(2))
	second, err := svc.SaveCurrent(model.SessionMetadata{})
	require.NoError(t, err)

	assert.NotEqual(t, first, second)

	infos, err := svc.List()
	require.NoError(t, err)
	assert.Len(t, infos, 2)
}

func TestDeleteSession(t *testing.T) {
	src := &staticSource{dev: &model.Device{ID: "probe-01", Address: "a:1", Kind: model.TransportSocket}}
	svc, buf, _ := newTestService(t, src)

	buf.Add(validReading(1))
	name, err := svc.SaveCurrent(model.SessionMetadata{})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(name))
	_, err = svc.Load(name)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

// gateStore blocks inside Save until released, so a test can interleave
// buffer writes with a save in flight.
type gateStore struct {
	storage.Store
	entered  chan struct{}
	release  chan struct{}
	failWith error
}

func (g *gateStore) Save(batch model.SessionBatch) (string, error) {
	close(g.entered)
	<-g.release
	if g.failWith != nil {
		return "", g.failWith
	}
	return g.Store.Save(batch)
}

func TestSaveCurrentKeepsReadingsArrivingMidSave(t *testing.T) {
	src := &staticSource{dev: &model.Device{ID: "probe-01", Address: "a:1", Kind: model.TransportSocket}}
	inner, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	gate := &gateStore{Store: inner, entered: make(chan struct{}), release: make(chan struct{})}

	buf := buffer.New(100)
	svc := NewService(gate, buf, src, nil, zap.NewNop())

	buf.Add(validReading(1))
	buf.Add(validReading(2))

	type result struct {
		name string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		name, err := svc.SaveCurrent(model.SessionMetadata{})
		done <- result{name, err}
	}()

	<-gate.entered
	// Arrives while the store write is still running.
	buf.Add(validReading(3))
	close(gate.release)

	res := <-done
	require.NoError(t, res.err)

	loaded, err := svc.Load(res.name)
	require.NoError(t, err)
	assert.Len(t, loaded.Readings, 2)

	// The mid-save reading survives for the next session.
	got := buf.GetAll()
	require.Len(t, got, 1)
	assert.Equal(t, int64(3), got[0].Timestamp)
}

func TestSaveCurrentRequeuesOnStoreFailure(t *testing.T) {
	src := &staticSource{dev: &model.Device{ID: "probe-01", Address: "a:1", Kind: model.TransportSocket}}
	inner, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	gate := &gateStore{
		Store:    inner,
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
		failWith: storage.ErrStorageFailure,
	}
	close(gate.release)

	buf := buffer.New(100)
	svc := NewService(gate, buf, src, nil, zap.NewNop())

	buf.Add(validReading(1))
	buf.Add(validReading(2))

	_, err = svc.SaveCurrent(model.SessionMetadata{})
	require.ErrorIs(t, err, storage.ErrStorageFailure)

	// Nothing was lost, the drained readings are back in order.
	got := buf.GetAll()
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].Timestamp)
	assert.Equal(t, int64(2), got[1].Timestamp)
}

func TestRecordWithoutWriterIsNoop(t *testing.T) {
	src := &staticSource{dev: &model.Device{ID: "probe-01", Address: "a:1", Kind: model.TransportSocket}}
	svc, _, _ := newTestService(t, src)

	// Must not panic with no side-writer configured.
	svc.Record(validReading(time.Now().UnixMilli()))
}
