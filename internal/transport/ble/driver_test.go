package ble

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"

	"github.com/aquasense/probelink/internal/model"
	"github.com/aquasense/probelink/internal/transport"
)

func newDisconnectedDriver() *Driver {
	return NewDriver(Config{}, zap.NewNop())
}

func bleDevice(id string) model.Device {
	return model.Device{ID: id, Address: "AA:BB:CC:DD:EE:FF", Kind: model.TransportBLE}
}

func TestIsDeviceCompatible(t *testing.T) {
	d := newDisconnectedDriver()
	assert.True(t, d.IsDeviceCompatible(bleDevice("probe-1")))
	assert.False(t, d.IsDeviceCompatible(model.Device{ID: "s", Address: "h:1", Kind: model.TransportSocket}))
	assert.Equal(t, model.TransportBLE, d.Kind())
}

func TestOperationsWithoutLink(t *testing.T) {
	d := newDisconnectedDriver()

	_, err := d.StartStreaming(context.Background())
	assert.ErrorIs(t, err, transport.ErrNotConnected)

	err = d.SendCommand(context.Background(), cmdPing)
	assert.ErrorIs(t, err, transport.ErrNotConnected)

	assert.ErrorIs(t, d.Refresh(context.Background()), transport.ErrNotConnected)
	assert.NoError(t, d.Disconnect())
	assert.Equal(t, model.StatusDisconnected, d.Status())
}

// Stopping a stream that never started must not touch the radio; a
// zero-value characteristic has nothing to write to.
func TestStopStreamingWithoutLink(t *testing.T) {
	d := newDisconnectedDriver()
	assert.NoError(t, d.StopStreaming())
	assert.NoError(t, d.StopStreaming())
	assert.Equal(t, model.StatusDisconnected, d.Status())
}

func TestCheckReachableTracksScanResults(t *testing.T) {
	d := newDisconnectedDriver()
	dev := bleDevice("probe-1")

	assert.False(t, d.CheckReachable(context.Background(), dev))

	d.mu.Lock()
	d.known[dev.Address] = bluetooth.Address{}
	d.mu.Unlock()
	assert.True(t, d.CheckReachable(context.Background(), dev))
}

func TestHandleNotifyReassemblesLines(t *testing.T) {
	d := newDisconnectedDriver()

	// Command replies arrive in arbitrary chunk boundaries.
	d.handleNotify([]byte("O"))
	d.handleNotify([]byte("K\r\nCONN"))
	d.handleNotify([]byte("ECTED\n"))

	require.Len(t, d.respCh, 2)
	assert.Equal(t, ackOK, <-d.respCh)
	assert.Equal(t, ackConnected, <-d.respCh)
}

func TestHandleNotifyRoutesReadingsToStream(t *testing.T) {
	d := newDisconnectedDriver()
	out := make(chan model.Reading, 4)
	d.mu.Lock()
	d.streaming = true
	d.streamOut = out
	d.device = bleDevice("probe-1")
	d.mu.Unlock()

	line := "7.10,310.5,1.2,21.4,120,130,140,48.5,0.41,0.39,0.38,0.35,0.33,0.30,0.28\n"
	d.handleNotify([]byte(line))

	require.Len(t, out, 1)
	r := <-out
	assert.Equal(t, "probe-1", r.DeviceID)
	assert.InDelta(t, 7.10, r.PH, 1e-9)

	// Non-payload lines still reach the command response path.
	d.handleNotify([]byte("OK\n"))
	require.Len(t, d.respCh, 1)
	assert.Equal(t, ackOK, <-d.respCh)
}
