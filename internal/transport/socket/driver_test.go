package socket

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aquasense/probelink/internal/model"
	"github.com/aquasense/probelink/internal/simulator"
	"github.com/aquasense/probelink/internal/transport"
)

func testConfig() Config {
	return Config{
		HandshakeTimeout: 2 * time.Second,
		ReadTimeout:      2 * time.Second,
		ProbeTimeout:     time.Second,
	}
}

// startSim boots an emulated probe unit on a loopback port and returns its
// address.
func startSim(t *testing.T, interval time.Duration) (*simulator.Simulator, string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	sim := simulator.New(simulator.Config{
		Addr:         "127.0.0.1:0",
		DeviceID:     "sim-probe",
		EmitInterval: interval,
	}, zap.NewNop())
	go func() { _ = sim.Start(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for sim.Addr() == "" {
		if time.Now().After(deadline) {
			t.Fatal("simulator did not bind")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return sim, sim.Addr()
}

func socketDevice(addr string) model.Device {
	return model.Device{ID: addr, Name: "probe-unit", Address: addr, Kind: model.TransportSocket}
}

func TestConnectHandshake(t *testing.T) {
	_, addr := startSim(t, time.Second)

	d := NewDriver(testConfig(), zap.NewNop())
	defer d.Disconnect()

	require.NoError(t, d.Connect(context.Background(), socketDevice(addr)))
	assert.Equal(t, model.StatusConnected, d.Status())
}

func TestConnectHandshakeRejected(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		_, _ = r.ReadString('\n')
		_, _ = conn.Write([]byte("BUSY\n"))
	}()

	d := NewDriver(testConfig(), zap.NewNop())
	err = d.Connect(context.Background(), socketDevice(ln.Addr().String()))
	assert.ErrorIs(t, err, transport.ErrHandshakeFailure)
	assert.Equal(t, model.StatusError, d.Status())
}

func TestConnectIncompatibleDevice(t *testing.T) {
	d := NewDriver(testConfig(), zap.NewNop())
	dev := model.Device{ID: "aa:bb", Address: "aa:bb", Kind: model.TransportBLE}
	assert.ErrorIs(t, d.Connect(context.Background(), dev), transport.ErrIncompatibleDevice)
}

func TestStreamingDeliversReadings(t *testing.T) {
	_, addr := startSim(t, 10*time.Millisecond)

	d := NewDriver(testConfig(), zap.NewNop())
	defer d.Disconnect()
	require.NoError(t, d.Connect(context.Background(), socketDevice(addr)))

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := d.StartStreaming(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.StatusStreaming, d.Status())

	var got []model.Reading
	timeout := time.After(3 * time.Second)
	for len(got) < 4 {
		select {
		case r, ok := <-ch:
			require.True(t, ok, "stream closed early")
			got = append(got, r)
		case <-timeout:
			t.Fatalf("only %d readings arrived", len(got))
		}
	}

	for _, r := range got {
		assert.NoError(t, r.Validate())
		assert.Equal(t, addr, r.DeviceID)
	}

	// Cancellation drops back to connected, not disconnected.
	cancel()
	for range ch {
	}
	assert.Eventually(t, func() bool {
		return d.Status() == model.StatusConnected
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStreamingSkipsBadLines(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			switch strings.TrimSpace(line) {
			case "CONNECT":
				_, _ = conn.Write([]byte("CONNECTED\n"))
			case "START_STREAM":
				_, _ = conn.Write([]byte("garbage line\n"))
				_, _ = conn.Write([]byte("1,2,3\n")) // wrong field count
				_, _ = conn.Write([]byte("7.2,450.5,0.85,23.5,255,128,64,65.3,1.23,-0.45,0.78,2.15,-1.67,0.92,1.44\n"))
			}
		}
	}()

	d := NewDriver(testConfig(), zap.NewNop())
	defer d.Disconnect()
	require.NoError(t, d.Connect(context.Background(), socketDevice(ln.Addr().String())))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := d.StartStreaming(ctx)
	require.NoError(t, err)

	select {
	case r := <-ch:
		// The two malformed lines are dropped; the valid one survives.
		assert.Equal(t, 7.2, r.PH)
	case <-time.After(3 * time.Second):
		t.Fatal("valid reading never arrived")
	}
}

func TestStartStreamingRequiresConnection(t *testing.T) {
	d := NewDriver(testConfig(), zap.NewNop())
	_, err := d.StartStreaming(context.Background())
	assert.ErrorIs(t, err, transport.ErrNotConnected)
}

func TestSendCommand(t *testing.T) {
	sim, addr := startSim(t, time.Second)
	sim.CommandHandler = func(cmd string) string {
		if cmd == "CALIBRATE_PH" {
			return "OK"
		}
		return "ERR unsupported"
	}

	d := NewDriver(testConfig(), zap.NewNop())
	defer d.Disconnect()
	require.NoError(t, d.Connect(context.Background(), socketDevice(addr)))

	assert.NoError(t, d.SendCommand(context.Background(), "CALIBRATE_PH"))
	assert.ErrorIs(t, d.SendCommand(context.Background(), "SELF_DESTRUCT"), transport.ErrCommandRejected)
}

func TestSendCommandRejectedWhileStreaming(t *testing.T) {
	_, addr := startSim(t, 10*time.Millisecond)

	d := NewDriver(testConfig(), zap.NewNop())
	defer d.Disconnect()
	require.NoError(t, d.Connect(context.Background(), socketDevice(addr)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, err := d.StartStreaming(ctx)
	require.NoError(t, err)

	assert.ErrorIs(t, d.SendCommand(context.Background(), "CALIBRATE_PH"), transport.ErrCommandRejected)
}

func TestSendCommandNotConnected(t *testing.T) {
	d := NewDriver(testConfig(), zap.NewNop())
	assert.ErrorIs(t, d.SendCommand(context.Background(), "PING"), transport.ErrNotConnected)
}

func TestDisconnectIdempotent(t *testing.T) {
	_, addr := startSim(t, time.Second)

	d := NewDriver(testConfig(), zap.NewNop())
	require.NoError(t, d.Connect(context.Background(), socketDevice(addr)))

	assert.NoError(t, d.Disconnect())
	assert.NoError(t, d.Disconnect())
	assert.Equal(t, model.StatusDisconnected, d.Status())
}

func TestCheckReachable(t *testing.T) {
	_, addr := startSim(t, time.Second)

	d := NewDriver(testConfig(), zap.NewNop())
	assert.True(t, d.CheckReachable(context.Background(), socketDevice(addr)))

	dead := socketDevice("127.0.0.1:1")
	assert.False(t, d.CheckReachable(context.Background(), dead))
}

func TestRefreshPingsWhenIdle(t *testing.T) {
	_, addr := startSim(t, time.Second)

	d := NewDriver(testConfig(), zap.NewNop())
	defer d.Disconnect()

	assert.ErrorIs(t, d.Refresh(context.Background()), transport.ErrNotConnected)

	require.NoError(t, d.Connect(context.Background(), socketDevice(addr)))
	assert.NoError(t, d.Refresh(context.Background()))
}
