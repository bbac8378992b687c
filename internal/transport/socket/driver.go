// Package socket implements the transport driver for devices reachable over a
// local-network TCP socket.
//
// Wire protocol, newline-terminated UTF-8 text: the client opens with CONNECT
// and the device must answer CONNECTED. START_STREAM, STOP_STREAM and
// DISCONNECT are sent as bare lines; every other command expects a literal OK
// acknowledgment. While streaming the device pushes one payload line per
// reading.
package socket

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aquasense/probelink/internal/decoder"
	"github.com/aquasense/probelink/internal/metrics"
	"github.com/aquasense/probelink/internal/model"
	"github.com/aquasense/probelink/internal/transport"
)

const (
	cmdConnect      = "CONNECT"
	ackConnected    = "CONNECTED"
	cmdStartStream  = "START_STREAM"
	cmdStopStream   = "STOP_STREAM"
	cmdDisconnect   = "DISCONNECT"
	cmdPing         = "PING"
	ackOK           = "OK"
	streamChanDepth = 32
)

type Driver struct {
	cfg Config
	log *zap.Logger

	mu           sync.Mutex
	conn         net.Conn
	reader       *bufio.Reader
	device       model.Device
	status       model.ConnectionStatus
	onStatus     func(model.ConnectionStatus)
	streaming    bool
	streamCancel context.CancelFunc
}

var _ transport.Driver = (*Driver)(nil)

func NewDriver(cfg Config, log *zap.Logger) *Driver {
	return &Driver{
		cfg:    cfg.withDefaults(),
		log:    log.Named("socket"),
		status: model.StatusDisconnected,
	}
}

func (d *Driver) IsDeviceCompatible(dev model.Device) bool {
	return dev.Kind == model.TransportSocket
}

func (d *Driver) Kind() model.TransportKind { return model.TransportSocket }

func (d *Driver) Status() model.ConnectionStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

func (d *Driver) SetStatusHandler(h func(model.ConnectionStatus)) {
	d.mu.Lock()
	d.onStatus = h
	d.mu.Unlock()
}

// setStatus records the transition and notifies outside the lock so the
// handler may call back into the driver.
func (d *Driver) setStatus(s model.ConnectionStatus) {
	d.mu.Lock()
	if d.status == s {
		d.mu.Unlock()
		return
	}
	d.status = s
	h := d.onStatus
	d.mu.Unlock()
	if h != nil {
		h(s)
	}
}

func (d *Driver) Connect(ctx context.Context, dev model.Device) error {
	if !d.IsDeviceCompatible(dev) {
		return fmt.Errorf("%w: %s is %s", transport.ErrIncompatibleDevice, dev.ID, dev.Kind)
	}
	if err := dev.Validate(); err != nil {
		return err
	}

	// One live session at a time: quietly drop any previous link first.
	d.teardown()

	d.setStatus(model.StatusConnecting)

	dialer := net.Dialer{Timeout: d.cfg.HandshakeTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", dev.Address)
	if err != nil {
		d.setStatus(model.StatusError)
		metrics.ConnectsTotal.WithLabelValues(string(model.TransportSocket), "error").Inc()
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return fmt.Errorf("%w: dial %s", transport.ErrTimeout, dev.Address)
		}
		return fmt.Errorf("connect %s: %w", dev.Address, err)
	}

	reader := bufio.NewReader(conn)
	if err := writeLine(conn, cmdConnect, d.cfg.HandshakeTimeout); err != nil {
		conn.Close()
		d.setStatus(model.StatusError)
		metrics.ConnectsTotal.WithLabelValues(string(model.TransportSocket), "error").Inc()
		return fmt.Errorf("%w: %v", transport.ErrHandshakeFailure, err)
	}
	reply, err := readLine(conn, reader, d.cfg.HandshakeTimeout)
	if err != nil {
		conn.Close()
		d.setStatus(model.StatusError)
		metrics.ConnectsTotal.WithLabelValues(string(model.TransportSocket), "error").Inc()
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return fmt.Errorf("%w: waiting for handshake reply", transport.ErrTimeout)
		}
		return fmt.Errorf("%w: %v", transport.ErrHandshakeFailure, err)
	}
	if reply != ackConnected {
		conn.Close()
		d.setStatus(model.StatusError)
		metrics.ConnectsTotal.WithLabelValues(string(model.TransportSocket), "error").Inc()
		return fmt.Errorf("%w: device answered %q", transport.ErrHandshakeFailure, reply)
	}

	d.mu.Lock()
	d.conn = conn
	d.reader = reader
	d.device = dev
	d.mu.Unlock()
	d.setStatus(model.StatusConnected)
	metrics.ConnectsTotal.WithLabelValues(string(model.TransportSocket), "ok").Inc()
	d.log.Info("connected", zap.String("device", dev.ID), zap.String("address", dev.Address))
	return nil
}

func (d *Driver) Disconnect() error {
	d.teardown()
	d.setStatus(model.StatusDisconnected)
	return nil
}

// teardown closes the current link without touching status.
func (d *Driver) teardown() {
	d.mu.Lock()
	cancel := d.streamCancel
	conn := d.conn
	d.streamCancel = nil
	d.streaming = false
	d.conn = nil
	d.reader = nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = writeLine(conn, cmdDisconnect, time.Second)
		_ = conn.Close()
	}
}

func (d *Driver) StartStreaming(ctx context.Context) (<-chan model.Reading, error) {
	d.mu.Lock()
	if d.conn == nil || d.status != model.StatusConnected {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: cannot stream from status %s", transport.ErrNotConnected, d.status)
	}
	conn, reader, dev := d.conn, d.reader, d.device
	d.mu.Unlock()

	if err := writeLine(conn, cmdStartStream, d.cfg.HandshakeTimeout); err != nil {
		return nil, fmt.Errorf("start stream: %w", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.streaming = true
	d.streamCancel = cancel
	d.mu.Unlock()
	d.setStatus(model.StatusStreaming)

	out := make(chan model.Reading, streamChanDepth)

	// Unblock the pending read when the subscription is cancelled.
	go func() {
		<-streamCtx.Done()
		_ = conn.SetReadDeadline(time.Now())
	}()

	go d.readLoop(streamCtx, conn, reader, dev.ID, out)
	return out, nil
}

func (d *Driver) readLoop(ctx context.Context, conn net.Conn, reader *bufio.Reader, deviceID string, out chan<- model.Reading) {
	defer close(out)

	// Cancellation leaves the link up: stop the device stream and drop back
	// to connected rather than disconnected.
	stopGracefully := func() {
		_ = conn.SetReadDeadline(time.Time{})
		_ = writeLine(conn, cmdStopStream, time.Second)
		d.mu.Lock()
		d.streaming = false
		d.streamCancel = nil
		d.mu.Unlock()
		d.setStatus(model.StatusConnected)
	}

	for {
		if ctx.Err() != nil {
			stopGracefully()
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(d.cfg.ReadTimeout))
		line, err := reader.ReadString('\n')
		if err != nil {
			if ctx.Err() != nil {
				stopGracefully()
				return
			}
			d.log.Warn("stream read failed", zap.Error(err))
			d.mu.Lock()
			d.streaming = false
			d.streamCancel = nil
			d.mu.Unlock()
			d.setStatus(model.StatusError)
			return
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}
		reading, err := decoder.Decode(line, deviceID)
		if err != nil {
			// One bad line never terminates the stream.
			metrics.DecodeFailures.Inc()
			d.log.Debug("dropped payload", zap.Error(err))
			continue
		}
		metrics.ReadingsDecoded.Inc()
		select {
		case out <- reading:
		case <-ctx.Done():
		}
	}
}

func (d *Driver) StopStreaming() error {
	d.mu.Lock()
	cancel := d.streamCancel
	conn := d.conn
	streaming := d.streaming
	d.mu.Unlock()

	if cancel != nil {
		cancel()
		return nil
	}
	if conn != nil && !streaming {
		// Idempotent resend; the device ignores duplicates.
		return writeLine(conn, cmdStopStream, time.Second)
	}
	return nil
}

func (d *Driver) SendCommand(ctx context.Context, cmd string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn == nil {
		return transport.ErrNotConnected
	}
	if d.streaming {
		return fmt.Errorf("%w: busy streaming", transport.ErrCommandRejected)
	}

	start := time.Now()
	timeout := d.cfg.ReadTimeout
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < timeout {
			timeout = rem
		}
	}

	if err := writeLine(d.conn, cmd, timeout); err != nil {
		return fmt.Errorf("send %q: %w", cmd, err)
	}
	reply, err := readLine(d.conn, d.reader, timeout)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return fmt.Errorf("%w: no acknowledgment for %q", transport.ErrTimeout, cmd)
		}
		return fmt.Errorf("awaiting ack for %q: %w", cmd, err)
	}
	metrics.CommandDuration.Observe(time.Since(start).Seconds())
	if reply != ackOK {
		return fmt.Errorf("%w: %q", transport.ErrCommandRejected, reply)
	}
	return nil
}

func (d *Driver) CheckReachable(ctx context.Context, dev model.Device) bool {
	dialer := net.Dialer{Timeout: d.cfg.ProbeTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", dev.Address)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Refresh re-validates the link in place: a PING round-trip when idle, a
// no-op while the read loop is already proving liveness.
func (d *Driver) Refresh(ctx context.Context) error {
	d.mu.Lock()
	streaming := d.streaming
	connected := d.conn != nil
	d.mu.Unlock()

	if !connected {
		return transport.ErrNotConnected
	}
	if streaming {
		return nil
	}
	return d.SendCommand(ctx, cmdPing)
}

func writeLine(conn net.Conn, line string, timeout time.Duration) error {
	_ = conn.SetWriteDeadline(time.Now().Add(timeout))
	_, err := conn.Write([]byte(line + "\n"))
	return err
}

func readLine(conn net.Conn, reader *bufio.Reader, timeout time.Duration) (string, error) {
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
