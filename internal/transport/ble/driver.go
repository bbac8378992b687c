// Package ble implements the transport driver for devices reachable over the
// short-range wireless link.
//
// The device exposes a UART-style service: one writable characteristic for
// commands and one notifying characteristic that carries newline-terminated
// response and payload lines, mirroring the socket wire protocol.
package ble

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"

	"github.com/aquasense/probelink/internal/decoder"
	"github.com/aquasense/probelink/internal/metrics"
	"github.com/aquasense/probelink/internal/model"
	"github.com/aquasense/probelink/internal/transport"
)

// Nordic UART Service layout used by the measurement unit.
const (
	serviceUUIDStr = "6e400001-b5a3-f393-e0a9-e50e24dcca9e"
	rxCharUUIDStr  = "6e400002-b5a3-f393-e0a9-e50e24dcca9e" // write
	txCharUUIDStr  = "6e400003-b5a3-f393-e0a9-e50e24dcca9e" // notify
)

const (
	cmdConnect     = "CONNECT"
	ackConnected   = "CONNECTED"
	cmdStartStream = "START_STREAM"
	cmdStopStream  = "STOP_STREAM"
	cmdDisconnect  = "DISCONNECT"
	cmdPing        = "PING"
	ackOK          = "OK"
)

type Config struct {
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	ScanInterval     time.Duration
}

func (c Config) withDefaults() Config {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 5 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.ScanInterval <= 0 {
		c.ScanInterval = 5 * time.Second
	}
	return c
}

type Driver struct {
	cfg     Config
	log     *zap.Logger
	adapter *bluetooth.Adapter

	mu        sync.Mutex
	status    model.ConnectionStatus
	onStatus  func(model.ConnectionStatus)
	device    model.Device
	known     map[string]bluetooth.Address // address string -> platform address
	peer      bluetooth.Device
	connected bool
	rx        bluetooth.DeviceCharacteristic
	tx        bluetooth.DeviceCharacteristic

	lineBuf    bytes.Buffer
	respCh     chan string
	streaming  bool
	streamOut  chan model.Reading
	lastNotify time.Time
}

var _ transport.Driver = (*Driver)(nil)

func NewDriver(cfg Config, log *zap.Logger) *Driver {
	return &Driver{
		cfg:     cfg.withDefaults(),
		log:     log.Named("ble"),
		adapter: bluetooth.DefaultAdapter,
		status:  model.StatusDisconnected,
		known:   make(map[string]bluetooth.Address),
		respCh:  make(chan string, 8),
	}
}

func (d *Driver) IsDeviceCompatible(dev model.Device) bool {
	return dev.Kind == model.TransportBLE
}

func (d *Driver) Kind() model.TransportKind { return model.TransportBLE }

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

// Scan discovers advertising devices and emits one snapshot per interval.
// Platform failures surface as empty lists, never as errors.
func (d *Driver) Scan(ctx context.Context) <-chan []model.Device {
	out := make(chan []model.Device, 1)

	go func() {
		defer close(out)

		if err := d.adapter.Enable(); err != nil {
			d.log.Warn("bluetooth unavailable", zap.Error(err))
			d.emitEmpty(ctx, out)
			return
		}

		var mu sync.Mutex
		found := make(map[string]model.Device)

		go func() {
			err := d.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
				name := result.LocalName()
				if name == "" {
					return
				}
				addr := result.Address.String()
				mu.Lock()
				found[addr] = model.Device{
					ID:      addr,
					Name:    name,
					Address: addr,
					RSSI:    int(result.RSSI),
					Kind:    model.TransportBLE,
				}
				mu.Unlock()
				d.mu.Lock()
				d.known[addr] = result.Address
				d.mu.Unlock()
			})
			if err != nil {
				d.log.Warn("ble scan stopped", zap.Error(err))
			}
		}()

		for {
			select {
			case <-ctx.Done():
				_ = d.adapter.StopScan()
				return
			case <-time.After(d.cfg.ScanInterval):
			}
			mu.Lock()
			snapshot := make([]model.Device, 0, len(found))
			for _, dev := range found {
				snapshot = append(snapshot, dev)
			}
			mu.Unlock()
			select {
			case out <- snapshot:
			case <-ctx.Done():
				_ = d.adapter.StopScan()
				return
			}
		}
	}()

	return out
}

func (d *Driver) emitEmpty(ctx context.Context, out chan<- []model.Device) {
	for {
		select {
		case <-ctx.Done():
			return
		case out <- []model.Device{}:
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.cfg.ScanInterval):
		}
	}
}

func (d *Driver) Connect(ctx context.Context, dev model.Device) error {
	if !d.IsDeviceCompatible(dev) {
		return fmt.Errorf("%w: %s is %s", transport.ErrIncompatibleDevice, dev.ID, dev.Kind)
	}
	if err := dev.Validate(); err != nil {
		return err
	}
	if err := d.adapter.Enable(); err != nil {
		return fmt.Errorf("%w: %v", transport.ErrTransportDisabled, err)
	}

	d.mu.Lock()
	addr, seen := d.known[dev.Address]
	d.mu.Unlock()
	if !seen {
		return fmt.Errorf("connect %s: device not present in scan results", dev.Address)
	}

	_ = d.Disconnect()
	d.setStatus(model.StatusConnecting)

	peer, err := d.adapter.Connect(addr, bluetooth.ConnectionParams{
		ConnectionTimeout: bluetooth.NewDuration(d.cfg.HandshakeTimeout),
	})
	if err != nil {
		d.setStatus(model.StatusError)
		metrics.ConnectsTotal.WithLabelValues(string(model.TransportBLE), "error").Inc()
		return fmt.Errorf("connect %s: %w", dev.Address, err)
	}

	if err := d.discover(peer); err != nil {
		_ = peer.Disconnect()
		d.setStatus(model.StatusError)
		metrics.ConnectsTotal.WithLabelValues(string(model.TransportBLE), "error").Inc()
		return err
	}

	d.mu.Lock()
	d.peer = peer
	d.connected = true
	d.device = dev
	d.mu.Unlock()

	if err := d.handshake(); err != nil {
		_ = peer.Disconnect()
		d.mu.Lock()
		d.connected = false
		d.mu.Unlock()
		d.setStatus(model.StatusError)
		metrics.ConnectsTotal.WithLabelValues(string(model.TransportBLE), "error").Inc()
		return err
	}

	d.setStatus(model.StatusConnected)
	metrics.ConnectsTotal.WithLabelValues(string(model.TransportBLE), "ok").Inc()
	d.log.Info("connected", zap.String("device", dev.ID))
	return nil
}

func (d *Driver) discover(peer bluetooth.Device) error {
	serviceUUID := mustUUID(serviceUUIDStr)
	services, err := peer.DiscoverServices([]bluetooth.UUID{serviceUUID})
	if err != nil || len(services) == 0 {
		return fmt.Errorf("%w: uart service not found: %v", transport.ErrHandshakeFailure, err)
	}
	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{
		mustUUID(rxCharUUIDStr), mustUUID(txCharUUIDStr),
	})
	if err != nil || len(chars) < 2 {
		return fmt.Errorf("%w: uart characteristics not found: %v", transport.ErrHandshakeFailure, err)
	}
	for _, c := range chars {
		switch c.UUID().String() {
		case rxCharUUIDStr:
			d.rx = c
		case txCharUUIDStr:
			d.tx = c
		}
	}
	if err := d.tx.EnableNotifications(d.handleNotify); err != nil {
		return fmt.Errorf("%w: enable notifications: %v", transport.ErrHandshakeFailure, err)
	}
	return nil
}

func (d *Driver) handshake() error {
	if err := d.writeLine(cmdConnect); err != nil {
		return fmt.Errorf("%w: %v", transport.ErrHandshakeFailure, err)
	}
	select {
	case reply := <-d.respCh:
		if reply != ackConnected {
			return fmt.Errorf("%w: device answered %q", transport.ErrHandshakeFailure, reply)
		}
		return nil
	case <-time.After(d.cfg.HandshakeTimeout):
		return fmt.Errorf("%w: waiting for handshake reply", transport.ErrTimeout)
	}
}

// handleNotify reassembles newline-terminated lines from notification chunks
// and routes them: payload lines to the active stream, everything else to the
// pending command response.
func (d *Driver) handleNotify(buf []byte) {
	d.mu.Lock()
	d.lastNotify = time.Now()
	d.lineBuf.Write(buf)
	var lines []string
	for {
		idx := bytes.IndexByte(d.lineBuf.Bytes(), '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimRight(string(d.lineBuf.Next(idx+1)), "\r\n")
		if line != "" {
			lines = append(lines, line)
		}
	}
	streaming := d.streaming
	out := d.streamOut
	deviceID := d.device.ID
	d.mu.Unlock()

	for _, line := range lines {
		if streaming && decoder.IsValidFormat(line) {
			reading, err := decoder.Decode(line, deviceID)
			if err != nil {
				metrics.DecodeFailures.Inc()
				continue
			}
			metrics.ReadingsDecoded.Inc()
			select {
			case out <- reading:
			default:
				// Subscriber lagging; drop rather than block the BLE stack.
			}
			continue
		}
		select {
		case d.respCh <- line:
		default:
		}
	}
}

func (d *Driver) Disconnect() error {
	d.mu.Lock()
	connected := d.connected
	peer := d.peer
	d.connected = false
	d.streaming = false
	d.streamOut = nil
	d.mu.Unlock()

	if connected {
		_ = d.writeLine(cmdDisconnect)
		_ = peer.Disconnect()
	}
	d.setStatus(model.StatusDisconnected)
	return nil
}

func (d *Driver) StartStreaming(ctx context.Context) (<-chan model.Reading, error) {
	d.mu.Lock()
	if !d.connected || d.status != model.StatusConnected {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: cannot stream from status %s", transport.ErrNotConnected, d.status)
	}
	out := make(chan model.Reading, 32)
	d.streamOut = out
	d.streaming = true
	d.lastNotify = time.Now()
	d.mu.Unlock()

	if err := d.writeLine(cmdStartStream); err != nil {
		d.mu.Lock()
		d.streaming = false
		d.streamOut = nil
		d.mu.Unlock()
		return nil, fmt.Errorf("start stream: %w", err)
	}
	d.setStatus(model.StatusStreaming)

	go d.watchStream(ctx, out)
	return out, nil
}

// watchStream ends the subscription on cancellation and trips the status to
// error when notifications stall past the read timeout.
func (d *Driver) watchStream(ctx context.Context, out chan model.Reading) {
	ticker := time.NewTicker(d.cfg.ReadTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.mu.Lock()
			if d.streamOut != nil {
				d.streaming = false
				d.streamOut = nil
				close(out)
			}
			d.mu.Unlock()
			_ = d.writeLine(cmdStopStream)
			d.setStatus(model.StatusConnected)
			return
		case <-ticker.C:
			d.mu.Lock()
			stalled := time.Since(d.lastNotify) > d.cfg.ReadTimeout
			active := d.streaming
			if stalled && active {
				d.streaming = false
				d.streamOut = nil
				close(out)
			}
			d.mu.Unlock()
			if !active {
				return
			}
			if stalled {
				d.log.Warn("stream stalled", zap.Duration("timeout", d.cfg.ReadTimeout))
				d.setStatus(model.StatusError)
				return
			}
		}
	}
}

func (d *Driver) StopStreaming() error {
	d.mu.Lock()
	connected := d.connected
	active := d.streaming
	out := d.streamOut
	d.streaming = false
	d.streamOut = nil
	d.mu.Unlock()

	if active && out != nil {
		close(out)
		d.setStatus(model.StatusConnected)
	}
	// Without a link there is no command characteristic to write to.
	if !connected {
		return nil
	}
	return d.writeLine(cmdStopStream)
}

func (d *Driver) SendCommand(ctx context.Context, cmd string) error {
	d.mu.Lock()
	if !d.connected {
		d.mu.Unlock()
		return transport.ErrNotConnected
	}
	if d.streaming {
		d.mu.Unlock()
		return fmt.Errorf("%w: busy streaming", transport.ErrCommandRejected)
	}
	d.mu.Unlock()

	start := time.Now()
	if err := d.writeLine(cmd); err != nil {
		return fmt.Errorf("send %q: %w", cmd, err)
	}
	select {
	case reply := <-d.respCh:
		metrics.CommandDuration.Observe(time.Since(start).Seconds())
		if reply != ackOK {
			return fmt.Errorf("%w: %q", transport.ErrCommandRejected, reply)
		}
		return nil
	case <-time.After(d.cfg.ReadTimeout):
		return fmt.Errorf("%w: no acknowledgment for %q", transport.ErrTimeout, cmd)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CheckReachable reports whether dev is the currently connected peer or was
// seen in recent scan results; BLE offers no cheap connectionless probe.
func (d *Driver) CheckReachable(_ context.Context, dev model.Device) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.connected && d.device.Address == dev.Address {
		return true
	}
	_, seen := d.known[dev.Address]
	return seen
}

func (d *Driver) Refresh(ctx context.Context) error {
	d.mu.Lock()
	connected := d.connected
	streaming := d.streaming
	d.mu.Unlock()

	if !connected {
		return transport.ErrNotConnected
	}
	if streaming {
		return nil
	}
	return d.SendCommand(ctx, cmdPing)
}

func (d *Driver) writeLine(line string) error {
	_, err := d.rx.WriteWithoutResponse([]byte(line + "\n"))
	return err
}

func mustUUID(s string) bluetooth.UUID {
	u, err := bluetooth.ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}
