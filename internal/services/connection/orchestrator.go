// Package connection owns the single active device link. The orchestrator
// routes every request to the driver matching the device's transport kind,
// mirrors driver status to subscribers, and feeds decoded readings into the
// stream buffer.
package connection

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/aquasense/probelink/internal/buffer"
	"github.com/aquasense/probelink/internal/metrics"
	"github.com/aquasense/probelink/internal/model"
	"github.com/aquasense/probelink/internal/transport"
)

const feedDepth = 16

type Orchestrator struct {
	drivers []transport.Driver
	buf     *buffer.ReadingBuffer
	log     *zap.Logger

	// connMu serializes whole connect/disconnect cycles so that teardown of
	// the previous link and installation of the new one are one atomic
	// replacement. mu stays a short field guard and is never held across
	// driver calls.
	connMu sync.Mutex

	mu         sync.Mutex
	active     transport.Driver
	device     *model.Device
	status     model.ConnectionStatus
	statusSubs []chan model.ConnectionStatus
	readerSubs []chan model.Reading
}

func NewOrchestrator(buf *buffer.ReadingBuffer, log *zap.Logger, drivers ...transport.Driver) *Orchestrator {
	o := &Orchestrator{
		drivers: drivers,
		buf:     buf,
		log:     log.Named("connection"),
		status:  model.StatusDisconnected,
	}
	for _, d := range drivers {
		d.SetStatusHandler(o.publishStatus)
	}
	return o
}

// ScanSnapshot is one driver's complete sweep result. A snapshot replaces
// everything previously known for its transport kind, so a device missing
// from the latest sweep is gone, not merely unmentioned.
type ScanSnapshot struct {
	Kind    model.TransportKind
	Devices []model.Device
}

// Scan merges discovery from every driver into one feed of kind-tagged
// snapshots. Each driver sweep emits independently; the caller cancels via
// ctx.
func (o *Orchestrator) Scan(ctx context.Context) <-chan ScanSnapshot {
	out := make(chan ScanSnapshot, 1)
	var wg sync.WaitGroup

	for _, d := range o.drivers {
		ch := d.Scan(ctx)
		kind := d.Kind()
		wg.Add(1)
		go func() {
			defer wg.Done()
			for devs := range ch {
				select {
				case out <- ScanSnapshot{Kind: kind, Devices: devs}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

// Connect routes dev to a compatible driver, tearing down any previous link
// first so only one live session exists at a time.
func (o *Orchestrator) Connect(ctx context.Context, dev model.Device) error {
	drv := o.driverFor(dev)
	if drv == nil {
		return fmt.Errorf("%w: no driver for kind %q", transport.ErrIncompatibleDevice, dev.Kind)
	}

	o.connMu.Lock()
	defer o.connMu.Unlock()

	o.mu.Lock()
	prev := o.active
	o.mu.Unlock()
	if prev != nil && prev != drv {
		_ = prev.Disconnect()
	}

	if err := drv.Connect(ctx, dev); err != nil {
		return err
	}

	o.mu.Lock()
	o.active = drv
	d := dev
	o.device = &d
	o.mu.Unlock()
	o.log.Info("active connection replaced", zap.String("device", dev.ID), zap.String("kind", string(dev.Kind)))
	return nil
}

func (o *Orchestrator) Disconnect() error {
	o.connMu.Lock()
	defer o.connMu.Unlock()

	o.mu.Lock()
	drv := o.active
	o.device = nil
	o.mu.Unlock()

	if drv == nil {
		o.publishStatus(model.StatusDisconnected)
		return nil
	}
	return drv.Disconnect()
}

// StartStreaming starts the driver stream, pushes every reading into the
// buffer and republishes it to reading-feed subscribers as well as to the
// returned channel.
func (o *Orchestrator) StartStreaming(ctx context.Context) (<-chan model.Reading, error) {
	o.mu.Lock()
	drv := o.active
	o.mu.Unlock()
	if drv == nil {
		return nil, transport.ErrNotConnected
	}

	src, err := drv.StartStreaming(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan model.Reading, feedDepth)
	go func() {
		defer close(out)
		for r := range src {
			o.buf.Add(r)
			metrics.BufferSize.Set(float64(o.buf.Len()))
			o.publishReading(r)
			select {
			case out <- r:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}

func (o *Orchestrator) StopStreaming() error {
	o.mu.Lock()
	drv := o.active
	o.mu.Unlock()
	if drv == nil {
		return nil
	}
	return drv.StopStreaming()
}

func (o *Orchestrator) SendCommand(ctx context.Context, cmd string) error {
	o.mu.Lock()
	drv := o.active
	o.mu.Unlock()
	if drv == nil {
		return transport.ErrNotConnected
	}
	return drv.SendCommand(ctx, cmd)
}

// Device returns the currently connected device, or nil.
func (o *Orchestrator) Device() *model.Device {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.device == nil {
		return nil
	}
	d := *o.device
	return &d
}

func (o *Orchestrator) Status() model.ConnectionStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// CheckReachability probes the connected device over its own transport.
func (o *Orchestrator) CheckReachability(ctx context.Context) bool {
	o.mu.Lock()
	drv, dev := o.active, o.device
	o.mu.Unlock()
	if drv == nil || dev == nil {
		return false
	}
	return drv.CheckReachable(ctx, *dev)
}

// Refresh re-validates the active link in place.
func (o *Orchestrator) Refresh(ctx context.Context) error {
	o.mu.Lock()
	drv := o.active
	o.mu.Unlock()
	if drv == nil {
		return transport.ErrNotConnected
	}
	return drv.Refresh(ctx)
}

// Reconnect re-establishes the link to the currently tracked device.
func (o *Orchestrator) Reconnect(ctx context.Context) error {
	o.mu.Lock()
	dev := o.device
	o.mu.Unlock()
	if dev == nil {
		return transport.ErrNotConnected
	}
	return o.Connect(ctx, *dev)
}

func (o *Orchestrator) Buffer() *buffer.ReadingBuffer { return o.buf }

// StatusUpdates subscribes to mirrored connection-status transitions. Slow
// subscribers miss intermediate transitions rather than blocking the driver.
func (o *Orchestrator) StatusUpdates() <-chan model.ConnectionStatus {
	ch := make(chan model.ConnectionStatus, feedDepth)
	o.mu.Lock()
	o.statusSubs = append(o.statusSubs, ch)
	o.mu.Unlock()
	return ch
}

// ReadingUpdates subscribes to the most-recent-reading feed.
func (o *Orchestrator) ReadingUpdates() <-chan model.Reading {
	ch := make(chan model.Reading, feedDepth)
	o.mu.Lock()
	o.readerSubs = append(o.readerSubs, ch)
	o.mu.Unlock()
	return ch
}

func (o *Orchestrator) publishStatus(s model.ConnectionStatus) {
	o.mu.Lock()
	o.status = s
	subs := make([]chan model.ConnectionStatus, len(o.statusSubs))
	copy(subs, o.statusSubs)
	o.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- s:
		default:
		}
	}
}

func (o *Orchestrator) publishReading(r model.Reading) {
	o.mu.Lock()
	subs := make([]chan model.Reading, len(o.readerSubs))
	copy(subs, o.readerSubs)
	o.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- r:
		default:
		}
	}
}

func (o *Orchestrator) driverFor(dev model.Device) transport.Driver {
	for _, d := range o.drivers {
		if d.IsDeviceCompatible(dev) {
			return d
		}
	}
	return nil
}
