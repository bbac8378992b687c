package socket

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aquasense/probelink/internal/model"
)

// Scan probes the configured candidate addresses on a fixed interval and
// emits one device-list snapshot per sweep. Probe failures are silent: an
// unreachable sweep produces an empty list, never an error.
func (d *Driver) Scan(ctx context.Context) <-chan []model.Device {
	out := make(chan []model.Device, 1)

	go func() {
		defer close(out)
		for {
			devs := d.sweep(ctx)
			select {
			case out <- devs:
			case <-ctx.Done():
				return
			}
			select {
			case <-time.After(d.cfg.ScanInterval):
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

func (d *Driver) sweep(ctx context.Context) []model.Device {
	targets := make([]string, 0, len(d.cfg.ScanHosts))
	for _, h := range d.cfg.ScanHosts {
		targets = append(targets, d.normalize(h))
	}
	if len(targets) == 0 {
		return []model.Device{}
	}

	workCh := make(chan string, len(targets))
	resultCh := make(chan model.Device, len(targets))

	var wg sync.WaitGroup
	for i := 0; i < d.cfg.ScanConcurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for addr := range workCh {
				if dev, ok := d.probe(ctx, addr); ok {
					resultCh <- dev
				}
			}
		}()
	}

	for _, t := range targets {
		select {
		case workCh <- t:
		case <-ctx.Done():
		}
	}
	close(workCh)
	wg.Wait()
	close(resultCh)

	devs := make([]model.Device, 0, len(targets))
	for dev := range resultCh {
		devs = append(devs, dev)
	}
	d.log.Debug("scan sweep complete", zap.Int("targets", len(targets)), zap.Int("found", len(devs)))
	return devs
}

func (d *Driver) probe(ctx context.Context, addr string) (model.Device, bool) {
	dialer := net.Dialer{Timeout: d.cfg.ProbeTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return model.Device{}, false
	}
	_ = conn.Close()

	host, _, _ := net.SplitHostPort(addr)
	return model.Device{
		ID:      addr,
		Name:    fmt.Sprintf("probe-unit@%s", host),
		Address: addr,
		Kind:    model.TransportSocket,
	}, true
}

func (d *Driver) normalize(host string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, strconv.Itoa(d.cfg.Port))
}
