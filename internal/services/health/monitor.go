// Package health watches the active connection and drives bounded automatic
// recovery. The monitor is the only writer of the ConnectionHealth
// classification; reconnection failures are never surfaced synchronously to
// callers, only through the health feed.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/aquasense/probelink/internal/metrics"
	"github.com/aquasense/probelink/internal/model"
	"github.com/aquasense/probelink/internal/transport"
)

// ConnectionSource is the slice of the orchestrator the monitor depends on.
type ConnectionSource interface {
	Device() *model.Device
	Status() model.ConnectionStatus
	CheckReachability(ctx context.Context) bool
	Refresh(ctx context.Context) error
	Connect(ctx context.Context, dev model.Device) error
}

const (
	DefaultProbeInterval = 30 * time.Second
	maxReconnectAttempts = 3
	feedDepth            = 16
)

type Monitor struct {
	src      ConnectionSource
	interval time.Duration
	log      *zap.Logger

	mu       sync.Mutex
	health   model.ConnectionHealth
	attempts int
	lastOK   time.Time
	subs     []chan model.ConnectionHealth
	cancel   context.CancelFunc
}

func NewMonitor(src ConnectionSource, interval time.Duration, log *zap.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	return &Monitor{
		src:      src,
		interval: interval,
		log:      log.Named("health"),
		health:   model.HealthUnknown,
		lastOK:   time.Now(),
	}
}

// Start runs the probe loop until ctx is cancelled or StopMonitoring is
// called. Blocking; run it in its own goroutine.
func (m *Monitor) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-loopCtx.Done():
			return
		case <-ticker.C:
			m.probe(loopCtx)
		}
	}
}

func (m *Monitor) probe(ctx context.Context) {
	dev := m.src.Device()
	if dev == nil {
		m.setHealth(model.HealthDisconnected)
		return
	}
	if m.src.Status() == model.StatusError {
		m.setHealth(model.HealthError)
		return
	}

	m.mu.Lock()
	failed := m.health == model.HealthFailed
	m.mu.Unlock()
	if failed {
		// Capped out; only TriggerReconnection or ResetMonitoring resumes.
		return
	}

	if m.src.CheckReachability(ctx) {
		m.mu.Lock()
		m.attempts = 0
		m.lastOK = time.Now()
		m.mu.Unlock()
		m.setHealth(model.HealthHealthy)
		return
	}

	m.setHealth(model.HealthUnhealthy)
	m.reconnect(ctx, *dev)
}

// reconnect runs one bounded recovery cycle: a cheap link refresh first, a
// full connect as fallback. The attempt counter caps automatic recovery at
// maxReconnectAttempts until an explicit trigger or reset.
func (m *Monitor) reconnect(ctx context.Context, dev model.Device) {
	m.mu.Lock()
	m.attempts++
	attempt := m.attempts
	m.mu.Unlock()

	if attempt > maxReconnectAttempts {
		m.log.Warn("reconnection attempts exhausted", zap.Int("attempts", attempt-1))
		m.setHealth(model.HealthFailed)
		return
	}

	m.setHealth(model.HealthReconnecting)
	metrics.ReconnectAttempts.Inc()
	m.log.Info("reconnecting", zap.Int("attempt", attempt), zap.String("device", dev.ID))

	if err := m.src.Refresh(ctx); err == nil {
		m.log.Info("link refreshed", zap.String("device", dev.ID))
		return
	}
	if err := m.fullConnect(ctx, dev); err != nil {
		m.log.Warn("reconnect failed", zap.Int("attempt", attempt), zap.Error(err))
	}
}

// fullConnect retries the connect a few times with exponential backoff within
// one recovery cycle; the cycle count itself stays bounded by the probe loop.
func (m *Monitor) fullConnect(ctx context.Context, dev model.Device) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = 10 * time.Second

	return backoff.Retry(func() error {
		return m.src.Connect(ctx, dev)
	}, backoff.WithContext(backoff.WithMaxRetries(bo, 2), ctx))
}

// TriggerReconnection resets the attempt counter and immediately runs the
// full-connect fallback, independent of the probe schedule.
func (m *Monitor) TriggerReconnection(ctx context.Context) error {
	dev := m.src.Device()
	if dev == nil {
		return fmt.Errorf("%w: no device to reconnect to", transport.ErrNotConnected)
	}

	m.mu.Lock()
	m.attempts = 0
	m.mu.Unlock()
	m.setHealth(model.HealthReconnecting)
	metrics.ReconnectAttempts.Inc()

	if err := m.fullConnect(ctx, *dev); err != nil {
		m.setHealth(model.HealthUnhealthy)
		return err
	}
	m.mu.Lock()
	m.lastOK = time.Now()
	m.mu.Unlock()
	m.setHealth(model.HealthHealthy)
	return nil
}

// ResetMonitoring clears counters and health and stamps a fresh last-good
// connection time.
func (m *Monitor) ResetMonitoring() {
	m.mu.Lock()
	m.attempts = 0
	m.lastOK = time.Now()
	m.mu.Unlock()
	m.setHealth(model.HealthUnknown)
}

// StopMonitoring halts the probe loop and resets the classification.
func (m *Monitor) StopMonitoring() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.attempts = 0
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.setHealth(model.HealthUnknown)
}

func (m *Monitor) Health() model.ConnectionHealth {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.health
}

func (m *Monitor) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// LastSuccessfulConnection reports when the link last probed healthy.
func (m *Monitor) LastSuccessfulConnection() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastOK
}

// Updates subscribes to health transitions; slow subscribers skip
// intermediate values rather than blocking the probe loop.
func (m *Monitor) Updates() <-chan model.ConnectionHealth {
	ch := make(chan model.ConnectionHealth, feedDepth)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

func (m *Monitor) setHealth(h model.ConnectionHealth) {
	m.mu.Lock()
	if m.health == h {
		m.mu.Unlock()
		return
	}
	m.health = h
	subs := make([]chan model.ConnectionHealth, len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- h:
		default:
		}
	}
}
