package socket

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aquasense/probelink/internal/model"
)

func TestScanFindsListeningUnit(t *testing.T) {
	_, addr := startSim(t, time.Second)

	cfg := testConfig()
	cfg.ScanHosts = []string{addr, "127.0.0.1:1"}
	cfg.ScanInterval = 50 * time.Millisecond
	d := NewDriver(cfg, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for devs := range d.Scan(ctx) {
		if len(devs) == 0 {
			continue
		}
		require.Len(t, devs, 1)
		assert.Equal(t, addr, devs[0].Address)
		assert.Equal(t, model.TransportSocket, devs[0].Kind)
		assert.Equal(t, "probe-unit@127.0.0.1", devs[0].Name)
		return
	}
	t.Fatal("scan never reported the listening unit")
}

func TestScanEmptyHostsEmitsEmptySnapshots(t *testing.T) {
	cfg := testConfig()
	cfg.ScanInterval = 10 * time.Millisecond
	d := NewDriver(cfg, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	ch := d.Scan(ctx)

	select {
	case devs := <-ch:
		assert.Empty(t, devs)
	case <-time.After(time.Second):
		t.Fatal("no sweep emitted")
	}

	cancel()
	assert.Eventually(t, func() bool {
		_, open := <-ch
		return !open
	}, time.Second, 5*time.Millisecond)
}

func TestNormalizeAppendsDefaultPort(t *testing.T) {
	d := NewDriver(Config{Port: 9000}, zap.NewNop())
	assert.Equal(t, "10.0.0.5:9000", d.normalize("10.0.0.5"))
	assert.Equal(t, "10.0.0.5:1234", d.normalize("10.0.0.5:1234"))
}
