package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"go.uber.org/zap"

	"github.com/aquasense/probelink/internal/buffer"
	"github.com/aquasense/probelink/internal/config"
	"github.com/aquasense/probelink/internal/feeds"
	"github.com/aquasense/probelink/internal/logger"
	"github.com/aquasense/probelink/internal/services/connection"
	"github.com/aquasense/probelink/internal/services/gateway"
	"github.com/aquasense/probelink/internal/services/health"
	"github.com/aquasense/probelink/internal/services/session"
	"github.com/aquasense/probelink/internal/storage"
	"github.com/aquasense/probelink/internal/transport"
	"github.com/aquasense/probelink/internal/transport/ble"
	"github.com/aquasense/probelink/internal/transport/socket"
	"github.com/aquasense/probelink/pkg/mqtt"
)

func main() {
	cfg := config.Load()

	zl, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("probelinkd: logger: %v", err)
	}
	defer zl.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// === Transports ===
	drivers := []transport.Driver{
		socket.NewDriver(socket.Config{
			ScanHosts:    cfg.SocketScanHosts,
			Port:         cfg.SocketPort,
			ScanInterval: cfg.SocketScanEvery,
		}, zl),
	}
	if cfg.BLEEnabled {
		drivers = append(drivers, ble.NewDriver(ble.Config{}, zl))
	}

	// === Core pipeline ===
	buf := buffer.New(buffer.DefaultCapacity)
	orch := connection.NewOrchestrator(buf, zl, drivers...)
	monitor := health.NewMonitor(orch, cfg.ProbeInterval, zl)
	go monitor.Start(ctx)

	// === Session storage ===
	fileStore, err := storage.NewFileStore(cfg.SessionDir)
	if err != nil {
		zl.Fatal("session store", zap.Error(err))
	}
	store := storage.NewBreakerStore(fileStore)

	// === InfluxDB side-writer (optional) ===
	var writer *session.InfluxWriter
	if cfg.InfluxToken != "" {
		influx := influxdb2.NewClient(cfg.InfluxURL, cfg.InfluxToken)
		defer influx.Close()
		writer = session.NewInfluxWriter(influx.WriteAPI(cfg.InfluxOrg, cfg.InfluxBucket), zl)
	}
	sessions := session.NewService(store, buf, orch, writer, zl)

	// === HTTP control surface ===
	srv := gateway.NewServer(cfg.HTTPAddr, orch, monitor, sessions, zl)
	go srv.TrackScan(ctx, orch.Scan(ctx))
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("http server", zap.Error(err))
		}
	}()

	// === MQTT feed bridge (optional) ===
	if cfg.MQTTHost != "" {
		client, err := mqtt.NewConn(ctx, mqtt.Config{
			Host:     cfg.MQTTHost,
			Port:     cfg.MQTTPort,
			User:     cfg.MQTTUser,
			Password: cfg.MQTTPassword,
			ClientID: cfg.MQTTClientID,
		}, zl)
		if err != nil {
			zl.Fatal("mqtt connection", zap.Error(err))
		}
		bridge := feeds.NewBridge(client,
			orch.StatusUpdates(), monitor.Updates(), orch.ReadingUpdates(),
			orch, zl)
		go bridge.Start(ctx)
	}

	zl.Info("probelinkd up",
		zap.String("http", cfg.HTTPAddr),
		zap.Bool("ble", cfg.BLEEnabled),
		zap.Strings("scan_hosts", cfg.SocketScanHosts))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	zl.Info("shutting down")

	cancel()
	monitor.StopMonitoring()
	_ = orch.Disconnect()

	shCtx, shCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shCancel()
	_ = srv.Shutdown(shCtx)

	if writer != nil {
		writer.Flush()
	}
}
