package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aquasense/probelink/internal/logger"
	"github.com/aquasense/probelink/internal/simulator"
)

func env(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func main() {
	zl, err := logger.New(env("LOG_LEVEL", "info"))
	if err != nil {
		log.Fatalf("probesim: logger: %v", err)
	}
	defer zl.Sync()

	interval, err := time.ParseDuration(env("EMIT_INTERVAL", "1s"))
	if err != nil {
		log.Fatalf("probesim: bad EMIT_INTERVAL: %v", err)
	}

	sim := simulator.New(simulator.Config{
		Addr:         env("LISTEN_ADDR", ":8899"),
		DeviceID:     env("DEVICE_ID", "sim-probe"),
		EmitInterval: interval,
	}, zl)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		cancel()
	}()

	if err := sim.Start(ctx); err != nil {
		log.Fatalf("probesim: %v", err)
	}
}
