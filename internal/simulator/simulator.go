// Package simulator emulates a probe unit on a TCP socket. It speaks the
// newline wire protocol the socket driver expects and pushes synthetic
// readings while a stream is active, alternating between the delimited and
// the structured JSON wire formats.
package simulator

import (
	"bufio"
	"context"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aquasense/probelink/internal/decoder"
	"github.com/aquasense/probelink/internal/model"
)

const DefaultEmitInterval = time.Second

type Config struct {
	Addr         string
	DeviceID     string
	EmitInterval time.Duration
}

// Simulator accepts any number of concurrent clients, each with its own
// stream state.
type Simulator struct {
	cfg Config
	log *zap.Logger

	// CommandHandler answers commands outside the stream control set. The
	// default acknowledges everything with OK.
	CommandHandler func(cmd string) string

	mu sync.Mutex
	ln net.Listener
}

func New(cfg Config, log *zap.Logger) *Simulator {
	if cfg.EmitInterval <= 0 {
		cfg.EmitInterval = DefaultEmitInterval
	}
	if cfg.DeviceID == "" {
		cfg.DeviceID = "sim-probe"
	}
	return &Simulator{
		cfg:            cfg,
		log:            log.Named("simulator"),
		CommandHandler: func(string) string { return "OK" },
	}
}

// Start binds the listener and serves until ctx is cancelled. Blocking.
func (s *Simulator) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("simulator: listen %s: %w", s.cfg.Addr, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	s.log.Info("simulator listening", zap.String("addr", ln.Addr().String()))

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("simulator: accept: %w", err)
		}
		go s.serveConn(ctx, conn)
	}
}

// Addr returns the bound listen address, valid once Start has bound.
func (s *Simulator) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *Simulator) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		writeMu    sync.Mutex
		streamStop context.CancelFunc
	)
	defer func() {
		if streamStop != nil {
			streamStop()
		}
	}()
	send := func(line string) {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
		_, _ = conn.Write([]byte(line + "\n"))
	}

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.TrimSpace(line)

		switch cmd {
		case "":
			// Blank keepalive lines are ignored.
		case "CONNECT":
			send("CONNECTED")
		case "START_STREAM":
			if streamStop == nil {
				streamCtx, stop := context.WithCancel(connCtx)
				streamStop = stop
				go s.emit(streamCtx, send)
			}
		case "STOP_STREAM":
			if streamStop != nil {
				streamStop()
				streamStop = nil
			}
		case "DISCONNECT":
			return
		default:
			send(s.CommandHandler(cmd))
		}
	}
}

// emit pushes one synthetic reading per interval until stopped, alternating
// wire formats so both decode paths get exercised.
func (s *Simulator) emit(ctx context.Context, send func(string)) {
	ticker := time.NewTicker(s.cfg.EmitInterval)
	defer ticker.Stop()

	delimited := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r := s.synthesize()
			if delimited {
				send(decoder.EncodeDelimited(r))
			} else {
				send(encodeLegacyJSON(r))
			}
			delimited = !delimited
		}
	}
}

// synthesize draws a plausible sample: drifting pH around neutral, room
// temperature, modest electrode potentials.
func (s *Simulator) synthesize() model.Reading {
	return model.Reading{
		Timestamp:   time.Now().UnixMilli(),
		DeviceID:    s.cfg.DeviceID,
		PH:          clamp(7.0+rand.NormFloat64()*0.5, 0, 14),
		TDS:         200 + rand.Float64()*300,
		UV:          rand.Float64() * 10,
		Temperature: clamp(22+rand.NormFloat64()*3, -40, 125),
		Color:       model.Color{R: rand.Intn(256), G: rand.Intn(256), B: rand.Intn(256)},
		Moisture:    clamp(40+rand.NormFloat64()*15, 0, 100),
		Electrodes: model.Electrodes{
			Pt:   rand.NormFloat64() * 0.3,
			Ag:   rand.NormFloat64() * 0.3,
			AgCl: rand.NormFloat64() * 0.3,
			SS:   rand.NormFloat64() * 0.3,
			Cu:   rand.NormFloat64() * 0.3,
			C:    rand.NormFloat64() * 0.3,
			Zn:   rand.NormFloat64() * 0.3,
		},
	}
}

func encodeLegacyJSON(r model.Reading) string {
	return fmt.Sprintf(
		`{"timestamp":%d,"sensors":{"ph":%.3f,"tds":%.1f,"uv":%.2f,"temperature":%.2f,"moisture":%.1f,"color":{"r":%d,"g":%d,"b":%d}},"electrodes":{"pt":%.4f,"ag":%.4f,"agcl":%.4f,"ss":%.4f,"cu":%.4f,"c":%.4f,"zn":%.4f}}`,
		r.Timestamp, r.PH, r.TDS, r.UV, r.Temperature, r.Moisture,
		r.Color.R, r.Color.G, r.Color.B,
		r.Electrodes.Pt, r.Electrodes.Ag, r.Electrodes.AgCl, r.Electrodes.SS,
		r.Electrodes.Cu, r.Electrodes.C, r.Electrodes.Zn,
	)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
