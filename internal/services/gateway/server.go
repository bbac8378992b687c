// Package gateway exposes the imperative control surface to the presentation
// layer over HTTP, alongside health and metrics endpoints.
package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/aquasense/probelink/internal/metrics"
	"github.com/aquasense/probelink/internal/model"
	"github.com/aquasense/probelink/internal/services/connection"
	"github.com/aquasense/probelink/internal/services/health"
	"github.com/aquasense/probelink/internal/services/session"
)

type Server struct {
	server   *http.Server
	orch     *connection.Orchestrator
	monitor  *health.Monitor
	sessions *session.Service
	log      *zap.Logger

	mu           sync.Mutex
	scanResults  map[model.TransportKind][]model.Device
	streamCancel context.CancelFunc
}

func NewServer(addr string, orch *connection.Orchestrator, monitor *health.Monitor, sessions *session.Service, log *zap.Logger) *Server {
	router := mux.NewRouter()

	s := &Server{
		server: &http.Server{
			Addr:         addr,
			Handler:      router,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		orch:        orch,
		monitor:     monitor,
		sessions:    sessions,
		log:         log.Named("gateway"),
		scanResults: make(map[model.TransportKind][]model.Device),
	}

	router.Use(s.loggingMiddleware)
	router.Use(s.metricsMiddleware)

	router.HandleFunc("/healthz", s.healthz).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	router.HandleFunc("/status", s.getStatus).Methods("GET")
	router.HandleFunc("/devices", s.getDevices).Methods("GET")
	router.HandleFunc("/connect", s.postConnect).Methods("POST")
	router.HandleFunc("/disconnect", s.postDisconnect).Methods("POST")
	router.HandleFunc("/stream/start", s.postStreamStart).Methods("POST")
	router.HandleFunc("/stream/stop", s.postStreamStop).Methods("POST")
	router.HandleFunc("/command", s.postCommand).Methods("POST")
	router.HandleFunc("/reconnect", s.postReconnect).Methods("POST")

	router.HandleFunc("/data/latest", s.getLatestReading).Methods("GET")
	router.HandleFunc("/data", s.getReadingsInRange).Methods("GET")

	router.HandleFunc("/sessions", s.listSessions).Methods("GET")
	router.HandleFunc("/sessions/save", s.saveSession).Methods("POST")
	router.HandleFunc("/sessions/{name}", s.getSession).Methods("GET")
	router.HandleFunc("/sessions/{name}", s.deleteSession).Methods("DELETE")

	return s
}

func (s *Server) Start() error {
	s.log.Info("starting http server", zap.String("addr", s.server.Addr))
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// TrackScan consumes discovery snapshots and keeps the freshest device set
// for GET /devices. Every snapshot replaces what was known for its transport
// kind, so devices that drop out of scan results disappear from the listing.
// Blocking; run in its own goroutine.
func (s *Server) TrackScan(ctx context.Context, ch <-chan connection.ScanSnapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-ch:
			if !ok {
				return
			}
			s.mu.Lock()
			s.scanResults[snap.Kind] = snap.Devices
			s.mu.Unlock()
		}
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)))
	})
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		metrics.HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}
