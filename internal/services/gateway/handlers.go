package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/aquasense/probelink/internal/model"
	"github.com/aquasense/probelink/internal/services/session"
	"github.com/aquasense/probelink/internal/storage"
	"github.com/aquasense/probelink/internal/transport"
)

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":                     s.orch.Status(),
		"health":                     s.monitor.Health(),
		"reconnect_attempts":         s.monitor.Attempts(),
		"last_successful_connection": s.monitor.LastSuccessfulConnection().Format(time.RFC3339),
	}
	if dev := s.orch.Device(); dev != nil {
		resp["device"] = dev
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getDevices(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	devs := make([]model.Device, 0)
	for _, snap := range s.scanResults {
		devs = append(devs, snap...)
	}
	s.mu.Unlock()

	sort.Slice(devs, func(i, j int) bool { return devs[i].ID < devs[j].ID })
	writeJSON(w, http.StatusOK, devs)
}

func (s *Server) postConnect(w http.ResponseWriter, r *http.Request) {
	var dev model.Device
	if err := json.NewDecoder(r.Body).Decode(&dev); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := dev.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.orch.Connect(r.Context(), dev); err != nil {
		s.log.Warn("connect failed", zap.String("device", dev.ID), zap.Error(err))
		writeError(w, statusFor(err), err)
		return
	}
	s.monitor.ResetMonitoring()
	writeJSON(w, http.StatusOK, map[string]string{"result": "connected", "device": dev.ID})
}

func (s *Server) postDisconnect(w http.ResponseWriter, r *http.Request) {
	s.stopStream()
	if err := s.orch.Disconnect(); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "disconnected"})
}

func (s *Server) postStreamStart(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	already := s.streamCancel != nil
	s.mu.Unlock()
	if already {
		writeJSON(w, http.StatusOK, map[string]string{"result": "already streaming"})
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := s.orch.StartStreaming(ctx)
	if err != nil {
		cancel()
		writeError(w, statusFor(err), err)
		return
	}

	s.mu.Lock()
	s.streamCancel = cancel
	s.mu.Unlock()

	go func() {
		for reading := range ch {
			s.sessions.Record(reading)
		}
		s.mu.Lock()
		if s.streamCancel != nil {
			s.streamCancel()
			s.streamCancel = nil
		}
		s.mu.Unlock()
	}()

	writeJSON(w, http.StatusOK, map[string]string{"result": "streaming"})
}

func (s *Server) postStreamStop(w http.ResponseWriter, r *http.Request) {
	s.stopStream()
	if err := s.orch.StopStreaming(); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "stopped"})
}

func (s *Server) stopStream() {
	s.mu.Lock()
	cancel := s.streamCancel
	s.streamCancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Server) postCommand(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Command string `json:"command"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Command == "" {
		writeError(w, http.StatusBadRequest, errors.New("command must not be empty"))
		return
	}

	if err := s.orch.SendCommand(r.Context(), req.Command); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "ok", "command": req.Command})
}

func (s *Server) postReconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.monitor.TriggerReconnection(r.Context()); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "reconnected"})
}

func (s *Server) getLatestReading(w http.ResponseWriter, r *http.Request) {
	reading, ok := s.orch.Buffer().GetLatest()
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("no readings buffered"))
		return
	}
	writeJSON(w, http.StatusOK, reading)
}

// getReadingsInRange serves /data?start=<ms>&end=<ms>; both bounds are
// millisecond epochs and inclusive. Omitted bounds default to the full buffer.
func (s *Server) getReadingsInRange(w http.ResponseWriter, r *http.Request) {
	start, err := epochParam(r, "start", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	end, err := epochParam(r, "end", time.Now().UnixMilli())
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, s.orch.Buffer().GetInRange(start, end))
}

func (s *Server) saveSession(w http.ResponseWriter, r *http.Request) {
	var meta model.SessionMetadata
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&meta); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	name, err := s.sessions.SaveCurrent(meta)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"name": name})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	infos, err := s.sessions.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	batch, err := s.sessions.Load(name)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := s.sessions.Delete(name); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "deleted", "name": name})
}

func epochParam(r *http.Request, key string, def int64) (int64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, errors.New(key + " must be a millisecond epoch")
	}
	return v, nil
}

// statusFor maps transport and storage failures onto HTTP status codes so the
// presentation layer can distinguish caller mistakes from device faults.
func statusFor(err error) int {
	switch {
	case errors.Is(err, transport.ErrNotConnected):
		return http.StatusConflict
	case errors.Is(err, transport.ErrIncompatibleDevice):
		return http.StatusBadRequest
	case errors.Is(err, transport.ErrCommandRejected):
		return http.StatusConflict
	case errors.Is(err, transport.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, transport.ErrHandshakeFailure):
		return http.StatusBadGateway
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrNoReadings):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
