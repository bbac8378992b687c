package session

import (
	"sync"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"

	"github.com/aquasense/probelink/internal/model"
)

const readingMeasurement = "sensor_reading"

// InfluxWriter streams readings to InfluxDB through the async write API and
// tracks the age of the last write error for the health endpoint.
type InfluxWriter struct {
	api api.WriteAPI
	log *zap.Logger

	mu      sync.RWMutex
	lastErr time.Time
}

func NewInfluxWriter(w api.WriteAPI, log *zap.Logger) *InfluxWriter {
	iw := &InfluxWriter{
		api:     w,
		log:     log.Named("influx"),
		lastErr: time.Now().Add(-24 * time.Hour),
	}
	go func() {
		for err := range w.Errors() {
			if err != nil {
				iw.mu.Lock()
				iw.lastErr = time.Now()
				iw.mu.Unlock()
				iw.log.Warn("influx write error", zap.Error(err))
			}
		}
	}()
	return iw
}

func (w *InfluxWriter) Write(r model.Reading) {
	tags := map[string]string{
		"device_id": r.DeviceID,
	}
	el := r.Electrodes
	fields := map[string]interface{}{
		"ph":             r.PH,
		"tds":            r.TDS,
		"uv":             r.UV,
		"temperature":    r.Temperature,
		"moisture":       r.Moisture,
		"color_r":        r.Color.R,
		"color_g":        r.Color.G,
		"color_b":        r.Color.B,
		"electrode_pt":   el.Pt,
		"electrode_ag":   el.Ag,
		"electrode_agcl": el.AgCl,
		"electrode_ss":   el.SS,
		"electrode_cu":   el.Cu,
		"electrode_c":    el.C,
		"electrode_zn":   el.Zn,
	}
	point := write.NewPoint(readingMeasurement, tags, fields, time.UnixMilli(r.Timestamp))
	w.api.WritePoint(point)
}

// LastErrorAge reports how long writes have gone without an error.
func (w *InfluxWriter) LastErrorAge() time.Duration {
	if w == nil {
		return 99999 * time.Hour
	}
	w.mu.RLock()
	t := w.lastErr
	w.mu.RUnlock()
	return time.Since(t)
}

// Flush forces buffered points out, used on shutdown.
func (w *InfluxWriter) Flush() {
	if w != nil {
		w.api.Flush()
	}
}
