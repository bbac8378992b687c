// Package decoder turns raw transport payload lines into canonical readings.
//
// Two wire formats are accepted: a structured JSON object (two schema
// variants, detected by key presence) and a 15-field comma-delimited record.
// The JSON path fills defaults for missing fields and never range-fails; the
// delimited path is strict and rejects out-of-range values.
package decoder

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aquasense/probelink/internal/model"
)

var (
	ErrUnrecognizedFormat = errors.New("decoder: unrecognized payload format")
	ErrMalformedPayload   = errors.New("decoder: malformed payload")
	ErrFieldCount         = errors.New("decoder: delimited payload must have 15 fields")
	ErrNotNumeric         = errors.New("decoder: non-numeric delimited field")
	ErrRangeViolation     = errors.New("decoder: value outside physical range")
)

// Defaults applied when a legacy structured payload omits a field.
const (
	defaultPH          = 7.0
	defaultTemperature = 25.0
)

// delimitedFieldCount is the exact number of comma-separated values: eight
// environmental fields followed by seven electrode potentials.
const delimitedFieldCount = 15

// Decode parses one raw payload line owned by deviceID into a canonical
// reading. Dispatch: a trimmed line starting with '{' is structured JSON,
// anything containing a comma is delimited, the rest is unrecognized.
func Decode(raw, deviceID string) (model.Reading, error) {
	s := strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(s, "{"):
		return decodeStructured(s, deviceID)
	case strings.Contains(s, ","):
		return decodeDelimited(s, deviceID)
	default:
		return model.Reading{}, fmt.Errorf("%w: %q", ErrUnrecognizedFormat, truncate(s, 40))
	}
}

// IsValidFormat reports whether raw would pass format dispatch and the
// lightweight shape check, without building a reading. Used to pre-filter
// noisy lines before handing them to Decode.
func IsValidFormat(raw string) bool {
	s := strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(s, "{"):
		return json.Valid([]byte(s))
	case strings.Contains(s, ","):
		parts := strings.Split(s, ",")
		if len(parts) != delimitedFieldCount {
			return false
		}
		for _, p := range parts {
			if _, err := strconv.ParseFloat(strings.TrimSpace(p), 64); err != nil {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// compactTags maps top-level compact-shape keys onto electrode slots. The
// presence of any of these keys selects the compact schema variant.
var compactTags = []string{"Pt", "Ag", "AgCl", "SS", "Cu", "C", "Zn"}

func decodeStructured(s, deviceID string) (model.Reading, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return model.Reading{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if isCompact(obj) {
		return decodeCompact(obj, deviceID), nil
	}
	return decodeLegacy(obj, deviceID), nil
}

func isCompact(obj map[string]json.RawMessage) bool {
	for _, tag := range compactTags {
		if _, ok := obj[tag]; ok {
			return true
		}
	}
	return false
}

// legacyEnv mirrors the nested "sensors" object of the legacy schema.
// Pointer fields distinguish absent from zero so defaults can apply.
type legacyEnv struct {
	PH          *float64 `json:"ph"`
	TDS         *float64 `json:"tds"`
	UV          *float64 `json:"uv"`
	Temperature *float64 `json:"temperature"`
	Moisture    *float64 `json:"moisture"`
	Color       *struct {
		R *int `json:"r"`
		G *int `json:"g"`
		B *int `json:"b"`
	} `json:"color"`
}

// legacyElectrodes mirrors the nested "electrodes" object (short codes).
type legacyElectrodes struct {
	Pt   *float64 `json:"pt"`
	Ag   *float64 `json:"ag"`
	AgCl *float64 `json:"agcl"`
	SS   *float64 `json:"ss"`
	Cu   *float64 `json:"cu"`
	C    *float64 `json:"c"`
	Zn   *float64 `json:"zn"`
}

func decodeLegacy(obj map[string]json.RawMessage, deviceID string) model.Reading {
	var env legacyEnv
	if raw, ok := obj["sensors"]; ok {
		_ = json.Unmarshal(raw, &env)
	}
	var el legacyElectrodes
	if raw, ok := obj["electrodes"]; ok {
		_ = json.Unmarshal(raw, &el)
	}

	r := model.Reading{
		Timestamp:   decodeTimestamp(obj["timestamp"]),
		DeviceID:    deviceID,
		PH:          orDefault(env.PH, defaultPH),
		TDS:         orDefault(env.TDS, 0),
		UV:          orDefault(env.UV, 0),
		Temperature: orDefault(env.Temperature, defaultTemperature),
		Moisture:    orDefault(env.Moisture, 0),
		Electrodes: model.Electrodes{
			Pt:   orDefault(el.Pt, 0),
			Ag:   orDefault(el.Ag, 0),
			AgCl: orDefault(el.AgCl, 0),
			SS:   orDefault(el.SS, 0),
			Cu:   orDefault(el.Cu, 0),
			C:    orDefault(el.C, 0),
			Zn:   orDefault(el.Zn, 0),
		},
	}
	if env.Color != nil {
		r.Color = model.Color{
			R: orDefaultInt(env.Color.R, 0),
			G: orDefaultInt(env.Color.G, 0),
			B: orDefaultInt(env.Color.B, 0),
		}
	}
	return r
}

// compactPayload mirrors the flat compact schema: short environmental keys
// plus electrode tags at top level.
type compactPayload struct {
	Temp *float64 `json:"Temp"`
	PH   *float64 `json:"pH"`
	TDS  *float64 `json:"TDS"`
	UV   *float64 `json:"UV"`
	Soil *float64 `json:"Soil"`
	Pt   *float64 `json:"Pt"`
	Ag   *float64 `json:"Ag"`
	AgCl *float64 `json:"AgCl"`
	SS   *float64 `json:"SS"`
	Cu   *float64 `json:"Cu"`
	C    *float64 `json:"C"`
	Zn   *float64 `json:"Zn"`
}

func decodeCompact(obj map[string]json.RawMessage, deviceID string) model.Reading {
	// Re-marshal is avoided: fields decode individually from the raw map so a
	// single bad value does not discard the rest of the packet.
	var p compactPayload
	for key, dst := range map[string]**float64{
		"Temp": &p.Temp, "pH": &p.PH, "TDS": &p.TDS, "UV": &p.UV, "Soil": &p.Soil,
		"Pt": &p.Pt, "Ag": &p.Ag, "AgCl": &p.AgCl, "SS": &p.SS, "Cu": &p.Cu, "C": &p.C, "Zn": &p.Zn,
	} {
		raw, ok := obj[key]
		if !ok {
			continue
		}
		var v float64
		if err := json.Unmarshal(raw, &v); err == nil {
			*dst = &v
		}
	}

	return model.Reading{
		Timestamp:   decodeTimestamp(obj["timestamp"]),
		DeviceID:    deviceID,
		PH:          orDefault(p.PH, defaultPH),
		TDS:         orDefault(p.TDS, 0),
		UV:          orDefault(p.UV, 0),
		Temperature: orDefault(p.Temp, defaultTemperature),
		Moisture:    orDefault(p.Soil, 0),
		Electrodes: model.Electrodes{
			Pt:   orDefault(p.Pt, 0),
			Ag:   orDefault(p.Ag, 0),
			AgCl: orDefault(p.AgCl, 0),
			SS:   orDefault(p.SS, 0),
			Cu:   orDefault(p.Cu, 0),
			C:    orDefault(p.C, 0),
			Zn:   orDefault(p.Zn, 0),
		},
	}
}

func decodeDelimited(s, deviceID string) (model.Reading, error) {
	parts := strings.Split(s, ",")
	if len(parts) != delimitedFieldCount {
		return model.Reading{}, fmt.Errorf("%w: got %d", ErrFieldCount, len(parts))
	}

	vals := make([]float64, delimitedFieldCount)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return model.Reading{}, fmt.Errorf("%w: field %d %q", ErrNotNumeric, i, strings.TrimSpace(p))
		}
		vals[i] = v
	}

	r := model.Reading{
		Timestamp:   time.Now().UnixMilli(),
		DeviceID:    deviceID,
		PH:          vals[0],
		TDS:         vals[1],
		UV:          vals[2],
		Temperature: vals[3],
		Color:       model.Color{R: int(vals[4]), G: int(vals[5]), B: int(vals[6])},
		Moisture:    vals[7],
		Electrodes:  model.ElectrodesFromSlice([7]float64{vals[8], vals[9], vals[10], vals[11], vals[12], vals[13], vals[14]}),
	}
	if err := r.Validate(); err != nil {
		return model.Reading{}, fmt.Errorf("%w: %v", ErrRangeViolation, err)
	}
	return r, nil
}

// EncodeDelimited renders a reading as the 15-field delimited wire form, the
// inverse of the delimited decode path.
func EncodeDelimited(r model.Reading) string {
	el := r.Electrodes.Slice()
	fields := []string{
		formatFloat(r.PH),
		formatFloat(r.TDS),
		formatFloat(r.UV),
		formatFloat(r.Temperature),
		strconv.Itoa(r.Color.R),
		strconv.Itoa(r.Color.G),
		strconv.Itoa(r.Color.B),
		formatFloat(r.Moisture),
	}
	for _, v := range el {
		fields = append(fields, formatFloat(v))
	}
	return strings.Join(fields, ",")
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// decodeTimestamp reads the top-level timestamp field. A textual value with a
// date-time separator parses as an absolute time; a bare number is taken as
// epoch-milliseconds; anything missing or unparsable falls back to now.
func decodeTimestamp(raw json.RawMessage) int64 {
	now := time.Now().UnixMilli()
	if len(raw) == 0 {
		return now
	}

	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		if n > 0 {
			return n
		}
		return now
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return now
	}
	s = strings.TrimSpace(s)
	if strings.ContainsAny(s, "T-: ") {
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UnixMilli()
			}
		}
		return now
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil && n > 0 {
		return n
	}
	return now
}

func orDefault(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func orDefaultInt(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
