package model

import (
	"fmt"
	"math"
	"strings"
)

// Color is an RGB triple read from the optical sensor, each channel 0..255.
type Color struct {
	R int `json:"r"`
	G int `json:"g"`
	B int `json:"b"`
}

// Electrodes holds the seven electrode potentials in volts. Values may be
// negative and have no fixed bound, but must be finite.
type Electrodes struct {
	Pt   float64 `json:"pt"`
	Ag   float64 `json:"ag"`
	AgCl float64 `json:"agcl"`
	SS   float64 `json:"ss"`
	Cu   float64 `json:"cu"`
	C    float64 `json:"c"`
	Zn   float64 `json:"zn"`
}

// Slice returns the potentials in wire order: Pt, Ag, AgCl, SS, Cu, C, Zn.
func (e Electrodes) Slice() [7]float64 {
	return [7]float64{e.Pt, e.Ag, e.AgCl, e.SS, e.Cu, e.C, e.Zn}
}

// ElectrodesFromSlice builds Electrodes from wire-ordered values.
func ElectrodesFromSlice(v [7]float64) Electrodes {
	return Electrodes{Pt: v[0], Ag: v[1], AgCl: v[2], SS: v[3], Cu: v[4], C: v[5], Zn: v[6]}
}

// Reading is the canonical, wire-format-independent representation of one
// sensor sample. Created only by the packet decoder; immutable afterwards.
type Reading struct {
	Timestamp   int64      `json:"timestamp"` // ms since epoch
	DeviceID    string     `json:"device_id"`
	PH          float64    `json:"ph"`
	TDS         float64    `json:"tds"`
	UV          float64    `json:"uv"`
	Temperature float64    `json:"temperature"`
	Color       Color      `json:"color"`
	Moisture    float64    `json:"moisture"`
	Electrodes  Electrodes `json:"electrodes"`
}

// Validate checks every field against its physical range. A reading is valid
// iff all numeric fields are finite and within bounds.
func (r Reading) Validate() error {
	if r.Timestamp <= 0 {
		return fmt.Errorf("reading: timestamp %d not positive", r.Timestamp)
	}
	if strings.TrimSpace(r.DeviceID) == "" {
		return fmt.Errorf("reading: blank device id")
	}
	if !finite(r.PH) || r.PH < 0 || r.PH > 14 {
		return fmt.Errorf("reading: ph %v outside 0-14", r.PH)
	}
	if !finite(r.TDS) || r.TDS < 0 {
		return fmt.Errorf("reading: tds %v negative", r.TDS)
	}
	if !finite(r.UV) || r.UV < 0 {
		return fmt.Errorf("reading: uv %v negative", r.UV)
	}
	if !finite(r.Temperature) || r.Temperature < -40 || r.Temperature > 125 {
		return fmt.Errorf("reading: temperature %v outside -40..125", r.Temperature)
	}
	for _, c := range []int{r.Color.R, r.Color.G, r.Color.B} {
		if c < 0 || c > 255 {
			return fmt.Errorf("reading: color channel %d outside 0-255", c)
		}
	}
	if !finite(r.Moisture) || r.Moisture < 0 || r.Moisture > 100 {
		return fmt.Errorf("reading: moisture %v outside 0-100", r.Moisture)
	}
	for _, v := range r.Electrodes.Slice() {
		if !finite(v) {
			return fmt.Errorf("reading: non-finite electrode value")
		}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
