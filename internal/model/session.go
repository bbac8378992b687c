package model

import (
	"errors"
	"strings"
	"time"
)

// SessionMetadata carries free-form context for a measurement session.
type SessionMetadata struct {
	SampleLabel string             `json:"sample_label,omitempty"`
	Conditions  string             `json:"conditions,omitempty"`
	Notes       string             `json:"notes,omitempty"`
	Calibration map[string]float64 `json:"calibration,omitempty"`
}

// SessionBatch is a named, time-bounded collection of readings from a single
// device. Built once on an explicit save request, persisted as an opaque
// artifact, never mutated afterwards.
type SessionBatch struct {
	ID        string          `json:"id"`
	Device    Device          `json:"device"`
	StartTime time.Time       `json:"start_time"`
	EndTime   time.Time       `json:"end_time"`
	Readings  []Reading       `json:"readings"`
	Metadata  SessionMetadata `json:"metadata"`
}

func (b SessionBatch) Validate() error {
	if strings.TrimSpace(b.ID) == "" {
		return errors.New("session: blank id")
	}
	if b.EndTime.Before(b.StartTime) {
		return errors.New("session: end_time before start_time")
	}
	if len(b.Readings) == 0 {
		return errors.New("session: no readings")
	}
	if err := b.Device.Validate(); err != nil {
		return err
	}
	return nil
}
