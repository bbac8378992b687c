package model

import (
	"errors"
	"strings"
)

// TransportKind identifies the physical link a device is reachable over.
type TransportKind string

const (
	TransportBLE    TransportKind = "ble"
	TransportSocket TransportKind = "socket"
)

// Device describes a discovered measurement unit. Instances are built at scan
// time and never mutated afterwards; a new scan result replaces the old one.
type Device struct {
	ID      string        `json:"id"`
	Name    string        `json:"name"`
	Address string        `json:"address"` // MAC for BLE, host:port for socket
	RSSI    int           `json:"rssi"`    // higher = stronger
	Kind    TransportKind `json:"kind"`
}

func (d Device) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return errors.New("device: blank id")
	}
	if strings.TrimSpace(d.Address) == "" {
		return errors.New("device: blank address")
	}
	return nil
}
