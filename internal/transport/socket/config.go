package socket

import "time"

// Config carries the socket driver's tunables. Zero values fall back to the
// defaults below.
type Config struct {
	// ScanHosts are the candidate addresses probed during discovery, with or
	// without an explicit port.
	ScanHosts []string

	// Port is appended to scan hosts that carry none.
	Port int

	ScanInterval    time.Duration
	ScanConcurrency int

	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	ProbeTimeout     time.Duration
}

const (
	defaultPort             = 8899
	defaultScanInterval     = 5 * time.Second
	defaultScanConcurrency  = 8
	defaultHandshakeTimeout = 5 * time.Second
	defaultReadTimeout      = 10 * time.Second
	defaultProbeTimeout     = 2 * time.Second
)

func (c Config) withDefaults() Config {
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.ScanInterval <= 0 {
		c.ScanInterval = defaultScanInterval
	}
	if c.ScanConcurrency <= 0 {
		c.ScanConcurrency = defaultScanConcurrency
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaultHandshakeTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = defaultReadTimeout
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = defaultProbeTimeout
	}
	return c
}
