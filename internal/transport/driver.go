// Package transport defines the capability contract shared by the two link
// drivers and the error taxonomy surfaced by connection operations.
package transport

import (
	"context"

	"github.com/aquasense/probelink/internal/model"
)

// Driver is implemented by both transport variants (BLE and local socket).
// A driver owns the raw connection status for its link and reports every
// transition through the handler installed with SetStatusHandler.
type Driver interface {
	// Scan continuously discovers reachable devices, emitting one snapshot
	// list per sweep until ctx is cancelled. It never fails: an underlying
	// error surfaces as an empty list.
	Scan(ctx context.Context) <-chan []model.Device

	// Connect establishes the link and performs the connection handshake.
	// Fails for devices of the wrong transport kind, a disabled platform
	// transport, or an unexpected handshake response.
	Connect(ctx context.Context, dev model.Device) error

	// Disconnect tears the link down. Always leaves status disconnected and
	// is safe to call when already disconnected.
	Disconnect() error

	// StartStreaming sends the stream-start command and emits decoded
	// readings until ctx is cancelled. Undecodable payload lines are dropped,
	// never surfaced as stream errors. Cancellation stops the read loop and
	// reverts status to connected without tearing down the link.
	StartStreaming(ctx context.Context) (<-chan model.Reading, error)

	// StopStreaming sends the stream-stop command; idempotent.
	StopStreaming() error

	// SendCommand writes one command and waits for its acknowledgment line.
	SendCommand(ctx context.Context, cmd string) error

	// IsDeviceCompatible reports whether dev belongs to this driver's
	// transport kind. Pure; used by the orchestrator to route requests.
	IsDeviceCompatible(dev model.Device) bool

	// Kind identifies the transport variant this driver serves. Scan
	// snapshots are attributed to their driver by this value.
	Kind() model.TransportKind

	// CheckReachable performs a lightweight reachability probe against dev
	// without disturbing the active link.
	CheckReachable(ctx context.Context, dev model.Device) bool

	// Refresh re-validates the existing link in place, the cheap first step
	// of the reconnection procedure.
	Refresh(ctx context.Context) error

	// Status returns the current connection status.
	Status() model.ConnectionStatus

	// SetStatusHandler installs the status-transition callback. Must be set
	// before Connect; invoked synchronously on every transition.
	SetStatusHandler(h func(model.ConnectionStatus))
}
