package model

// ConnectionStatus is the raw state of the active transport link. It is owned
// by the driver and only mirrored by the orchestrator.
//
// Transitions: disconnected -> connecting -> connected -> streaming -> connected
// on stream stop; any state -> disconnected on explicit disconnect; connecting
// or streaming -> error on handshake/read failure. Error recovers only through
// a fresh Connect.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusStreaming    ConnectionStatus = "streaming"
	StatusError        ConnectionStatus = "error"
)

// ConnectionHealth is the recovery-oriented classification layered on top of
// ConnectionStatus. Written exclusively by the health monitor.
type ConnectionHealth string

const (
	HealthUnknown      ConnectionHealth = "unknown"
	HealthHealthy      ConnectionHealth = "healthy"
	HealthUnhealthy    ConnectionHealth = "unhealthy"
	HealthConnecting   ConnectionHealth = "connecting"
	HealthReconnecting ConnectionHealth = "reconnecting"
	HealthDisconnected ConnectionHealth = "disconnected"
	HealthError        ConnectionHealth = "error"
	HealthFailed       ConnectionHealth = "failed"
)
