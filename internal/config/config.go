// Package config loads daemon configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr string
	LogLevel string

	// Socket transport
	SocketScanHosts []string
	SocketPort      int
	SocketScanEvery time.Duration

	// BLE transport
	BLEEnabled bool

	// Health monitor
	ProbeInterval time.Duration

	// Session storage
	SessionDir string

	// InfluxDB side-writer (disabled when token is empty)
	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string

	// MQTT feed bridge (disabled when host is empty)
	MQTTHost     string
	MQTTPort     int
	MQTTClientID string
	MQTTUser     string
	MQTTPassword string
}

func getenv(k, d string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return d
}

func getenvInt(k string, d int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return d
}

func getenvBool(k string, d bool) bool {
	if v := os.Getenv(k); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return d
}

func getenvDuration(k string, d time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			return dur
		}
	}
	return d
}

func Load() Config {
	return Config{
		HTTPAddr: getenv("HTTP_ADDR", ":5080"),
		LogLevel: getenv("LOG_LEVEL", "info"),

		SocketScanHosts: splitHosts(getenv("SOCKET_SCAN_HOSTS", "127.0.0.1")),
		SocketPort:      getenvInt("SOCKET_PORT", 8899),
		SocketScanEvery: getenvDuration("SOCKET_SCAN_INTERVAL", 5*time.Second),

		BLEEnabled: getenvBool("BLE_ENABLED", true),

		ProbeInterval: getenvDuration("PROBE_INTERVAL", 30*time.Second),

		SessionDir: getenv("SESSION_DIR", "./sessions"),

		InfluxURL:    getenv("INFLUX_URL", "http://influxdb:8086"),
		InfluxToken:  getenv("INFLUX_TOKEN", ""),
		InfluxOrg:    getenv("INFLUX_ORG", "aquasense"),
		InfluxBucket: getenv("INFLUX_BUCKET", "probelink"),

		MQTTHost:     getenv("MQTT_HOST", ""),
		MQTTPort:     getenvInt("MQTT_PORT", 1883),
		MQTTClientID: getenv("MQTT_CLIENT_ID", "probelinkd"),
		MQTTUser:     getenv("MQTT_USER", ""),
		MQTTPassword: getenv("MQTT_PASSWORD", ""),
	}
}

func splitHosts(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
