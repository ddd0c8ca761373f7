package config

import (
	"fmt"
	"time"
)

// UnityConfig holds the settings for the TCP connection to the Unity editor.
type UnityConfig struct {
	Host string `yaml:"host" env:"UNITYBRIDGE_UNITY_HOST"`
	Port int    `yaml:"port" env:"UNITYBRIDGE_UNITY_PORT"`

	// ConnectAttempts is the number of linear-backoff tries a single
	// connect() call makes before giving up.
	ConnectAttempts int `yaml:"connectAttempts" env:"UNITYBRIDGE_CONNECT_ATTEMPTS"`

	// ReconnectAttempts bounds the supervisor's exponential-backoff
	// reconnect sequence.
	ReconnectAttempts int `yaml:"reconnectAttempts" env:"UNITYBRIDGE_RECONNECT_ATTEMPTS"`
	ReconnectDelay    int `yaml:"reconnectDelay" env:"UNITYBRIDGE_RECONNECT_DELAY"` // seconds, backoff base

	RequestTimeout    int `yaml:"requestTimeout" env:"UNITYBRIDGE_REQUEST_TIMEOUT"`       // seconds
	HandshakeTimeout  int `yaml:"handshakeTimeout" env:"UNITYBRIDGE_HANDSHAKE_TIMEOUT"`   // seconds
	KeepAliveInterval int `yaml:"keepAliveInterval" env:"UNITYBRIDGE_KEEPALIVE_INTERVAL"` // seconds

	MaxFrameSize int `yaml:"maxFrameSize" env:"UNITYBRIDGE_MAX_FRAME_SIZE"` // bytes

	AutoReconnect bool `yaml:"autoReconnect" env:"UNITYBRIDGE_AUTO_RECONNECT"`
}

// Addr returns the host:port dial address for the Unity editor.
func (u UnityConfig) Addr() string {
	return fmt.Sprintf("%s:%d", u.Host, u.Port)
}

// GatewayConfig holds the WebSocket gateway server settings.
type GatewayConfig struct {
	Host string `yaml:"host" env:"UNITYBRIDGE_GATEWAY_HOST"`
	Port int    `yaml:"port" env:"UNITYBRIDGE_GATEWAY_PORT"`
}

// Addr returns the gateway listen address.
func (g GatewayConfig) Addr() string {
	return fmt.Sprintf("%s:%d", g.Host, g.Port)
}

// SchemaConfig controls the periodic capability-schema refresh.
type SchemaConfig struct {
	// RefreshSpec is a robfig/cron schedule (e.g. "@every 5m").
	// Empty disables the periodic refresh.
	RefreshSpec string `yaml:"refreshSpec" env:"UNITYBRIDGE_SCHEMA_REFRESH"`
}

// Config is the root configuration for the bridge.
type Config struct {
	Unity   UnityConfig   `yaml:"unity"`
	Gateway GatewayConfig `yaml:"gateway"`
	Schema  SchemaConfig  `yaml:"schema"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Unity: UnityConfig{
			Host:              "localhost",
			Port:              8080,
			ConnectAttempts:   5,
			ReconnectAttempts: 5,
			ReconnectDelay:    2,
			RequestTimeout:    60,
			HandshakeTimeout:  5,
			KeepAliveInterval: 30,
			MaxFrameSize:      10 * 1024 * 1024,
			AutoReconnect:     true,
		},
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 18800,
		},
		Schema: SchemaConfig{
			RefreshSpec: "@every 5m",
		},
	}
}

// Durations derived from the integer-second fields.

func (u UnityConfig) ReconnectDelayDuration() time.Duration {
	return time.Duration(u.ReconnectDelay) * time.Second
}

func (u UnityConfig) RequestTimeoutDuration() time.Duration {
	return time.Duration(u.RequestTimeout) * time.Second
}

func (u UnityConfig) HandshakeTimeoutDuration() time.Duration {
	return time.Duration(u.HandshakeTimeout) * time.Second
}

func (u UnityConfig) KeepAliveIntervalDuration() time.Duration {
	return time.Duration(u.KeepAliveInterval) * time.Second
}
