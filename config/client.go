package config

import (
	"os"
	"strconv"
	"time"

	"github.com/orchestra-mcp/realtime/src/conn"
	"github.com/orchestra-mcp/realtime/src/heartbeat"
)

// ClientConfig holds the messaging client configuration.
type ClientConfig struct {
	HeartbeatEnabled  bool   `json:"heartbeat_enabled"`
	HeartbeatInterval int    `json:"heartbeat_interval_ms"`
	HeartbeatTimeout  int    `json:"heartbeat_timeout_ms"`
	PingMessage       string `json:"ping_message"`
	PongMessage       string `json:"pong_message"`
	QueueMaxSize      int    `json:"queue_max_size"`
	WriteTimeout      int    `json:"write_timeout_ms"`
	HandshakeTimeout  int    `json:"handshake_timeout_ms"`
	BinaryFrames      bool   `json:"binary_frames"`
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		HeartbeatEnabled:  true,
		HeartbeatInterval: 30000,
		HeartbeatTimeout:  10000,
		PingMessage:       "PING",
		PongMessage:       "PONG",
		QueueMaxSize:      100,
		WriteTimeout:      5000,
		HandshakeTimeout:  10000,
	}
}

// FromEnv loads the configuration from environment variables.
// Falls back to defaults for missing or unparsable values.
func FromEnv() *ClientConfig {
	cfg := DefaultConfig()

	envBool("WS_HEARTBEAT_ENABLED", &cfg.HeartbeatEnabled)
	envInt("WS_HEARTBEAT_INTERVAL_MS", &cfg.HeartbeatInterval)
	envInt("WS_HEARTBEAT_TIMEOUT_MS", &cfg.HeartbeatTimeout)
	if v := os.Getenv("WS_PING_MESSAGE"); v != "" {
		cfg.PingMessage = v
	}
	if v := os.Getenv("WS_PONG_MESSAGE"); v != "" {
		cfg.PongMessage = v
	}
	envInt("WS_QUEUE_MAX_SIZE", &cfg.QueueMaxSize)
	envInt("WS_WRITE_TIMEOUT_MS", &cfg.WriteTimeout)
	envInt("WS_HANDSHAKE_TIMEOUT_MS", &cfg.HandshakeTimeout)
	envBool("WS_BINARY_FRAMES", &cfg.BinaryFrames)
	return cfg
}

// Heartbeat converts the heartbeat settings.
func (c *ClientConfig) Heartbeat() heartbeat.Config {
	return heartbeat.Config{
		Enabled:     c.HeartbeatEnabled,
		Interval:    time.Duration(c.HeartbeatInterval) * time.Millisecond,
		Timeout:     time.Duration(c.HeartbeatTimeout) * time.Millisecond,
		PingMessage: []byte(c.PingMessage),
		PongMessage: []byte(c.PongMessage),
	}
}

// WebSocket converts the transport settings.
func (c *ClientConfig) WebSocket() conn.WebSocketConfig {
	return conn.WebSocketConfig{
		HandshakeTimeout: time.Duration(c.HandshakeTimeout) * time.Millisecond,
		WriteTimeout:     time.Duration(c.WriteTimeout) * time.Millisecond,
		Binary:           c.BinaryFrames,
	}
}

func envInt(key string, dst *int) {
	if s := os.Getenv(key); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			*dst = v
		}
	}
}

func envBool(key string, dst *bool) {
	if s := os.Getenv(key); s != "" {
		if v, err := strconv.ParseBool(s); err == nil {
			*dst = v
		}
	}
}
