// Package bridge connects to a sidecar process that hosts the native CTP
// library and speaks JSON over a websocket.
package bridge

import (
	"time"
)

// Config holds bridge connection configuration.
type Config struct {
	URL string

	// Timeouts
	HandshakeTimeout time.Duration
	RequestTimeout   time.Duration
	ReadTimeout      time.Duration
	PingInterval     time.Duration

	// Rate limiting
	MaxRequestsPerSecond int

	// Reconnection
	AutoReconnect     bool
	ReconnectInterval time.Duration
	MaxReconnectTries int
}

// DefaultConfig returns default bridge configuration.
func DefaultConfig() Config {
	return Config{
		URL:                  "ws://127.0.0.1:8765/ctp",
		HandshakeTimeout:     10 * time.Second,
		RequestTimeout:       10 * time.Second,
		ReadTimeout:          60 * time.Second,
		PingInterval:         20 * time.Second,
		MaxRequestsPerSecond: 5,
		AutoReconnect:        true,
		ReconnectInterval:    5 * time.Second,
		MaxReconnectTries:    10,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.URL == "" {
		c.URL = d.URL
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.MaxRequestsPerSecond <= 0 {
		c.MaxRequestsPerSecond = d.MaxRequestsPerSecond
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = d.ReconnectInterval
	}
	return c
}
