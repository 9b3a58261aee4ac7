// Package ctp adapts a CTP futures front to the gateway.Session contract.
package ctp

import (
	"time"
)

// Platform is the registry name of the CTP session.
const Platform = "ctp"

// Config holds CTP session configuration.
type Config struct {
	// Readiness wait
	ReadinessTimeout time.Duration
	PollInterval     time.Duration

	// Cap on every synchronous query or submission round-trip
	QueryTimeout time.Duration

	// Flow control; CTP allows about one query per second
	QueryRate  float64
	QueryBurst int

	// Exchange used when a symbol carries no suffix
	Exchange string

	// Event buffer size
	QueueSize int
}

// DefaultConfig returns default CTP session configuration.
func DefaultConfig() Config {
	return Config{
		ReadinessTimeout: 60 * time.Second,
		PollInterval:     2 * time.Second,
		QueryTimeout:     10 * time.Second,
		QueryRate:        1,
		QueryBurst:       5,
		Exchange:         "SHFE",
		QueueSize:        1024,
	}
}

// withDefaults fills every zero field from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ReadinessTimeout <= 0 {
		c.ReadinessTimeout = d.ReadinessTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = d.QueryTimeout
	}
	if c.QueryRate <= 0 {
		c.QueryRate = d.QueryRate
	}
	if c.QueryBurst <= 0 {
		c.QueryBurst = d.QueryBurst
	}
	if c.Exchange == "" {
		c.Exchange = d.Exchange
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	return c
}
