// Copyright 2025 Albatross Validators
//
// Driver Configuration
// Tunables for level timeouts, send cadence, and the verification worker pool.
//
package handel

import "time"

// Config tunes one aggregation driver instance. It is deliberately narrow —
// the node-wide YAML configuration (listen addresses, validator identity,
// TLS) lives in pkg/config and is translated into one of these per
// aggregation at StartAggregation time.
type Config struct {
	// LevelTimeout is T_level(l): how long a level waits before the next
	// level opens regardless of completion, applied uniformly to every level.
	LevelTimeout time.Duration
	// RequestTimeout bounds a single point-to-point send/receive round trip.
	RequestTimeout time.Duration
	// SendInterval is the round-robin send cadence: how often the driver
	// advances its per-level peer cursor and transmits.
	SendInterval time.Duration
	// VerifyQueueSize bounds the crypto-verification queue; once full, the
	// lowest-score pending entry is evicted to make room for a new one.
	VerifyQueueSize int
	// VerifyWorkers is the size of the BLS verification worker pool.
	VerifyWorkers int
}

// DefaultConfig returns conservative defaults suitable for a handful of
// validators on a local network.
func DefaultConfig() Config {
	return Config{
		LevelTimeout:    500 * time.Millisecond,
		RequestTimeout:  5 * time.Second,
		SendInterval:    100 * time.Millisecond,
		VerifyQueueSize: 256,
		VerifyWorkers:   4,
	}
}
