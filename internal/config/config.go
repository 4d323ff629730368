package config

import (
	"runtime"
	"time"
)

// Config holds engine configuration.
type Config struct {
	GameDirectory         string
	ChunksDirectory       string
	PredownloadStatusPath string

	Workers         int
	HTTPTimeout     time.Duration
	EventBufferSize int
	MetricsAddress  string
}

// DefaultConfig returns default configuration. Directory paths have no
// sensible defaults and stay empty for the caller to fill in.
func DefaultConfig() *Config {
	return &Config{
		Workers:         runtime.NumCPU(),
		HTTPTimeout:     60 * time.Second,
		EventBufferSize: 100,
	}
}
