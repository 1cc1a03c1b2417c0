package manager

import "time"

// Config holds the tunables enumerated in spec.md §6.4, following the
// teacher's pkg/config/queue.go shape: a plain struct of typed fields
// with a DefaultConfig factory.
type Config struct {
	MaxActive         int
	MaxRecent         int
	MaxEventLog       int
	IdleTimeout       time.Duration
	AgentMaxAttempts  int
	HeartbeatInterval time.Duration
}

// DefaultConfig returns the built-in defaults from spec.md §6.4.
func DefaultConfig() Config {
	return Config{
		MaxActive:         8,
		MaxRecent:         100,
		MaxEventLog:       500,
		IdleTimeout:       600 * time.Second,
		AgentMaxAttempts:  2,
		HeartbeatInterval: 15 * time.Second,
	}
}
