package core

import "time"

const ServiceName = "logmux"

// Shared defaults, referenced by config and sources
const (
	DefaultPollInterval = 500 * time.Millisecond
	MinPollInterval     = 10 * time.Millisecond
	DefaultMaxLineBytes = 1 << 20
	DefaultQueueSize    = 1000
)
