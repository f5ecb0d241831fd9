// Package config - defaults.go centralizes default values.
//
// DESIGN: Every default that appears in more than one place is named here so
// it can be audited in one pass.
package config

import "time"

// Server defaults.
const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 3000

	// DefaultReadTimeout bounds request header+body reads.
	DefaultReadTimeout = 1 * time.Minute

	// DefaultWriteTimeout must stay generous: streaming responses are
	// open-ended.
	DefaultWriteTimeout = 10 * time.Minute
)

// DefaultChannelCapacity bounds the per-request stream event channel.
const DefaultChannelCapacity = 100

// MaxRequestBodySize caps inbound request bodies (10MB).
const MaxRequestBodySize = 10 * 1024 * 1024

// DefaultTelemetryPath is where the sqlite request-event store lives.
const DefaultTelemetryPath = "telemetry.db"
