package collab

import "time"

// Config holds the collaboration core's tunables. Both the OT pipeline
// (pkg/collab) and the CRDT pipeline (pkg/crdt) read from one shared Config
// so the two share the session lifetime and presence knobs.
type Config struct {
	MaxOperationHistorySize int // operationHistory cap per session. Default: 1000

	SessionTimeoutMinutes int // idle-to-reclaimed timeout. Default: 30

	MaxConcurrentUsersPerSession int // hard cap enforced at Join; over-capacity joins are rejected. Default: 10

	CursorBroadcastMinInterval time.Duration // debounce window for cursor fan-out. Default: 1s

	AutoCleanupInterval time.Duration // idle-session sweep period. Default: 10m

	PresenceEnabled    bool          // whether presence tracking runs at all. Default: true
	PresenceTTL        time.Duration // presence entries older than this without a heartbeat are pruned. Default: 30s
	PresenceColorCount int           // how many leading DefaultColorPalette colors Join hashes into. Default: len(DefaultColorPalette)

	// MaxUpdateBytes and the checkpoint policy are consumed by pkg/crdt but
	// live here so one Config wires both pipelines from one flag set.
	MaxUpdateBytes        int           // Default: 32768 (32 KiB)
	CheckpointMaxUpdates  int           // Default: 500
	CheckpointMaxSeconds  time.Duration // Default: 20s
}

// DefaultConfig returns the spec-mandated defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxOperationHistorySize:      1000,
		SessionTimeoutMinutes:        30,
		MaxConcurrentUsersPerSession: 10,
		CursorBroadcastMinInterval:   1 * time.Second,
		AutoCleanupInterval:          10 * time.Minute,
		PresenceEnabled:              true,
		PresenceTTL:                  30 * time.Second,
		PresenceColorCount:           len(DefaultColorPalette),
		MaxUpdateBytes:               32 * 1024,
		CheckpointMaxUpdates:         500,
		CheckpointMaxSeconds:         20 * time.Second,
	}
}

// IdleTimeout returns SessionTimeoutMinutes as a time.Duration.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.SessionTimeoutMinutes) * time.Minute
}
