package server

import "time"

// Config holds the collaboration server's configuration.
type Config struct {
	Host string // Server host address
	Port int    // Server port

	ReadTimeout    time.Duration // HTTP read timeout
	WriteTimeout   time.Duration // HTTP write timeout
	IdleTimeout    time.Duration // HTTP idle timeout
	MaxRequestSize int64         // Maximum request body size in bytes

	EnableCORS     bool     // Enable CORS middleware
	AllowedOrigins []string // CORS allowed origins
	AllowedMethods []string // CORS allowed methods
	AllowedHeaders []string // CORS allowed headers

	EnableLogging bool   // Enable request logging
	LogFormat     string // Log format (text or json)

	// TLS/SSL configuration
	EnableTLS   bool   // Enable TLS/SSL
	TLSCertFile string // Path to TLS certificate file
	TLSKeyFile  string // Path to TLS private key file

	// PageCacheSize and PageCacheTTL size the in-memory page/revision store's
	// read cache (§6 Persistence layout).
	PageCacheSize int
	PageCacheTTL  time.Duration

	// CheckpointSweepInterval is how often the background checkpointer scans
	// open CRDT sessions for fold eligibility (§4.6).
	CheckpointSweepInterval time.Duration

	// EditTokenPassphrase and EditTokenSalt derive the signing key for the
	// stand-in token authorizer (§6). A production deployment replaces this
	// with a call into its own identity service.
	EditTokenPassphrase string
	EditTokenSalt       []byte

	// Collab holds the tunables shared by both collaboration pipelines
	// (session limits, checkpoint policy, presence). See pkg/collab.Config.
	Collab *CollabTunables
}

// CollabTunables mirrors the fields of collab.Config that an operator is
// expected to tune per deployment, so cmd/server can expose them as flags
// without importing pkg/collab directly into its flag-parsing code.
type CollabTunables struct {
	MaxOperationHistorySize      int
	SessionTimeoutMinutes        int
	MaxConcurrentUsersPerSession int
	CursorBroadcastMinInterval   time.Duration
	AutoCleanupInterval          time.Duration
	PresenceEnabled              bool
	PresenceTTL                  time.Duration
	MaxUpdateBytes               int
	CheckpointMaxUpdates         int
	CheckpointMaxSeconds         time.Duration
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Host:           "localhost",
		Port:           8080,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxRequestSize: 10 * 1024 * 1024, // 10MB
		EnableCORS:     true,
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID"},
		EnableLogging:  true,
		LogFormat:      "text",
		EnableTLS:      false,
		TLSCertFile:    "",
		TLSKeyFile:     "",

		PageCacheSize:           1000,
		PageCacheTTL:            5 * time.Minute,
		CheckpointSweepInterval: 5 * time.Second,

		EditTokenPassphrase: "change-me-in-production",
		EditTokenSalt:       []byte("otwiki-collab-default-salt"),

		Collab: &CollabTunables{
			MaxOperationHistorySize:      1000,
			SessionTimeoutMinutes:        30,
			MaxConcurrentUsersPerSession: 10,
			CursorBroadcastMinInterval:   1 * time.Second,
			AutoCleanupInterval:          10 * time.Minute,
			PresenceEnabled:              true,
			PresenceTTL:                  30 * time.Second,
			MaxUpdateBytes:               32 * 1024,
			CheckpointMaxUpdates:         500,
			CheckpointMaxSeconds:         20 * time.Second,
		},
	}
}
