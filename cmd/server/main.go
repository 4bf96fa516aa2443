package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/otwiki/collab/pkg/server"
)

func main() {
	host := flag.String("host", "localhost", "Server host address")
	port := flag.Int("port", 8080, "Server port")
	corsOrigin := flag.String("cors-origin", "*", "CORS allowed origin")
	enableTLS := flag.Bool("tls", false, "Enable TLS/SSL")
	tlsCert := flag.String("tls-cert", "", "Path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "Path to TLS private key file")

	sessionTimeoutMinutes := flag.Int("session-timeout-minutes", 30, "Idle edit-session reclaim timeout, in minutes")
	maxUsersPerSession := flag.Int("max-users-per-session", 10, "Maximum concurrent editors allowed per page")
	maxUpdateBytes := flag.Int("max-update-bytes", 32*1024, "Maximum accepted size of one CRDT update, in bytes")
	checkpointMaxUpdates := flag.Int("checkpoint-max-updates", 500, "Fold the CRDT log into a checkpoint after this many updates")
	checkpointMaxSeconds := flag.Int("checkpoint-max-seconds", 20, "Fold the CRDT log into a checkpoint after this many seconds")
	editTokenPassphrase := flag.String("edit-token-passphrase", "", "Passphrase used to derive the edit-token signing key (required in production)")
	flag.Parse()

	config := server.DefaultConfig()
	config.Host = *host
	config.Port = *port
	config.AllowedOrigins = []string{*corsOrigin}
	config.EnableTLS = *enableTLS
	config.TLSCertFile = *tlsCert
	config.TLSKeyFile = *tlsKey

	config.Collab.SessionTimeoutMinutes = *sessionTimeoutMinutes
	config.Collab.MaxConcurrentUsersPerSession = *maxUsersPerSession
	config.Collab.MaxUpdateBytes = *maxUpdateBytes
	config.Collab.CheckpointMaxUpdates = *checkpointMaxUpdates
	config.Collab.CheckpointMaxSeconds = time.Duration(*checkpointMaxSeconds) * time.Second
	if *editTokenPassphrase != "" {
		config.EditTokenPassphrase = *editTokenPassphrase
	}

	srv, err := server.New(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create server: %v\n", err)
		os.Exit(1)
	}

	if err := srv.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}
