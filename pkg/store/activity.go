package store

import (
	"context"
	"log"
)

// LogActivityLogger is a fire-and-forget ActivityLogger that writes to the
// process log. A production deployment would forward these into the
// out-of-scope activity-feed/audit system instead.
type LogActivityLogger struct{}

func (LogActivityLogger) LogCommit(ctx context.Context, userID, pageID, slug, title, message string) {
	log.Printf("commit: user=%s page=%s slug=%s title=%q message=%q", userID, pageID, slug, title, message)
}
