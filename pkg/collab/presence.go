package collab

import (
	"hash/fnv"
	"time"
)

// DefaultColorPalette is the fixed palette presence colors are drawn from.
// At least 10 distinguishable colors, per the design notes.
var DefaultColorPalette = []string{
	"#e6194b", "#3cb44b", "#ffe119", "#4363d8", "#f58231",
	"#911eb4", "#46f0f0", "#f032e6", "#bcf60c", "#fabebe",
	"#008080", "#e6beff", "#9a6324", "#800000", "#aaffc3",
}

// DeterministicColor hashes userId into the palette so the same user gets
// the same color across reconnects.
func DeterministicColor(userID string, palette []string) string {
	if len(palette) == 0 {
		palette = DefaultColorPalette
	}
	h := fnv.New32a()
	h.Write([]byte(userID))
	return palette[h.Sum32()%uint32(len(palette))]
}

// Cursor is a user's last-known selection within a session's content.
type Cursor struct {
	Start     int
	End       int
	Timestamp time.Time
}

// UserPresence is the live record of one connected (or recently connected)
// user within a session.
type UserPresence struct {
	UserID           string
	DisplayName      string
	Email            string
	Color            string
	JoinedAt         time.Time
	LastSeenAt       time.Time
	ConnectionHandle any
	LastCursor       Cursor
}
