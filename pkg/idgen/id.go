// Package idgen generates short, sortable, process-unique identifiers for
// operations, sessions, and updates — anywhere the collaboration core needs
// a fresh id without a round trip to durable storage.
package idgen

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"
)

// ID is a unique 12-byte identifier: [4-byte timestamp][5-byte process-unique][3-byte counter].
type ID [12]byte

var idCounter uint32
var processUnique [5]byte

func init() {
	rand.Read(processUnique[:])
}

// New generates a fresh ID, unique within this process and monotonically
// increasing in its timestamp prefix.
func New() ID {
	var id ID

	timestamp := uint32(time.Now().Unix())
	binary.BigEndian.PutUint32(id[0:4], timestamp)

	copy(id[4:9], processUnique[:])

	counter := atomic.AddUint32(&idCounter, 1)
	id[9] = byte(counter >> 16)
	id[10] = byte(counter >> 8)
	id[11] = byte(counter)

	return id
}

// FromHex parses the hex representation produced by Hex.
func FromHex(s string) (ID, error) {
	var id ID

	if len(s) != 24 {
		return id, fmt.Errorf("invalid id hex length: %d", len(s))
	}

	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("invalid id hex string: %w", err)
	}

	copy(id[:], b)
	return id, nil
}

// Hex returns the hex string representation of the id.
func (id ID) Hex() string {
	return hex.EncodeToString(id[:])
}

// String implements fmt.Stringer.
func (id ID) String() string {
	return id.Hex()
}

// Timestamp returns the creation-second portion of the id.
func (id ID) Timestamp() time.Time {
	timestamp := binary.BigEndian.Uint32(id[0:4])
	return time.Unix(int64(timestamp), 0)
}

// IsZero reports whether id is the zero value.
func (id ID) IsZero() bool {
	return id == ID{}
}
