package collab

import "errors"

// Sentinel errors surfaced across the join/push/cursor/commit paths. Callers
// in pkg/hub map these to the wire Error/OperationRejected messages; nothing
// in this package writes to a connection directly.
var (
	ErrUnauthorized = errors.New("collab: not authorized")
	ErrNotFound     = errors.New("collab: page not found")
	ErrBadOperation = errors.New("collab: malformed operation")
	ErrConflict     = errors.New("collab: transform produced an inapplicable operation")
	ErrStale        = errors.New("collab: client state is beyond recoverable history")
	ErrOversize     = errors.New("collab: payload exceeds size limit")
	ErrFatal        = errors.New("collab: invariant violated mid-drain")
)
