package presence

import "errors"

// Error taxonomy shared by every component of the engine. Admission failures
// are terminal for the connection attempt and occur before any state mutation;
// ErrNotFound is returned by query operations on unknown keys and is never
// fatal.
var (
	// ErrAuthentication indicates a missing, invalid or expired credential.
	ErrAuthentication = errors.New("authentication failed")

	// ErrRateLimited indicates the originating address exceeded its
	// admission-attempt budget for the current window.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrMaxConnections indicates the user already holds the maximum number
	// of simultaneous connections.
	ErrMaxConnections = errors.New("maximum connection limit reached")

	// ErrNotFound indicates an unknown user, connection or subject.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateConnection indicates a connection-id collision. IDs are
	// unique per session, so this points at an id-generation defect and is
	// logged loudly by callers.
	ErrDuplicateConnection = errors.New("duplicate connection id")

	// ErrUnknownStatus indicates a client-reported status outside the closed
	// status set. The value is rejected, never stored.
	ErrUnknownStatus = errors.New("unknown status value")
)
