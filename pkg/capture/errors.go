package capture

import "errors"

var (
	// ErrDuplicateSession is returned by Register for a request that looks like a
	// repeat of one registered moments earlier in the same browsing context.
	ErrDuplicateSession = errors.New("duplicate capture session")

	// ErrSessionExists is returned by Register when the requested session id is
	// live, or is a custom id that was cleared.
	ErrSessionExists = errors.New("capture session id already used")
)

// NotFoundError is returned when a session does not exist in the registry.
type NotFoundError struct {
	ID string
}

func (e NotFoundError) Error() string {
	if e.ID == "" {
		return "capture session not found"
	}

	return "capture session not found: " + e.ID
}
