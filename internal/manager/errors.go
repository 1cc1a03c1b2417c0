package manager

import "errors"

// Sentinel errors mirroring the error taxonomy in spec.md §4.6, mapped to
// HTTP status by the httpapi package the way pkg/api/errors.go maps
// service errors to echo.HTTPError in the teacher.
var (
	// ErrTooMany is the Admission failure: |active| >= MAX_ACTIVE.
	ErrTooMany = errors.New("too many active sessions")

	// ErrNotFound is the NotFound failure: unknown session id.
	ErrNotFound = errors.New("session not found")

	// ErrAlreadyRunning is a PreconditionFailed failure: follow-up
	// attempted against a session that is still InProgress. (Cancel on a
	// session that is not InProgress is a no-op, not an error.)
	ErrAlreadyRunning = errors.New("session is already running")

	// ErrNoThread is a PreconditionFailed failure: follow-up attempted
	// before any turn has established an external thread handle.
	ErrNoThread = errors.New("session has no thread yet")
)
