package engine

import "errors"

var (
	// ErrPrincipalNotFound means the caller's principal has no stored profile.
	ErrPrincipalNotFound = errors.New("engine: principal not found")

	// ErrPrincipalDisabled means the principal's profile exists but is disabled.
	ErrPrincipalDisabled = errors.New("engine: principal disabled")

	// ErrLanguageNotAllowed means the principal's profile excludes the
	// requested language from its allow-list.
	ErrLanguageNotAllowed = errors.New("engine: language not allowed for principal")

	// ErrSessionCreate means the Session Manager could not establish a
	// sandbox for the principal.
	ErrSessionCreate = errors.New("engine: session creation failed")

	// ErrReplayDisabled means the engine was configured without replay
	// storage.
	ErrReplayDisabled = errors.New("engine: replay is disabled")

	// ErrReplayNotFound means no stored execution matches the given ID.
	ErrReplayNotFound = errors.New("engine: replay record not found")

	// ErrReplayForbidden means the requester does not own the replay record
	// and the caller did not grant an admin override.
	ErrReplayForbidden = errors.New("engine: replay belongs to a different principal")
)
