package usecase

import "errors"

var (
	ErrInvalidInput          = errors.New("invalid input")
	ErrNotFound              = errors.New("resource not found")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrConflict              = errors.New("conflict")
	ErrDependencyUnavailable = errors.New("dependency unavailable")

	ErrSchedulerRunning = errors.New("sync scheduler already running")
	ErrCycleInFlight    = errors.New("sync cycle already in flight")
)

// ErrRecomputeUnsupported is returned by a ConflictResolver for entity types it does not own.
var ErrRecomputeUnsupported = errors.New("conflict recompute not supported for entity type")
