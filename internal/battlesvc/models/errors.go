package models

import "errors"

// Kind names the taxonomy bucket of err for wire responses and logs.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrSelfJoin):
		return "SelfJoinRejected"
	case errors.Is(err, ErrAlreadyClaimed):
		return "AlreadyClaimed"
	case errors.Is(err, ErrInvalidTransition):
		return "InvalidTransition"
	case errors.Is(err, ErrCodeSpaceExhausted):
		return "CodeSpaceExhausted"
	case errors.Is(err, ErrUnauthorized):
		return "Unauthorized"
	case errors.Is(err, ErrStorageUnavailable):
		return "StorageUnavailable"
	default:
		return "Internal"
	}
}

// Battle error kinds. Callers branch with errors.Is; only
// ErrStorageUnavailable is worth retrying, everything else is a
// definitive business outcome.
var (
	ErrNotFound           = errors.New("battle: not found")
	ErrSelfJoin           = errors.New("battle: creator cannot join own session")
	ErrAlreadyClaimed     = errors.New("battle: session already claimed by another player")
	ErrInvalidTransition  = errors.New("battle: transition not legal for current status")
	ErrCodeSpaceExhausted = errors.New("battle: room code retry budget exceeded")
	ErrUnauthorized       = errors.New("battle: actor is not a participant")
	ErrStorageUnavailable = errors.New("battle: storage unavailable")

	// Store-internal kinds, mapped by the matchmaking service before
	// they reach a caller.
	ErrCodeTaken = errors.New("battle: room code already held by a waiting session")
	ErrConflict  = errors.New("battle: stored status does not match expected status")
)
