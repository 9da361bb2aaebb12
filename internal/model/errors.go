package model

import "errors"

// Error kinds surfaced at the API. The message is the kind name written to clients.
var (
	ErrMissingIdentifier = errors.New("MissingIdentifier")
	ErrUnknownVoter      = errors.New("UnknownVoter")
	ErrAlreadyVoted      = errors.New("AlreadyVoted")
	ErrSessionFailure    = errors.New("SessionFailure")
	ErrInvalidSession    = errors.New("InvalidSession")
	ErrDuplicateVote     = errors.New("DuplicateVote")
	ErrBadBallot         = errors.New("BadBallot")
	ErrStoreError        = errors.New("StoreError")
	ErrInternal          = errors.New("Internal")
)

// ErrNotFound is returned by lookups that matched no row.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert hits a unique constraint.
var ErrDuplicate = errors.New("duplicate")

// ErrInvalidReference is returned when an insert references a row that does not exist
// or does not belong to its parent.
var ErrInvalidReference = errors.New("invalid reference")
