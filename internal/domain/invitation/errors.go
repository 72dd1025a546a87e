package invitation

import "errors"

// Terminal-state errors returned by the token-facing operations. Absent
// and malformed tokens produce the identical ErrTokenNotFound so the
// external shape leaks nothing about which tokens exist.
var (
	ErrTokenNotFound    = errors.New("assessment not found")
	ErrTokenExpired     = errors.New("assessment expired")
	ErrAlreadyCompleted = errors.New("assessment already completed")
	ErrCancelled        = errors.New("assessment cancelled")
	ErrInvalidInput     = errors.New("invalid request")
)
