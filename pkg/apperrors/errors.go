package apperrors

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrInvalidInput   = errors.New("invalid input")
	ErrRunInProgress  = errors.New("run already in progress")
	ErrCredentialsKey = errors.New("source descriptor was encrypted with a different key")
)
